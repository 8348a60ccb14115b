// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/hitoshi/libraryapi/internal/auth"
	"github.com/hitoshi/libraryapi/internal/middleware"
	"github.com/hitoshi/libraryapi/internal/model"
	"github.com/hitoshi/libraryapi/internal/query"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// IgnoredFieldsHeader は部分更新で適用されなかったフィールド名を返すヘッダー。
const IgnoredFieldsHeader = "X-Ignored-Fields"

// listResponse は一覧APIの共通レスポンス。
type listResponse[T any] struct {
	Results []T `json:"results"`
	query.PageInfo
}

func newListResponse[T any](results []T, info query.PageInfo) listResponse[T] {
	if results == nil {
		results = []T{}
	}
	return listResponse[T]{Results: results, PageInfo: info}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := codec.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeIgnoredFields は適用されなかったフィールド名をヘッダーに設定する。
func writeIgnoredFields(w http.ResponseWriter, fields []string) {
	if len(fields) > 0 {
		w.Header().Set(IgnoredFieldsHeader, strings.Join(fields, ","))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalid, model.ErrCodeInvalidAuthor, model.ErrCodeInvalidRole,
		model.ErrCodeUsernameTaken, model.ErrCodeEmailTaken:
		return http.StatusBadRequest
	case model.ErrCodeNotAuthenticated, model.ErrCodeInvalidCredentials, model.ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case model.ErrCodePermissionDenied:
		return http.StatusForbidden
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case model.ErrCodeNoCopies, model.ErrCodeDuplicateLoan, model.ErrCodeAlreadyReturned:
		return http.StatusConflict
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// requireUser は認証済みの利用者を返す。未認証の場合は401を書き込みfalseを返す。
func requireUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return nil, false
	}
	return user, true
}

// requireRoles は指定ロールのいずれかを持つ利用者を返す。
// 未認証なら401、ロール不足なら403を書き込みfalseを返す。
func requireRoles(w http.ResponseWriter, r *http.Request, roles ...model.Role) (*model.User, bool) {
	user, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	if !auth.Authorize(user, roles...) {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewPermissionDeniedError())
		return nil, false
	}
	return user, true
}

// notFound は未定義のルートに対する404レスポンスを書き込む。
func notFound(w http.ResponseWriter, r *http.Request) {
	writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("Resource"))
}

// methodNotAllowed は未対応メソッドに対する405レスポンスを書き込む。
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeAPIErrorResponse(w, http.StatusMethodNotAllowed, model.NewMethodNotAllowedError(r.Method))
}
