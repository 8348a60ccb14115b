// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/libraryapi/internal/model"
)

const tokenScheme = "Token "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey      = contextKey("user")
	tokenContextKey     = contextKey("token")
	requestIDContextKey = contextKey("request_id")
	requestLogKey       = contextKey("request_log")
)

// TokenResolver はトークンから利用者を解決するインターフェース。
// auth.Serviceが実装する。
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*model.User, error)
}

// NewTokenAuthMiddleware は "Authorization: Token <token>" ヘッダーから利用者を解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
//
// ヘッダーがない・トークンが解決できない場合も拒否せずに次へ渡す。
// 認証・認可の要否はハンドラーが判断する。
func NewTokenAuthMiddleware(resolver TokenResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := parseTokenHeader(r.Header.Get("Authorization"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx := ContextWithToken(r.Context(), token)
			user, err := resolver.Resolve(ctx, token)
			if err != nil {
				slog.Error("failed to resolve token",
					slog.String("error", err.Error()),
					slog.String("request_id", RequestIDFromContext(ctx)),
				)
				WriteInternalServerError(w)
				return
			}
			if user != nil {
				ctx = ContextWithUser(ctx, user)
				if state, ok := ctx.Value(requestLogKey).(*requestLog); ok {
					state.userID = user.ID
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseTokenHeader(header string) (string, bool) {
	if !strings.HasPrefix(header, tokenScheme) {
		return "", false
	}
	token := strings.TrimSpace(header[len(tokenScheme):])
	return token, token != ""
}

// UserFromContext はリクエストコンテキストから認証済みの利用者を取得する。
// 未認証の場合はnilを返す。
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}

// ContextWithUser はコンテキストに利用者を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// TokenFromContext はリクエストで提示されたトークンを返す。ログアウトで使う。
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// ContextWithToken はコンテキストにトークンを注入する。
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}
