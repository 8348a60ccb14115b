package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/libraryapi/internal/auth"
	"github.com/hitoshi/libraryapi/internal/middleware"
	"github.com/hitoshi/libraryapi/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	Login(ctx context.Context, username, password string) (string, error)
	Logout(ctx context.Context, token string) (bool, error)
}

// AuthHandler は利用者登録・ログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// userResponse は利用者情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Register は利用者を登録する。
// POST /api/auth/register/
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	body, err := decodePayload(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var in auth.RegisterInput
	fields := []struct {
		key string
		dst *string
	}{
		{"username", &in.Username},
		{"email", &in.Email},
		{"password", &in.Password},
		{"role", &in.Role},
	}
	for _, f := range fields {
		if *f.dst, err = body.optionalString(f.key); err != nil {
			handleServiceError(w, r, err)
			return
		}
	}

	user, err := h.service.Register(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     string(user.Role),
	})
}

// Login は資格情報を検証してトークンを発行する。
// POST /api/auth/login/
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	body, err := decodePayload(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	username, _ := body.optionalString("username")
	password, _ := body.optionalString("password")
	if username == "" || password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidError("Missing credentials."))
		return
	}

	token, err := h.service.Login(r.Context(), username, password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// Logout は提示されたトークンを失効させる。
// POST /api/auth/logout/
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	existed, err := h.service.Logout(r.Context(), middleware.TokenFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !existed {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
