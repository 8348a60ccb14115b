package model

import "fmt"

// APIError はクライアントに返す統一エラーフォーマットを表す。
// Code は安定した機械可読な識別子、Detail は人向けの説明。
type APIError struct {
	Code   string
	Detail string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Detail)
}

// 定義済みエラーコード
const (
	ErrCodeInvalid            = "invalid"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeInvalidToken       = "invalid_token"
	ErrCodeUsernameTaken      = "username_taken"
	ErrCodeEmailTaken         = "email_taken"
	ErrCodeInvalidRole        = "invalid_role"
	ErrCodeInvalidAuthor      = "invalid_author"
	ErrCodeNotAuthenticated   = "not_authenticated"
	ErrCodePermissionDenied   = "permission_denied"
	ErrCodeNotFound           = "not_found"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
	ErrCodeNoCopies           = "no_copies"
	ErrCodeDuplicateLoan      = "duplicate_loan"
	ErrCodeAlreadyReturned    = "already_returned"
	ErrCodeRateLimitExceeded  = "rate_limit_exceeded"
	ErrCodeInternal           = "internal_error"
)

// NewInvalidError は入力値の検証エラーを生成する。
func NewInvalidError(detail string) *APIError {
	return &APIError{Code: ErrCodeInvalid, Detail: detail}
}

// NewMissingFieldError は必須フィールド欠落エラーを生成する。
func NewMissingFieldError(field string) *APIError {
	return NewInvalidError(fmt.Sprintf("%s is required.", field))
}

// NewInvalidFieldError はフィールドの型変換失敗エラーを生成する。
func NewInvalidFieldError(field, want string) *APIError {
	return NewInvalidError(fmt.Sprintf("%s must be %s.", field, want))
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{Code: ErrCodeInvalidCredentials, Detail: "Invalid username or password."}
}

// NewInvalidTokenError は失効済みまたは未知のトークンのエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{Code: ErrCodeInvalidToken, Detail: "Invalid token."}
}

// NewUsernameTakenError はユーザー名重複エラーを生成する。
func NewUsernameTakenError() *APIError {
	return &APIError{Code: ErrCodeUsernameTaken, Detail: "Username already exists."}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{Code: ErrCodeEmailTaken, Detail: "Email already exists."}
}

// NewInvalidRoleError は未知のロール指定エラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:   ErrCodeInvalidRole,
		Detail: fmt.Sprintf("Unknown role %q. Use MEMBER, LIBRARIAN or ADMIN.", role),
	}
}

// NewInvalidAuthorError は存在しない著者を参照した場合のエラーを生成する。
func NewInvalidAuthorError() *APIError {
	return &APIError{Code: ErrCodeInvalidAuthor, Detail: "Author does not exist."}
}

// NewNotAuthenticatedError は認証情報がない場合のエラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{Code: ErrCodeNotAuthenticated, Detail: "Authentication credentials were not provided."}
}

// NewPermissionDeniedError は権限不足エラーを生成する。
func NewPermissionDeniedError() *APIError {
	return &APIError{Code: ErrCodePermissionDenied, Detail: "You do not have permission to perform this action."}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{Code: ErrCodeNotFound, Detail: fmt.Sprintf("%s not found.", resource)}
}

// NewMethodNotAllowedError は未対応メソッドのエラーを生成する。
func NewMethodNotAllowedError(method string) *APIError {
	return &APIError{Code: ErrCodeMethodNotAllowed, Detail: fmt.Sprintf("Method %q not allowed.", method)}
}

// NewNoCopiesError は貸出可能な在庫がない場合のエラーを生成する。
func NewNoCopiesError() *APIError {
	return &APIError{Code: ErrCodeNoCopies, Detail: "No copies available."}
}

// NewDuplicateLoanError は同じ本を重複して借りようとした場合のエラーを生成する。
func NewDuplicateLoanError() *APIError {
	return &APIError{Code: ErrCodeDuplicateLoan, Detail: "You already borrowed this book."}
}

// NewAlreadyReturnedError は返却済みの貸出を再度返却しようとした場合のエラーを生成する。
func NewAlreadyReturnedError() *APIError {
	return &APIError{Code: ErrCodeAlreadyReturned, Detail: "Loan already returned."}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{Code: ErrCodeRateLimitExceeded, Detail: "Too many requests. Please try again later."}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{Code: ErrCodeInternal, Detail: "Internal server error."}
}
