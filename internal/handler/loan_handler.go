package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/libraryapi/internal/loan"
	"github.com/hitoshi/libraryapi/internal/model"
	"github.com/hitoshi/libraryapi/internal/query"
)

const loansPrefix = "/api/loans/"

// 蔵書IDは "book_id" と "book" のどちらでも受け付ける。
var bookKeys = []string{"book_id", "book"}

// LoanServiceInterface は貸出ハンドラーが必要とするサービスインターフェース。
type LoanServiceInterface interface {
	Borrow(ctx context.Context, user *model.User, bookID int64) (*model.Loan, error)
	Return(ctx context.Context, user *model.User, req loan.ReturnRequest) (*model.Loan, error)
	ListMine(ctx context.Context, user *model.User, p query.Params) ([]model.Loan, query.PageInfo, error)
	ListAll(ctx context.Context, p query.Params) ([]model.Loan, query.PageInfo, error)
	Get(ctx context.Context, user *model.User, id int64) (*model.Loan, error)
	Now() time.Time
}

// LoanHandler は貸出APIのHTTPハンドラー。
type LoanHandler struct {
	service         LoanServiceInterface
	defaultPageSize int
}

// NewLoanHandler はLoanHandlerを生成する。
func NewLoanHandler(service LoanServiceInterface, defaultPageSize int) *LoanHandler {
	return &LoanHandler{service: service, defaultPageSize: defaultPageSize}
}

// loanResponse は貸出記録のAPIレスポンス。statusとoverdueは応答時に導出する。
type loanResponse struct {
	ID         int64            `json:"id"`
	UserID     int64            `json:"user_id"`
	BookID     int64            `json:"book_id"`
	BorrowedAt time.Time        `json:"borrowed_at"`
	DueAt      time.Time        `json:"due_at"`
	ReturnedAt *time.Time       `json:"returned_at"`
	Status     model.LoanStatus `json:"status"`
	Overdue    bool             `json:"overdue"`
}

func newLoanResponse(l *model.Loan, now time.Time) loanResponse {
	return loanResponse{
		ID:         l.ID,
		UserID:     l.UserID,
		BookID:     l.BookID,
		BorrowedAt: l.BorrowedAt,
		DueAt:      l.DueAt,
		ReturnedAt: l.ReturnedAt,
		Status:     l.Status(),
		Overdue:    l.IsOverdue(now),
	}
}

func (h *LoanHandler) toResponses(loans []model.Loan) []loanResponse {
	now := h.service.Now()
	out := make([]loanResponse, 0, len(loans))
	for i := range loans {
		out = append(out, newLoanResponse(&loans[i], now))
	}
	return out
}

// Borrow は蔵書を借りる。
// POST /api/loans/borrow/
func (h *LoanHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	body, err := decodePayload(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	key, ok := body.firstTruthy(bookKeys...)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("book_id"))
		return
	}
	bookID, ok := body.intValue(key)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFieldError("book_id", "an integer"))
		return
	}

	created, err := h.service.Borrow(r.Context(), user, bookID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoanResponse(created, h.service.Now()))
}

// Return は貸出を返却する。loan_id、またはbook_idで自分の未返却の貸出を指定する。
// POST /api/loans/return/
func (h *LoanHandler) Return(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	body, err := decodePayload(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req loan.ReturnRequest
	if body["loan_id"] != nil {
		id, ok := body.intValue("loan_id")
		if !ok {
			writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("Loan"))
			return
		}
		req.LoanID = &id
	} else if key, ok := body.firstPresent(bookKeys...); ok {
		id, ok := body.intValue(key)
		if !ok {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFieldError("book_id", "an integer"))
			return
		}
		req.BookID = &id
	} else {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidError("loan_id or book_id is required."))
		return
	}

	returned, err := h.service.Return(r.Context(), user, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(returned, h.service.Now()))
}

// Mine は自分の貸出記録の一覧を返す。
// GET /api/loans/mine/
func (h *LoanHandler) Mine(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	loans, info, err := h.service.ListMine(r.Context(), user, query.ParseParams(r.URL.Query(), h.defaultPageSize))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(h.toResponses(loans), info))
}

// Get は貸出記録の一覧（司書・管理者のみ）または詳細（本人または司書・管理者）を返す。
// GET /api/loans/ , GET /api/loans/{id}/
func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	rp, ok := ParseResourcePath(r.URL.Path, loansPrefix)
	if !ok {
		notFound(w, r)
		return
	}

	if rp.IsDetail {
		user, ok := requireUser(w, r)
		if !ok {
			return
		}
		found, err := h.service.Get(r.Context(), user, rp.ID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newLoanResponse(found, h.service.Now()))
		return
	}

	if _, ok := requireRoles(w, r, model.StaffRoles...); !ok {
		return
	}
	loans, info, err := h.service.ListAll(r.Context(), query.ParseParams(r.URL.Query(), h.defaultPageSize))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(h.toResponses(loans), info))
}
