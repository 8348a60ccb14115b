// Package loan は蔵書の貸出・返却と貸出記録の参照を提供する。
//
// 貸出・返却は蔵書と貸出記録の2つのコレクションを読み込み→変更→保存するため、
// すべて repository.Store の Atomically の中で実行する。
// これにより最後の1冊に対する同時貸出はちょうど1件だけが成功する。
package loan

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hitoshi/libraryapi/internal/model"
	"github.com/hitoshi/libraryapi/internal/query"
	"github.com/hitoshi/libraryapi/internal/repository"
)

// Recorder は貸出イベントのメトリクス記録インターフェース。
type Recorder interface {
	RecordBorrow()
	RecordReturn()
	RecordLoanRejected(code string)
}

type nopRecorder struct{}

func (nopRecorder) RecordBorrow()             {}
func (nopRecorder) RecordReturn()             {}
func (nopRecorder) RecordLoanRejected(string) {}

// Config は貸出サービスの設定。
type Config struct {
	// LoanPeriod は貸出日から返却期限までの期間。0以下の場合は14日。
	LoanPeriod time.Duration
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// Service は貸出に関するビジネスロジックを提供する。
type Service struct {
	store    repository.Store
	period   time.Duration
	now      func() time.Time
	recorder Recorder
}

// NewService はServiceを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewService(store repository.Store, cfg Config, recorder Recorder) *Service {
	if cfg.LoanPeriod <= 0 {
		cfg.LoanPeriod = model.DefaultLoanPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		store:    store,
		period:   cfg.LoanPeriod,
		now:      cfg.Now,
		recorder: recorder,
	}
}

// Now はサービスの基準時刻（UTC）を返す。延滞判定に使う。
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

var loanOrdering = query.OrderFields[model.Loan]{
	"id":          func(a, b model.Loan) int { return cmp.Compare(a.ID, b.ID) },
	"borrowed_at": func(a, b model.Loan) int { return a.BorrowedAt.Compare(b.BorrowedAt) },
	"due_at":      func(a, b model.Loan) int { return a.DueAt.Compare(b.DueAt) },
}

// Borrow は利用者に蔵書を貸し出す。
//
// 判定順: 蔵書が存在しない→not_found、在庫が1未満→no_copies、
// 同じ蔵書の未返却の貸出がある→duplicate_loan。
// 成功時は返却期限を貸出日時+貸出期間とした貸出記録を作成し、在庫を1減らす。
func (s *Service) Borrow(ctx context.Context, user *model.User, bookID int64) (*model.Loan, error) {
	var created model.Loan
	err := s.store.Atomically(ctx, func(ctx context.Context) error {
		books, err := s.store.LoadBooks(ctx)
		if err != nil {
			return fmt.Errorf("failed to load books: %w", err)
		}
		i := slices.IndexFunc(books, func(b model.Book) bool { return b.ID == bookID })
		if i < 0 {
			return model.NewNotFoundError("Book")
		}
		if books[i].AvailableCopies < 1 {
			return model.NewNoCopiesError()
		}

		loans, err := s.store.LoadLoans(ctx)
		if err != nil {
			return fmt.Errorf("failed to load loans: %w", err)
		}
		if slices.ContainsFunc(loans, func(l model.Loan) bool {
			return l.UserID == user.ID && l.BookID == bookID && l.IsActive()
		}) {
			return model.NewDuplicateLoanError()
		}

		id, err := s.store.NextID(ctx, repository.CollectionLoans)
		if err != nil {
			return fmt.Errorf("failed to allocate loan id: %w", err)
		}
		now := s.Now()
		created = model.Loan{
			ID:         id,
			UserID:     user.ID,
			BookID:     bookID,
			BorrowedAt: now,
			DueAt:      now.Add(s.period),
		}
		before := slices.Clone(books)
		books[i].AvailableCopies--

		if err := s.store.SaveBooks(ctx, books); err != nil {
			return fmt.Errorf("failed to save books: %w", err)
		}
		return s.saveLoans(ctx, append(loans, created), before)
	})
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}

	s.recorder.RecordBorrow()
	slog.Info("book borrowed",
		slog.Int64("loan_id", created.ID),
		slog.Int64("user_id", created.UserID),
		slog.Int64("book_id", created.BookID),
		slog.Time("due_at", created.DueAt),
	)
	return &created, nil
}

// ReturnRequest は返却対象の指定。LoanIDが指定されていればそれを優先し、
// なければBookIDと利用者本人の未返却の貸出から対象を特定する。
type ReturnRequest struct {
	LoanID *int64
	BookID *int64
}

// Return は貸出を返却する。
//
// 判定順: 対象が特定できない→not_found、本人でも司書・管理者でもない→permission_denied、
// 返却済み→already_returned。
// 成功時は返却日時を設定し、蔵書が残っていれば在庫を1増やす。
func (s *Service) Return(ctx context.Context, user *model.User, req ReturnRequest) (*model.Loan, error) {
	var returned model.Loan
	err := s.store.Atomically(ctx, func(ctx context.Context) error {
		loans, err := s.store.LoadLoans(ctx)
		if err != nil {
			return fmt.Errorf("failed to load loans: %w", err)
		}

		i := -1
		switch {
		case req.LoanID != nil:
			i = slices.IndexFunc(loans, func(l model.Loan) bool { return l.ID == *req.LoanID })
		case req.BookID != nil:
			i = slices.IndexFunc(loans, func(l model.Loan) bool {
				return l.BookID == *req.BookID && l.UserID == user.ID && l.IsActive()
			})
		}
		if i < 0 {
			return model.NewNotFoundError("Loan")
		}

		target := &loans[i]
		if target.UserID != user.ID && !user.Role.IsStaff() {
			return model.NewPermissionDeniedError()
		}
		if !target.IsActive() {
			return model.NewAlreadyReturnedError()
		}

		now := s.Now()
		target.ReturnedAt = &now

		books, err := s.store.LoadBooks(ctx)
		if err != nil {
			return fmt.Errorf("failed to load books: %w", err)
		}
		var before []model.Book
		if j := slices.IndexFunc(books, func(b model.Book) bool { return b.ID == target.BookID }); j >= 0 {
			before = slices.Clone(books)
			books[j].AvailableCopies++
			if err := s.store.SaveBooks(ctx, books); err != nil {
				return fmt.Errorf("failed to save books: %w", err)
			}
		}
		if err := s.saveLoans(ctx, loans, before); err != nil {
			return err
		}
		returned = *target
		return nil
	})
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}

	s.recorder.RecordReturn()
	slog.Info("book returned",
		slog.Int64("loan_id", returned.ID),
		slog.Int64("user_id", returned.UserID),
		slog.Int64("returned_by", user.ID),
	)
	return &returned, nil
}

// saveLoans は貸出記録を保存する。保存に失敗した場合、booksBeforeがnilでなければ
// 在庫数を変更前の状態に書き戻し、貸出と在庫の不整合を残さない。
func (s *Service) saveLoans(ctx context.Context, loans []model.Loan, booksBefore []model.Book) error {
	err := s.store.SaveLoans(ctx, loans)
	if err == nil {
		return nil
	}
	if booksBefore != nil {
		if rerr := s.store.SaveBooks(ctx, booksBefore); rerr != nil {
			slog.Error("failed to restore available copies",
				slog.String("error", rerr.Error()),
			)
			return errors.Join(fmt.Errorf("failed to save loans: %w", err), fmt.Errorf("failed to restore books: %w", rerr))
		}
	}
	return fmt.Errorf("failed to save loans: %w", err)
}

// ListMine は利用者本人の貸出記録の一覧を返す。
func (s *Service) ListMine(ctx context.Context, user *model.User, p query.Params) ([]model.Loan, query.PageInfo, error) {
	return s.list(ctx, p, func(l model.Loan) bool { return l.UserID == user.ID })
}

// ListAll はすべての貸出記録の一覧を返す。司書・管理者向け。
func (s *Service) ListAll(ctx context.Context, p query.Params) ([]model.Loan, query.PageInfo, error) {
	return s.list(ctx, p, nil)
}

func (s *Service) list(ctx context.Context, p query.Params, scope query.Predicate[model.Loan]) ([]model.Loan, query.PageInfo, error) {
	loans, err := s.store.LoadLoans(ctx)
	if err != nil {
		return nil, query.PageInfo{}, fmt.Errorf("failed to load loans: %w", err)
	}

	now := s.Now()
	loans = query.Filter(loans,
		scope,
		query.IntEquals(p.Values, "user_id", func(l model.Loan) int64 { return l.UserID }),
		query.Choice(p.Values, "status",
			[]string{string(model.LoanStatusBorrowed), string(model.LoanStatusReturned)},
			func(l model.Loan) string { return string(l.Status()) }),
		query.Flag(p.Values, "overdue", func(l model.Loan) bool { return l.IsOverdue(now) }),
	)
	loans = query.Order(loans, p.Ordering, loanOrdering)
	page, info := query.Paginate(loans, p.Page, p.PageSize)
	return page, info, nil
}

// Get は貸出記録を返す。本人または司書・管理者のみ参照できる。
func (s *Service) Get(ctx context.Context, user *model.User, id int64) (*model.Loan, error) {
	loans, err := s.store.LoadLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loans: %w", err)
	}
	i := slices.IndexFunc(loans, func(l model.Loan) bool { return l.ID == id })
	if i < 0 {
		return nil, model.NewNotFoundError("Loan")
	}
	if loans[i].UserID != user.ID && !user.Role.IsStaff() {
		return nil, model.NewPermissionDeniedError()
	}
	return &loans[i], nil
}

// Overdue は現時点で延滞している貸出記録を返す。
func (s *Service) Overdue(ctx context.Context) ([]model.Loan, error) {
	loans, err := s.store.LoadLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loans: %w", err)
	}
	now := s.Now()
	return query.Filter(loans, func(l model.Loan) bool { return l.IsOverdue(now) }), nil
}

func (s *Service) recordRejection(err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		s.recorder.RecordLoanRejected(apiErr.Code)
	}
}
