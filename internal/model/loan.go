package model

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// DefaultLoanPeriod は貸出期間のデフォルト値（14日）。
const DefaultLoanPeriod = 14 * 24 * time.Hour

// LoanStatus は貸出の状態を表す。保存はせず ReturnedAt から導出する。
type LoanStatus string

const (
	LoanStatusBorrowed LoanStatus = "BORROWED"
	LoanStatusReturned LoanStatus = "RETURNED"
)

// Loan は1冊の貸出記録を表す。
type Loan struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	BookID     int64      `json:"book_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at"`
}

// IsActive は未返却かどうかを返す。
func (l *Loan) IsActive() bool {
	return l.ReturnedAt == nil
}

// Status は返却日時の有無から貸出状態を返す。
func (l *Loan) Status() LoanStatus {
	if l.ReturnedAt != nil {
		return LoanStatusReturned
	}
	return LoanStatusBorrowed
}

// IsOverdue は now 時点で返却期限を過ぎた未返却の貸出かどうかを返す。
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.ReturnedAt == nil && l.DueAt.Before(now)
}

// loanRecord は読み込み時にタイムゾーンなしの日時文字列も受け付けるための中間表現。
type loanRecord struct {
	ID         int64   `json:"id"`
	UserID     int64   `json:"user_id"`
	BookID     int64   `json:"book_id"`
	BorrowedAt string  `json:"borrowed_at"`
	DueAt      string  `json:"due_at"`
	ReturnedAt *string `json:"returned_at"`
}

// UnmarshalJSON はRFC 3339形式に加え、タイムゾーンなしのISO 8601形式（UTCとみなす）を受け付ける。
func (l *Loan) UnmarshalJSON(data []byte) error {
	var rec loanRecord
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &rec); err != nil {
		return err
	}

	borrowedAt, err := ParseTimestamp(rec.BorrowedAt)
	if err != nil {
		return fmt.Errorf("loan %d borrowed_at: %w", rec.ID, err)
	}
	dueAt, err := ParseTimestamp(rec.DueAt)
	if err != nil {
		return fmt.Errorf("loan %d due_at: %w", rec.ID, err)
	}

	var returnedAt *time.Time
	if rec.ReturnedAt != nil && *rec.ReturnedAt != "" {
		t, err := ParseTimestamp(*rec.ReturnedAt)
		if err != nil {
			return fmt.Errorf("loan %d returned_at: %w", rec.ID, err)
		}
		returnedAt = &t
	}

	*l = Loan{
		ID:         rec.ID,
		UserID:     rec.UserID,
		BookID:     rec.BookID,
		BorrowedAt: borrowedAt,
		DueAt:      dueAt,
		ReturnedAt: returnedAt,
	}
	return nil
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp は日時文字列をUTCのtime.Timeに変換する。
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", s)
}
