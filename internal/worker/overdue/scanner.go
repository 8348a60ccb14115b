// Package overdue は延滞中の貸出を定期的に集計するジョブを提供する。
// 集計結果はログとメトリクス（ゲージ）に出力する。貸出記録は変更しない。
package overdue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/libraryapi/internal/model"
)

// LoanSource は延滞中の貸出記録を返すインターフェース。loan.Serviceが満たす。
type LoanSource interface {
	Overdue(ctx context.Context) ([]model.Loan, error)
	Now() time.Time
}

// Gauge は延滞件数の記録先。metrics.Collectorが満たす。
type Gauge interface {
	SetOverdueLoans(count int)
}

// Scanner は延滞中の貸出を集計するジョブ。
type Scanner struct {
	source LoanSource
	gauge  Gauge
	logger *slog.Logger
}

// NewScanner は新しいScannerを生成する。gaugeがnilの場合はメトリクスを記録しない。
func NewScanner(source LoanSource, gauge Gauge, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		source: source,
		gauge:  gauge,
		logger: logger,
	}
}

// Run は延滞中の貸出を1回集計する。
// 件数をゲージに設定し、延滞がある場合は最も古い返却期限と合わせてWARNで記録する。
func (s *Scanner) Run(ctx context.Context) error {
	start := time.Now()

	loans, err := s.source.Overdue(ctx)
	if err != nil {
		s.logger.Error("延滞貸出の集計に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("延滞貸出の集計に失敗: %w", err)
	}

	if s.gauge != nil {
		s.gauge.SetOverdueLoans(len(loans))
	}

	attrs := []any{
		slog.Int("overdue_count", len(loans)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	}
	if len(loans) == 0 {
		s.logger.Info("延滞貸出の集計が完了しました", attrs...)
		return nil
	}

	oldest := loans[0]
	for _, l := range loans[1:] {
		if l.DueAt.Before(oldest.DueAt) {
			oldest = l
		}
	}
	attrs = append(attrs,
		slog.Int64("oldest_loan_id", oldest.ID),
		slog.Time("oldest_due_at", oldest.DueAt),
		slog.Int("oldest_days_overdue", int(s.source.Now().Sub(oldest.DueAt)/(24*time.Hour))),
	)
	s.logger.Warn("延滞中の貸出があります", attrs...)
	return nil
}

// Start はintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。
func (s *Scanner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("延滞集計ジョブを開始しました", slog.Duration("interval", interval))

	_ = s.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("延滞集計ジョブを停止しました")
			return
		case <-ticker.C:
			_ = s.Run(ctx)
		}
	}
}
