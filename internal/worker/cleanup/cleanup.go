// Package cleanup は期限切れのプロバイダセッションを削除するジョブを提供する。
// 有効期限から保持期間（デフォルト7日）を過ぎたセッションを定期的に削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は期限切れセッションを保持する日数のデフォルト値。
const DefaultRetentionDays = 7

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder は削除件数を記録するインターフェース。
type Recorder interface {
	RecordSessionsPurged(count int64)
}

// CleanupJob は期限切れプロバイダセッションの削除ジョブ。
// 削除対象がない場合もエラーにならない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	recorder      Recorder
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		recorder:      recorder,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run はexpires_atがRetentionDays日より前のセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM provider_sessions WHERE expires_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read deleted session count",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to read deleted session count: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deletedCount)
	}

	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以後intervalごとにRunを実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("session cleanup scheduler started", slog.Duration("interval", interval))

	for {
		if err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("session cleanup cycle failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
