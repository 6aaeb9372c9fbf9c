// Package cleanup は期限切れのメール認証トークンを削除するジョブを提供する。
// 使われなかったリンクのトークンはverification_tokensに残り続けるため、
// 日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TokenPurger は期限切れトークンの削除インターフェース。
// repository.VerificationTokenRepositoryが実装する。
type TokenPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PurgeRecorder は削除件数を記録するインターフェース。
// metrics.MetricsCollectorが実装する。
type PurgeRecorder interface {
	RecordTokensPurged(n int64)
}

// CleanupJob は期限切れトークンの削除ジョブ。
// 削除は冪等で、対象がない場合もエラーにならない。
type CleanupJob struct {
	tokens   TokenPurger
	recorder PurgeRecorder
	logger   *slog.Logger
	now      func() time.Time
	Interval time.Duration // 実行間隔（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(tokens TokenPurger, recorder PurgeRecorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		tokens:   tokens,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		Interval: 24 * time.Hour,
	}
}

// Run は現在時刻までに期限切れとなったトークンを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.tokens.DeleteExpired(ctx, j.now().UTC())
	if err != nil {
		j.logger.Error("token cleanup job failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete expired verification tokens: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordTokensPurged(deletedCount)
	}

	j.logger.Info("token cleanup job completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降はInterval毎にRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context) {
	j.runOnce(ctx)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)
}
