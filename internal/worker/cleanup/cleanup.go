// Package cleanup は在庫スナップショットの自動削除ジョブを提供する。
// 保持期間（デフォルト90日）を超過したスナップショットを日次バッチで削除する。
// 最新のスナップショットは保持期間を過ぎていても削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays はスナップショットの既定の保持日数。
const DefaultRetentionDays = 90

// SnapshotPruner は古いスナップショットを削除するインターフェース。
type SnapshotPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過したスナップショットの自動削除ジョブ。
// 冪等であり、削除対象が無くてもエラーにならない。
type CleanupJob struct {
	pruner        SnapshotPruner
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // スナップショットの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(pruner SnapshotPruner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		pruner:        pruner,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run はupdated_atがRetentionDays日前より古いスナップショットを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().UTC().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.pruner.PruneOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("スナップショットクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("スナップショットクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("スナップショットクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
