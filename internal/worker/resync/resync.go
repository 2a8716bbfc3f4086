// Package resync は最新の在庫スナップショットを定期的にCRMへ再同期するジョブを提供する。
// 書き込み時のベストエフォート同期が破棄・失敗した場合でも、
// 不整合の期間を再同期の間隔までに抑える。
package resync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/stocksync"
)

// Actor は再同期で共有在庫に記録する実行者名。
const Actor = "system:resync"

// SnapshotReader は最新のスナップショットを取得するインターフェース。
type SnapshotReader interface {
	Latest(ctx context.Context) (*model.InventorySnapshot, error)
}

// ResyncJob は最新スナップショットの全件再同期ジョブ。
// マージ書き込みは冪等なため、何度実行してもよい。
type ResyncJob struct {
	snapshots SnapshotReader
	syncer    stocksync.Syncer
	logger    *slog.Logger
}

// NewResyncJob は新しいResyncJobを生成する。
func NewResyncJob(snapshots SnapshotReader, syncer stocksync.Syncer, logger *slog.Logger) *ResyncJob {
	return &ResyncJob{
		snapshots: snapshots,
		syncer:    syncer,
		logger:    logger,
	}
}

// Run は最新スナップショットを同期する。スナップショットが無い場合は何もしない。
func (j *ResyncJob) Run(ctx context.Context) error {
	start := time.Now()

	snap, err := j.snapshots.Latest(ctx)
	if err != nil {
		return fmt.Errorf("最新スナップショットの取得に失敗: %w", err)
	}
	if snap == nil {
		j.logger.Info("再同期対象のスナップショットはありません")
		return nil
	}

	if err := j.syncer.SyncCounts(ctx, snap.Bottles, Actor); err != nil {
		j.logger.Error("在庫の再同期に失敗しました",
			slog.String("snapshot_id", snap.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("在庫の再同期に失敗: %w", err)
	}

	j.logger.Info("在庫の再同期が完了しました",
		slog.String("snapshot_id", snap.ID),
		slog.Time("snapshot_updated_at", snap.UpdatedAt),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
