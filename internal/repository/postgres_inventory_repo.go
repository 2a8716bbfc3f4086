package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/upstream"
)

// PostgresInventoryRepo はPostgreSQLを使用した在庫スナップショットリポジトリ。
type PostgresInventoryRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresInventoryRepo はPostgresInventoryRepoを生成する。
func NewPostgresInventoryRepo(db *sql.DB, timeout time.Duration) *PostgresInventoryRepo {
	return &PostgresInventoryRepo{db: db, timeout: timeout}
}

// Append はスナップショットを追加する。
func (r *PostgresInventoryRepo) Append(ctx context.Context, snap *model.InventorySnapshot) error {
	bottles, err := json.Marshal(snap.Bottles)
	if err != nil {
		return fmt.Errorf("failed to encode bottles: %w", err)
	}

	return upstream.Call(ctx, "store.inventory_append", r.timeout, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO inventory_snapshots (id, bottles, total, trigger_source, updated_at, updated_by)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			snap.ID, bottles, snap.Total, snap.Trigger, snap.UpdatedAt, snap.UpdatedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to insert inventory snapshot: %w", err)
		}
		return nil
	})
}

// Latest は最新のスナップショットを返す。存在しない場合はnilを返す。
func (r *PostgresInventoryRepo) Latest(ctx context.Context) (*model.InventorySnapshot, error) {
	return upstream.Value(ctx, "store.inventory_latest", r.timeout, func(ctx context.Context) (*model.InventorySnapshot, error) {
		snap := &model.InventorySnapshot{}
		var bottles []byte
		err := r.db.QueryRowContext(ctx,
			`SELECT id, bottles, total, trigger_source, updated_at, updated_by
			 FROM inventory_snapshots ORDER BY updated_at DESC LIMIT 1`,
		).Scan(&snap.ID, &bottles, &snap.Total, &snap.Trigger, &snap.UpdatedAt, &snap.UpdatedBy)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find latest inventory snapshot: %w", err)
		}
		if err := json.Unmarshal(bottles, &snap.Bottles); err != nil {
			return nil, fmt.Errorf("failed to decode bottles: %w", err)
		}
		return snap, nil
	})
}

// PruneOlderThan はcutoffより古いスナップショットを削除する。最新の1件は常に残す。
func (r *PostgresInventoryRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return upstream.Value(ctx, "store.inventory_prune", r.timeout, func(ctx context.Context) (int64, error) {
		result, err := r.db.ExecContext(ctx,
			`DELETE FROM inventory_snapshots
			 WHERE updated_at < $1
			   AND id <> (SELECT id FROM inventory_snapshots ORDER BY updated_at DESC LIMIT 1)`,
			cutoff,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to prune inventory snapshots: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		return n, nil
	})
}

// compile-time interface check
var _ InventoryRepository = (*PostgresInventoryRepo)(nil)
