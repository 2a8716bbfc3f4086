package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/upstream"
)

// PostgresStockRepo は共有在庫コレクション（shared_stock）のリポジトリ。
// ドキュメントはJSONBで保持し、他アプリケーションが追加したフィールドを含みうる。
type PostgresStockRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresStockRepo はPostgresStockRepoを生成する。
func NewPostgresStockRepo(db *sql.DB, timeout time.Duration) *PostgresStockRepo {
	return &PostgresStockRepo{db: db, timeout: timeout}
}

// MergeBatch は全更新を1トランザクションでマージ書き込みする。
// 既存行はproduct_id順にロックしてから読み、所有フィールドのみを上書きする。
func (r *PostgresStockRepo) MergeBatch(ctx context.Context, updates []model.StockUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	sorted := make([]model.StockUpdate, len(updates))
	copy(sorted, updates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	ids := make([]string, len(sorted))
	for i, u := range sorted {
		ids[i] = u.ProductID
	}

	return upstream.Call(ctx, "store.stock_merge", r.timeout, func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		existing, err := lockStockDocuments(ctx, tx, ids)
		if err != nil {
			return err
		}

		for _, u := range sorted {
			merged := model.MergeStockDocument(existing[u.ProductID], u)
			data, err := json.Marshal(merged)
			if err != nil {
				return fmt.Errorf("failed to encode stock document %s: %w", u.ProductID, err)
			}

			// ロック後に別トランザクションが挿入した行とも || で合成する
			_, err = tx.ExecContext(ctx,
				`INSERT INTO shared_stock (product_id, data, updated_at)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (product_id) DO UPDATE SET
					data = shared_stock.data || EXCLUDED.data,
					updated_at = EXCLUDED.updated_at`,
				u.ProductID, data, u.SyncTimestamp,
			)
			if err != nil {
				return fmt.Errorf("failed to merge stock document %s: %w", u.ProductID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// lockStockDocuments は指定product_idの既存ドキュメントをFOR UPDATEで取得する。
func lockStockDocuments(ctx context.Context, tx *sql.Tx, ids []string) (map[string]map[string]any, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, data FROM shared_stock
		 WHERE product_id = ANY($1)
		 ORDER BY product_id
		 FOR UPDATE`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stock documents: %w", err)
	}
	defer rows.Close()

	docs := make(map[string]map[string]any, len(ids))
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan stock document: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode stock document %s: %w", id, err)
		}
		docs[id] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock documents: %w", err)
	}
	return docs, nil
}

// compile-time interface check
var _ StockRepository = (*PostgresStockRepo)(nil)
