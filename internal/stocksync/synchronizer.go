package stocksync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/repository"
)

// SyncError は同期の失敗を表す。呼び出し元の在庫書き込みには伝播しない。
type SyncError struct {
	Actor    string
	Products int
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *SyncError) Error() string {
	return fmt.Sprintf("stock sync by %s failed for %d products: %v", e.Actor, e.Products, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Synchronizer は集計済みの在庫数を共有在庫コレクションへマージ書き込みする。
type Synchronizer struct {
	stock   repository.StockRepository
	mapping *Mapping
	logger  *slog.Logger
	now     func() time.Time
}

// NewSynchronizer はSynchronizerを生成する。
func NewSynchronizer(stock repository.StockRepository, mapping *Mapping, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		stock:   stock,
		mapping: mapping,
		logger:  logger,
		now:     time.Now,
	}
}

// Mapping は使用中の対応表を返す。
func (s *Synchronizer) Mapping() *Mapping {
	return s.mapping
}

// Sync は商品別の在庫数を1つのバッチでマージ書き込みする。
// バッチは全件成功するか何も書き込まない。
func (s *Synchronizer) Sync(ctx context.Context, aggregated map[string]int, actor string) error {
	if len(aggregated) == 0 {
		return nil
	}

	now := s.now().UTC()
	updates := make([]model.StockUpdate, 0, len(aggregated))
	for productID, total := range aggregated {
		updates = append(updates, model.StockUpdate{
			ProductID:     productID,
			CurrentStock:  total,
			Unit:          s.mapping.Unit(productID),
			LastUpdated:   now,
			SyncTimestamp: now,
		})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].ProductID < updates[j].ProductID })

	if err := s.stock.MergeBatch(ctx, updates); err != nil {
		return &SyncError{Actor: actor, Products: len(updates), Err: err}
	}

	s.logger.Info("stock synced",
		slog.String("actor", actor),
		slog.Int("products", len(updates)),
	)
	return nil
}

// SyncCounts は区分別の在庫数を集計して同期する。
func (s *Synchronizer) SyncCounts(ctx context.Context, counts map[string]int, actor string) error {
	return s.Sync(ctx, s.mapping.Aggregate(counts), actor)
}
