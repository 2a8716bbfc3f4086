// Package inventory は製造現場のボトル在庫数の記録と取得を提供する。
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
	"github.com/guymaich-jpg/factory-control-sub000/internal/repository"
	"github.com/guymaich-jpg/factory-control-sub000/internal/stocksync"
)

// DefaultTrigger はトリガーが指定されていない場合の値。
const DefaultTrigger = "manual"

// SyncQueue は在庫同期ジョブを受け付けるキュー。
type SyncQueue interface {
	Enqueue(job stocksync.Job) bool
}

// Service は在庫管理のサービス層。
// 在庫の書き込み後にCRMへの同期を依頼するが、同期の結果は待たない。
type Service struct {
	repo    repository.InventoryRepository
	mapping *stocksync.Mapping
	queue   SyncQueue
	logger  *slog.Logger
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。queueがnilの場合は同期しない。
func NewService(repo repository.InventoryRepository, mapping *stocksync.Mapping, queue SyncQueue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		mapping: mapping,
		queue:   queue,
		logger:  logger,
		now:     time.Now,
	}
}

// Get は最新の在庫スナップショットを返す。
func (s *Service) Get(ctx context.Context) (*model.InventorySnapshot, error) {
	snap, err := s.repo.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("在庫の取得に失敗しました: %w", err)
	}
	if snap == nil {
		return nil, model.NewInventoryNotFoundError()
	}
	return snap, nil
}

// Save は在庫数をスナップショットとして記録し、同期を依頼する。
// 未知の区分は無視し、負の値や数値に変換できない値は0として扱う。
// 同期の依頼が受け付けられなかった場合も記録結果は変わらない。
func (s *Service) Save(ctx context.Context, actor string, bottles map[string]any, trigger string) (*model.InventorySnapshot, error) {
	counts := make(map[string]int, len(bottles))
	total := 0
	for category, raw := range bottles {
		if !s.mapping.Known(category) {
			continue
		}
		n := CoerceCount(raw)
		key := strings.ToLower(strings.TrimSpace(category))
		counts[key] += n
		total += n
	}

	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		trigger = DefaultTrigger
	}

	snap := &model.InventorySnapshot{
		ID:        uuid.NewString(),
		Bottles:   counts,
		Total:     total,
		Trigger:   trigger,
		UpdatedAt: s.now().UTC(),
		UpdatedBy: actor,
	}
	if err := s.repo.Append(ctx, snap); err != nil {
		return nil, fmt.Errorf("在庫の保存に失敗しました: %w", err)
	}

	if s.queue != nil {
		s.queue.Enqueue(stocksync.Job{Counts: counts, Actor: actor, EnqueuedAt: snap.UpdatedAt})
	}

	s.logger.Info("inventory saved",
		slog.String("snapshot_id", snap.ID),
		slog.Int("total", total),
		slog.String("trigger", trigger),
		slog.String("updated_by", actor),
	)
	return snap, nil
}

// CoerceCount はJSONから読み取った値を0以上の整数に変換する。
// 数値文字列は解釈し、負の値・非数値・NaNは0とする。小数は切り捨てる。
func CoerceCount(v any) int {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}
