package stocksync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
)

// --- モック ---

type mockStockRepo struct {
	mu      sync.Mutex
	batches [][]model.StockUpdate
	err     error
}

func (m *mockStockRepo) MergeBatch(ctx context.Context, updates []model.StockUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, updates)
	return nil
}

const testMapping = `
products:
  - id: P1
    categories: [A, b]
  - id: P2
    unit: cases
    categories: [C]
local_only: [samples]
`

func mustParse(t *testing.T, doc string) *Mapping {
	t.Helper()
	m, err := ParseMapping([]byte(doc))
	if err != nil {
		t.Fatalf("ParseMapping failed: %v", err)
	}
	return m
}

// --- 対応表 ---

func TestAggregate_SumsAndDrops(t *testing.T) {
	m := mustParse(t, testMapping)

	got := m.Aggregate(map[string]int{"A": 3, "B": 2, "C": 5, "samples": 4, "unknown": 9})

	if len(got) != 2 || got["P1"] != 5 || got["P2"] != 5 {
		t.Errorf("Aggregate = %v, want map[P1:5 P2:5]", got)
	}
}

func TestAggregate_NegativeIsZero(t *testing.T) {
	m := mustParse(t, testMapping)

	got := m.Aggregate(map[string]int{"a": -4, "b": 2})

	if got["P1"] != 2 {
		t.Errorf("P1 = %d, want 2", got["P1"])
	}
}

func TestParseMapping_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"category mapped twice", "products:\n  - id: P1\n    categories: [a]\n  - id: P2\n    categories: [A]\n"},
		{"duplicate product", "products:\n  - id: P1\n  - id: P1\n"},
		{"missing id", "products:\n  - categories: [a]\n"},
		{"local and mapped", "products:\n  - id: P1\n    categories: [a]\nlocal_only: [a]\n"},
		{"invalid yaml", "products: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMapping([]byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMapping_KnownAndUnit(t *testing.T) {
	m := mustParse(t, testMapping)

	if !m.Known(" A ") || !m.Known("samples") || m.Known("nope") {
		t.Error("Known returned unexpected result")
	}
	if m.Unit("P1") != DefaultUnit || m.Unit("P2") != "cases" {
		t.Errorf("Unit: P1=%q P2=%q", m.Unit("P1"), m.Unit("P2"))
	}
	if got := m.Categories(); len(got) != 4 || got[0] != "a" {
		t.Errorf("Categories = %v", got)
	}
}

func TestLoadMapping_DefaultAndFile(t *testing.T) {
	def, err := LoadMapping("")
	if err != nil {
		t.Fatalf("default mapping must parse: %v", err)
	}
	if !def.Known("arak_700") {
		t.Error("default mapping must know arak_700")
	}

	path := filepath.Join(t.TempDir(), "mapping.yaml")
	if err := os.WriteFile(path, []byte(testMapping), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadMapping(path)
	if err != nil {
		t.Fatalf("LoadMapping failed: %v", err)
	}
	if !m.Known("c") {
		t.Error("override mapping not used")
	}

	if _, err := LoadMapping(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file must be an error")
	}
}

// --- Synchronizer ---

func TestSync_BuildsOneBatch(t *testing.T) {
	repo := &mockStockRepo{}
	s := NewSynchronizer(repo, mustParse(t, testMapping), nil)
	ts := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return ts }

	if err := s.SyncCounts(context.Background(), map[string]int{"A": 3, "B": 2, "C": 5}, "uid-1"); err != nil {
		t.Fatalf("SyncCounts failed: %v", err)
	}

	if len(repo.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(repo.batches))
	}
	batch := repo.batches[0]
	if len(batch) != 2 || batch[0].ProductID != "P1" || batch[1].ProductID != "P2" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if batch[0].CurrentStock != 5 || batch[0].Unit != DefaultUnit || !batch[0].SyncTimestamp.Equal(ts) {
		t.Errorf("unexpected P1 update: %+v", batch[0])
	}
	if batch[1].Unit != "cases" || !batch[1].LastUpdated.Equal(ts) {
		t.Errorf("unexpected P2 update: %+v", batch[1])
	}
}

func TestSync_EmptyIsNoop(t *testing.T) {
	repo := &mockStockRepo{}
	s := NewSynchronizer(repo, mustParse(t, testMapping), nil)

	if err := s.SyncCounts(context.Background(), map[string]int{"unknown": 3}, "uid-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.batches) != 0 {
		t.Error("nothing must be written when no category is mapped")
	}
}

func TestSync_FailureIsSyncError(t *testing.T) {
	repo := &mockStockRepo{err: errors.New("store unavailable")}
	s := NewSynchronizer(repo, mustParse(t, testMapping), nil)

	err := s.Sync(context.Background(), map[string]int{"P1": 1}, "uid-1")

	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected SyncError, got %v", err)
	}
	if syncErr.Actor != "uid-1" || syncErr.Products != 1 {
		t.Errorf("unexpected SyncError: %+v", syncErr)
	}
}

// --- Worker ---

type recordingSyncer struct {
	mu      sync.Mutex
	calls   []Job
	block   chan struct{}
	started chan struct{}
	err     error
}

func (r *recordingSyncer) SyncCounts(ctx context.Context, counts map[string]int, actor string) error {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Job{Counts: counts, Actor: actor})
	return r.err
}

func (r *recordingSyncer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type countingMetrics struct {
	mu              sync.Mutex
	ok, failed, drp int
}

func (c *countingMetrics) RecordInvitation(string)          {}
func (c *countingMetrics) RecordProvisioningSuccess(bool)   {}
func (c *countingMetrics) RecordProvisioningFailure(string) {}
func (c *countingMetrics) RecordOwnerBlock(string)          {}
func (c *countingMetrics) RecordHTTPStatus(int)             {}

func (c *countingMetrics) RecordSyncResult(ok bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.ok++
	} else {
		c.failed++
	}
}
func (c *countingMetrics) RecordSyncDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drp++
}

func TestWorker_ProcessesAndDrainsOnClose(t *testing.T) {
	syncer := &recordingSyncer{}
	mc := &countingMetrics{}
	w := NewWorker(syncer, 8, mc, nil)
	w.Start()

	for i := range 3 {
		if !w.Enqueue(Job{Counts: map[string]int{"A": i}, Actor: "uid-1"}) {
			t.Fatalf("Enqueue %d rejected", i)
		}
	}

	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if syncer.count() != 3 {
		t.Errorf("processed = %d, want 3", syncer.count())
	}
	if mc.ok != 3 {
		t.Errorf("ok metric = %d, want 3", mc.ok)
	}
}

func TestWorker_FullQueueDropsWithoutBlocking(t *testing.T) {
	syncer := &recordingSyncer{block: make(chan struct{}), started: make(chan struct{}, 4)}
	mc := &countingMetrics{}
	w := NewWorker(syncer, 1, mc, nil)
	w.Start()

	// 1件目は実行中でブロックさせる
	w.Enqueue(Job{Counts: map[string]int{"A": 1}})
	<-syncer.started
	// 2件目でキューが埋まり、3件目は捨てられる
	if !w.Enqueue(Job{Counts: map[string]int{"A": 2}}) {
		t.Fatal("second job must fit in the queue")
	}
	if w.Enqueue(Job{Counts: map[string]int{"A": 3}}) {
		t.Error("third job must be dropped")
	}

	close(syncer.block)
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if mc.drp != 1 {
		t.Errorf("dropped metric = %d, want 1", mc.drp)
	}
	if syncer.count() != 2 {
		t.Errorf("processed = %d, want 2", syncer.count())
	}
}

func TestWorker_FailuresAreRecordedNotReturned(t *testing.T) {
	syncer := &recordingSyncer{err: errors.New("boom")}
	mc := &countingMetrics{}
	w := NewWorker(syncer, 4, mc, nil)
	w.Start()

	if !w.Enqueue(Job{Counts: map[string]int{"A": 1}, Actor: "uid-1"}) {
		t.Fatal("Enqueue rejected")
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if mc.failed != 1 {
		t.Errorf("failed metric = %d, want 1", mc.failed)
	}
}

func TestWorker_EnqueueAfterClose_Dropped(t *testing.T) {
	mc := &countingMetrics{}
	w := NewWorker(&recordingSyncer{}, 4, mc, nil)
	w.Start()
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if w.Enqueue(Job{Counts: map[string]int{"A": 1}}) {
		t.Error("Enqueue after Close must be rejected")
	}
	if mc.drp != 1 {
		t.Errorf("dropped metric = %d, want 1", mc.drp)
	}
	// 2回目のCloseは即座に戻る
	if err := w.Close(context.Background()); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestWorker_CloseDeadlineCancelsInFlight(t *testing.T) {
	syncer := &recordingSyncer{block: make(chan struct{}), started: make(chan struct{}, 1)}
	w := NewWorker(syncer, 4, nil, nil)
	w.Start()
	w.Enqueue(Job{Counts: map[string]int{"A": 1}})
	<-syncer.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestWorker_EnqueueCopiesCounts(t *testing.T) {
	syncer := &recordingSyncer{}
	w := NewWorker(syncer, 4, nil, nil)
	counts := map[string]int{"A": 1}
	w.Enqueue(Job{Counts: counts})
	counts["A"] = 99

	w.Start()
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if syncer.calls[0].Counts["A"] != 1 {
		t.Error("queued job must not observe later mutation of the caller's map")
	}
}
