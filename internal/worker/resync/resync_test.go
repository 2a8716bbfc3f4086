package resync

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
)

type mockSnapshots struct {
	snap *model.InventorySnapshot
	err  error
}

func (m *mockSnapshots) Latest(ctx context.Context) (*model.InventorySnapshot, error) {
	return m.snap, m.err
}

type mockSyncer struct {
	called bool
	counts map[string]int
	actor  string
	err    error
}

func (m *mockSyncer) SyncCounts(ctx context.Context, counts map[string]int, actor string) error {
	m.called = true
	m.counts = counts
	m.actor = actor
	return m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestResyncJob_Run_SyncsLatestSnapshot(t *testing.T) {
	var buf bytes.Buffer
	snaps := &mockSnapshots{snap: &model.InventorySnapshot{
		ID: "s1", Bottles: map[string]int{"arak_700": 12}, UpdatedAt: time.Now(),
	}}
	syncer := &mockSyncer{}

	if err := NewResyncJob(snaps, syncer, newTestLogger(&buf)).Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if !syncer.called || syncer.counts["arak_700"] != 12 || syncer.actor != Actor {
		t.Errorf("unexpected sync call: %+v", syncer)
	}
}

func TestResyncJob_Run_NoSnapshot(t *testing.T) {
	var buf bytes.Buffer
	syncer := &mockSyncer{}

	if err := NewResyncJob(&mockSnapshots{}, syncer, newTestLogger(&buf)).Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if syncer.called {
		t.Error("スナップショットが無い場合は同期しない")
	}
}

func TestResyncJob_Run_Errors(t *testing.T) {
	tests := []struct {
		name   string
		snaps  *mockSnapshots
		syncer *mockSyncer
	}{
		{"read failure", &mockSnapshots{err: errors.New("db down")}, &mockSyncer{}},
		{"sync failure", &mockSnapshots{snap: &model.InventorySnapshot{ID: "s1"}}, &mockSyncer{err: errors.New("boom")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := NewResyncJob(tt.snaps, tt.syncer, newTestLogger(&buf)).Run(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResyncJob_Run_LogsSnapshotID(t *testing.T) {
	var buf bytes.Buffer
	snaps := &mockSnapshots{snap: &model.InventorySnapshot{ID: "snap-42"}}

	_ = NewResyncJob(snaps, &mockSyncer{}, newTestLogger(&buf)).Run(context.Background())

	if !strings.Contains(buf.String(), `"snapshot_id":"snap-42"`) {
		t.Errorf("ログに snapshot_id が記録されていない。ログ出力: %s", buf.String())
	}
}
