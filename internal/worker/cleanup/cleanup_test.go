package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// mockPruner は SnapshotPruner のモック実装。
type mockPruner struct {
	called  bool
	cutoff  time.Time
	deleted int64
	err     error
}

func (m *mockPruner) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.called = true
	m.cutoff = cutoff
	return m.deleted, m.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

var fixedNow = time.Date(2026, 6, 30, 3, 0, 0, 0, time.UTC)

func newTestJob(m *mockPruner, buf *bytes.Buffer) *CleanupJob {
	job := NewCleanupJob(m, newTestLogger(buf))
	job.now = func() time.Time { return fixedNow }
	return job
}

// findLogField はJSONログからキーを持つ最初の値を返す。
func findLogField(buf *bytes.Buffer, key string) (any, bool) {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func TestNewCleanupJob_SetsRetentionDays(t *testing.T) {
	job := NewCleanupJob(&mockPruner{}, slog.Default())

	if job.RetentionDays != DefaultRetentionDays {
		t.Errorf("RetentionDays = %d, want %d", job.RetentionDays, DefaultRetentionDays)
	}
}

func TestCleanupJob_Run_UsesRetentionCutoff(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPruner{deleted: 5}
	job := newTestJob(mock, &buf)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if !mock.called {
		t.Fatal("PruneOlderThan が呼び出されなかった")
	}
	want := fixedNow.AddDate(0, 0, -90)
	if !mock.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", mock.cutoff, want)
	}
}

func TestCleanupJob_CustomRetentionDays(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockPruner{}
	job := newTestJob(mock, &buf)
	job.RetentionDays = 30

	_ = job.Run(context.Background())

	if want := fixedNow.AddDate(0, 0, -30); !mock.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", mock.cutoff, want)
	}
}

func TestCleanupJob_Run_LogsDeletedCountAndDuration(t *testing.T) {
	var buf bytes.Buffer
	job := newTestJob(&mockPruner{deleted: 42}, &buf)

	_ = job.Run(context.Background())

	if count, ok := findLogField(&buf, "deleted_count"); !ok || count != float64(42) {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
	if days, ok := findLogField(&buf, "retention_days"); !ok || days != float64(90) {
		t.Errorf("ログに retention_days=90 が記録されていない。ログ出力: %s", buf.String())
	}
	if _, ok := findLogField(&buf, "duration_ms"); !ok {
		t.Errorf("ログに duration_ms が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsAndLogsErrorOnDBFailure(t *testing.T) {
	var buf bytes.Buffer
	job := newTestJob(&mockPruner{err: sql.ErrConnDone}, &buf)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	job := newTestJob(&mockPruner{deleted: 0}, &buf)

	for i := range 2 {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
	if count, ok := findLogField(&buf, "deleted_count"); !ok || count != float64(0) {
		t.Errorf("0件削除時にもログに deleted_count=0 が記録されるべき。ログ出力: %s", buf.String())
	}
}
