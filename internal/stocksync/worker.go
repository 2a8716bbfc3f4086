package stocksync

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/guymaich-jpg/factory-control-sub000/internal/metrics"
)

// DefaultQueueSize はキューサイズが指定されていない場合の上限。
const DefaultQueueSize = 64

// Syncer は区分別の在庫数を同期するインターフェース。
type Syncer interface {
	SyncCounts(ctx context.Context, counts map[string]int, actor string) error
}

// Job は同期1回分の依頼を表す。
type Job struct {
	Counts     map[string]int
	Actor      string
	EnqueuedAt time.Time
}

// Worker は同期ジョブを上限付きキューで受け付け、バックグラウンドで順に実行する。
// 失敗はエラーチャネルに送られ、専用のgoroutineがログとメトリクスに記録する。
// 呼び出し元は結果を待たない。
type Worker struct {
	syncer  Syncer
	queue   chan Job
	errs    chan error
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
}

// NewWorker はWorkerを生成する。sizeが0以下の場合はDefaultQueueSizeを使う。
func NewWorker(syncer Syncer, size int, mc metrics.MetricsCollector, logger *slog.Logger) *Worker {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		syncer:    syncer,
		queue:     make(chan Job, size),
		errs:      make(chan error, size),
		metrics:   mc,
		logger:    logger,
		runCtx:    ctx,
		cancelRun: cancel,
		done:      make(chan struct{}),
	}
}

// Start はジョブ実行とエラー記録のgoroutineを起動する。2回目以降の呼び出しは何もしない。
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			w.drainErrors()
		}()
		go func() {
			defer close(w.done)
			w.run()
			close(w.errs)
			<-drained
		}()
	})
}

// Enqueue はジョブをキューに追加する。ブロックしない。
// キューが満杯または停止済みの場合はジョブを捨ててfalseを返す。
func (w *Worker) Enqueue(job Job) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.drop(job, "worker closed")
		return false
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	job.Counts = maps.Clone(job.Counts)

	select {
	case w.queue <- job:
		return true
	default:
		w.drop(job, "queue full")
		return false
	}
}

// Close は新しいジョブの受け付けを止め、キューに残ったジョブを実行し終えるまで待つ。
// ctxの期限までに終わらない場合は実行中の同期をキャンセルしてctx.Err()を返す。
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	// Startされていない場合も残りのジョブを処理して終了する
	w.Start()

	select {
	case <-w.done:
		w.cancelRun()
		return nil
	case <-ctx.Done():
		w.cancelRun()
		<-w.done
		return ctx.Err()
	}
}

func (w *Worker) run() {
	for job := range w.queue {
		start := time.Now()
		err := w.syncer.SyncCounts(w.runCtx, job.Counts, job.Actor)
		w.metrics.RecordSyncResult(err == nil, time.Since(start))
		if err != nil {
			var syncErr *SyncError
			if !errors.As(err, &syncErr) {
				err = &SyncError{Actor: job.Actor, Err: err}
			}
			w.errs <- err
		}
	}
}

func (w *Worker) drainErrors() {
	for err := range w.errs {
		w.logger.Error("在庫同期に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) drop(job Job, reason string) {
	w.metrics.RecordSyncDropped()
	w.logger.Warn("在庫同期ジョブを破棄しました",
		slog.String("reason", reason),
		slog.String("actor", job.Actor),
	)
}
