// Package scheduler はワーカーモードの定期ジョブを実行する。
// 起動直後に全ジョブを1回実行し、その後はジョブごとの間隔で繰り返す。
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxConcurrency は同時に実行するジョブ数の既定の上限。
const DefaultMaxConcurrency = 2

// Job は定期実行されるジョブのインターフェース。
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc は関数をJobとして扱うアダプタ。
type JobFunc func(ctx context.Context) error

// Run はJobを実装する。
func (f JobFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Task はジョブと実行間隔の組。Intervalが0以下の場合は起動時の1回のみ実行する。
type Task struct {
	Name     string
	Job      Job
	Interval time.Duration
}

// Scheduler は定期ジョブのスケジューリングと並列制御を行う。
// semaphoreパターンで同時実行数を制限する。
type Scheduler struct {
	tasks  []Task
	logger *slog.Logger
	sem    chan struct{}
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はDefaultMaxConcurrencyを使用する。
func NewScheduler(tasks []Task, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tasks:  tasks,
		logger: logger,
		sem:    make(chan struct{}, maxConcurrency),
	}
}

// Start は起動直後に全ジョブを1回実行し、以降はジョブごとのティッカーで実行する。
// コンテキストがキャンセルされるまでブロックし、実行中のジョブの終了を待って戻る。
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("スケジューラを開始しました",
		slog.Int("task_count", len(s.tasks)),
		slog.Int("max_concurrency", cap(s.sem)),
	)

	s.RunOnce(ctx)

	var wg sync.WaitGroup
	for _, task := range s.tasks {
		if task.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			ticker := time.NewTicker(t.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.run(ctx, t)
				}
			}
		}(task)
	}

	<-ctx.Done()
	wg.Wait()
	s.logger.Info("スケジューラを停止しました")
}

// RunOnce は全ジョブを1回ずつ並列に実行し、全て終わるまで待つ。
// 個別ジョブの失敗はログに記録し、他のジョブの実行は止めない。
func (s *Scheduler) RunOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, task := range s.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			s.run(ctx, t)
		}(task)
	}
	wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		return
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	start := time.Now()
	if err := t.Job.Run(ctx); err != nil {
		s.logger.Error("ジョブの実行に失敗しました",
			slog.String("task", t.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("ジョブが完了しました",
		slog.String("task", t.Name),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}
