// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guymaich-jpg/factory-control-sub000/internal/config"
	"github.com/guymaich-jpg/factory-control-sub000/internal/database"
	"github.com/guymaich-jpg/factory-control-sub000/internal/handler"
	"github.com/guymaich-jpg/factory-control-sub000/internal/inventory"
	"github.com/guymaich-jpg/factory-control-sub000/internal/invitation"
	"github.com/guymaich-jpg/factory-control-sub000/internal/logger"
	"github.com/guymaich-jpg/factory-control-sub000/internal/metrics"
	"github.com/guymaich-jpg/factory-control-sub000/internal/middleware"
	"github.com/guymaich-jpg/factory-control-sub000/internal/policy"
	"github.com/guymaich-jpg/factory-control-sub000/internal/provisioning"
	"github.com/guymaich-jpg/factory-control-sub000/internal/repository"
	"github.com/guymaich-jpg/factory-control-sub000/internal/stocksync"
	"github.com/guymaich-jpg/factory-control-sub000/internal/user"
	"github.com/guymaich-jpg/factory-control-sub000/internal/worker/cleanup"
	"github.com/guymaich-jpg/factory-control-sub000/internal/worker/resync"
	"github.com/guymaich-jpg/factory-control-sub000/internal/worker/scheduler"
)

// shutdownTimeout はHTTPサーバーの停止と同期キューの処理を待つ上限。
const shutdownTimeout = 30 * time.Second

// cleanupInterval はスナップショット削除ジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel)), nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// newRouterDeps はResourcesからドメインサービスを組み立て、ルーターの依存関係を返す。
func newRouterDeps(cfg *config.Config, res *Resources, log *slog.Logger, rl *middleware.RateLimiter) *handler.RouterDeps {
	profiles := repository.NewPostgresProfileRepo(res.DB, cfg.StoreTimeout)
	invitations := repository.NewPostgresInvitationRepo(res.DB, cfg.StoreTimeout)
	snapshots := repository.NewPostgresInventoryRepo(res.DB, cfg.StoreTimeout)

	guard := policy.NewOwnerGuard(cfg.OwnerEmails)
	provisioner := provisioning.NewProvisioner(res.Accounts, profiles, guard, res.Metrics, log)

	return &handler.RouterDeps{
		Logger:            log,
		Verifier:          res.Verifier,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		Metrics:           res.Metrics,
		MetricsHandler:    metrics.Handler(res.Registry),

		HealthChecker: handler.HealthCheckFunc(func(ctx context.Context) error {
			return database.Ping(ctx, res.DB, cfg.StoreTimeout)
		}),

		InventoryService:  inventory.NewService(snapshots, res.Mapping, res.SyncWorker, log),
		InvitationService: invitation.NewRegistry(invitations, profiles, provisioner, res.Metrics, log, cfg.InvitationTTL),
		UserService:       user.NewService(profiles, res.Accounts, provisioner, guard, res.Metrics, log),
	}
}

// runServe はAPIサーバーモードで起動する。
// 共有資源を生成し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされると、HTTPサーバー停止、同期キューの処理、DB切断の順で終了する。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	res, err := NewResources(ctx, cfg, log)
	if err != nil {
		return err
	}
	log.Info("database connection established")

	res.SyncWorker.Start()

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitPublic))
	defer rl.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(newRouterDeps(cfg, res, log, rl)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down API server...")
	case err, ok := <-listenErr:
		if ok {
			serveErr = fmt.Errorf("server listen error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("server shutdown failed: %w", err))
	}
	if err := res.Close(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	if serveErr != nil {
		return serveErr
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 最新スナップショットの再同期をRESYNC_INTERVAL間隔で、
// 保持期間を過ぎたスナップショットの削除を日次で実行する。
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	mapping, err := stocksync.LoadMapping(cfg.StockMappingFile)
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("database connection established (worker)")

	snapshots := repository.NewPostgresInventoryRepo(db, cfg.StoreTimeout)
	syncer := stocksync.NewSynchronizer(repository.NewPostgresStockRepo(db, cfg.StoreTimeout), mapping, log)

	cleanupJob := cleanup.NewCleanupJob(snapshots, log)
	cleanupJob.RetentionDays = cfg.SnapshotRetentionDays

	s := scheduler.NewScheduler([]scheduler.Task{
		{Name: "stock_resync", Job: resync.NewResyncJob(snapshots, syncer, log), Interval: cfg.ResyncInterval},
		{Name: "snapshot_cleanup", Job: cleanupJob, Interval: cleanupInterval},
	}, log, 0)

	log.Info("worker starting",
		slog.Duration("resync_interval", cfg.ResyncInterval),
		slog.Int("retention_days", cfg.SnapshotRetentionDays),
	)

	// ctxがキャンセルされるまでブロックする
	s.Start(ctx)

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%s/health", port))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードを伏せ字にする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
