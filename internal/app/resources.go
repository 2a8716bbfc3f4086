package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/guymaich-jpg/factory-control-sub000/internal/config"
	"github.com/guymaich-jpg/factory-control-sub000/internal/database"
	"github.com/guymaich-jpg/factory-control-sub000/internal/identity"
	"github.com/guymaich-jpg/factory-control-sub000/internal/metrics"
	"github.com/guymaich-jpg/factory-control-sub000/internal/repository"
	"github.com/guymaich-jpg/factory-control-sub000/internal/stocksync"
)

// Resources はプロセス全体で共有する資源を保持する。
// 起動時に1回だけ生成し、各コンポーネントへ参照で渡す。
// 終了時はHTTPサーバーの停止後にCloseを呼ぶ。
type Resources struct {
	DB         *sql.DB
	Accounts   *identity.AccountClient
	Verifier   *identity.TokenVerifier
	Mapping    *stocksync.Mapping
	Syncer     *stocksync.Synchronizer
	SyncWorker *stocksync.Worker
	Registry   *prometheus.Registry
	Metrics    *metrics.Collector
}

// NewResources はDB接続、IdPクライアント、トークン検証器、同期ワーカーを生成する。
// DBへの疎通が確認できない場合はエラーを返す。同期ワーカーは起動しない。
func NewResources(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Resources, error) {
	mapping, err := stocksync.LoadMapping(cfg.StockMappingFile)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	authClient, err := identity.NewAuthClient(ctx, identity.FirebaseConfig{
		ProjectID:       cfg.IdentityProjectID,
		CredentialsFile: cfg.IdentityCredentialsFile,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(reg)

	syncer := stocksync.NewSynchronizer(repository.NewPostgresStockRepo(db, cfg.StoreTimeout), mapping, logger)

	return &Resources{
		DB:         db,
		Accounts:   identity.NewAccountClient(authClient, cfg.IdentityTimeout),
		Verifier:   identity.NewTokenVerifier(authClient, cfg.IdentityTimeout),
		Mapping:    mapping,
		Syncer:     syncer,
		SyncWorker: stocksync.NewWorker(syncer, cfg.SyncQueueSize, mc, logger),
		Registry:   reg,
		Metrics:    mc,
	}, nil
}

// Close は同期ワーカーのキューを処理し終えてからDB接続を閉じる。
// ctxの期限までにキューが空にならない場合も、DB接続は閉じる。
func (r *Resources) Close(ctx context.Context) error {
	var errs []error
	if err := r.SyncWorker.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain stock sync queue: %w", err))
	}
	if err := r.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, cfg.StoreTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
