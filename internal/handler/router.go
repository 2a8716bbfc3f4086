package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/guymaich-jpg/factory-control-sub000/internal/identity"
	"github.com/guymaich-jpg/factory-control-sub000/internal/metrics"
	"github.com/guymaich-jpg/factory-control-sub000/internal/middleware"
	"github.com/guymaich-jpg/factory-control-sub000/internal/policy"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Verifier          identity.Verifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler

	// ヘルスチェック
	HealthChecker HealthChecker

	// ドメインサービス
	InventoryService  InventoryServiceInterface
	InvitationService InvitationServiceInterface
	UserService       UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Metrics → Recovery → SecurityHeaders → CORS
//	  公開招待:   RateLimit(Public)
//	  認証必須:   Auth → RateLimit(General) [→ RequireCapability(management)]
//
// /health と /metrics は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	inventoryHandler := NewInventoryHandler(deps.InventoryService)
	invitationHandler := NewInvitationHandler(deps.InvitationService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 公開招待エンドポイント（IP単位のレート制限）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.PublicMiddleware())
		r.Post("/invitations/accept", invitationHandler.AcceptInvitation)
		r.Get("/invitations/{token}", invitationHandler.ValidateInvitation)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Verifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/inventory", inventoryHandler.GetInventory)
		r.Post("/inventory", inventoryHandler.SaveInventory)

		// 管理権限（admin または manager）
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireCapability(policy.ManagementAccess))

			r.Get("/invitations", invitationHandler.ListInvitations)
			r.Post("/invitations", invitationHandler.CreateInvitation)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.ListUsers)
				r.Post("/", userHandler.CreateUser)
				r.Put("/{username}", userHandler.UpdateUser)
				r.Delete("/{username}", userHandler.DeleteUser)
			})
		})
	})

	return r
}
