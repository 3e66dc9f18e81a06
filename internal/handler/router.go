package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/reporelay/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// セッション
	Session  SessionServiceInterface
	LoginURL string

	// プロジェクト
	ProjectCache   ProjectCacheInterface
	ProjectService ProjectServiceInterface

	// 参加・離脱
	SubscriptionService SubscriptionServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → CSRF → (AuthGate → RateLimit)
//
// /health、/metrics、/login、/logout、/api/csrf-token は認証ゲートの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig, deps.Logger))

	sessionHandler := NewSessionHandler(deps.Session, deps.LoginURL, deps.Logger)
	projectHandler := NewProjectHandler(deps.ProjectCache, deps.ProjectService, deps.Session, deps.Logger)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService, deps.Logger)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/login", sessionHandler.Login)
	r.Post("/logout", sessionHandler.Logout)
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig, deps.Logger))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: AuthGate → RateLimit
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthGate(deps.Session))
		r.Use(deps.RateLimiter.Middleware())

		r.Get("/api/me", sessionHandler.Me)

		r.Route("/api/projects", func(r chi.Router) {
			r.Get("/", projectHandler.ListProjects)
			r.Post("/", projectHandler.CreateProject)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", projectHandler.GetProject)
				r.Patch("/", projectHandler.UpdateProject)
				r.Delete("/", projectHandler.DeleteProject)

				r.Post("/subscription", subHandler.Join)
				r.Delete("/subscription", subHandler.Leave)
			})
		})
	})

	return r
}
