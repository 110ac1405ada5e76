package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/organizer/internal/config"
	"github.com/hitoshi/organizer/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Config *config.Config
	Logger *slog.Logger

	// ミドルウェア依存
	RateLimiter     *middleware.RateLimiter
	RequestObserver middleware.RequestObserver
	Messages        middleware.Translator

	// クライアント
	Clients ClientRegistry

	// 認証
	OAuth          LoginURLProvider
	TokenVerifier  TokenVerifier
	SignInRecorder SignInRecorder

	// プロフィール
	Profiles ProfileReader

	// システム
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → AddressRateLimit → Client → Logging → CSRF → RequireIdentity → RateLimit
//
// /health と /metrics はクライアントCookieを発行しない。
func NewRouter(deps *RouterDeps) http.Handler {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(deps.Messages))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HSTS: cfg.CookieSecure}))

	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
		Messages:     deps.Messages,
	}

	authHandler := NewAuthHandler(deps.Clients, deps.OAuth, deps.Messages, deps.SignInRecorder, AuthHandlerConfig{
		BaseURL:            cfg.BaseURL,
		CookieSecure:       cfg.CookieSecure,
		DefaultCountryCode: cfg.DefaultCountryCode,
	})
	eventHandler := NewEventHandler(deps.Clients, deps.Messages)
	liveHandler := NewLiveHandler(deps.Clients, deps.TokenVerifier, deps.Messages, LiveHandlerConfig{
		APIKey:        cfg.Backend.APIKey,
		AllowedOrigin: cfg.CORSAllowedOrigin,
	})
	profileHandler := NewProfileHandler(deps.Profiles, deps.Messages)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(cfg.CORSAllowedOrigin))
		r.Use(deps.RateLimiter.AddressMiddleware())
		r.Use(middleware.NewClientMiddleware(middleware.ClientConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		}))
		r.Use(middleware.NewLoggingMiddleware(logger, deps.RequestObserver))
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		// --- 認証不要のルート ---
		r.Get("/client-config", ClientConfig(cfg))
		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig).ServeHTTP)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/google/login", authHandler.Login)
			r.With(deps.RateLimiter.SignInMiddleware()).Get("/google/callback", authHandler.Callback)
			r.With(deps.RateLimiter.SignInMiddleware()).Post("/phone/otp", authHandler.SendOTP)
			r.With(deps.RateLimiter.SignInMiddleware()).Post("/phone/verify", authHandler.VerifyOTP)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Delete("/error", authHandler.ClearError)
			r.Get("/token", authHandler.Token)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireIdentityMiddleware(NewIdentityResolver(deps.Clients), deps.Messages))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Route("/api/events", func(r chi.Router) {
				r.Get("/", eventHandler.ListEvents)
				r.Post("/", eventHandler.CreateEvent)
				r.Get("/live", liveHandler.Stream)
				r.Delete("/error", eventHandler.ClearError)
				r.Delete("/{id}", eventHandler.DeleteEvent)
			})

			r.Get("/api/profile", profileHandler.GetProfile)
		})
	})

	return r
}
