package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/organizer/internal/auth"
	"github.com/hitoshi/organizer/internal/config"
	"github.com/hitoshi/organizer/internal/dashboard"
	"github.com/hitoshi/organizer/internal/database"
	"github.com/hitoshi/organizer/internal/events"
	"github.com/hitoshi/organizer/internal/handler"
	"github.com/hitoshi/organizer/internal/i18n"
	"github.com/hitoshi/organizer/internal/logger"
	"github.com/hitoshi/organizer/internal/metrics"
	"github.com/hitoshi/organizer/internal/middleware"
	"github.com/hitoshi/organizer/internal/profile"
	"github.com/hitoshi/organizer/internal/repository"
	"github.com/hitoshi/organizer/internal/security"
	"github.com/hitoshi/organizer/internal/worker/cleanup"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 24 * time.Hour
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに応じたJSON構造化ログをセットアップする。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := NewRootCommand(w)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	pool.MaxIdleConns = cfg.DBMaxIdleConns

	db, err := database.Open(cfg.DatabaseURL, pool)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newMetricsRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続と変更通知
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database connection established")

	feed, err := database.NewChangeFeed(cfg.DatabaseURL, database.EventChangesChannel, log)
	if err != nil {
		return fmt.Errorf("failed to start change feed: %w", err)
	}
	defer feed.Close()

	// 2. メトリクス
	reg, collector := newMetricsRegistry()

	// 3. リポジトリ
	accountRepo := repository.NewPostgresAccountRepo(db)
	sessionRepo := repository.NewPostgresProviderSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)

	// 4. IdP
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	backend := auth.NewBackend(oauthProvider, accountRepo, sessionRepo, auth.BcryptHasher{}, auth.BackendConfig{
		SessionMaxAge: time.Duration(cfg.SessionMaxAge) * time.Second,
		Token: auth.TokenConfig{
			SigningKey: []byte(cfg.SessionSecret),
			Issuer:     cfg.Backend.AuthDomain,
			Audience:   cfg.Backend.ProjectID,
			AppID:      cfg.Backend.AppID,
			TTL:        cfg.IDTokenTTL,
		},
	}, log)

	// 5. ドメインサービス
	bootstrapper := profile.NewBootstrapper(profileRepo, collector, log)
	eventsRepo := events.NewRepository(eventRepo, feed, security.NewMarkupDetector(), collector, cfg.Location, log)

	registry := dashboard.NewRegistry(dashboard.Config{
		IdleTTL:         cfg.ClientIdleTTL,
		CleanupInterval: time.Minute,
		SuccessDisplay:  cfg.SuccessDisplay,
	}, func(clientID string) dashboard.AuthClient {
		return backend.NewClient(clientID)
	}, bootstrapper, eventsRepo, collector, log)
	defer registry.Close()

	// 6. ルーター
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSignIn, cfg.RateLimitAddress))
	limiter.SetRecorder(collector)
	defer limiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Config:          cfg,
		Logger:          log,
		RateLimiter:     limiter,
		RequestObserver: collector,
		Messages:        i18n.NewTranslator(cfg.DefaultLocale, log),
		Clients:         registry,
		OAuth:           backend,
		TokenVerifier:   backend,
		SignInRecorder:  collector,
		Profiles:        bootstrapper,
		HealthChecker:   db,
		MetricsHandler:  metrics.Handler(reg),
	})

	// 7. HTTPサーバー
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れプロバイダセッションのクリーンアップを日次で実行し、metricsAddrが指定されていれば/metricsを公開する。
func runWorker(ctx context.Context, cfg *config.Config, metricsAddr string) error {
	log := slog.Default()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database connection established (worker)")

	reg, collector := newMetricsRegistry()

	if metricsAddr != "" {
		server := &http.Server{
			Addr:              metricsAddr,
			Handler:           metrics.SetupMetricsRoute(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("worker metrics server failed", slog.String("error", err.Error()))
			}
		}()
		defer server.Close()
	}

	job := cleanup.NewCleanupJob(db, log, collector)
	job.RetentionDays = cfg.SessionRetentionDays

	log.Info("worker starting", slog.Duration("cleanup_interval", cleanupInterval))
	job.Start(ctx, cleanupInterval)

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, direction string) error {
	log := slog.Default().With(slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)))

	switch direction {
	case "up":
		log.Info("running database migrations")
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Info("database migrations completed successfully")
	case "down":
		log.Info("rolling back the latest migration")
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		log.Info("rollback completed successfully")
	case "version":
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		log.Info("migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(ctx context.Context, port string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%s/health", port), nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードとクエリを伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
