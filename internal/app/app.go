package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/reporelay/internal/cache"
	"github.com/hitoshi/reporelay/internal/config"
	"github.com/hitoshi/reporelay/internal/database"
	"github.com/hitoshi/reporelay/internal/handler"
	"github.com/hitoshi/reporelay/internal/logger"
	"github.com/hitoshi/reporelay/internal/metrics"
	"github.com/hitoshi/reporelay/internal/middleware"
	"github.com/hitoshi/reporelay/internal/notify"
	"github.com/hitoshi/reporelay/internal/project"
	"github.com/hitoshi/reporelay/internal/remote"
	"github.com/hitoshi/reporelay/internal/security"
	"github.com/hitoshi/reporelay/internal/session"
	"github.com/hitoshi/reporelay/internal/storage"
	"github.com/hitoshi/reporelay/internal/subscription"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	log = logger.SetupDefault(w, cfg.LogLevel)
	return cfg, log, nil
}

// App はクライアントプロセスが保持する依存関係一式。
// セッション・エンティティキャッシュ・同期処理はプロセス内で1つだけ存在する。
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Storage       storage.Store
	healthChecker handler.HealthChecker
	closeStorage  func() error

	Remote       *remote.Client
	Notifier     *notify.Client
	Cache        *cache.Cache
	Session      *session.State
	Synchronizer *subscription.Synchronizer
	Projects     *project.Service

	Registry  *prometheus.Registry
	Collector *metrics.Collector
}

// New は設定に従ってストレージを開き、全依存関係をワイヤリングする。
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	store, checker, closer, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(registry)

	// リモートストアとキャッシュ
	remoteClient := remote.NewClient(httpClient, cfg.StoreBaseURL, log)
	remoteClient.SetRecorder(collector)
	entityCache := cache.New(remoteClient)

	// セッション（リモートクライアントはセッションからトークンを読む）
	sess := session.New(store, remoteClient, entityCache, log)
	remoteClient.SetTokenSource(sess)

	notifier := notify.NewClient(httpClient, cfg.NotifyBaseURL, log)

	synchronizer := subscription.NewSynchronizer(entityCache, sess, notifier, log, subscription.Config{
		Timeout:    cfg.SyncTimeout,
		Compensate: cfg.SyncCompensate,
	})
	synchronizer.SetRecorder(collector)

	projects := project.NewService(
		entityCache, remoteClient, sess,
		security.NewTextSanitizer(),
		security.NewImageGuard(cfg.HTTPTimeout),
		cfg.ProjectImageProbe,
		log,
	)

	return &App{
		Config:        cfg,
		Logger:        log,
		Storage:       store,
		healthChecker: checker,
		closeStorage:  closer,
		Remote:        remoteClient,
		Notifier:      notifier,
		Cache:         entityCache,
		Session:       sess,
		Synchronizer:  synchronizer,
		Projects:      projects,
		Registry:      registry,
		Collector:     collector,
	}, nil
}

// Close はストレージを閉じる。
func (a *App) Close() error {
	if a.closeStorage == nil {
		return nil
	}
	return a.closeStorage()
}

// Bootstrap は保存済みトークンからセッションを復元し、現在のユーザーとプロジェクト一覧を読み込む。
// 未ログインの場合は何もしない。リモートストアの失敗はログのみで起動は継続する。
func (a *App) Bootstrap(ctx context.Context) error {
	if _, err := a.Session.Resolve(ctx, nil); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	if !a.Session.IsAuthenticated() {
		a.Logger.Info("no stored session; login required")
		return nil
	}

	if err := a.Session.RefreshCurrentUser(ctx, a.Session.Token()); err != nil {
		a.Logger.Warn("failed to load current user", slog.String("error", err.Error()))
	}
	if err := a.Cache.RefreshProjects(ctx); err != nil {
		a.Logger.Warn("failed to load projects", slog.String("error", err.Error()))
	}
	return nil
}

// Router はHTTPシェルのルーターを構築する。
func (a *App) Router(rl *middleware.RateLimiter) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Logger:            a.Logger,
		CORSAllowedOrigin: a.Config.CORSAllowedOrigin,
		CSRFConfig:        middleware.CSRFConfig{CookieSecure: a.Config.CookieSecure},
		RateLimiter:       rl,

		HealthChecker:  a.healthChecker,
		MetricsHandler: metrics.Handler(a.Registry),

		Session:  a.Session,
		LoginURL: a.Config.LoginURL,

		ProjectCache:   a.Cache,
		ProjectService: a.Projects,

		SubscriptionService: a.Synchronizer,
	})
}

// openStorage は設定されたドライバーでクライアントストレージを開く。
func openStorage(cfg *config.Config) (storage.Store, handler.HealthChecker, func() error, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return storage.NewPostgresStore(db), db, db.Close, nil

	default:
		gdb, err := database.OpenSQLite(cfg.StoragePath)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := storage.NewSQLiteStore(gdb)
		if err != nil {
			return nil, nil, nil, err
		}
		var sqlDB *sql.DB
		if sqlDB, err = gdb.DB(); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to get sql db: %w", err)
		}
		return store, sqlDB, sqlDB.Close, nil
	}
}

// runServe はHTTPシェルを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(a *App) error {
	if err := a.Bootstrap(context.Background()); err != nil {
		return err
	}

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(a.Config.RateLimitGeneral), a.Logger)
	defer rl.Stop()

	server := &http.Server{
		Addr:         ":" + a.Config.ServerPort,
		Handler:      a.Router(rl),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: a.Config.SyncTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("shell server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	a.Logger.Info("shutting down shell server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.Logger.Info("shell server stopped gracefully")
	return nil
}

// runMigrate はクライアントストレージのマイグレーションを実行する。
// SQLiteのテーブルはストレージを開く際に自動作成されるため、対象はPostgreSQLのみ。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if cfg.StorageDriver != config.StorageDriverPostgres {
		log.Info("sqlite storage is migrated on open; nothing to do",
			slog.String("storage_path", cfg.StoragePath),
		)
		return nil
	}

	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
