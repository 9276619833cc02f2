package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/pipsignal/backend/internal/api"
	"github.com/pipsignal/backend/internal/auth"
	"github.com/pipsignal/backend/internal/config"
	"github.com/pipsignal/backend/internal/domain"
	"github.com/pipsignal/backend/internal/middleware"
	"github.com/pipsignal/backend/internal/push"
	"github.com/pipsignal/backend/internal/realtime"
	"github.com/pipsignal/backend/internal/repository"
)

var version = "dev"

// store is what the server needs from either storage backend.
type store interface {
	domain.NotificationRepository
	domain.PreferenceRepository
	domain.PushTokenRepository
	api.Pinger
}

type changeSource interface {
	Listen(ctx context.Context, handle func(domain.ChangeEvent))
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting PipSignal notification API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("push_provider", cfg.Push.Provider),
	)

	ctx := context.Background()

	// Storage and change feed
	var (
		repo    store
		changes changeSource
	)
	if cfg.Database.URL == "" || cfg.Database.URL == "memory" {
		mem := repository.NewMemoryRepository()
		repo, changes = mem, mem
		logger.Warn("Using in-memory storage - data is lost on restart")
	} else {
		db, err := initDatabase(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("Connected to database")

		if err := repository.Migrate(ctx, db); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		repo = repository.NewPostgresRepository(db)
		changes = repository.NewChangeListener(db, logger)
	}

	// Push gateway
	gateway, err := initGateway(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize push gateway", zap.Error(err))
	}

	// Initialize services
	notificationService := domain.NewNotificationService(repo)
	preferenceService := domain.NewPreferenceService(repo)
	tokenService := domain.NewTokenService(repo)
	pushService := domain.NewPushService(repo, repo, repo, gateway, logger)

	// Background workers
	workerCtx, workerCancel := context.WithCancel(ctx)

	hub := realtime.NewHub(logger)
	go hub.Run(workerCtx)

	var dispatcher *push.Dispatcher
	if cfg.Push.OnInsert {
		dispatcher = push.NewDispatcher(pushService, cfg.Push.Workers, 0, cfg.Push.Timeout, logger)
		dispatcher.Start(workerCtx)
		logger.Info("Push on insert enabled", zap.Int("workers", cfg.Push.Workers))
	}

	listenCtx, listenCancel := context.WithCancel(workerCtx)
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		changes.Listen(listenCtx, func(ev domain.ChangeEvent) {
			hub.HandleChange(ev)
			if dispatcher != nil {
				dispatcher.HandleChange(ev)
			}
		})
	}()

	repository.StartCleanupWorker(workerCtx, repo, 1*time.Hour, cfg.Push.TokenTTL, logger)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.RPS > 0 {
		limiter = middleware.NewRateLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
		limiter.StartCleanup(workerCtx, 5*time.Minute, 10*time.Minute)
	}

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, 15*time.Minute)

	// Initialize handlers
	handlers := api.Handlers{
		Notifications: api.NewNotificationHandler(notificationService, logger),
		Push:          api.NewPushHandler(pushService, cfg.Push.FunctionKey, logger),
		Preferences:   api.NewPreferenceHandler(preferenceService, logger),
		Tokens:        api.NewTokenHandler(tokenService, logger),
		Realtime:      api.NewRealtimeHandler(hub, logger),
		Health:        api.NewHealthHandler(repo, version, logger),
	}

	// Initialize router
	router := api.NewRouter(handlers, jwtManager, limiter, cfg.Service.Key, cfg.Server.AllowedOrigins, logger)
	r := router.Setup()

	// Create server. WriteTimeout stays above the push timeout so a slow gateway still gets its 502.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Push.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// Stop the change feed, drain queued fan-outs, then stop the remaining workers
	listenCancel()
	<-listenerDone
	if dispatcher != nil {
		dispatcher.Stop()
	}
	workerCancel()

	logger.Info("Server stopped")
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Log.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Log.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

func initGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.PushGateway, error) {
	switch cfg.Push.Provider {
	case "fcm":
		return push.NewFCMGateway(ctx, logger, cfg.Push.CredentialsFile)
	case "expo", "":
		var opts []push.ExpoOption
		if cfg.Push.ExpoAccessToken != "" {
			opts = append(opts, push.WithAccessToken(cfg.Push.ExpoAccessToken))
		}
		return push.NewExpoGateway(cfg.Push.ExpoURL, cfg.Push.Timeout, logger, opts...), nil
	default:
		return nil, fmt.Errorf("unknown push provider %q", cfg.Push.Provider)
	}
}

func initDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings. The change listener holds one connection for itself.
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
