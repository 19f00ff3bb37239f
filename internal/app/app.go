package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dripbot/internal/bot"
	"dripbot/internal/config"
	"dripbot/internal/manager"
	"dripbot/internal/models"
	"dripbot/internal/pagination"
	"dripbot/internal/storage"
	"dripbot/internal/storage/ch"
	"dripbot/internal/storage/filecache"
	"dripbot/internal/storage/sqlstore"
	"dripbot/internal/storage/stubs"
	"dripbot/internal/telegram"
)

// App represents the application
type App struct {
	config  *config.Config
	logger  *zap.Logger
	db      storage.Storage
	files   *filecache.Cache
	manager *manager.Manager
	server  *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return nil, err
	}

	app := &App{config: cfg, logger: logger}

	logger.Info("Starting drip bot")

	if err := app.initDatabase(context.Background()); err != nil {
		return nil, err
	}

	if err := app.initManager(); err != nil {
		return nil, err
	}

	app.initHTTPServer()

	return app, nil
}

// initDatabase opens the relational store, applies migrations and
// attaches the optional ClickHouse impression mirror
func (a *App) initDatabase(ctx context.Context) error {
	var db storage.Storage
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	} else {
		if err := os.MkdirAll(filepath.Dir(a.config.DBPath), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		a.logger.Info("Opening SQLite database", zap.String("path", a.config.DBPath))
		store, err := sqlstore.New(a.config.DBPath)
		if err != nil {
			return err
		}
		db = store
	}

	// Initialize database schema
	if err := db.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	if a.config.MirrorEnabled() {
		a.logger.Info("Connecting to ClickHouse impression mirror",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.Bool("tls", a.config.ClickHouseUseTLS),
		)
		sink, err := ch.NewImpressionStore(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			db.Close()
			return err
		}
		if err := sink.Initialize(ctx); err != nil {
			sink.Close()
			db.Close()
			return err
		}
		db = storage.WithImpressionMirror(db, sink, a.logger)
	}

	a.db = db
	return nil
}

// initManager wires the per-bot factory and the bot supervisor
func (a *App) initManager() error {
	files, err := filecache.New(a.db, a.config.FileIDCacheTTL, a.logger)
	if err != nil {
		return err
	}
	a.files = files

	deps := bot.Deps{
		Store:     a.db,
		Files:     files,
		Guard:     pagination.NewGuard(),
		UploadDir: a.config.UploadDir,
		Transport: telegram.Options{
			RatePerSecond:    a.config.SendRatePerSecond,
			Burst:            a.config.SendBurst,
			FailureThreshold: a.config.BreakerFailures,
			OpenTimeout:      a.config.BreakerTimeout,
		},
	}

	factory := func(record models.Bot) (manager.Runner, error) {
		b, err := bot.NewBot(record, deps, a.logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	opts := manager.DefaultOptions()
	opts.ReloadInterval = a.config.ReloadInterval
	opts.SignalFile = a.config.ReloadSignal
	if a.config.WebhookMode {
		opts.WebhookBaseURL = a.config.WebhookURL
	}

	a.manager = manager.New(a.db, factory, opts, a.logger.Named("manager"))
	return nil
}

// routes builds the HTTP handler for health checks, metrics and webhooks
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})

	// Root endpoint
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		mode := "polling"
		if a.config.WebhookMode {
			mode = "webhook"
		}
		fmt.Fprintf(w, "Drip bot is running (mode: %s, bots: %d)", mode, len(a.manager.Running()))
	})

	mux.Handle("/metrics", promhttp.Handler())

	// Webhook endpoint (only used in webhook mode)
	if a.config.WebhookMode {
		bot.NewHTTPServer(a.manager, a.logger.Named("webhook")).RegisterRoutes(mux)
	}

	return mux
}

// initHTTPServer initializes the HTTP server for health checks, metrics and webhooks
func (a *App) initHTTPServer() {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Port),
		Handler:      a.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server in background
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
			stop()
		}
	}()

	mode := "polling"
	if a.config.WebhookMode {
		mode = "webhook"
	}
	a.logger.Info("Starting bot manager", zap.String("mode", mode))

	managerErr := make(chan error, 1)
	go func() { managerErr <- a.manager.Serve(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down...")
		runErr = <-managerErr
	case runErr = <-managerErr:
		a.logger.Error("Bot manager stopped unexpectedly", zap.Error(runErr))
	}

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	defer a.logger.Sync()

	// Shutdown HTTP server gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if a.files != nil {
		if err := a.files.Close(); err != nil {
			a.logger.Warn("Error closing file id cache", zap.Error(err))
		}
	}

	// Close database
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	return nil
}
