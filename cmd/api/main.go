package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coopqueue/guard/internal/auth"
	"github.com/coopqueue/guard/internal/background"
	"github.com/coopqueue/guard/internal/config"
	"github.com/coopqueue/guard/internal/database"
	"github.com/coopqueue/guard/internal/handlers"
	middlewareCustom "github.com/coopqueue/guard/internal/middleware"
	"github.com/coopqueue/guard/internal/repositories"
	"github.com/coopqueue/guard/internal/routes"
	"github.com/coopqueue/guard/internal/services"
	pkghttp "github.com/coopqueue/guard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Run database migrations
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := database.Migrate(migrateCtx, cfg.Database.DSN()); err != nil {
		migrateCancel()
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	migrateCancel()

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	attemptRepo := repositories.NewAttemptRepository(db)
	blacklistRepo := repositories.NewBlacklistRepository(db)
	captchaRepo := repositories.NewCaptchaRepository(db)
	securityLogRepo := repositories.NewSecurityLogRepository(db)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(
		attemptRepo,
		captchaRepo,
		blacklistRepo,
		securityLogRepo,
		logger,
		cfg.Guard.CleanupInterval,
		cfg.Guard.AttemptWindow,
		cfg.Guard.LogRetentionDays,
	)

	// Initialize token manager for operator endpoints
	tokenManager := auth.NewTokenManager(cfg.Admin.JWTSecret, cfg.Admin.TokenExpiry)

	// Initialize services
	securityLogService := services.NewSecurityLogService(
		securityLogRepo,
		logger,
		cfg.Guard.EnableSecurityLogging,
		cfg.Guard.LogSeverityLevel,
	)

	var captchaService *services.CaptchaService
	if cfg.Captcha.Enabled {
		captchaService = services.NewCaptchaService(captchaRepo, cfg.Captcha, securityLogService, logger)
	}

	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.Guard.EnableNotifications {
		sesNotifier, err := services.NewSESNotifier(
			cfg.Notify.AWSRegion,
			cfg.Notify.FromAddress,
			cfg.Notify.OperatorAddresses,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	policy := services.NewLockoutPolicy(cfg.Guard)
	guardService := services.NewGuardService(
		db,
		services.NewAttemptLedger(attemptRepo),
		blacklistRepo,
		captchaService,
		policy,
		securityLogService,
		notifier,
		cfg.Guard,
		logger,
	)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	guardHandler := handlers.NewGuardHandler(guardService, ipConfig)
	adminHandler := handlers.NewAdminHandler(guardService, securityLogService)

	// Setup router
	// No chi RealIP here: the client IP keys the attempt ledger, the
	// blacklist, and the rate limiter, so only ExtractClientIP (which
	// checks the trusted-proxy list) is allowed to interpret
	// forwarding headers.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, guardHandler, adminHandler, tokenManager, ipConfig)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
