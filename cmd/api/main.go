package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/diagnosis/userhub/internal/http/handlers"
	"github.com/diagnosis/userhub/internal/http/middleware"
	"github.com/diagnosis/userhub/internal/otp"
	"github.com/diagnosis/userhub/internal/platform/auth"
	"github.com/diagnosis/userhub/internal/platform/mailer"
	"github.com/diagnosis/userhub/internal/platform/sms"
	"github.com/diagnosis/userhub/internal/repo/postgres"
	"github.com/diagnosis/userhub/internal/repo/redisstore"
	"github.com/diagnosis/userhub/internal/service"
	"github.com/diagnosis/userhub/pkg/cache"
	"github.com/diagnosis/userhub/pkg/config"
	"github.com/diagnosis/userhub/pkg/database"
	"github.com/diagnosis/userhub/pkg/events"
	"github.com/diagnosis/userhub/pkg/logger"
	mw "github.com/diagnosis/userhub/pkg/middleware"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	// Connect to redis
	rdb, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	kv := redisstore.NewKV(rdb, cfg.Redis.KeyPrefix)

	// Connect to event bus
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		bus, err := events.NewNATSEventBus(cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
		if err := events.AuditLogger(bus); err != nil {
			logger.Warn("Audit subscriber not started", "error", err)
		}
		publisher = bus
	} else {
		logger.Info("NATS_URL not set, identity events are not published")
	}

	// Delivery channels
	mail := mailer.New(cfg.Email)
	sender, err := sms.New(cfg.SMS)
	if err != nil {
		logger.Error("Failed to configure SMS sender", "error", err)
		os.Exit(1)
	}

	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		logger.Warn("JWT_SECRET is the development default; set it before deploying")
	}
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// Initialize repositories and services
	identities := postgres.NewIdentityRepository(pool)
	accounts := service.NewAccountService(
		identities,
		otp.NewPhoneIssuer(identities, sender, cfg.Auth.OTPTTL),
		otp.NewEmailVerifier(kv, mail, cfg.Auth.OTPTTL),
		auth.NewPasswordHasher(nil),
		tokens,
		publisher,
	)

	if err := accounts.EnsureAdmin(ctx, cfg.Auth.AdminBootstrapEmail, cfg.Auth.AdminBootstrapPassword); err != nil {
		logger.Error("Failed to seed admin", "error", err)
		os.Exit(1)
	}

	otpLimiter := middleware.NewRateLimiter(kv, middleware.RateLimitConfig{
		Name:              "otp",
		Requests:          cfg.Auth.OTPRateLimit,
		Window:            cfg.Auth.OTPRateWindow,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})
	otpVerifyLimiter := middleware.NewRateLimiter(kv, middleware.RateLimitConfig{
		Name:              "otp-verify",
		Requests:          cfg.Auth.OTPVerifyRateLimit,
		Window:            cfg.Auth.OTPRateWindow,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})

	router := handlers.NewRouter(handlers.RouterConfig{
		Accounts:         accounts,
		Tokens:           tokens,
		OTPLimiter:       otpLimiter.Middleware(),
		OTPVerifyLimiter: otpVerifyLimiter.Middleware(),
		ServiceName:      cfg.Server.ServiceName,
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		HealthChecks: map[string]mw.HealthCheck{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down userhub...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	logger.Info("Starting userhub", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	<-done
}
