package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"employee-records/internal/audit"
	"employee-records/internal/auth"
	"employee-records/internal/cache"
	"employee-records/internal/config"
	"employee-records/internal/db"
	"employee-records/internal/maintenance"
	"employee-records/internal/observability"
	"employee-records/internal/user"
)

type Options struct {
	LoadDotEnv bool
}

type Runtime struct {
	Config  config.Config
	Handler http.Handler
	Logger  *observability.Logger
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(config.Options{LoadDotEnv: options.LoadDotEnv})
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger()

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	database.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Database.RunMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	var redisClient *redis.Client
	var revocations auth.RevocationStore
	sweepers := map[string]maintenance.Sweeper{}
	if cfg.RedisURL != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		revocations = cache.NewRedisRevocationStore(redisClient)
	} else {
		memory := auth.NewMemoryRevocationStore()
		revocations = memory
		sweepers["revoked_tokens"] = memory
	}

	closeAll := func() error {
		observability.FlushSentry()
		var errs []error
		if redisClient != nil {
			errs = append(errs, redisClient.Close())
		}
		errs = append(errs, database.Close())
		return errors.Join(errs...)
	}

	tokens, err := auth.NewTokenService(cfg.Security, revocations)
	if err != nil {
		_ = closeAll()
		return nil, err
	}

	users := user.NewRepository(database)
	auditLogs := audit.NewRepository(database)
	hasher := auth.NewBcryptHasher(cfg.Security.BcryptCost)

	guard, err := auth.NewGuard(users, hasher, tokens)
	if err != nil {
		_ = closeAll()
		return nil, err
	}

	if err := ensureAdmin(ctx, cfg.Admin, users, hasher, logger); err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	identityLimiter := auth.NewLoginRateLimiter(cfg.Security.LoginMaxAttempts, cfg.Security.LoginWindow)
	ipLimiter := auth.NewLoginRateLimiter(cfg.Security.IPRateLimitMax, cfg.Security.IPRateLimitWindow).
		WithTrustedProxyHeaders(cfg.Security.TrustProxyHeaders)
	sweepers["login_identity"] = identityLimiter
	sweepers["login_ip"] = ipLimiter

	authHandler := auth.NewHandler(guard, identityLimiter, auditLogs, logger, cfg.Security.CookieSecure)
	userHandler := user.NewHandler(users, guard.Hasher(), auditLogs)
	auditHandler := audit.NewHandler(auditLogs)
	cleanupHandler := maintenance.NewCleanupHandler(
		auditLogs,
		sweepers,
		logger,
		cfg.Maintenance.CronSecret,
		cfg.Maintenance.AuditRetention,
		cfg.Maintenance.BatchSize,
	)

	mux := http.NewServeMux()
	registerRoutes(mux, routes{
		guard:   guard,
		ip:      ipLimiter,
		auth:    authHandler,
		users:   userHandler,
		audit:   auditHandler,
		cleanup: cleanupHandler,
		health:  healthHandler(database, redisClient),
	})

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Logger:  logger,
		Close:   closeAll,
	}, nil
}

type routes struct {
	guard   *auth.Guard
	ip      *auth.LoginRateLimiter
	auth    *auth.Handler
	users   *user.Handler
	audit   *audit.Handler
	cleanup *maintenance.CleanupHandler
	health  http.HandlerFunc
}

func registerRoutes(mux *http.ServeMux, r routes) {
	authed := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(r.guard, h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(r.guard, auth.RequireRoles(auth.RoleAdmin)(h))
	}

	mux.Handle("POST /auth/login", r.ip.Middleware(http.HandlerFunc(r.auth.Login)))
	mux.HandleFunc("POST /auth/logout", r.auth.Logout)
	mux.Handle("POST /auth/register", r.ip.Middleware(http.HandlerFunc(r.auth.Register)))
	mux.Handle("GET /auth/session", auth.OptionalMiddleware(r.guard, http.HandlerFunc(r.auth.Session)))

	mux.Handle("GET /profile", authed(r.auth.Profile))
	mux.Handle("PUT /profile", authed(r.auth.UpdateProfile))
	mux.Handle("POST /profile/password", authed(r.auth.ChangePassword))

	mux.Handle("GET /users", admin(r.users.ListUsers))
	mux.Handle("GET /users/{id}", admin(r.users.GetUser))
	mux.Handle("POST /users", admin(r.users.CreateUser))
	mux.Handle("PUT /users/{id}", admin(r.users.UpdateUser))
	mux.Handle("PUT /users/{id}/active", admin(r.users.SetActive))
	mux.Handle("POST /users/{id}/password", admin(r.users.ResetPassword))
	mux.Handle("DELETE /users/{id}", admin(r.users.DeleteUser))

	mux.Handle("GET /audit-logs", admin(r.audit.List))

	mux.HandleFunc("GET /internal/maintenance/cleanup", r.cleanup.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", r.cleanup.Handle)
	mux.HandleFunc("GET /health", r.health)
	mux.Handle("GET /metrics", observability.MetricsHandler())
}

type adminCreator interface {
	EnsureAdmin(ctx context.Context, input auth.NewCredential) (bool, error)
}

func ensureAdmin(ctx context.Context, cfg config.AdminConfig, users adminCreator, hasher auth.PasswordHasher, logger *observability.Logger) error {
	if cfg.Username == "" {
		return nil
	}
	if !auth.IsStrongPassword(cfg.Password) {
		return fmt.Errorf("ADMIN_PASSWORD is not strong enough")
	}

	email := cfg.Email
	if email == "" {
		email = cfg.Username + "@localhost.localdomain"
	}
	if !auth.IsValidEmail(email) {
		return fmt.Errorf("ADMIN_EMAIL is invalid")
	}

	hash, err := hasher.Hash(cfg.Password)
	if err != nil {
		return err
	}

	created, err := users.EnsureAdmin(ctx, auth.NewCredential{
		Username:     cfg.Username,
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
	})
	if err != nil {
		return err
	}
	if created {
		logger.Info("admin_bootstrapped", map[string]any{"username": cfg.Username})
	}
	return nil
}

func healthHandler(database *sql.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
