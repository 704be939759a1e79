package di

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/wire"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lmittmann/tint"

	"github.com/telegrid/backend/internal/cache"
	"github.com/telegrid/backend/internal/config"
	"github.com/telegrid/backend/internal/domain"
	"github.com/telegrid/backend/internal/handler"
	"github.com/telegrid/backend/internal/middleware"
	"github.com/telegrid/backend/internal/repository"
	"github.com/telegrid/backend/internal/security"
	"github.com/telegrid/backend/internal/server"
	"github.com/telegrid/backend/internal/service"
	"github.com/telegrid/backend/internal/token"
)

const Version = "0.1.0"

var ConfigSet = wire.NewSet(
	config.Load,
)

var LoggerSet = wire.NewSet(
	ProvideLogger,
)

var InfraSet = wire.NewSet(
	ProvideDatabase,
	ProvideCache,
)

var RepositorySet = wire.NewSet(
	repository.NewPostgresUserRepository,
	wire.Bind(new(domain.UserRepository), new(*repository.PostgresUserRepository)),
	repository.NewPostgresAPIKeyRepository,
	wire.Bind(new(domain.APIKeyRepository), new(*repository.PostgresAPIKeyRepository)),
	repository.NewPostgresSecurityEventRepository,
	wire.Bind(new(domain.SecurityEventRepository), new(*repository.PostgresSecurityEventRepository)),
	ProvideSessionRepository,
)

var SecuritySet = wire.NewSet(
	security.NewEventStore,
	ProvideAuditService,
	ProvideCsrfService,
	ProvideTokenIssuer,
)

var ServiceSet = wire.NewSet(
	ProvideSessionManager,
	service.NewAPIKeyService,
)

var GatewaySet = wire.NewSet(
	ProvideAuthGateway,
)

var HandlerSet = wire.NewSet(
	ProvideHealthHandler,
	ProvideAuthHandler,
)

var ServerSet = wire.NewSet(
	ProvideServerConfig,
	server.New,
)

var AppSet = wire.NewSet(
	ConfigSet,
	LoggerSet,
	InfraSet,
	RepositorySet,
	SecuritySet,
	ServiceSet,
	GatewaySet,
	HandlerSet,
	ServerSet,
	wire.Struct(new(Application), "*"),
)

func ProvideLogger(cfg *config.Config) *slog.Logger {
	var logLevel slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	if cfg.Server.Env == "development" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: logLevel}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func ProvideDatabase(cfg *config.Config) (*sql.DB, func(), error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanup := func() {
		db.Close()
	}

	return db, cleanup, nil
}

func ProvideCache(cfg *config.Config) (cache.Cache, func(), error) {
	redisCache, cleanup, err := cache.NewRedis(cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return redisCache, cleanup, nil
}

func ProvideSessionRepository(db *sql.DB, c cache.Cache, logger *slog.Logger) domain.SessionRepository {
	durable := repository.NewPostgresSessionRepository(db)
	return repository.NewCachedSessionRepository(durable, c, logger)
}

func ProvideTokenIssuer(cfg *config.Config) *token.Issuer {
	return token.NewIssuer(
		cfg.Auth.JWTSecret,
		cfg.Auth.JWTRefreshSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
}

func ProvideAuditService(repo domain.SecurityEventRepository, store *security.EventStore, c cache.Cache, logger *slog.Logger) *security.AuditService {
	return security.NewAuditService(repo, store, c, logger)
}

func ProvideCsrfService(cfg *config.Config, c cache.Cache) *security.CsrfService {
	return security.NewCsrfService(cfg.Auth.CsrfSecret, c)
}

func ProvideSessionManager(
	cfg *config.Config,
	sessions domain.SessionRepository,
	users domain.UserRepository,
	issuer *token.Issuer,
	audit *security.AuditService,
	csrf *security.CsrfService,
	logger *slog.Logger,
) *service.SessionManager {
	return service.NewSessionManager(service.SessionManagerConfig{
		Sessions:      sessions,
		Users:         users,
		Issuer:        issuer,
		Audit:         audit,
		Csrf:          csrf,
		Logger:        logger,
		MaxSessions:   cfg.Auth.MaxSessions,
		IPEnforcement: service.IPEnforcementMode(cfg.Auth.IPEnforcement),
	})
}

func ProvideAuthGateway(
	sessions *service.SessionManager,
	apiKeys *service.APIKeyService,
	csrf *security.CsrfService,
	logger *slog.Logger,
) *middleware.AuthGateway {
	return middleware.NewAuthGateway(middleware.AuthGatewayConfig{
		Sessions: sessions,
		APIKeys:  apiKeys,
		Csrf:     csrf,
		Logger:   logger,
	})
}

func ProvideHealthHandler() *handler.HealthHandler {
	return handler.NewHealthHandler(Version)
}

func ProvideAuthHandler(
	sessions *service.SessionManager,
	users domain.UserRepository,
	audit *security.AuditService,
	csrf *security.CsrfService,
	logger *slog.Logger,
) *handler.AuthHandler {
	return handler.NewAuthHandler(handler.AuthHandlerConfig{
		Sessions: sessions,
		Users:    users,
		Audit:    audit,
		Csrf:     csrf,
		Logger:   logger,
	})
}

func ProvideServerConfig(cfg *config.Config) server.Config {
	return server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		CorsOrigins:    cfg.Server.CorsOrigins,
		BodyLimit:      cfg.Server.BodyLimit,
		AuthRateMax:    cfg.Auth.RateLimitMax,
		AuthRateWindow: cfg.Auth.RateLimitWindow,
	}
}

type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *sql.DB
	Cache         cache.Cache
	Server        *server.Server
	Sessions      *service.SessionManager
	Gateway       *middleware.AuthGateway
	HealthHandler *handler.HealthHandler
	AuthHandler   *handler.AuthHandler
}
