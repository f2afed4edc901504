package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/osvaldoandrade/nftbatch/internal/metrics"
	"github.com/osvaldoandrade/nftbatch/internal/middleware"
	"github.com/osvaldoandrade/nftbatch/internal/providers"
	"github.com/osvaldoandrade/nftbatch/internal/ratelimit"
	"github.com/osvaldoandrade/nftbatch/internal/repository"
	"github.com/osvaldoandrade/nftbatch/internal/services"
	"github.com/osvaldoandrade/nftbatch/internal/tracing"
	"github.com/osvaldoandrade/nftbatch/internal/web"
	"github.com/osvaldoandrade/nftbatch/pkg/config"
	"github.com/osvaldoandrade/nftbatch/pkg/persistence"
	_ "github.com/osvaldoandrade/nftbatch/pkg/persistence/memory" // Register in-process session store
	redisstore "github.com/osvaldoandrade/nftbatch/pkg/persistence/redis"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type Application struct {
	Config          *config.Config
	Engine          *gin.Engine
	Poller          services.PollerService
	Client          providers.CollectionsClient
	Persistence     persistence.PluginPersistence
	Logger          *slog.Logger
	RateLimiter     ratelimit.Limiter
	TracingShutdown func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithCollectionsClient replaces the HTTP client for the archive backend
func WithCollectionsClient(client providers.CollectionsClient) ApplicationOption {
	return func(app *Application) error {
		app.Client = client
		return nil
	}
}

// WithPersistence sets a custom session store
func WithPersistence(p persistence.PluginPersistence) ApplicationOption {
	return func(app *Application) error {
		app.Persistence = p
		return nil
	}
}

// WithLogger overrides the logger built from config
func WithLogger(logger *slog.Logger) ApplicationOption {
	return func(app *Application) error {
		app.Logger = logger
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.Logger == nil {
		app.Logger = newLogger(cfg)
		slog.SetDefault(app.Logger)
	}
	logger := app.Logger

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}
	app.TracingShutdown = shutdown

	if app.Persistence == nil {
		p, err := newPersistence(cfg)
		if err != nil {
			return nil, err
		}
		app.Persistence = p
	}

	// Rate limiting and the session gauge need Redis; the memory store runs
	// without them.
	if rp, ok := app.Persistence.(interface{ Client() *redis.Client }); ok {
		rdb := rp.Client()
		app.RateLimiter = ratelimit.NewTokenBucketLimiter(rdb, "nftbatch")
		metrics.RegisterSessionCollector(rdb, repository.SessionKeyPattern, logger)
	} else if cfg.RateLimit.Submit.Enabled() {
		logger.Warn("rate limiting requires sessionStore=redis; submissions are not limited")
	}

	if app.Client == nil {
		app.Client = providers.NewCollectionsClient(providers.CollectionsClientOptions{
			BaseURL:       cfg.ServerURL,
			Timeout:       time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
			Attempts:      cfg.RetryAttempts,
			BackoffPolicy: cfg.BackoffPolicy,
			BackoffBase:   time.Duration(cfg.BackoffBaseMillis) * time.Millisecond,
			BackoffMax:    time.Duration(cfg.BackoffMaxMillis) * time.Millisecond,
			Logger:        logger,
		})
	}

	ttl := time.Duration(cfg.SessionTTLSeconds) * time.Second
	app.Poller = services.NewPollerService(app.Client, app.Persistence.Sessions(), ttl, time.Now, logger)

	engine := gin.New()
	engine.SetHTMLTemplate(web.Templates())
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
		middleware.SessionMiddleware(cfg.SessionCookie, ttl, cfg.Env == "prod"),
	)
	app.Engine = engine

	logger.Info("application initialized",
		"serverUrl", cfg.ServerURL,
		"sessionStore", cfg.SessionStore,
		"retryAttempts", cfg.RetryAttempts,
		"tracing", cfg.Tracing.Enabled,
	)
	return app, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "nftbatch", "env", cfg.Env)
}

func newPersistence(cfg *config.Config) (persistence.PluginPersistence, error) {
	provider := persistence.ProviderConfig{Type: cfg.SessionStore}
	if cfg.SessionStore == "redis" {
		raw, err := json.Marshal(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		provider.Config = raw
	}
	p, err := persistence.NewPersistence(provider, persistence.PluginConfig{})
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	return p, nil
}

// Close releases the session store.
func (a *Application) Close() error {
	if a.Persistence == nil {
		return nil
	}
	return a.Persistence.Close()
}
