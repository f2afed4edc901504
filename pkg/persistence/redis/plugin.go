package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/osvaldoandrade/nftbatch/internal/repository"
	"github.com/osvaldoandrade/nftbatch/pkg/domain"
	"github.com/osvaldoandrade/nftbatch/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis-specific configuration
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// Plugin implements PluginPersistence for Redis/KVRocks
type Plugin struct {
	client      *redis.Client
	sessionRepo repository.SessionRepository
}

// NewPlugin creates a new Redis persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if len(config.Config) > 0 {
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Addr == "" {
		return nil, errors.New("redis persistence: addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewPluginWithClient(client), nil
}

// NewPluginWithClient wraps an existing client, sharing it with the rate
// limiter and metrics collector.
func NewPluginWithClient(client *redis.Client) *Plugin {
	return &Plugin{
		client:      client,
		sessionRepo: repository.NewSessionRepository(client),
	}
}

// Client exposes the underlying connection.
func (p *Plugin) Client() *redis.Client { return p.client }

// Sessions returns the session storage implementation
func (p *Plugin) Sessions() persistence.SessionStorage {
	return &sessionStorageAdapter{repo: p.sessionRepo}
}

// Health checks if Redis is healthy
func (p *Plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases Redis connection
func (p *Plugin) Close() error {
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}

// sessionStorageAdapter adapts repository.SessionRepository to persistence.SessionStorage
type sessionStorageAdapter struct {
	repo repository.SessionRepository
}

func (a *sessionStorageAdapter) Load(ctx context.Context, sessionID string) (*domain.View, error) {
	v, err := a.repo.Get(ctx, sessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, persistence.ErrNotFound
	}
	return v, err
}

func (a *sessionStorageAdapter) Save(ctx context.Context, sessionID string, view domain.View, ttl time.Duration) error {
	return a.repo.Put(ctx, sessionID, view, ttl)
}

func (a *sessionStorageAdapter) Update(ctx context.Context, sessionID string, ttl time.Duration, fn persistence.UpdateFunc) (domain.View, error) {
	return a.repo.Update(ctx, sessionID, ttl, fn)
}

func (a *sessionStorageAdapter) Delete(ctx context.Context, sessionID string) error {
	return a.repo.Delete(ctx, sessionID)
}

func (a *sessionStorageAdapter) Count(ctx context.Context) (int64, error) {
	return a.repo.Count(ctx)
}
