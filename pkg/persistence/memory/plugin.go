package memory

import (
	"context"
	"sync"
	"time"

	"github.com/osvaldoandrade/nftbatch/pkg/domain"
	"github.com/osvaldoandrade/nftbatch/pkg/persistence"
)

// Plugin implements PluginPersistence for in-memory storage.
// Sessions are lost on restart and are not shared across replicas.
type Plugin struct {
	mu        sync.RWMutex
	sessions  map[string]entry
	now       func() time.Time
	lastSweep time.Time
}

// sweepInterval bounds how often writes scan the map for expired sessions.
const sweepInterval = time.Minute

type entry struct {
	view      domain.View
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	return newPlugin(time.Now), nil
}

func newPlugin(now func() time.Time) *Plugin {
	return &Plugin{
		sessions:  make(map[string]entry),
		now:       now,
		lastSweep: now(),
	}
}

// Sessions returns the session storage implementation
func (p *Plugin) Sessions() persistence.SessionStorage {
	return &sessionStorage{plugin: p}
}

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error {
	return nil
}

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

type sessionStorage struct {
	plugin *Plugin
}

func (s *sessionStorage) Load(ctx context.Context, sessionID string) (*domain.View, error) {
	p := s.plugin
	p.mu.RLock()
	e, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return nil, persistence.ErrNotFound
	}
	if e.expired(p.now()) {
		p.mu.Lock()
		// Re-check under the write lock; a concurrent Save may have refreshed it.
		if cur, ok := p.sessions[sessionID]; ok && cur.expired(p.now()) {
			delete(p.sessions, sessionID)
		}
		p.mu.Unlock()
		return nil, persistence.ErrNotFound
	}
	v := e.view
	return &v, nil
}

func (s *sessionStorage) Save(ctx context.Context, sessionID string, view domain.View, ttl time.Duration) error {
	p := s.plugin
	e := entry{view: view}
	if ttl > 0 {
		e.expiresAt = p.now().Add(ttl)
	}
	p.mu.Lock()
	p.sessions[sessionID] = e
	p.maybeSweepLocked(p.now())
	p.mu.Unlock()
	return nil
}

func (s *sessionStorage) Update(ctx context.Context, sessionID string, ttl time.Duration, fn persistence.UpdateFunc) (domain.View, error) {
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var current domain.View
	if e, ok := p.sessions[sessionID]; ok && !e.expired(now) {
		current = e.view
	}
	next, write := fn(current)
	if !write {
		return current, nil
	}
	e := entry{view: next}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	p.sessions[sessionID] = e
	p.maybeSweepLocked(now)
	return next, nil
}

func (s *sessionStorage) Delete(ctx context.Context, sessionID string) error {
	p := s.plugin
	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.mu.Unlock()
	return nil
}

// Count sweeps expired entries and returns what is left.
func (s *sessionStorage) Count(ctx context.Context) (int64, error) {
	p := s.plugin
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked(now)
	return int64(len(p.sessions)), nil
}

// maybeSweepLocked drops expired sessions at most once per sweepInterval so
// ids that are never read again do not pile up. Callers hold p.mu.
func (p *Plugin) maybeSweepLocked(now time.Time) {
	if now.Sub(p.lastSweep) < sweepInterval {
		return
	}
	p.sweepLocked(now)
}

func (p *Plugin) sweepLocked(now time.Time) {
	for id, e := range p.sessions {
		if e.expired(now) {
			delete(p.sessions, id)
		}
	}
	p.lastSweep = now
}
