package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/osvaldoandrade/nftbatch/pkg/domain"
)

var (
	// ErrNotFound is returned when a session has no stored view
	ErrNotFound = errors.New("not found")
)

// PluginPersistence provides storage operations for persistence plugins.
// This is the main interface that all persistence backends must implement.
type PluginPersistence interface {
	// Sessions returns the session view storage implementation
	Sessions() SessionStorage

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}

// UpdateFunc derives the next view from the stored one (the zero View when
// nothing is stored). Returning false leaves storage untouched.
type UpdateFunc func(current domain.View) (next domain.View, write bool)

// SessionStorage keeps the UI view of each browser session.
type SessionStorage interface {
	// Load returns the stored view or ErrNotFound
	Load(ctx context.Context, sessionID string) (*domain.View, error)

	// Save replaces the view; ttl <= 0 keeps it until deleted
	Save(ctx context.Context, sessionID string, view domain.View, ttl time.Duration) error

	// Update runs fn and stores its result atomically with respect to other
	// writers of the same session. It returns the view left in storage.
	Update(ctx context.Context, sessionID string, ttl time.Duration, fn UpdateFunc) (domain.View, error)

	// Delete removes the view, missing ids are not an error
	Delete(ctx context.Context, sessionID string) error

	// Count returns the number of live sessions
	Count(ctx context.Context) (int64, error)
}
