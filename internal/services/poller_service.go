package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/osvaldoandrade/nftbatch/internal/providers"
	"github.com/osvaldoandrade/nftbatch/pkg/domain"
	"github.com/osvaldoandrade/nftbatch/pkg/persistence"
)

var ErrEmptyAddress = errors.New("contract address is required")

// PollerService runs status queries on behalf of browser sessions and keeps
// each session's view in persistence.
type PollerService interface {
	// Submit queries the backend once and applies the outcome to the
	// session view. The error is reserved for storage failures; backend
	// problems are reported through the Outcome and the view's Error field.
	Submit(ctx context.Context, sessionID string, address domain.ContractAddress) (domain.View, domain.Outcome, error)
	Current(ctx context.Context, sessionID string) (domain.View, error)
	Reset(ctx context.Context, sessionID string) error
}

type pollerService struct {
	client   providers.CollectionsClient
	sessions persistence.SessionStorage
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewPollerService(client providers.CollectionsClient, sessions persistence.SessionStorage, ttl time.Duration, now func() time.Time, logger *slog.Logger) PollerService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &pollerService{
		client:   client,
		sessions: sessions,
		ttl:      ttl,
		now:      now,
		logger:   logger,
	}
}

func (s *pollerService) Submit(ctx context.Context, sessionID string, address domain.ContractAddress) (domain.View, domain.Outcome, error) {
	if address.IsEmpty() {
		return domain.View{}, domain.Outcome{}, ErrEmptyAddress
	}

	out := s.client.GetStatus(ctx, address)

	attrs := []any{"address", address.String(), "outcome", string(out.Kind), "status", out.StatusLabel()}
	if out.IsSuccess() && !out.Response.Status.IsKnown() {
		s.logger.Warn("backend sent unrecognized status; view unchanged", attrs...)
		v, err := s.Current(ctx, sessionID)
		return v, out, err
	}

	// Apply runs against the view stored when the response arrives, so
	// whichever query resolves last determines what the session sees.
	next, err := s.sessions.Update(ctx, sessionID, s.ttl, func(prev domain.View) (domain.View, bool) {
		return domain.Apply(prev, address, out, s.now()), true
	})
	if err != nil {
		return next, out, fmt.Errorf("update session view: %w", err)
	}

	if out.IsSuccess() {
		s.logger.Info("status query applied", attrs...)
	} else {
		s.logger.Warn("status query failed", append(attrs, "err", out.Err())...)
	}
	return next, out, nil
}

// Current returns the session view, or the idle view when nothing is stored.
func (s *pollerService) Current(ctx context.Context, sessionID string) (domain.View, error) {
	v, err := s.sessions.Load(ctx, sessionID)
	if errors.Is(err, persistence.ErrNotFound) {
		return domain.View{}, nil
	}
	if err != nil {
		return domain.View{}, fmt.Errorf("load session view: %w", err)
	}
	return *v, nil
}

func (s *pollerService) Reset(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("reset session view: %w", err)
	}
	return nil
}

// StatusPoller holds a single view in process memory. It backs the terminal
// front-ends where one user drives one instance.
type StatusPoller struct {
	client providers.CollectionsClient
	now    func() time.Time

	mu   sync.Mutex
	view domain.View
}

func NewStatusPoller(client providers.CollectionsClient, now func() time.Time) *StatusPoller {
	if now == nil {
		now = time.Now
	}
	return &StatusPoller{client: client, now: now}
}

// Submit blocks for one status query. Concurrent calls are allowed; the
// last one to resolve wins.
func (p *StatusPoller) Submit(ctx context.Context, address domain.ContractAddress) (domain.View, domain.Outcome) {
	out := p.client.GetStatus(ctx, address)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.view = domain.Apply(p.view, address, out, p.now())
	return p.view, out
}

func (p *StatusPoller) View() domain.View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}
