package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/services/storefront/internal/domain"
	"github.com/utafrali/storefront/services/storefront/internal/identity"
)

// Handle is a session together with the identity client that drives it.
type Handle struct {
	Session  *Session
	Identity *identity.Client
}

// Registry holds the live cart sessions, keyed by session id.
type Registry struct {
	deps     Deps
	verifier *identity.Verifier
	idleTTL  time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Handle
}

// NewRegistry creates an empty registry. Sessions idle for longer than
// idleTTL are evicted by Run.
func NewRegistry(deps Deps, verifier *identity.Verifier, idleTTL time.Duration) *Registry {
	return &Registry{
		deps:     deps,
		verifier: verifier,
		idleTTL:  idleTTL,
		logger:   deps.Logger,
		sessions: make(map[string]*Handle),
	}
}

// Create starts a new anonymous session bound to its own identity client.
func (r *Registry) Create(ctx context.Context) (*Handle, error) {
	id := uuid.New().String()
	sess := NewSession(id, r.deps)
	client := identity.NewClient(r.verifier)
	if err := sess.BindIdentity(ctx, client); err != nil {
		return nil, fmt.Errorf("bind identity: %w", err)
	}

	h := &Handle{Session: sess, Identity: client}

	r.mu.Lock()
	r.sessions[id] = h
	n := len(r.sessions)
	r.mu.Unlock()
	ActiveSessions.Set(float64(n))

	r.logger.Info("session created", slog.String("session_id", id))
	return h, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	h.Session.touch()
	return h, nil
}

// Delete forgets a session. Deleting an unknown id is not an error.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	h, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		h.Session.Close()
		ActiveSessions.Set(float64(n))
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// EvictIdle removes sessions not used since before now-idleTTL. Sessions
// with an order in flight are kept.
func (r *Registry) EvictIdle(now time.Time) int {
	cutoff := now.Add(-r.idleTTL)

	r.mu.Lock()
	var evicted []*Handle
	for id, h := range r.sessions {
		if h.Session.State() == domain.StatePlacing {
			continue
		}
		if h.Session.LastSeen().Before(cutoff) {
			evicted = append(evicted, h)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, h := range evicted {
		h.Session.Close()
	}
	if len(evicted) > 0 {
		ActiveSessions.Set(float64(n))
		r.logger.Info("idle sessions evicted",
			slog.Int("evicted", len(evicted)),
			slog.Int("remaining", n),
		)
	}
	return len(evicted)
}

// Run evicts idle sessions every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.EvictIdle(now)
		}
	}
}
