package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sweepInterval is how often the background sweep checks for idle sessions.
const sweepInterval = 60 * time.Second

// Registry tracks live sessions and expires the ones idle past the TTL.
type Registry struct {
	ttl           time.Duration
	maxTurns      int
	toolCacheSize int
	logger        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates a session registry. ttl <= 0 selects DefaultTTL.
func NewRegistry(ttl time.Duration, maxTurns, toolCacheSize int, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ttl:           ttl,
		maxTurns:      maxTurns,
		toolCacheSize: toolCacheSize,
		logger:        logger,
		sessions:      make(map[string]*Session),
	}
}

// GetOrCreate returns the session with the given id, refreshing its
// activity timestamp, or creates one. An empty id gets a generated
// token that is checked against live sessions to avoid collisions.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if s, ok := r.sessions[id]; ok {
			s.Touch()
			return s
		}
	} else {
		id = r.newIDLocked()
	}

	s := New(id, r.maxTurns, r.toolCacheSize)
	r.sessions[id] = s
	r.logger.Debug("session created", "session_id", id)
	return s
}

// newIDLocked generates a short session token not currently in use.
// Caller holds r.mu.
func (r *Registry) newIDLocked() string {
	for {
		id := uuid.NewString()[:8]
		if _, taken := r.sessions[id]; !taken {
			return id
		}
	}
}

// Get returns the session with the given id, if it exists and has not expired.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.ExpiredAt(time.Now(), r.ttl) {
		return nil, false
	}
	return s, true
}

// Delete removes the session with the given id. Returns false if absent.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	r.logger.Debug("session deleted", "session_id", id)
	return true
}

// List returns metadata for all non-expired sessions. Expiry is
// computed here, not left to the sweep, so a session idle past the TTL
// never shows up even between sweep ticks.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.ExpiredAt(now, r.ttl) {
			continue
		}
		out = append(out, s.Info())
	}
	return out
}

// Clear removes all sessions and returns how many were removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.sessions)
	r.sessions = make(map[string]*Session)
	return n
}

// Len returns the current session count, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Start launches the background sweep. Calling Start twice without an
// intervening Stop is a no-op.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.sweepLoop(ctx, r.done)
}

// Stop cancels the background sweep and waits until it has fully
// stopped. No sweep runs after Stop returns.
func (r *Registry) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Registry) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep removes sessions idle past the TTL.
func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, s := range r.sessions {
		if s.ExpiredAt(now, r.ttl) {
			delete(r.sessions, id)
			r.logger.Info("session expired", "session_id", id, "idle", now.Sub(s.LastActivity()).Round(time.Second))
		}
	}
}
