package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/intake/internal/intake"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 30 * time.Minute

// Session is one intake interaction: an engine plus its three adapters.
type Session struct {
	ID       string
	Engine   *intake.Engine
	Selector *intake.Selector
	DropZone *intake.DropZone
	Importer *intake.RemoteImporter

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// EngineFactory builds the engine for a new session.
type EngineFactory func(sessionID string, c intake.Constraints) *intake.Engine

// Sessions is the registry of live sessions. Sessions idle for longer than
// the TTL are released by Sweep, unless an upload run is in progress.
type Sessions struct {
	ttl       time.Duration
	newEngine EngineFactory
	now       func() time.Time

	mu    sync.RWMutex
	items map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions(ttl time.Duration, factory EngineFactory) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if factory == nil {
		factory = func(_ string, c intake.Constraints) *intake.Engine { return intake.New(c) }
	}
	return &Sessions{
		ttl:       ttl,
		newEngine: factory,
		now:       time.Now,
		items:     make(map[string]*Session),
	}
}

// Create starts a session enforcing c.
func (r *Sessions) Create(c intake.Constraints) *Session {
	id := uuid.NewString()
	e := r.newEngine(id, c)

	sess := &Session{
		ID:       id,
		Engine:   e,
		Selector: intake.NewSelector(e),
		DropZone: intake.NewDropZone(e),
		Importer: intake.NewRemoteImporter(e),
		lastSeen: r.now(),
	}

	r.mu.Lock()
	r.items[id] = sess
	r.mu.Unlock()

	slog.Debug("session created", "session_id", id)
	return sess
}

// Get returns a live session and marks it as used.
func (r *Sessions) Get(id string) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.items[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, intake.ErrSessionNotFound)
	}
	sess.touch(r.now())
	return sess, nil
}

// Delete releases a session and its previews.
func (r *Sessions) Delete(id string) error {
	r.mu.Lock()
	sess, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s: %w", id, intake.ErrSessionNotFound)
	}
	release(sess)
	return nil
}

// Len returns the number of live sessions.
func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Sweep releases expired sessions and returns how many were removed.
func (r *Sessions) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*Session
	for id, sess := range r.items {
		if sess.idleSince().Before(cutoff) && !sess.Engine.Uploading() {
			expired = append(expired, sess)
			delete(r.items, id)
		}
	}
	r.mu.Unlock()

	for _, sess := range expired {
		release(sess)
	}
	if len(expired) > 0 {
		slog.Info("expired sessions released", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps at the given interval until ctx is done.
func (r *Sessions) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close releases every session.
func (r *Sessions) Close() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range items {
		release(sess)
	}
}

func release(sess *Session) {
	sess.Engine.Reset()
	sess.Engine.Close()
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return max(ttl/4, time.Second)
}
