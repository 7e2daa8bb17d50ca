// Package sessions tracks live voice sessions: capped creation, lookup,
// idempotent removal and periodic reaping of idle sessions.
package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/voicebridge/pkg/dialog/client"
	"github.com/vango-go/voicebridge/pkg/dialog/session"
)

var (
	// ErrCapacityExceeded is returned when the registry is at its session cap.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrNotFound is returned for lookups of unknown session ids.
	ErrNotFound = errors.New("session not found")
)

// Registry owns the set of live sessions.
type Registry struct {
	maxSessions int
	clientOpts  client.Options
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session

	// newSession is a test seam; defaults to session.New.
	newSession func(client.Options) *session.Session
	now        func() time.Time
}

// Options configures a Registry.
type Options struct {
	// MaxSessions caps concurrent sessions; zero or negative means 100.
	MaxSessions int
	// ClientOptions is the upstream client configuration every session
	// is created with.
	ClientOptions client.Options
	Logger        *slog.Logger
}

// New builds an empty registry.
func New(opts Options) *Registry {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		maxSessions: opts.MaxSessions,
		clientOpts:  opts.ClientOptions,
		logger:      opts.Logger.With("component", "session_registry"),
		sessions:    make(map[string]*session.Session),
		newSession:  session.New,
		now:         time.Now,
	}
}

// Create mints a new session and registers it. Fails when the cap is
// reached; the cap check and insert are one atomic step.
func (r *Registry) Create() (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.maxSessions {
		return nil, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, r.maxSessions)
	}
	s := r.newSession(r.clientOpts)
	r.sessions[s.ID()] = s
	r.logger.Info("session created", "session_id", s.ID(), "count", len(r.sessions))
	return s, nil
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Remove deregisters id and shuts the session down. Removing an unknown id
// is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Shutdown()
	r.logger.Info("session removed", "session_id", id, "count", count)
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshots returns a point-in-time view of every registered session.
func (r *Registry) Snapshots() []session.Snapshot {
	r.mu.Lock()
	list := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	snaps := make([]session.Snapshot, 0, len(list))
	for _, s := range list {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

// SweepIdle removes every session idle for longer than timeout and returns
// how many were reaped.
func (r *Registry) SweepIdle(timeout time.Duration) int {
	now := r.now()

	r.mu.Lock()
	var expired []string
	for id, s := range r.sessions {
		if now.Sub(s.LastActiveAt()) > timeout {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.logger.Info("reaping idle session", "session_id", id, "idle_timeout", timeout)
		r.Remove(id)
	}
	if len(expired) > 0 {
		r.logger.Info("idle sweep complete", "reaped", len(expired), "count", r.Count())
	}
	return len(expired)
}

// CloseAll removes every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	r.logger.Info("closing all sessions", "count", len(ids))
	for _, id := range ids {
		r.Remove(id)
	}
}
