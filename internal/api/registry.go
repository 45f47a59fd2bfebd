package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/tradeprep/internal/session"
)

// ErrSessionNotFound is returned for unknown ids and for sessions owned by someone else
var ErrSessionNotFound = errors.New("session not found")

// Entry is one live session and its owner
type Entry struct {
	id         string
	owner      string
	controller *session.Controller

	mu       sync.Mutex
	lastUsed time.Time
	recorded bool
}

// Registry holds the live practice sessions of the HTTP host
type Registry struct {
	factory SessionFactory
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Entry
}

// NewRegistry creates an empty registry that builds controllers with factory
func NewRegistry(factory SessionFactory) *Registry {
	return &Registry{
		factory:  factory,
		now:      time.Now,
		sessions: make(map[string]*Entry),
	}
}

// Create registers a new session for userID
func (r *Registry) Create(userID string) *Entry {
	ls := &Entry{
		id:         uuid.NewString(),
		owner:      userID,
		controller: r.factory(userID),
		lastUsed:   r.now(),
	}
	r.mu.Lock()
	r.sessions[ls.id] = ls
	r.mu.Unlock()
	return ls
}

// Get returns the session if userID owns it
func (r *Registry) Get(id, userID string) (*Entry, error) {
	r.mu.Lock()
	ls, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || ls.owner != userID {
		return nil, ErrSessionNotFound
	}
	ls.touch(r.now())
	return ls, nil
}

// Remove closes and forgets a session
func (r *Registry) Remove(id, userID string) error {
	r.mu.Lock()
	ls, ok := r.sessions[id]
	if !ok || ls.owner != userID {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	ls.controller.Close()
	return nil
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than maxIdle and returns how many it closed
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	var stale []*Entry
	r.mu.Lock()
	for id, ls := range r.sessions {
		if ls.idleSince().Before(cutoff) {
			stale = append(stale, ls)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, ls := range stale {
		ls.controller.Close()
	}
	return len(stale)
}

// Janitor sweeps idle sessions every interval until ctx ends
func (r *Registry) Janitor(ctx context.Context, interval, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(maxIdle)
		}
	}
}

// CloseAll closes every session, flushing their pending writes
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Entry)
	r.mu.Unlock()

	for _, ls := range all {
		ls.controller.Close()
	}
}

func (ls *Entry) touch(t time.Time) {
	ls.mu.Lock()
	ls.lastUsed = t
	ls.mu.Unlock()
}

func (ls *Entry) idleSince() time.Time {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.lastUsed
}

// markRecorded reports whether the caller is the first to record this session's result
func (ls *Entry) markRecorded() bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.recorded {
		return false
	}
	ls.recorded = true
	return true
}

func (ls *Entry) resetRecorded() {
	ls.mu.Lock()
	ls.recorded = false
	ls.mu.Unlock()
}

// ID returns the session id
func (ls *Entry) ID() string {
	return ls.id
}

// Controller returns the session's state machine
func (ls *Entry) Controller() *session.Controller {
	return ls.controller
}
