package http

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/fyrsmithlabs/uniguide/internal/profile"
)

// DefaultSession is used when a request names no session.
const DefaultSession = "default"

// ErrInvalidSession is returned for malformed session ids.
var ErrInvalidSession = errors.New("invalid session id")

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// StoreFactory opens the profile store for a session.
type StoreFactory func(ctx context.Context, id string) (*profile.Store, error)

// Sessions keeps one profile store per session id for the life of the process.
type Sessions struct {
	mu      sync.Mutex
	stores  map[string]*profile.Store
	factory StoreFactory
}

// NewSessions returns a session registry backed by factory.
func NewSessions(factory StoreFactory) *Sessions {
	return &Sessions{stores: make(map[string]*profile.Store), factory: factory}
}

// Get returns the store for id, opening it on first use. An empty id
// selects DefaultSession.
func (s *Sessions) Get(ctx context.Context, id string) (*profile.Store, error) {
	if id == "" {
		id = DefaultSession
	}
	if !sessionPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: must match %s", ErrInvalidSession, sessionPattern)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stores[id]; ok {
		return st, nil
	}
	st, err := s.factory(ctx, id)
	if err != nil {
		return nil, err
	}
	s.stores[id] = st
	return st, nil
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stores)
}
