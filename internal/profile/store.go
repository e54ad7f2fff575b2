// Package profile holds the student profile for a session.
//
// A Store validates every write against the field schema, applies merges
// atomically and mirrors each successful change to a Persister. The
// in-memory copy is authoritative: a failed save is logged and remembered
// but never undoes or rejects the write.
package profile

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"go.uber.org/zap"
)

// Profile maps keys to string, float64 or []string values.
type Profile map[string]any

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	out := make(Profile, len(p))
	for k, v := range p {
		if list, ok := v.([]string); ok {
			cp := make([]string, len(list))
			copy(cp, list)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// Store is a concurrency-safe profile with validation and persistence.
type Store struct {
	// saveMu orders snapshot-and-save so the file never lags behind an
	// older write.
	saveMu sync.Mutex

	mu         sync.RWMutex
	values     Profile
	persister  Persister
	logger     *logging.Logger
	persistErr error
}

// Option configures a Store.
type Option func(*Store)

// WithPersister mirrors writes to p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger used for persistence warnings.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{values: make(Profile), logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open returns a store seeded from the persister's saved profile. A missing
// file yields an empty store. A profile that cannot be loaded is logged and
// recorded in PersistErr, and the store starts empty. Saved values that no
// longer validate are dropped with a warning.
func Open(ctx context.Context, opts ...Option) (*Store, error) {
	s := NewStore(opts...)
	if s.persister == nil {
		return s, nil
	}

	saved, err := s.persister.Load(ctx)
	if err != nil {
		s.persistErr = err
		s.logger.Warn(ctx, "saved profile not loaded, starting empty", zap.Error(err))
		return s, nil
	}
	for k, v := range saved {
		norm, err := Normalize(k, v)
		if err != nil {
			s.logger.Warn(ctx, "dropping invalid saved profile value", zap.String("key", k), zap.Error(err))
			continue
		}
		s.values[k] = norm
	}
	return s, nil
}

// Get returns the value for key, or def when absent.
func (s *Store) Get(key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return def
	}
	if list, ok := v.([]string); ok {
		cp := make([]string, len(list))
		copy(cp, list)
		return cp
	}
	return v
}

// Has reports whether key is set.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Set validates and stores a single value, then persists.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	return s.Merge(ctx, map[string]any{key: value})
}

// Merge validates every entry of partial and applies all of them, or none
// when any entry is rejected. The returned error joins one ValidationError
// per rejected key, in key order.
func (s *Store) Merge(ctx context.Context, partial map[string]any) error {
	keys := make([]string, 0, len(partial))
	for k := range partial {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	staged := make(Profile, len(partial))
	var errs []error
	for _, k := range keys {
		norm, err := Normalize(k, partial[k])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		staged[k] = norm
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if len(staged) == 0 {
		return nil
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	for k, v := range staged {
		s.values[k] = v
	}
	snapshot := s.values.Clone()
	s.mu.Unlock()

	s.persist(ctx, snapshot)
	return nil
}

// Snapshot returns a deep copy of the current profile.
func (s *Store) Snapshot() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.Clone()
}

// PersistErr returns the error from the most recent save, or nil.
func (s *Store) PersistErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistErr
}

func (s *Store) persist(ctx context.Context, snapshot Profile) {
	if s.persister == nil {
		return
	}
	err := s.persister.Save(ctx, snapshot)

	s.mu.Lock()
	s.persistErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn(ctx, "profile not persisted, keeping in-memory copy", zap.Error(err))
	}
}
