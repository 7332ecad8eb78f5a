// Package session holds the client-side record of who is signed in.
//
// A Store is constructed once per process with default (empty) state and then
// hydrated from durable storage by Hydrate. Consumers must not trust
// IsAuthenticated until IsHydrated is true; Ready and Wait expose that signal.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-pay/client/internal/model/auth"
	"github.com/zhouzirui/z-pay/client/internal/storage"
)

// State is a point-in-time copy of the session.
type State struct {
	User            *auth.User
	Token           string
	IsAuthenticated bool
	IsHydrated      bool
}

// persisted is the blob stored under storage.KeySession. IsHydrated is
// re-derived on every load and never written.
type persisted struct {
	User            *auth.User `json:"user"`
	Token           string     `json:"token"`
	IsAuthenticated bool       `json:"isAuthenticated"`
}

// Store is the single source of truth for the signed-in user.
type Store struct {
	storage storage.Storage
	logger  *zap.Logger

	mu     sync.RWMutex
	state  State
	seq    uint64 // bumped by every mutation
	subs   map[uint64]func(State)
	nextID uint64

	notifyMu  sync.Mutex
	delivered uint64

	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for storage failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore returns a store with empty, not yet hydrated state.
func NewStore(st storage.Storage, opts ...Option) *Store {
	s := &Store{
		storage: st,
		logger:  zap.NewNop(),
		subs:    make(map[uint64]func(State)),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate loads persisted state, applies it and marks the store hydrated.
// Unreadable or corrupt data is treated as "nothing persisted". Calling
// Hydrate on an already hydrated store does nothing.
func (s *Store) Hydrate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	hydrated, start := s.state.IsHydrated, s.seq
	s.mu.RUnlock()
	if hydrated {
		return nil
	}

	if p, ok := s.readPersisted(); ok {
		s.mu.Lock()
		// A Login or Logout that ran during the read wins over the blob.
		if !s.state.IsHydrated && s.seq == start {
			s.state.User = p.User
			s.state.Token = p.Token
			s.state.IsAuthenticated = authenticated(p.User, p.Token)
			s.seq++
		} else {
			s.logger.Debug("session changed during rehydration, keeping current state")
		}
		s.mu.Unlock()
	}

	s.SetHydrated()
	return nil
}

func (s *Store) readPersisted() (persisted, bool) {
	raw, found, err := s.storage.Get(storage.KeySession)
	if err != nil {
		s.logger.Warn("session rehydration failed, starting empty", zap.Error(err))
		return persisted{}, false
	}
	if !found || raw == "" {
		return persisted{}, false
	}

	var p persisted
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.logger.Warn("discarding corrupt session blob", zap.Error(err))
		return persisted{}, false
	}
	if p.IsAuthenticated != authenticated(p.User, p.Token) {
		s.logger.Debug("persisted isAuthenticated disagrees with user/token, recomputing")
	}
	return p, true
}

// SetHydrated flips IsHydrated to true. Only the first call has any effect.
func (s *Store) SetHydrated() {
	s.readyOnce.Do(func() {
		s.mu.Lock()
		s.state.IsHydrated = true
		s.seq++
		s.mu.Unlock()

		close(s.ready)
		s.notify()
	})
}

// Ready is closed once the store is hydrated.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Wait blocks until the store is hydrated or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Login records the signed-in user and token in memory and durable storage.
// Storage failures are logged only: the backend session is the system of
// record, this is a cache of it.
func (s *Store) Login(user auth.User, token string) {
	u := user

	s.mu.Lock()
	s.state.User = &u
	s.state.Token = token
	s.state.IsAuthenticated = authenticated(&u, token)
	s.seq++
	s.persistLocked()
	s.mu.Unlock()

	s.notify()
}

// Logout clears durable credentials and resets the in-memory session.
// It is safe to call when nobody is signed in.
func (s *Store) Logout() {
	s.mu.Lock()
	changed := s.state.User != nil || s.state.Token != "" || s.state.IsAuthenticated
	s.state.User = nil
	s.state.Token = ""
	s.state.IsAuthenticated = false
	s.seq++
	if err := s.storage.Remove(storage.KeyAuthToken, storage.KeyRefreshToken, storage.KeySession); err != nil {
		s.logger.Warn("failed to clear durable session", zap.Error(err))
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// UpdateUser merges patch into the current user. Without a user it does nothing.
func (s *Store) UpdateUser(patch auth.UserPatch) {
	s.mu.Lock()
	if s.state.User == nil {
		s.mu.Unlock()
		return
	}
	merged := patch.Apply(*s.state.User)
	s.state.User = &merged
	s.seq++
	s.mu.Unlock()

	s.notify()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to be called synchronously after every mutation.
// Deliveries are serialized and never go backwards: when mutations race, a
// subscriber may skip an intermediate state but always ends on the current
// one. fn must not mutate the store. The returned func removes the
// subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// notify delivers the latest state. Each caller re-reads the state under
// notifyMu, so a slow notification can never overwrite a newer one.
func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.RLock()
	seq := s.seq
	state := s.snapshotLocked()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	if seq == s.delivered {
		return
	}
	s.delivered = seq

	for _, fn := range subs {
		fn(state)
	}
}

func (s *Store) persistLocked() {
	if s.state.Token != "" {
		if err := s.storage.Set(storage.KeyAuthToken, s.state.Token); err != nil {
			s.logger.Warn("failed to persist auth token", zap.Error(err))
		}
	} else if err := s.storage.Remove(storage.KeyAuthToken); err != nil {
		s.logger.Warn("failed to clear auth token", zap.Error(err))
	}

	blob, err := json.Marshal(persisted{
		User:            s.state.User,
		Token:           s.state.Token,
		IsAuthenticated: s.state.IsAuthenticated,
	})
	if err != nil {
		s.logger.Warn("failed to encode session", zap.Error(err))
		return
	}
	if err := s.storage.Set(storage.KeySession, string(blob)); err != nil {
		s.logger.Warn("failed to persist session", zap.Error(err))
	}
}

func (s *Store) snapshotLocked() State {
	state := s.state
	if state.User != nil {
		u := *state.User
		state.User = &u
	}
	return state
}

func authenticated(user *auth.User, token string) bool {
	return user != nil && token != ""
}
