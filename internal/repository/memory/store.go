// Package memory provides an in-process Store for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/openclaw/link-server-go/internal/model"
	"github.com/openclaw/link-server-go/internal/repository"
)

type state struct {
	codes    map[string]model.PairingCode
	rels     map[string]model.Relationship
	sessions map[string]model.AdminSession
}

func newState() *state {
	return &state{
		codes:    map[string]model.PairingCode{},
		rels:     map[string]model.Relationship{},
		sessions: map[string]model.AdminSession{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.codes {
		c.codes[k] = v
	}
	for k, v := range s.rels {
		c.rels[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

// Store keeps every record in maps guarded by one mutex. Each repository call
// holds the lock for its whole read-check-write, so conditional writes behave
// like their SQL counterparts.
type Store struct {
	mu   sync.Mutex
	data *state
}

func NewStore() *Store {
	return &Store{data: newState()}
}

func (s *Store) PairingCodes() repository.PairingCodeRepository {
	return &pairingCodes{view{store: s}}
}

func (s *Store) Relationships() repository.RelationshipRepository {
	return &relationships{view{store: s}}
}

func (s *Store) AdminSessions() repository.AdminSessionRepository {
	return &adminSessions{view{store: s}}
}

// WithTx holds the store lock for the duration of fn. Writes made by fn are
// discarded when it returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&txStore{store: s}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// txStore is the Store handed to WithTx callbacks. The lock is already held.
type txStore struct {
	store *Store
}

func (t *txStore) PairingCodes() repository.PairingCodeRepository {
	return &pairingCodes{view{store: t.store, locked: true}}
}

func (t *txStore) Relationships() repository.RelationshipRepository {
	return &relationships{view{store: t.store, locked: true}}
}

func (t *txStore) AdminSessions() repository.AdminSessionRepository {
	return &adminSessions{view{store: t.store, locked: true}}
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

type view struct {
	store  *Store
	locked bool
}

// with runs fn against the current data, taking the lock unless the caller
// is inside WithTx.
func (v view) with(fn func(d *state) error) error {
	if !v.locked {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}
	return fn(v.store.data)
}

var (
	_ repository.Store = (*Store)(nil)
	_ repository.Store = (*txStore)(nil)
)
