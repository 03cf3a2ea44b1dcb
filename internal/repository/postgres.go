package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/link-server-go/internal/database"
)

type postgresStore struct {
	db    *database.DB
	q     database.DBTX
	inTx  bool
	codes PairingCodeRepository
	rels  RelationshipRepository
	sess  AdminSessionRepository
}

// NewPostgresStore returns a Store backed by db.
func NewPostgresStore(db *database.DB) Store {
	return newPostgresStore(db, db.DB, false)
}

func newPostgresStore(db *database.DB, q database.DBTX, inTx bool) *postgresStore {
	return &postgresStore{
		db:    db,
		q:     q,
		inTx:  inTx,
		codes: NewPairingCodeRepository(q),
		rels:  NewRelationshipRepository(q),
		sess:  NewAdminSessionRepository(q),
	}
}

func (s *postgresStore) PairingCodes() PairingCodeRepository   { return s.codes }
func (s *postgresStore) Relationships() RelationshipRepository { return s.rels }
func (s *postgresStore) AdminSessions() AdminSessionRepository { return s.sess }

func (s *postgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(newPostgresStore(s.db, tx, true))
	})
}
