package repository

import (
	"context"
	"errors"
	"time"

	"github.com/openclaw/link-server-go/internal/model"
)

var (
	// ErrConditionFailed is returned when a conditional write matched no row.
	ErrConditionFailed = errors.New("repository: write condition not met")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("repository: duplicate key")
)

type PairingCodeRepository interface {
	FindByCode(ctx context.Context, code string) (*model.PairingCode, error)
	FindPendingBySubjectID(ctx context.Context, subjectID string, now time.Time) ([]model.PairingCode, error)
	// LockSubject serializes code generation for one subject until the
	// surrounding transaction ends.
	LockSubject(ctx context.Context, subjectID string) error
	CountPendingBySubjectID(ctx context.Context, subjectID string, now time.Time) (int, error)
	Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error)
	// Consume records one redemption by usedBy. It only succeeds while the code
	// is pending, unexpired at now and has uses left.
	Consume(ctx context.Context, code, usedBy string, now time.Time) (*model.PairingCode, error)
	Revoke(ctx context.Context, code, subjectID string, now time.Time) error
	MarkExpired(ctx context.Context, code string, now time.Time) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type RelationshipRepository interface {
	FindByID(ctx context.Context, id string) (*model.Relationship, error)
	// FindByIDForUpdate reads the relationship and holds its row lock until
	// the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id string) (*model.Relationship, error)
	FindByUserID(ctx context.Context, userID string, includeTerminated bool) ([]model.Relationship, error)
	FindActiveBySubjectID(ctx context.Context, subjectID string) ([]model.Relationship, error)
	// LockSubject serializes relationship creation for one subject until the
	// surrounding transaction ends.
	LockSubject(ctx context.Context, subjectID string) error
	Create(ctx context.Context, params model.CreateRelationshipParams) (*model.Relationship, error)
	UpdatePolicy(ctx context.Context, id string, params model.UpdatePolicyParams) (*model.Relationship, error)
	Terminate(ctx context.Context, id string, params model.TerminateRelationshipParams) (*model.Relationship, error)
}

type AdminSessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.AdminSession, error)
	FindActiveByRelationshipID(ctx context.Context, relationshipID string) (*model.AdminSession, error)
	FindByRelationshipID(ctx context.Context, relationshipID string) ([]model.AdminSession, error)
	// Create inserts a session unless one is already active for the relationship.
	Create(ctx context.Context, params model.CreateAdminSessionParams) (*model.AdminSession, error)
	// Touch refreshes last activity on a live session; a non-nil expiresAt
	// also moves the deadline.
	Touch(ctx context.Context, id string, now time.Time, expiresAt *time.Time) (*model.AdminSession, error)
	End(ctx context.Context, id string, reason model.SessionEndReason, now time.Time) (bool, error)
	EndActiveByRelationshipID(ctx context.Context, relationshipID string, reason model.SessionEndReason, now time.Time) (int64, error)
	IncrementAction(ctx context.Context, id string, category model.ActionCategory, now time.Time) (bool, error)
	EndExpired(ctx context.Context, now time.Time) (int64, error)
}

// Store groups the repositories behind one transactional boundary.
type Store interface {
	PairingCodes() PairingCodeRepository
	Relationships() RelationshipRepository
	AdminSessions() AdminSessionRepository
	// WithTx runs fn against a Store whose writes commit together or not at all.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
