package repository

import (
	"context"

	"github.com/openclaw/link-server-go/internal/database"
	"github.com/openclaw/link-server-go/internal/model"
)

type relationshipRepo struct {
	db database.DBTX
}

func NewRelationshipRepository(db database.DBTX) RelationshipRepository {
	return &relationshipRepo{db: db}
}

func (r *relationshipRepo) FindByID(ctx context.Context, id string) (*model.Relationship, error) {
	var rel model.Relationship
	err := r.db.GetContext(ctx, &rel, `
		SELECT * FROM relationships WHERE id = $1
	`, id)
	return HandleNotFound(&rel, err)
}

func (r *relationshipRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Relationship, error) {
	var rel model.Relationship
	err := r.db.GetContext(ctx, &rel, `
		SELECT * FROM relationships WHERE id = $1 FOR UPDATE
	`, id)
	return HandleNotFound(&rel, err)
}

func (r *relationshipRepo) FindByUserID(ctx context.Context, userID string, includeTerminated bool) ([]model.Relationship, error) {
	var rels []model.Relationship
	err := r.db.SelectContext(ctx, &rels, `
		SELECT * FROM relationships
		WHERE (controller_id = $1 OR subject_id = $1)
			AND ($2 OR status = 'active')
		ORDER BY established_at DESC
	`, userID, includeTerminated)
	return rels, err
}

func (r *relationshipRepo) FindActiveBySubjectID(ctx context.Context, subjectID string) ([]model.Relationship, error) {
	var rels []model.Relationship
	err := r.db.SelectContext(ctx, &rels, `
		SELECT * FROM relationships
		WHERE subject_id = $1 AND status = 'active'
		ORDER BY established_at DESC
	`, subjectID)
	return rels, err
}

func (r *relationshipRepo) LockSubject(ctx context.Context, subjectID string) error {
	_, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, subjectID)
	return err
}

func (r *relationshipRepo) Create(ctx context.Context, params model.CreateRelationshipParams) (*model.Relationship, error) {
	var rel model.Relationship
	err := r.db.GetContext(ctx, &rel, `
		INSERT INTO relationships
			(id, controller_id, subject_id, status, link_method, pairing_code,
			 permissions, security, privacy, established_at, updated_at)
		VALUES ($1, $2, $3, 'active', $4, $5, $6, $7, $8, $9, $9)
		RETURNING *
	`, params.ID, params.ControllerID, params.SubjectID, params.LinkMethod, params.PairingCode,
		params.Permissions, params.Security, params.Privacy, params.EstablishedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &rel, nil
}

func (r *relationshipRepo) UpdatePolicy(ctx context.Context, id string, params model.UpdatePolicyParams) (*model.Relationship, error) {
	var rel model.Relationship
	err := r.db.GetContext(ctx, &rel, `
		UPDATE relationships SET
			permissions = $2,
			security = $3,
			privacy = $4,
			updated_at = $5
		WHERE id = $1 AND status = 'active'
		RETURNING *
	`, id, params.Permissions, params.Security, params.Privacy, params.UpdatedAt)
	return HandleConditional(&rel, err)
}

func (r *relationshipRepo) Terminate(ctx context.Context, id string, params model.TerminateRelationshipParams) (*model.Relationship, error) {
	var rel model.Relationship
	err := r.db.GetContext(ctx, &rel, `
		UPDATE relationships SET
			status = 'terminated',
			terminated_at = $2,
			terminated_by = $3,
			termination_reason = $4,
			updated_at = $2
		WHERE id = $1 AND status = 'active'
		RETURNING *
	`, id, params.TerminatedAt, params.TerminatedBy, params.Reason)
	return HandleConditional(&rel, err)
}
