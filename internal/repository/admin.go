package repository

import (
	"context"
	"time"

	"github.com/openclaw/link-server-go/internal/database"
	"github.com/openclaw/link-server-go/internal/model"
)

type adminSessionRepo struct {
	db database.DBTX
}

func NewAdminSessionRepository(db database.DBTX) AdminSessionRepository {
	return &adminSessionRepo{db: db}
}

func (r *adminSessionRepo) FindByID(ctx context.Context, id string) (*model.AdminSession, error) {
	var session model.AdminSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM admin_sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *adminSessionRepo) FindActiveByRelationshipID(ctx context.Context, relationshipID string) (*model.AdminSession, error) {
	var session model.AdminSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM admin_sessions
		WHERE relationship_id = $1 AND is_active
	`, relationshipID)
	return HandleNotFound(&session, err)
}

func (r *adminSessionRepo) FindByRelationshipID(ctx context.Context, relationshipID string) ([]model.AdminSession, error) {
	var sessions []model.AdminSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM admin_sessions
		WHERE relationship_id = $1
		ORDER BY started_at DESC
	`, relationshipID)
	return sessions, err
}

func (r *adminSessionRepo) Create(ctx context.Context, params model.CreateAdminSessionParams) (*model.AdminSession, error) {
	var session model.AdminSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO admin_sessions
			(id, relationship_id, controller_id, subject_id, started_at, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
		ON CONFLICT (relationship_id) WHERE is_active DO NOTHING
		RETURNING *
	`, params.ID, params.RelationshipID, params.ControllerID, params.SubjectID, params.StartedAt, params.ExpiresAt)
	return HandleConditional(&session, err)
}

func (r *adminSessionRepo) Touch(ctx context.Context, id string, now time.Time, expiresAt *time.Time) (*model.AdminSession, error) {
	var session model.AdminSession
	err := r.db.GetContext(ctx, &session, `
		UPDATE admin_sessions SET
			last_activity_at = $2,
			expires_at = COALESCE($3, expires_at)
		WHERE id = $1 AND is_active AND expires_at > $2
		RETURNING *
	`, id, now, expiresAt)
	return HandleConditional(&session, err)
}

func (r *adminSessionRepo) End(ctx context.Context, id string, reason model.SessionEndReason, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE admin_sessions SET
			is_active = FALSE,
			ended_at = $3,
			end_reason = $2
		WHERE id = $1 AND is_active
	`, id, reason, now)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *adminSessionRepo) EndActiveByRelationshipID(ctx context.Context, relationshipID string, reason model.SessionEndReason, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE admin_sessions SET
			is_active = FALSE,
			ended_at = $3,
			end_reason = $2
		WHERE relationship_id = $1 AND is_active
	`, relationshipID, reason, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *adminSessionRepo) IncrementAction(ctx context.Context, id string, category model.ActionCategory, now time.Time) (bool, error) {
	if !category.Valid() {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE admin_sessions SET
			actions = jsonb_set(actions, ARRAY[$2::text], to_jsonb(COALESCE((actions->>$2::text)::int, 0) + 1)),
			last_activity_at = $3
		WHERE id = $1 AND is_active AND expires_at > $3
	`, id, string(category), now)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *adminSessionRepo) EndExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE admin_sessions SET
			is_active = FALSE,
			ended_at = expires_at,
			end_reason = 'timeout'
		WHERE is_active AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
