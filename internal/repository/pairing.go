package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/openclaw/link-server-go/internal/database"
	"github.com/openclaw/link-server-go/internal/model"
)

type pairingCodeRepo struct {
	db database.DBTX
}

func NewPairingCodeRepository(db database.DBTX) PairingCodeRepository {
	return &pairingCodeRepo{db: db}
}

func (r *pairingCodeRepo) FindByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		SELECT * FROM pairing_codes WHERE code = $1
	`, code)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) FindPendingBySubjectID(ctx context.Context, subjectID string, now time.Time) ([]model.PairingCode, error) {
	var codes []model.PairingCode
	err := r.db.SelectContext(ctx, &codes, `
		SELECT * FROM pairing_codes
		WHERE subject_id = $1 AND status = 'pending' AND expires_at > $2
		ORDER BY created_at DESC
	`, subjectID, now)
	return codes, err
}

func (r *pairingCodeRepo) CountPendingBySubjectID(ctx context.Context, subjectID string, now time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM pairing_codes
		WHERE subject_id = $1 AND status = 'pending' AND expires_at > $2
	`, subjectID, now)
	return count, err
}

func (r *pairingCodeRepo) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		INSERT INTO pairing_codes (code, subject_id, max_uses, share_method, grant_permissions, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO NOTHING
		RETURNING *
	`, params.Code, params.SubjectID, params.MaxUses, params.ShareMethod, params.Grant, params.ExpiresAt, params.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, translate(err)
	}
	return &pc, nil
}

func (r *pairingCodeRepo) LockSubject(ctx context.Context, subjectID string) error {
	_, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('pairing:' || $1))`, subjectID)
	return err
}

func (r *pairingCodeRepo) Consume(ctx context.Context, code, usedBy string, now time.Time) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		UPDATE pairing_codes SET
			use_count = use_count + 1,
			used_by = $2,
			used_at = $3,
			status = CASE WHEN use_count + 1 >= max_uses THEN 'used' ELSE 'pending' END
		WHERE code = $1
			AND status = 'pending'
			AND use_count < max_uses
			AND expires_at > $3
		RETURNING *
	`, code, usedBy, now)
	return HandleConditional(&pc, err)
}

func (r *pairingCodeRepo) Revoke(ctx context.Context, code, subjectID string, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET
			status = 'revoked',
			revoked_at = $3
		WHERE code = $1 AND subject_id = $2 AND status = 'pending'
	`, code, subjectID, now)
	return requireAffected(result, err)
}

func (r *pairingCodeRepo) MarkExpired(ctx context.Context, code string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET status = 'expired'
		WHERE code = $1 AND status = 'pending' AND expires_at <= $2
	`, code, now)
	return err
}

func (r *pairingCodeRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
