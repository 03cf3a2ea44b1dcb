package memory

import (
	"context"
	"sort"
	"time"

	"github.com/openclaw/link-server-go/internal/model"
	"github.com/openclaw/link-server-go/internal/repository"
)

type pairingCodes struct {
	view
}

func copyCode(pc model.PairingCode) *model.PairingCode {
	if pc.Grant != nil {
		g := *pc.Grant
		pc.Grant = &g
	}
	return &pc
}

func pendingAt(pc model.PairingCode, now time.Time) bool {
	return pc.Status == model.CodeStatusPending && now.Before(pc.ExpiresAt)
}

func (r *pairingCodes) FindByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	var out *model.PairingCode
	err := r.with(func(d *state) error {
		if pc, ok := d.codes[code]; ok {
			out = copyCode(pc)
		}
		return nil
	})
	return out, err
}

func (r *pairingCodes) FindPendingBySubjectID(ctx context.Context, subjectID string, now time.Time) ([]model.PairingCode, error) {
	var out []model.PairingCode
	err := r.with(func(d *state) error {
		for _, pc := range d.codes {
			if pc.SubjectID == subjectID && pendingAt(pc, now) {
				out = append(out, *copyCode(pc))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (r *pairingCodes) CountPendingBySubjectID(ctx context.Context, subjectID string, now time.Time) (int, error) {
	count := 0
	err := r.with(func(d *state) error {
		for _, pc := range d.codes {
			if pc.SubjectID == subjectID && pendingAt(pc, now) {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r *pairingCodes) LockSubject(ctx context.Context, subjectID string) error {
	return nil
}

func (r *pairingCodes) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	var out *model.PairingCode
	err := r.with(func(d *state) error {
		if _, exists := d.codes[params.Code]; exists {
			return repository.ErrDuplicate
		}
		maxUses := params.MaxUses
		if maxUses < 1 {
			maxUses = 1
		}
		shareMethod := params.ShareMethod
		if shareMethod == "" {
			shareMethod = model.ShareMethodManual
		}
		pc := model.PairingCode{
			Code:        params.Code,
			SubjectID:   params.SubjectID,
			Status:      model.CodeStatusPending,
			MaxUses:     maxUses,
			ShareMethod: shareMethod,
			Grant:       params.Grant,
			ExpiresAt:   params.ExpiresAt,
			CreatedAt:   params.CreatedAt,
		}
		stored := copyCode(pc)
		d.codes[pc.Code] = *stored
		out = copyCode(*stored)
		return nil
	})
	return out, err
}

func (r *pairingCodes) Consume(ctx context.Context, code, usedBy string, now time.Time) (*model.PairingCode, error) {
	var out *model.PairingCode
	err := r.with(func(d *state) error {
		pc, ok := d.codes[code]
		if !ok || !pendingAt(pc, now) || pc.UseCount >= pc.MaxUses {
			return repository.ErrConditionFailed
		}
		usedAt := now
		pc.UseCount++
		pc.UsedBy = &usedBy
		pc.UsedAt = &usedAt
		if pc.UseCount >= pc.MaxUses {
			pc.Status = model.CodeStatusUsed
		}
		d.codes[code] = pc
		out = copyCode(pc)
		return nil
	})
	return out, err
}

func (r *pairingCodes) Revoke(ctx context.Context, code, subjectID string, now time.Time) error {
	return r.with(func(d *state) error {
		pc, ok := d.codes[code]
		if !ok || pc.SubjectID != subjectID || pc.Status != model.CodeStatusPending {
			return repository.ErrConditionFailed
		}
		revokedAt := now
		pc.Status = model.CodeStatusRevoked
		pc.RevokedAt = &revokedAt
		d.codes[code] = pc
		return nil
	})
}

func (r *pairingCodes) MarkExpired(ctx context.Context, code string, now time.Time) error {
	return r.with(func(d *state) error {
		pc, ok := d.codes[code]
		if ok && pc.Status == model.CodeStatusPending && pc.IsExpired(now) {
			pc.Status = model.CodeStatusExpired
			d.codes[code] = pc
		}
		return nil
	})
}

func (r *pairingCodes) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.with(func(d *state) error {
		for code, pc := range d.codes {
			if pc.Status == model.CodeStatusPending && pc.IsExpired(now) {
				pc.Status = model.CodeStatusExpired
				d.codes[code] = pc
				n++
			}
		}
		return nil
	})
	return n, err
}
