package memory

import (
	"context"
	"sort"
	"time"

	"github.com/openclaw/link-server-go/internal/model"
	"github.com/openclaw/link-server-go/internal/repository"
)

type adminSessions struct {
	view
}

func liveAt(s model.AdminSession, now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

func endSession(s *model.AdminSession, reason model.SessionEndReason, at time.Time) {
	s.IsActive = false
	s.EndedAt = &at
	s.EndReason = &reason
}

func (r *adminSessions) FindByID(ctx context.Context, id string) (*model.AdminSession, error) {
	var out *model.AdminSession
	err := r.with(func(d *state) error {
		if s, ok := d.sessions[id]; ok {
			out = &s
		}
		return nil
	})
	return out, err
}

func (r *adminSessions) FindActiveByRelationshipID(ctx context.Context, relationshipID string) (*model.AdminSession, error) {
	var out *model.AdminSession
	err := r.with(func(d *state) error {
		for _, s := range d.sessions {
			if s.RelationshipID == relationshipID && s.IsActive {
				found := s
				out = &found
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *adminSessions) FindByRelationshipID(ctx context.Context, relationshipID string) ([]model.AdminSession, error) {
	var out []model.AdminSession
	err := r.with(func(d *state) error {
		for _, s := range d.sessions {
			if s.RelationshipID == relationshipID {
				out = append(out, s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, err
}

func (r *adminSessions) Create(ctx context.Context, params model.CreateAdminSessionParams) (*model.AdminSession, error) {
	var out *model.AdminSession
	err := r.with(func(d *state) error {
		if _, exists := d.sessions[params.ID]; exists {
			return repository.ErrDuplicate
		}
		for _, s := range d.sessions {
			if s.RelationshipID == params.RelationshipID && s.IsActive {
				return repository.ErrConditionFailed
			}
		}
		s := model.AdminSession{
			ID:             params.ID,
			RelationshipID: params.RelationshipID,
			ControllerID:   params.ControllerID,
			SubjectID:      params.SubjectID,
			IsActive:       true,
			StartedAt:      params.StartedAt,
			LastActivityAt: params.StartedAt,
			ExpiresAt:      params.ExpiresAt,
		}
		d.sessions[s.ID] = s
		out = &s
		return nil
	})
	return out, err
}

func (r *adminSessions) Touch(ctx context.Context, id string, now time.Time, expiresAt *time.Time) (*model.AdminSession, error) {
	var out *model.AdminSession
	err := r.with(func(d *state) error {
		s, ok := d.sessions[id]
		if !ok || !liveAt(s, now) {
			return repository.ErrConditionFailed
		}
		s.LastActivityAt = now
		if expiresAt != nil {
			s.ExpiresAt = *expiresAt
		}
		d.sessions[id] = s
		out = &s
		return nil
	})
	return out, err
}

func (r *adminSessions) End(ctx context.Context, id string, reason model.SessionEndReason, now time.Time) (bool, error) {
	ended := false
	err := r.with(func(d *state) error {
		s, ok := d.sessions[id]
		if !ok || !s.IsActive {
			return nil
		}
		endSession(&s, reason, now)
		d.sessions[id] = s
		ended = true
		return nil
	})
	return ended, err
}

func (r *adminSessions) EndActiveByRelationshipID(ctx context.Context, relationshipID string, reason model.SessionEndReason, now time.Time) (int64, error) {
	var n int64
	err := r.with(func(d *state) error {
		for id, s := range d.sessions {
			if s.RelationshipID == relationshipID && s.IsActive {
				endSession(&s, reason, now)
				d.sessions[id] = s
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *adminSessions) IncrementAction(ctx context.Context, id string, category model.ActionCategory, now time.Time) (bool, error) {
	counted := false
	err := r.with(func(d *state) error {
		s, ok := d.sessions[id]
		if !ok || !liveAt(s, now) {
			return nil
		}
		if !s.Actions.Increment(category) {
			return nil
		}
		s.LastActivityAt = now
		d.sessions[id] = s
		counted = true
		return nil
	})
	return counted, err
}

func (r *adminSessions) EndExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.with(func(d *state) error {
		for id, s := range d.sessions {
			if s.IsActive && !now.Before(s.ExpiresAt) {
				endSession(&s, model.EndReasonTimeout, s.ExpiresAt)
				d.sessions[id] = s
				n++
			}
		}
		return nil
	})
	return n, err
}
