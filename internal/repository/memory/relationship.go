package memory

import (
	"context"
	"sort"

	"github.com/openclaw/link-server-go/internal/model"
	"github.com/openclaw/link-server-go/internal/repository"
)

type relationships struct {
	view
}

func copyRelationship(rel model.Relationship) *model.Relationship {
	rel.Security.IPRestrictions = append([]string{}, rel.Security.IPRestrictions...)
	return &rel
}

func sortByEstablished(rels []model.Relationship) {
	sort.Slice(rels, func(i, j int) bool { return rels[i].EstablishedAt.After(rels[j].EstablishedAt) })
}

func (r *relationships) FindByID(ctx context.Context, id string) (*model.Relationship, error) {
	var out *model.Relationship
	err := r.with(func(d *state) error {
		if rel, ok := d.rels[id]; ok {
			out = copyRelationship(rel)
		}
		return nil
	})
	return out, err
}

// FindByIDForUpdate is FindByID: WithTx already holds the store lock.
func (r *relationships) FindByIDForUpdate(ctx context.Context, id string) (*model.Relationship, error) {
	return r.FindByID(ctx, id)
}

func (r *relationships) FindByUserID(ctx context.Context, userID string, includeTerminated bool) ([]model.Relationship, error) {
	var out []model.Relationship
	err := r.with(func(d *state) error {
		for _, rel := range d.rels {
			if rel.ControllerID != userID && rel.SubjectID != userID {
				continue
			}
			if !includeTerminated && !rel.IsActive() {
				continue
			}
			out = append(out, *copyRelationship(rel))
		}
		return nil
	})
	sortByEstablished(out)
	return out, err
}

func (r *relationships) FindActiveBySubjectID(ctx context.Context, subjectID string) ([]model.Relationship, error) {
	var out []model.Relationship
	err := r.with(func(d *state) error {
		for _, rel := range d.rels {
			if rel.SubjectID == subjectID && rel.IsActive() {
				out = append(out, *copyRelationship(rel))
			}
		}
		return nil
	})
	sortByEstablished(out)
	return out, err
}

// LockSubject is a no-op: WithTx already serializes every writer.
func (r *relationships) LockSubject(ctx context.Context, subjectID string) error {
	return nil
}

func (r *relationships) Create(ctx context.Context, params model.CreateRelationshipParams) (*model.Relationship, error) {
	var out *model.Relationship
	err := r.with(func(d *state) error {
		if _, exists := d.rels[params.ID]; exists {
			return repository.ErrDuplicate
		}
		for _, rel := range d.rels {
			if rel.IsActive() && rel.ControllerID == params.ControllerID && rel.SubjectID == params.SubjectID {
				return repository.ErrDuplicate
			}
		}
		rel := model.Relationship{
			ID:            params.ID,
			ControllerID:  params.ControllerID,
			SubjectID:     params.SubjectID,
			Status:        model.RelationshipStatusActive,
			LinkMethod:    params.LinkMethod,
			PairingCode:   params.PairingCode,
			Permissions:   params.Permissions,
			Security:      params.Security,
			Privacy:       params.Privacy,
			EstablishedAt: params.EstablishedAt,
			UpdatedAt:     params.EstablishedAt,
		}
		d.rels[rel.ID] = *copyRelationship(rel)
		out = copyRelationship(rel)
		return nil
	})
	return out, err
}

func (r *relationships) UpdatePolicy(ctx context.Context, id string, params model.UpdatePolicyParams) (*model.Relationship, error) {
	var out *model.Relationship
	err := r.with(func(d *state) error {
		rel, ok := d.rels[id]
		if !ok || !rel.IsActive() {
			return repository.ErrConditionFailed
		}
		rel.Permissions = params.Permissions
		rel.Security = params.Security
		rel.Privacy = params.Privacy
		rel.UpdatedAt = params.UpdatedAt
		d.rels[id] = *copyRelationship(rel)
		out = copyRelationship(rel)
		return nil
	})
	return out, err
}

func (r *relationships) Terminate(ctx context.Context, id string, params model.TerminateRelationshipParams) (*model.Relationship, error) {
	var out *model.Relationship
	err := r.with(func(d *state) error {
		rel, ok := d.rels[id]
		if !ok || !rel.IsActive() {
			return repository.ErrConditionFailed
		}
		terminatedAt := params.TerminatedAt
		by := params.TerminatedBy
		reason := params.Reason
		rel.Status = model.RelationshipStatusTerminated
		rel.TerminatedAt = &terminatedAt
		rel.TerminatedBy = &by
		rel.TerminationReason = &reason
		rel.UpdatedAt = terminatedAt
		d.rels[id] = rel
		out = copyRelationship(rel)
		return nil
	})
	return out, err
}
