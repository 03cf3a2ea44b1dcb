package service

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/link-server-go/internal/audit"
	apperrors "github.com/openclaw/link-server-go/internal/errors"
	"github.com/openclaw/link-server-go/internal/model"
	"github.com/openclaw/link-server-go/internal/repository"
	"github.com/openclaw/link-server-go/internal/util"
)

type createRelationshipParams struct {
	ControllerID string
	SubjectID    string
	LinkMethod   string
	PairingCode  string
	Grant        *model.Permissions
	Narrowing    *model.PermissionsPatch
	Now          time.Time
}

type RelationshipService struct {
	runner                 storeRunner
	clock                  Clock
	defaultTimeoutMinutes  int
	singleActiveController bool
}

func NewRelationshipService(store repository.Store, clock Clock, settings Settings) *RelationshipService {
	timeout := settings.DefaultSessionTimeoutMinutes
	if timeout < model.MinSessionTimeoutMinutes || timeout > model.MaxSessionTimeoutMinutes {
		timeout = 30
	}
	return &RelationshipService{
		runner:                 newStoreRunner(store, settings.StoreTimeout),
		clock:                  clock,
		defaultTimeoutMinutes:  timeout,
		singleActiveController: settings.SingleActiveController,
	}
}

// create inserts a relationship inside the caller's transaction. The
// subject's grant widens the defaults; the controller may only narrow.
func (s *RelationshipService) create(ctx context.Context, tx repository.Store, params createRelationshipParams) (*model.Relationship, error) {
	if params.ControllerID == params.SubjectID {
		return nil, apperrors.ValidationFailed("Controller and subject must be different accounts")
	}

	if s.singleActiveController {
		if err := tx.Relationships().LockSubject(ctx, params.SubjectID); err != nil {
			return nil, err
		}
		active, err := tx.Relationships().FindActiveBySubjectID(ctx, params.SubjectID)
		if err != nil {
			return nil, err
		}
		if len(active) > 0 {
			if active[0].ControllerID == params.ControllerID {
				return nil, apperrors.Conflict("An active relationship already exists between these accounts")
			}
			return nil, apperrors.Conflict("Subject already has an active controller")
		}
	}

	permissions := model.DefaultPermissions()
	if params.Grant != nil {
		permissions = permissions.Union(*params.Grant)
	}
	if params.Narrowing != nil {
		permissions = permissions.Narrow(*params.Narrowing)
	}

	rel, err := tx.Relationships().Create(ctx, model.CreateRelationshipParams{
		ID:            uuid.NewString(),
		ControllerID:  params.ControllerID,
		SubjectID:     params.SubjectID,
		LinkMethod:    params.LinkMethod,
		PairingCode:   params.PairingCode,
		Permissions:   permissions,
		Security:      model.DefaultSecurityPolicy(s.defaultTimeoutMinutes),
		Privacy:       model.DefaultPrivacyPolicy(),
		EstablishedAt: params.Now,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apperrors.Conflict("An active relationship already exists between these accounts")
	}
	return rel, err
}

func (s *RelationshipService) ListRelationships(ctx context.Context, userID string, includeTerminated bool) ([]model.Relationship, error) {
	if userID == "" {
		return nil, apperrors.Unauthenticated()
	}
	var rels []model.Relationship
	err := s.runner.read(ctx, "list relationships", func(ctx context.Context, st repository.Store) error {
		var err error
		rels, err = st.Relationships().FindByUserID(ctx, userID, includeTerminated)
		return err
	})
	if rels == nil {
		rels = []model.Relationship{}
	}
	return rels, err
}

func (s *RelationshipService) load(ctx context.Context, id string) (*model.Relationship, error) {
	if !util.IsValidUUID(id) {
		return nil, apperrors.NotFound("Relationship")
	}
	var rel *model.Relationship
	err := s.runner.read(ctx, "find relationship", func(ctx context.Context, st repository.Store) error {
		var err error
		rel, err = st.Relationships().FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, apperrors.NotFound("Relationship")
	}
	return rel, nil
}

// loadForParty returns the relationship and the caller's role in it.
func (s *RelationshipService) loadForParty(ctx context.Context, id, callerID string) (*model.Relationship, model.Party, error) {
	if callerID == "" {
		return nil, "", apperrors.Unauthenticated()
	}
	rel, err := s.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	party, ok := rel.PartyOf(callerID)
	if !ok {
		return nil, "", apperrors.PermissionDenied("Not a party to this relationship")
	}
	return rel, party, nil
}

func (s *RelationshipService) GetRelationship(ctx context.Context, id, callerID string) (*model.Relationship, error) {
	rel, _, err := s.loadForParty(ctx, id, callerID)
	return rel, err
}

// UpdateRelationship applies patch on behalf of callerID. Only the subject
// edits policy; either party may terminate through status.
func (s *RelationshipService) UpdateRelationship(ctx context.Context, id, callerID string, patch model.RelationshipPatch) (*model.Relationship, error) {
	rel, party, err := s.loadForParty(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if !rel.IsActive() {
		return nil, apperrors.Conflict("Relationship is terminated and can no longer change")
	}

	if patch.Status != nil {
		if *patch.Status != model.RelationshipStatusTerminated {
			return nil, apperrors.InvalidInput("status", "can only be set to terminated")
		}
		if patch.TouchesPolicy() {
			return nil, apperrors.ValidationFailed("Termination cannot be combined with policy changes")
		}
		reason := ""
		if patch.TerminationReason != nil {
			reason = *patch.TerminationReason
		}
		return s.TerminateRelationship(ctx, id, callerID, reason)
	}

	if !patch.TouchesPolicy() {
		return nil, apperrors.ValidationFailed("No changes requested")
	}
	if party != model.PartySubject {
		return nil, apperrors.PermissionDenied("Only the subject may change relationship policy")
	}

	params := model.UpdatePolicyParams{
		Permissions: rel.Permissions,
		Security:    rel.Security,
		Privacy:     rel.Privacy,
		UpdatedAt:   s.clock.Now(),
	}
	if patch.Permissions != nil {
		params.Permissions = params.Permissions.Apply(*patch.Permissions)
	}
	if patch.Security != nil {
		params.Security = params.Security.Apply(*patch.Security)
		if err := validateSecurity(params.Security); err != nil {
			return nil, err
		}
	}
	if patch.Privacy != nil {
		params.Privacy = params.Privacy.Apply(*patch.Privacy)
	}

	var updated *model.Relationship
	err = s.runner.write(ctx, "update relationship policy", func(ctx context.Context, st repository.Store) error {
		var err error
		updated, err = st.Relationships().UpdatePolicy(ctx, id, params)
		if errors.Is(err, repository.ErrConditionFailed) {
			return apperrors.Conflict("Relationship is terminated and can no longer change")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:           audit.EventRelationshipUpdate,
		ActorID:        callerID,
		RelationshipID: id,
		Details: map[string]interface{}{
			"permissions": patch.Permissions != nil,
			"security":    patch.Security != nil,
			"privacy":     patch.Privacy != nil,
		},
	})
	return updated, nil
}

func validateSecurity(sec model.SecurityPolicy) error {
	if sec.SessionTimeoutMinutes < model.MinSessionTimeoutMinutes || sec.SessionTimeoutMinutes > model.MaxSessionTimeoutMinutes {
		return apperrors.InvalidInput("security.sessionTimeoutMinutes", "must be between 1 and 1440")
	}
	for _, entry := range sec.IPRestrictions {
		if _, err := parseIPRestriction(entry); err != nil {
			return apperrors.InvalidInput("security.ipRestrictions", "invalid address or CIDR "+entry)
		}
	}
	return nil
}

// TerminateRelationship ends the relationship and any live admin session
// under it in one transaction.
func (s *RelationshipService) TerminateRelationship(ctx context.Context, id, callerID, reason string) (*model.Relationship, error) {
	rel, party, err := s.loadForParty(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if !rel.IsActive() {
		return nil, apperrors.Conflict("Relationship is already terminated")
	}

	now := s.clock.Now()
	var terminated *model.Relationship
	var endedSessions int64
	err = s.runner.tx(ctx, "terminate relationship", func(ctx context.Context, tx repository.Store) error {
		var err error
		terminated, err = tx.Relationships().Terminate(ctx, id, model.TerminateRelationshipParams{
			TerminatedBy: party,
			Reason:       strings.TrimSpace(reason),
			TerminatedAt: now,
		})
		if errors.Is(err, repository.ErrConditionFailed) {
			return apperrors.Conflict("Relationship is already terminated")
		}
		if err != nil {
			return err
		}
		endedSessions, err = tx.AdminSessions().EndActiveByRelationshipID(ctx, id, model.EndReasonRelationshipTerminated, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("relationshipId", id).
		Str("terminatedBy", string(party)).
		Int64("endedSessions", endedSessions).
		Msg("relationship terminated")
	audit.Log(ctx, audit.Event{
		Type:           audit.EventRelationshipTerminate,
		ActorID:        callerID,
		RelationshipID: id,
		Details:        map[string]interface{}{"terminated_by": string(party), "ended_sessions": endedSessions},
	})
	return terminated, nil
}

// ListSessions returns the admin session history with its counters. The
// controller needs viewAuditLog; the subject needs subjectCanSeeControllerActions.
func (s *RelationshipService) ListSessions(ctx context.Context, relationshipID, callerID string) ([]model.AdminSession, error) {
	rel, party, err := s.loadForParty(ctx, relationshipID, callerID)
	if err != nil {
		return nil, err
	}
	switch party {
	case model.PartyController:
		if !rel.Permissions.ViewAuditLog {
			return nil, apperrors.PermissionDenied("viewAuditLog permission is disabled").
				WithDetails(map[string]any{"permission": model.ActionViewAuditLog})
		}
	case model.PartySubject:
		if !rel.Privacy.SubjectCanSeeControllerActions {
			return nil, apperrors.PermissionDenied("Controller actions are hidden by privacy settings")
		}
	}

	var sessions []model.AdminSession
	err = s.runner.read(ctx, "list admin sessions", func(ctx context.Context, st repository.Store) error {
		var err error
		sessions, err = st.AdminSessions().FindByRelationshipID(ctx, relationshipID)
		return err
	})
	if sessions == nil {
		sessions = []model.AdminSession{}
	}
	return sessions, err
}

func parseIPRestriction(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()), nil
}

// ipAllowed reports whether clientIP satisfies restrictions. An empty list
// allows every address; an unparseable client address matches nothing.
func ipAllowed(restrictions []string, clientIP string) bool {
	if len(restrictions) == 0 {
		return true
	}
	host := clientIP
	if addrPort, err := netip.ParseAddrPort(clientIP); err == nil {
		host = addrPort.Addr().String()
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range restrictions {
		prefix, err := parseIPRestriction(entry)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
