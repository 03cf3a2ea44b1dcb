package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/link-server-go/internal/audit"
	apperrors "github.com/openclaw/link-server-go/internal/errors"
	"github.com/openclaw/link-server-go/internal/model"
	"github.com/openclaw/link-server-go/internal/repository"
	"github.com/openclaw/link-server-go/internal/util"
)

type SessionStatus struct {
	Session          *model.AdminSession `json:"session"`
	RemainingSeconds int64               `json:"remainingSeconds"`
	NeedsReauth      bool                `json:"needsReauth"`
	Expired          bool                `json:"expired"`
}

type AdminSessionService struct {
	runner            storeRunner
	relationships     *RelationshipService
	clock             Clock
	reauthThreshold   time.Duration
	reauthMaxTokenAge time.Duration
	sliding           bool
}

func NewAdminSessionService(
	store repository.Store,
	relationships *RelationshipService,
	clock Clock,
	settings Settings,
) *AdminSessionService {
	return &AdminSessionService{
		runner:            newStoreRunner(store, settings.StoreTimeout),
		relationships:     relationships,
		clock:             clock,
		reauthThreshold:   settings.ReauthThreshold,
		reauthMaxTokenAge: settings.ReauthMaxTokenAge,
		sliding:           settings.SlidingSessionExpiration,
	}
}

// StartSession opens an elevated session for the relationship's controller.
// A session that outlived its deadline is ended first; a live one is a conflict.
func (s *AdminSessionService) StartSession(ctx context.Context, relationshipID, controllerID, clientIP string) (*model.AdminSession, error) {
	rel, party, err := s.relationships.loadForParty(ctx, relationshipID, controllerID)
	if err != nil {
		return nil, err
	}
	if party != model.PartyController {
		return nil, apperrors.PermissionDenied("Only the controller may start an admin session")
	}
	if !rel.IsActive() {
		return nil, apperrors.PermissionDenied("Relationship is not active")
	}
	if !ipAllowed(rel.Security.IPRestrictions, clientIP) {
		audit.Log(ctx, audit.Event{
			Type:           audit.EventAuthFailure,
			ActorID:        controllerID,
			RelationshipID: rel.ID,
			IP:             clientIP,
			Details:        map[string]interface{}{"reason": "ip_restricted"},
		})
		return nil, apperrors.PermissionDenied("Client address is not allowed for this relationship")
	}

	now := s.clock.Now()
	var session *model.AdminSession
	err = s.runner.tx(ctx, "start admin session", func(ctx context.Context, tx repository.Store) error {
		current, err := tx.Relationships().FindByIDForUpdate(ctx, rel.ID)
		if err != nil {
			return err
		}
		if current == nil || !current.IsActive() {
			return apperrors.PermissionDenied("Relationship is not active")
		}

		existing, err := tx.AdminSessions().FindActiveByRelationshipID(ctx, rel.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.IsExpired(now) {
				return apperrors.Conflict("An admin session is already active for this relationship").
					WithDetails(map[string]any{"sessionId": existing.ID, "expiresAt": existing.ExpiresAt})
			}
			if _, err := tx.AdminSessions().End(ctx, existing.ID, model.EndReasonTimeout, existing.ExpiresAt); err != nil {
				return err
			}
		}

		session, err = tx.AdminSessions().Create(ctx, model.CreateAdminSessionParams{
			ID:             uuid.NewString(),
			RelationshipID: rel.ID,
			ControllerID:   rel.ControllerID,
			SubjectID:      rel.SubjectID,
			StartedAt:      now,
			ExpiresAt:      now.Add(current.SessionTimeout()),
		})
		if errors.Is(err, repository.ErrConditionFailed) {
			return apperrors.Conflict("An admin session is already active for this relationship")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("relationshipId", rel.ID).
		Time("expiresAt", session.ExpiresAt).
		Msg("admin session started")
	audit.Log(ctx, audit.Event{
		Type:           audit.EventSessionStart,
		ActorID:        controllerID,
		RelationshipID: rel.ID,
		SessionID:      session.ID,
		IP:             clientIP,
	})
	return session, nil
}

func (s *AdminSessionService) load(ctx context.Context, sessionID string) (*model.AdminSession, error) {
	if !util.IsValidUUID(sessionID) {
		return nil, apperrors.NotFound("Admin session")
	}
	var session *model.AdminSession
	err := s.runner.read(ctx, "find admin session", func(ctx context.Context, st repository.Store) error {
		var err error
		session, err = st.AdminSessions().FindByID(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NotFound("Admin session")
	}
	return session, nil
}

// liveSession loads a session owned by controllerID that is still usable at
// now. A session found past its deadline is ended on the spot.
func (s *AdminSessionService) liveSession(ctx context.Context, sessionID, controllerID string, now time.Time) (*model.AdminSession, error) {
	if controllerID == "" {
		return nil, apperrors.Unauthenticated()
	}
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ControllerID != controllerID {
		return nil, apperrors.PermissionDenied("Admin session belongs to another account")
	}
	if !session.IsActive {
		return nil, sessionEnded(session)
	}
	if session.IsExpired(now) {
		s.expire(ctx, session)
		return nil, apperrors.Expired("Admin session").WithDetails(map[string]any{"endReason": model.EndReasonTimeout})
	}
	return session, nil
}

func sessionEnded(session *model.AdminSession) error {
	details := map[string]any{}
	if session.EndReason != nil {
		details["endReason"] = *session.EndReason
	}
	return apperrors.Expired("Admin session").WithDetails(details)
}

func (s *AdminSessionService) expire(ctx context.Context, session *model.AdminSession) {
	err := s.runner.write(ctx, "end expired admin session", func(ctx context.Context, st repository.Store) error {
		_, err := st.AdminSessions().End(ctx, session.ID, model.EndReasonTimeout, session.ExpiresAt)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to end expired admin session")
	}
}

// TouchSession records activity. The deadline only moves when sliding
// expiration is enabled.
func (s *AdminSessionService) TouchSession(ctx context.Context, sessionID, controllerID string) (*model.AdminSession, error) {
	now := s.clock.Now()
	session, err := s.liveSession(ctx, sessionID, controllerID, now)
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if s.sliding {
		rel, err := s.relationships.load(ctx, session.RelationshipID)
		if err != nil {
			return nil, err
		}
		next := now.Add(rel.SessionTimeout())
		expiresAt = &next
	}

	return s.touch(ctx, sessionID, now, expiresAt)
}

func (s *AdminSessionService) touch(ctx context.Context, sessionID string, now time.Time, expiresAt *time.Time) (*model.AdminSession, error) {
	var session *model.AdminSession
	err := s.runner.write(ctx, "touch admin session", func(ctx context.Context, st repository.Store) error {
		var err error
		session, err = st.AdminSessions().Touch(ctx, sessionID, now, expiresAt)
		if errors.Is(err, repository.ErrConditionFailed) {
			return apperrors.Expired("Admin session")
		}
		return err
	})
	return session, err
}

// Reauthenticate extends the session by a full timeout. authTime is when the
// caller's identity token was issued and must be recent.
func (s *AdminSessionService) Reauthenticate(ctx context.Context, sessionID, controllerID string, authTime time.Time) (*model.AdminSession, error) {
	now := s.clock.Now()
	if authTime.IsZero() || now.Sub(authTime) > s.reauthMaxTokenAge {
		return nil, apperrors.New(apperrors.ErrCodeUnauthenticated, "Recent authentication required").
			WithDetails(map[string]any{"maxTokenAgeSeconds": int64(s.reauthMaxTokenAge.Seconds())})
	}

	session, err := s.liveSession(ctx, sessionID, controllerID, now)
	if err != nil {
		return nil, err
	}
	rel, err := s.relationships.load(ctx, session.RelationshipID)
	if err != nil {
		return nil, err
	}
	if !rel.IsActive() {
		return nil, apperrors.PermissionDenied("Relationship is not active")
	}

	expiresAt := now.Add(rel.SessionTimeout())
	session, err = s.touch(ctx, sessionID, now, &expiresAt)
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:           audit.EventSessionReauth,
		ActorID:        controllerID,
		RelationshipID: rel.ID,
		SessionID:      sessionID,
	})
	return session, nil
}

func (s *AdminSessionService) IsExpired(session *model.AdminSession, now time.Time) bool {
	return session.IsExpired(now)
}

// NeedsReauth reports whether the remaining time has dropped below the
// re-authentication threshold on a relationship that requires it.
func (s *AdminSessionService) NeedsReauth(session *model.AdminSession, rel *model.Relationship, now time.Time) bool {
	if rel == nil || !rel.Security.RequireReauth {
		return false
	}
	return session.Remaining(now) < s.reauthThreshold
}

// Status is visible to the controller and, when privacy allows, the subject.
// Only the controller's read ends a session found past its deadline; the
// subject sees it reported as timed out and the sweep persists it.
func (s *AdminSessionService) Status(ctx context.Context, sessionID, callerID string) (*SessionStatus, error) {
	if callerID == "" {
		return nil, apperrors.Unauthenticated()
	}
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rel, party, err := s.relationships.loadForParty(ctx, session.RelationshipID, callerID)
	if err != nil {
		return nil, err
	}
	if party == model.PartySubject && !rel.Privacy.SubjectCanSeeControllerActions {
		return nil, apperrors.PermissionDenied("Controller actions are hidden by privacy settings")
	}

	now := s.clock.Now()
	if session.IsActive && session.IsExpired(now) {
		if party == model.PartyController {
			s.expire(ctx, session)
		}
		session.IsActive = false
		endedAt := session.ExpiresAt
		reason := model.EndReasonTimeout
		session.EndedAt = &endedAt
		session.EndReason = &reason
	}

	return &SessionStatus{
		Session:          session,
		RemainingSeconds: int64(session.Remaining(now).Seconds()),
		NeedsReauth:      session.IsActive && s.NeedsReauth(session, rel, now),
		Expired:          session.IsExpired(now),
	}, nil
}

// EndSession is idempotent: ending an ended session returns it unchanged.
func (s *AdminSessionService) EndSession(ctx context.Context, sessionID, callerID string, reason model.SessionEndReason) (*model.AdminSession, error) {
	if callerID == "" {
		return nil, apperrors.Unauthenticated()
	}
	if reason == "" {
		reason = model.EndReasonExplicit
	}
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ControllerID != callerID {
		return nil, apperrors.PermissionDenied("Admin session belongs to another account")
	}
	if !session.IsActive {
		return session, nil
	}

	now := s.clock.Now()
	if session.IsExpired(now) {
		reason = model.EndReasonTimeout
		now = session.ExpiresAt
	}

	var ended bool
	err = s.runner.write(ctx, "end admin session", func(ctx context.Context, st repository.Store) error {
		var err error
		ended, err = st.AdminSessions().End(ctx, sessionID, reason, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if ended {
		audit.Log(ctx, audit.Event{
			Type:           audit.EventSessionEnd,
			ActorID:        callerID,
			RelationshipID: session.RelationshipID,
			SessionID:      sessionID,
			Details:        map[string]interface{}{"reason": string(reason)},
		})
	}
	return s.load(ctx, sessionID)
}

// RecordAction bumps the session counter for category. Failures are logged
// and reported as false, never returned.
func (s *AdminSessionService) RecordAction(ctx context.Context, sessionID string, category model.ActionCategory) bool {
	var counted bool
	err := s.runner.write(ctx, "record admin action", func(ctx context.Context, st repository.Store) error {
		var err error
		counted, err = st.AdminSessions().IncrementAction(ctx, sessionID, category, s.clock.Now())
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Str("category", string(category)).Msg("failed to record admin action")
		return false
	}
	if !counted {
		log.Warn().Str("sessionId", sessionID).Str("category", string(category)).Msg("admin action not recorded: session no longer live")
	}
	return counted
}

// SweepExpired ends every active session past its deadline.
func (s *AdminSessionService) SweepExpired(ctx context.Context) (int64, error) {
	var n int64
	err := s.runner.write(ctx, "sweep expired admin sessions", func(ctx context.Context, st repository.Store) error {
		var err error
		n, err = st.AdminSessions().EndExpired(ctx, s.clock.Now())
		return err
	})
	return n, err
}
