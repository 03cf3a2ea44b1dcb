package service

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/link-server-go/internal/audit"
	apperrors "github.com/openclaw/link-server-go/internal/errors"
	"github.com/openclaw/link-server-go/internal/model"
	"github.com/openclaw/link-server-go/internal/permission"
)

// CapabilityRequest is one privileged operation against the subject's data.
type CapabilityRequest struct {
	Action         model.Action
	RelationshipID string
	SessionID      string
	ControllerID   string
	SubjectID      string
	Payload        json.RawMessage
}

// CapabilityInvoker performs the administered operation once the gate allows it.
type CapabilityInvoker interface {
	Invoke(ctx context.Context, req CapabilityRequest) (any, error)
}

// AcknowledgeInvoker accepts every request without side effects. It stands in
// for the administered domain when none is wired.
type AcknowledgeInvoker struct{}

func (AcknowledgeInvoker) Invoke(ctx context.Context, req CapabilityRequest) (any, error) {
	return map[string]any{"accepted": true, "action": req.Action}, nil
}

type ActionResult struct {
	Action   model.Action         `json:"action"`
	Category model.ActionCategory `json:"category"`
	Result   any                  `json:"result,omitempty"`
	Recorded bool                 `json:"recorded"`
}

// ControlService runs privileged actions through the permission gate and
// tallies them on the admin session.
type ControlService struct {
	sessions      *AdminSessionService
	relationships *RelationshipService
	invoker       CapabilityInvoker
	clock         Clock
}

func NewControlService(
	sessions *AdminSessionService,
	relationships *RelationshipService,
	invoker CapabilityInvoker,
	clock Clock,
) *ControlService {
	if invoker == nil {
		invoker = AcknowledgeInvoker{}
	}
	return &ControlService{
		sessions:      sessions,
		relationships: relationships,
		invoker:       invoker,
		clock:         clock,
	}
}

func (s *ControlService) decide(ctx context.Context, sessionID, controllerID string, action model.Action) (*model.AdminSession, *model.Relationship, permission.Decision, error) {
	session, err := s.sessions.liveSession(ctx, sessionID, controllerID, s.clock.Now())
	if err != nil {
		return nil, nil, permission.Decision{}, err
	}
	rel, err := s.relationships.load(ctx, session.RelationshipID)
	if err != nil {
		return nil, nil, permission.Decision{}, err
	}
	return session, rel, permission.Authorize(rel, action), nil
}

// Authorize evaluates the gate for action without performing it.
func (s *ControlService) Authorize(ctx context.Context, sessionID, controllerID string, action model.Action) (permission.Decision, error) {
	_, _, decision, err := s.decide(ctx, sessionID, controllerID, action)
	return decision, err
}

// Perform gates, invokes and records action.
func (s *ControlService) Perform(ctx context.Context, sessionID, controllerID string, action model.Action, payload json.RawMessage) (*ActionResult, error) {
	session, rel, decision, err := s.decide(ctx, sessionID, controllerID, action)
	if err != nil {
		return nil, err
	}

	if !decision.Allowed {
		if rel.Security.AuditLogEnabled {
			audit.Log(ctx, audit.Event{
				Type:           audit.EventActionDenied,
				ActorID:        controllerID,
				RelationshipID: rel.ID,
				SessionID:      session.ID,
				Details:        map[string]interface{}{"action": string(action), "reason": string(decision.Reason)},
			})
		}
		return nil, apperrors.PermissionDenied("Action is not permitted").
			WithDetails(map[string]any{"action": action, "reason": decision.Reason})
	}

	result, err := s.invoker.Invoke(ctx, CapabilityRequest{
		Action:         action,
		RelationshipID: rel.ID,
		SessionID:      session.ID,
		ControllerID:   controllerID,
		SubjectID:      rel.SubjectID,
		Payload:        payload,
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		log.Error().Err(err).Str("action", string(action)).Str("sessionId", session.ID).Msg("capability invocation failed")
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Capability invocation failed", err)
	}

	recorded := s.sessions.RecordAction(ctx, session.ID, decision.Category)

	if rel.Security.AuditLogEnabled {
		audit.Log(ctx, audit.Event{
			Type:           audit.EventActionPerformed,
			ActorID:        controllerID,
			RelationshipID: rel.ID,
			SessionID:      session.ID,
			Details: map[string]interface{}{
				"action":   string(action),
				"category": string(decision.Category),
				"recorded": recorded,
			},
		})
	}

	return &ActionResult{
		Action:   action,
		Category: decision.Category,
		Result:   result,
		Recorded: recorded,
	}, nil
}
