package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventCodeGenerate          EventType = "code_generate"
	EventCodeRedeem            EventType = "code_redeem"
	EventCodeRedeemFailure     EventType = "code_redeem_failure"
	EventCodeRevoke            EventType = "code_revoke"
	EventRelationshipUpdate    EventType = "relationship_update"
	EventRelationshipTerminate EventType = "relationship_terminate"
	EventSessionStart          EventType = "session_start"
	EventSessionReauth         EventType = "session_reauth"
	EventSessionEnd            EventType = "session_end"
	EventActionPerformed       EventType = "action_performed"
	EventActionDenied          EventType = "action_denied"
	EventRateLimitExceed       EventType = "rate_limit_exceeded"
	EventAuthFailure           EventType = "auth_failure"
)

type Event struct {
	Type           EventType
	ActorID        string
	RelationshipID string
	SessionID      string
	IP             string
	UserAgent      string
	Details        map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.ActorID != "" {
		logger = logger.With().Str("actor_id", event.ActorID).Logger()
	}
	if event.RelationshipID != "" {
		logger = logger.With().Str("relationship_id", event.RelationshipID).Logger()
	}
	if event.SessionID != "" {
		logger = logger.With().Str("session_id", event.SessionID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP returns the first address of X-Forwarded-For, then X-Real-IP,
// then the connection's remote address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
