package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/link-server-go/internal/audit"
	apperrors "github.com/openclaw/link-server-go/internal/errors"
	"github.com/openclaw/link-server-go/internal/middleware"
	"github.com/openclaw/link-server-go/internal/model"
	"github.com/openclaw/link-server-go/internal/service"
)

type RelationshipHandler struct {
	relationshipService *service.RelationshipService
	sessionService      *service.AdminSessionService
}

func NewRelationshipHandler(
	relationshipService *service.RelationshipService,
	sessionService *service.AdminSessionService,
) *RelationshipHandler {
	return &RelationshipHandler{
		relationshipService: relationshipService,
		sessionService:      sessionService,
	}
}

func (h *RelationshipHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Post("/{id}/terminate", h.Terminate)
	r.Get("/{id}/sessions", h.ListSessions)
	r.Post("/{id}/sessions", h.StartSession)

	return r
}

// GET /v1/relationships?includeTerminated=true
func (h *RelationshipHandler) List(w http.ResponseWriter, r *http.Request) {
	includeTerminated := false
	if raw := r.URL.Query().Get("includeTerminated"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, apperrors.InvalidInput("includeTerminated", "must be a boolean"))
			return
		}
		includeTerminated = parsed
	}

	rels, err := h.relationshipService.ListRelationships(r.Context(), middleware.GetUserID(r.Context()), includeTerminated)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"relationships": rels})
}

// GET /v1/relationships/{id}
func (h *RelationshipHandler) Get(w http.ResponseWriter, r *http.Request) {
	rel, err := h.relationshipService.GetRelationship(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rel)
}

// PATCH /v1/relationships/{id}
func (h *RelationshipHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch model.RelationshipPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}

	rel, err := h.relationshipService.UpdateRelationship(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), patch)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rel)
}

// POST /v1/relationships/{id}/terminate
func (h *RelationshipHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rel, err := h.relationshipService.TerminateRelationship(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rel)
}

// GET /v1/relationships/{id}/sessions?limit=&offset=
// Sessions are listed newest first.
func (h *RelationshipHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)

	sessions, err := h.relationshipService.ListSessions(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": paginate(sessions, page),
		"total":    len(sessions),
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// POST /v1/relationships/{id}/sessions
func (h *RelationshipHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessionService.StartSession(
		r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), audit.ClientIP(r),
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}
