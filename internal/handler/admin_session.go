package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/openclaw/link-server-go/internal/errors"
	"github.com/openclaw/link-server-go/internal/middleware"
	"github.com/openclaw/link-server-go/internal/model"
	"github.com/openclaw/link-server-go/internal/service"
)

type AdminSessionHandler struct {
	sessionService *service.AdminSessionService
	controlService *service.ControlService
}

func NewAdminSessionHandler(
	sessionService *service.AdminSessionService,
	controlService *service.ControlService,
) *AdminSessionHandler {
	return &AdminSessionHandler{
		sessionService: sessionService,
		controlService: controlService,
	}
}

func (h *AdminSessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{id}", h.Status)
	r.Post("/{id}/touch", h.Touch)
	r.Post("/{id}/reauth", h.Reauth)
	r.Post("/{id}/end", h.End)
	r.Post("/{id}/authorize", h.Authorize)
	r.Post("/{id}/actions", h.Perform)

	return r
}

type actionRequest struct {
	Action  model.Action    `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func decodeAction(r *http.Request) (actionRequest, error) {
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if req.Action == "" {
		return req, apperrors.InvalidInput("action", "is required")
	}
	return req, nil
}

// GET /v1/admin-sessions/{id}
func (h *AdminSessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.sessionService.Status(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// POST /v1/admin-sessions/{id}/touch
func (h *AdminSessionHandler) Touch(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessionService.TouchSession(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /v1/admin-sessions/{id}/reauth
// The bearer token's auth time is the proof of recent authentication.
func (h *AdminSessionHandler) Reauth(w http.ResponseWriter, r *http.Request) {
	var authTime time.Time
	if identity := middleware.GetIdentity(r.Context()); identity != nil {
		authTime = identity.AuthTime
	}

	session, err := h.sessionService.Reauthenticate(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), authTime)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /v1/admin-sessions/{id}/end
func (h *AdminSessionHandler) End(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessionService.EndSession(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), model.EndReasonExplicit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /v1/admin-sessions/{id}/authorize
func (h *AdminSessionHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAction(r)
	if err != nil {
		writeError(w, err)
		return
	}

	decision, err := h.controlService.Authorize(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.Action)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// POST /v1/admin-sessions/{id}/actions
func (h *AdminSessionHandler) Perform(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAction(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.controlService.Perform(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.Action, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
