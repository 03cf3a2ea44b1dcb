package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/link-server-go/internal/middleware"
	"github.com/openclaw/link-server-go/internal/service"
)

type PairingHandler struct {
	pairingService *service.PairingService
	validateGuard  func(http.Handler) http.Handler
}

// NewPairingHandler builds the pairing code routes. validateGuard, when set,
// wraps code validation, the one lookup a caller can repeat cheaply.
func NewPairingHandler(pairingService *service.PairingService, validateGuard func(http.Handler) http.Handler) *PairingHandler {
	return &PairingHandler{pairingService: pairingService, validateGuard: validateGuard}
}

func (h *PairingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Generate)
	r.Get("/", h.List)
	r.Group(func(r chi.Router) {
		if h.validateGuard != nil {
			r.Use(h.validateGuard)
		}
		r.Get("/{code}", h.Validate)
	})
	r.Post("/{code}/redeem", h.Redeem)
	r.Post("/{code}/revoke", h.Revoke)

	return r
}

// POST /v1/pairing-codes
func (h *PairingHandler) Generate(w http.ResponseWriter, r *http.Request) {
	opts := service.DefaultGenerateCodeOptions()
	if err := decodeJSON(r, &opts); err != nil {
		writeError(w, err)
		return
	}

	generated, err := h.pairingService.GenerateCode(r.Context(), middleware.GetUserID(r.Context()), opts)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, generated)
}

// GET /v1/pairing-codes
func (h *PairingHandler) List(w http.ResponseWriter, r *http.Request) {
	codes, err := h.pairingService.ListActiveCodes(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

// GET /v1/pairing-codes/{code}
func (h *PairingHandler) Validate(w http.ResponseWriter, r *http.Request) {
	validation, err := h.pairingService.ValidateCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, validation)
}

// POST /v1/pairing-codes/{code}/redeem
func (h *PairingHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var opts service.RedeemOptions
	if err := decodeJSON(r, &opts); err != nil {
		writeError(w, err)
		return
	}

	rel, err := h.pairingService.RedeemCode(r.Context(), chi.URLParam(r, "code"), middleware.GetUserID(r.Context()), opts)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rel)
}

// POST /v1/pairing-codes/{code}/revoke
func (h *PairingHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.pairingService.RevokeCode(r.Context(), chi.URLParam(r, "code"), middleware.GetUserID(r.Context())); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
