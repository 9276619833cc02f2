package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
	"github.com/pipsignal/backend/internal/middleware"
	"github.com/pipsignal/backend/pkg/response"
)

type PreferenceHandler struct {
	service *domain.PreferenceService
	logger  *zap.Logger
}

func NewPreferenceHandler(service *domain.PreferenceService, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{service: service, logger: logger}
}

// Get handles GET /notification-preferences. Flags the user never set are null.
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	prefs, err := h.service.Get(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "load preferences")
		return
	}
	response.OK(w, prefs)
}

// Update handles PUT /notification-preferences. Every flag is replaced; null clears it back
// to unset.
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req domain.PushPreferences
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	prefs, err := h.service.Update(r.Context(), userID, req)
	if err != nil {
		writeError(w, h.logger, err, "save preferences")
		return
	}
	response.OK(w, prefs)
}
