package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
	"github.com/pipsignal/backend/internal/middleware"
	"github.com/pipsignal/backend/pkg/response"
	"github.com/pipsignal/backend/pkg/validator"
)

type TokenHandler struct {
	service *domain.TokenService
	logger  *zap.Logger
}

func NewTokenHandler(service *domain.TokenService, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{service: service, logger: logger}
}

// Register handles POST /push-tokens
func (h *TokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req domain.RegisterTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validator.Struct(req); err != nil {
		writeError(w, h.logger, err, "register push token")
		return
	}

	token, err := h.service.Register(r.Context(), userID, req)
	if err != nil {
		writeError(w, h.logger, err, "register push token")
		return
	}
	response.Created(w, token)
}

// Unregister handles DELETE /push-tokens with body {"token": "..."}
func (h *TokenHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.service.Unregister(r.Context(), userID, req.Token); err != nil {
		writeError(w, h.logger, err, "remove push token")
		return
	}
	response.NoContent(w)
}
