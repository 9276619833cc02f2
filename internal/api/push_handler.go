package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
	"github.com/pipsignal/backend/pkg/response"
)

// PushSender runs one fan-out.
type PushSender interface {
	Send(ctx context.Context, notificationID string) (*domain.PushResult, error)
}

// PushHandler serves the send-push-notification function. Its bodies are plain JSON objects,
// not the API envelope, because database webhooks and the web app call it directly.
type PushHandler struct {
	sender      PushSender
	functionKey string
	logger      *zap.Logger
}

func NewPushHandler(sender PushSender, functionKey string, logger *zap.Logger) *PushHandler {
	return &PushHandler{
		sender:      sender,
		functionKey: functionKey,
		logger:      logger,
	}
}

type sendPushRequest struct {
	NotificationID string `json:"notification_id"`
}

type pushErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Send handles POST /functions/v1/send-push-notification
func (h *PushHandler) Send(w http.ResponseWriter, r *http.Request) {
	if h.functionKey != "" && !h.authorized(r) {
		response.Plain(w, http.StatusUnauthorized, pushErrorBody{Error: "Unauthorized"})
		return
	}

	// An unreadable body is treated like a missing id.
	var req sendPushRequest
	_ = decodeJSON(w, r, &req)

	result, err := h.sender.Send(r.Context(), req.NotificationID)
	if err != nil {
		h.writePushError(w, req.NotificationID, err)
		return
	}

	switch result.Outcome {
	case domain.PushSkipped:
		response.Plain(w, http.StatusOK, map[string]string{"skipped": result.Reason})
	case domain.PushNoTokens:
		response.Plain(w, http.StatusOK, map[string]interface{}{"sent": 0, "message": result.Reason})
	default:
		response.Plain(w, http.StatusOK, map[string]int{"sent": result.Sent, "tokens": result.Tokens})
	}
}

func (h *PushHandler) writePushError(w http.ResponseWriter, notificationID string, err error) {
	var gwErr *domain.GatewayError
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		response.Plain(w, http.StatusBadRequest, pushErrorBody{Error: "notification_id required"})
	case errors.Is(err, domain.ErrNotFound):
		response.Plain(w, http.StatusNotFound, pushErrorBody{Error: "Notification not found"})
	case errors.As(err, &gwErr):
		response.Plain(w, http.StatusBadGateway, pushErrorBody{Error: "Expo push failed", Details: gwErr.Details()})
	default:
		h.logger.Error("push function failed", zap.String("notification_id", notificationID), zap.Error(err))
		response.Plain(w, http.StatusInternalServerError, pushErrorBody{Error: err.Error()})
	}
}

func (h *PushHandler) authorized(r *http.Request) bool {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.functionKey)) == 1
}
