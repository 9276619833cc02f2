package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/middleware"
	"github.com/pipsignal/backend/internal/realtime"
	"github.com/pipsignal/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Connections are authenticated by token, not by cookie, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type RealtimeHandler struct {
	hub    *realtime.Hub
	logger *zap.Logger
}

func NewRealtimeHandler(hub *realtime.Hub, logger *zap.Logger) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, logger: logger}
}

// Connect handles GET /realtime. The socket receives notification_change frames for the
// authenticated user.
func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Attach(conn, userID)
}
