package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
	"github.com/pipsignal/backend/internal/middleware"
	"github.com/pipsignal/backend/pkg/response"
	"github.com/pipsignal/backend/pkg/validator"
)

type NotificationHandler struct {
	service *domain.NotificationService
	logger  *zap.Logger
}

func NewNotificationHandler(service *domain.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger,
	}
}

// List handles GET /notifications?limit&offset&type&unread_only
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	params, err := parseListParams(r)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	if err := validator.Struct(params); err != nil {
		writeError(w, h.logger, err, "list notifications")
		return
	}

	notifs, err := h.service.List(r.Context(), userID, params)
	if err != nil {
		writeError(w, h.logger, err, "fetch notifications")
		return
	}
	if notifs == nil {
		notifs = []*domain.Notification{}
	}

	response.OK(w, notifs)
}

func parseListParams(r *http.Request) (domain.ListParams, error) {
	q := r.URL.Query()
	var params domain.ListParams

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return params, errInvalidQuery("limit")
		}
		params.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return params, errInvalidQuery("offset")
		}
		params.Offset = offset
	}
	if v := q.Get("type"); v != "" {
		t := domain.NotificationType(v)
		params.Type = &t
	}
	if v := q.Get("unread_only"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			return params, errInvalidQuery("unread_only")
		}
		params.UnreadOnly = unread
	}
	return params, nil
}

func errInvalidQuery(param string) error { return fmt.Errorf("invalid %s", param) }

// UnreadCount handles GET /notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	count, err := h.service.CountUnread(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "count notifications")
		return
	}

	response.OK(w, map[string]int{"count": count})
}

// MarkRead handles PUT /notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid notification id")
		return
	}

	if err := h.service.MarkRead(r.Context(), userID, id); err != nil {
		writeError(w, h.logger, err, "update notification")
		return
	}

	response.OK(w, map[string]interface{}{"id": id, "read": true})
}

// MarkAllRead handles PUT /notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	n, err := h.service.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "update notifications")
		return
	}

	response.OK(w, map[string]int64{"updated": n})
}

// Delete handles DELETE /notifications/{id}. The row is kept and hidden.
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid notification id")
		return
	}

	if err := h.service.SoftDelete(r.Context(), userID, id); err != nil {
		writeError(w, h.logger, err, "delete notification")
		return
	}

	response.OK(w, map[string]interface{}{"id": id, "deleted": true})
}

// Create handles POST /internal/notifications for originators (signal and event publishing,
// admin announcements, system jobs).
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.NewNotification
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validator.Struct(req); err != nil {
		writeError(w, h.logger, err, "create notification")
		return
	}

	n, err := h.service.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err, "create notification")
		return
	}

	h.logger.Info("notification created",
		zap.String("notification_id", n.ID.String()),
		zap.String("user_id", n.UserID.String()),
		zap.String("type", string(n.Type)),
	)
	response.Created(w, n)
}
