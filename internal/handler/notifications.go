package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/admitpath/advisory-engine/internal/service"
	"github.com/admitpath/advisory-engine/pkg/logger"
)

// NotificationHandler exposes the notification decision engine to the
// delivery system. Decisions only; nothing is sent from here.
type NotificationHandler struct {
	notifier     *service.NotifierService
	defaultSince time.Duration
	defaultLimit int
	logger       *logger.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(notifier *service.NotifierService, defaultSince time.Duration, defaultLimit int, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifier:     notifier,
		defaultSince: defaultSince,
		defaultLimit: defaultLimit,
		logger:       log,
	}
}

// Decide handles POST /api/v1/notifications/decide. Optional query params:
// window (duration) and limit.
func (h *NotificationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	window := h.defaultSince
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid window duration")
			return
		}
		window = d
	}
	limit := h.defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	decisions, err := h.notifier.DecideBatch(r.Context(), window, limit)
	if err != nil {
		h.logger.Error("notification batch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to evaluate notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}
