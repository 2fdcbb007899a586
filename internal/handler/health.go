package handler

import (
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/admitpath/advisory-engine/internal/queue"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db   *sqlx.DB
	nats *queue.NATSQueue
}

// NewHealthHandler creates a new health handler. db and nats are nil when
// the process runs on in-memory stores or the inline queue.
func NewHealthHandler(db *sqlx.DB, nats *queue.NATSQueue) *HealthHandler {
	return &HealthHandler{db: db, nats: nats}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unreachable",
			})
			return
		}
	}
	if h.nats != nil && !h.nats.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
