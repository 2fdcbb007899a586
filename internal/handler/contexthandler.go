package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/admitpath/advisory-engine/internal/middleware"
	"github.com/admitpath/advisory-engine/internal/model"
	"github.com/admitpath/advisory-engine/internal/service"
	"github.com/admitpath/advisory-engine/pkg/logger"
)

// ContextHandler exposes the assembled context: a warmup trigger for clients
// that know a session is coming, and a read endpoint for the sidebar.
type ContextHandler struct {
	assembler *service.AssemblerService
	logger    *logger.Logger
}

// NewContextHandler creates a new context handler.
func NewContextHandler(assembler *service.AssemblerService, log *logger.Logger) *ContextHandler {
	return &ContextHandler{assembler: assembler, logger: log}
}

// Warmup handles POST /api/v1/context/warmup. Always 202: assembly happens
// in the background and a failed warmup costs only the latency it would
// have saved.
func (h *ContextHandler) Warmup(w http.ResponseWriter, r *http.Request) {
	studentID := middleware.GetStudentID(r.Context())

	var req model.WarmupRequest
	if r.Body != nil {
		// A missing or malformed body just means default mode.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.assembler.Warmup(ctx, studentID, req.Mode)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "warming"})
}

// Get handles GET /api/v1/context. Serves the cached context when present,
// assembling on demand otherwise.
func (h *ContextHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	studentID := middleware.GetStudentID(ctx)
	mode := r.URL.Query().Get("mode")

	ac, err := h.assembler.AssembleCached(ctx, studentID, mode, nil)
	if err != nil {
		h.logger.Error("failed to assemble context", "student_id", studentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to assemble context")
		return
	}
	writeJSON(w, http.StatusOK, ac)
}
