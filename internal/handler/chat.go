package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/admitpath/advisory-engine/internal/llm"
	"github.com/admitpath/advisory-engine/internal/middleware"
	"github.com/admitpath/advisory-engine/internal/model"
	"github.com/admitpath/advisory-engine/internal/queue"
	"github.com/admitpath/advisory-engine/internal/repository"
	"github.com/admitpath/advisory-engine/internal/service"
	"github.com/admitpath/advisory-engine/pkg/logger"
	"github.com/admitpath/advisory-engine/pkg/metrics"
)

// ChatHandler serves the streaming chat surface: one SSE turn at a time,
// session resolution on every turn, and best-effort lifecycle signals.
type ChatHandler struct {
	lifecycle     *service.LifecycleService
	assembler     *service.AssemblerService
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	llm           llm.Client
	queue         queue.Queue
	logger        *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(
	lifecycle *service.LifecycleService,
	assembler *service.AssemblerService,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	llmClient llm.Client,
	q queue.Queue,
	log *logger.Logger,
) *ChatHandler {
	return &ChatHandler{
		lifecycle:     lifecycle,
		assembler:     assembler,
		conversations: conversations,
		messages:      messages,
		llm:           llmClient,
		queue:         q,
		logger:        log,
	}
}

// sessionEvent opens every turn's SSE stream.
type sessionEvent struct {
	ConversationID string `json:"conversation_id"`
	IsNew          bool   `json:"is_new"`
	Greeting       string `json:"greeting,omitempty"`
}

type tokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

type doneEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	TokensOut      int    `json:"tokens_out,omitempty"`
}

// Turn handles POST /api/v1/chat/turn. The response is an SSE stream:
// session, then tokens, then sidebar and done. A dropped client keeps
// whatever partial assistant text already streamed.
func (h *ChatHandler) Turn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	studentID := middleware.GetStudentID(ctx)

	var req model.ChatTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMode(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	active, err := h.lifecycle.GetOrCreateActive(ctx, studentID, req.Mode)
	if err != nil {
		h.logger.Error("failed to resolve active conversation", "student_id", studentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve conversation")
		return
	}
	conv := active.Conversation

	for _, staleID := range active.StaleConversationIDs {
		h.queue.Enqueue(ctx, queue.Task{ConversationID: staleID, StudentID: studentID})
	}

	var recent []model.Message
	if !active.IsNew && conv.MessageCount > 0 {
		recent, err = h.messages.ListByConversation(ctx, conv.ID, 20)
		if err != nil {
			h.logger.Warn("failed to load conversation history", "conversation_id", conv.ID, "error", err)
			recent = nil
		}
	}

	ac, err := h.assembler.AssembleCached(ctx, studentID, conv.Mode, recent)
	if err != nil {
		h.logger.Error("failed to assemble context", "student_id", studentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to assemble context")
		return
	}

	userMsg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        req.Content,
		Intent:         req.Intent,
		CreatedAt:      time.Now(),
	}
	if err := h.messages.Insert(ctx, userMsg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}
	if err := h.lifecycle.RecordActivity(ctx, conv.ID); err != nil {
		h.logger.Error("failed to record activity", "conversation_id", conv.ID, "error", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	session := sessionEvent{ConversationID: conv.ID, IsNew: active.IsNew}
	if active.IsNew {
		session.Greeting = h.assembler.Greeting(ctx, studentID)
	}
	sendSSEEvent(w, flusher, "session", session)

	assistantText, resp, streamErr := h.streamCompletion(ctx, ac, recent, req.Content, w, flusher)
	if streamErr != nil && assistantText == "" {
		h.logger.Error("completion failed", "conversation_id", conv.ID, "error", streamErr)
		sendSSEEvent(w, flusher, "error", map[string]string{"message": "advisor is unavailable, try again shortly"})
		return
	}

	// Persist whatever the student saw, even when they navigated away
	// mid-stream.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	assistantMsg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Content:        assistantText,
		CreatedAt:      time.Now(),
	}
	if err := h.messages.Insert(persistCtx, assistantMsg); err != nil {
		h.logger.Error("failed to persist assistant message", "conversation_id", conv.ID, "error", err)
	} else {
		if err := h.lifecycle.RecordActivity(persistCtx, conv.ID); err != nil {
			h.logger.Error("failed to record activity", "conversation_id", conv.ID, "error", err)
		}
		metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()
	}

	if streamErr != nil {
		// Client gone; nothing left to write.
		return
	}

	sendSSEEvent(w, flusher, "sidebar", ac.Sidebar)
	done := doneEvent{ConversationID: conv.ID, MessageID: assistantMsg.ID}
	if resp != nil {
		done.TokensOut = resp.TokensOut
	}
	sendSSEEvent(w, flusher, "done", done)
}

func (h *ChatHandler) streamCompletion(ctx context.Context, ac *model.AssembledContext, recent []model.Message, content string, w http.ResponseWriter, flusher http.Flusher) (string, *llm.CompletionResponse, error) {
	msgs := make([]llm.ChatMessage, 0, len(recent)+1)
	for _, m := range recent {
		if m.Role == model.RoleUser || m.Role == model.RoleAssistant {
			msgs = append(msgs, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	msgs = append(msgs, llm.ChatMessage{Role: string(model.RoleUser), Content: content})

	var assistantText string
	start := time.Now()
	resp, err := h.llm.CompleteStream(ctx, &llm.CompletionRequest{
		System:    ac.SystemPrompt,
		Messages:  msgs,
		MaxTokens: 2048,
	}, func(token string, index int) error {
		assistantText += token
		return sendSSEEvent(w, flusher, "token", tokenEvent{Token: token, Index: index})
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	var tokensIn, tokensOut int
	if resp != nil {
		tokensIn, tokensOut = resp.TokensIn, resp.TokensOut
	}
	metrics.RecordLLMCall("chat", h.llm.Name(), status, time.Since(start).Seconds(), tokensIn, tokensOut)
	return assistantText, resp, err
}

// End handles POST /api/v1/chat/end. Best-effort: fired from page unload,
// so the response is 202 regardless and failures only get logged.
func (h *ChatHandler) End(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	studentID := middleware.GetStudentID(ctx)

	var req model.EndSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Unknown or foreign conversation IDs are accepted and ignored; the
	// signal comes from page unload and is not worth an error round trip.
	conv, err := h.conversations.Get(ctx, req.ConversationID)
	if err == nil && conv.StudentID == studentID {
		if err := h.lifecycle.MarkEnded(ctx, req.ConversationID); err != nil {
			h.logger.Warn("failed to mark conversation ended",
				"conversation_id", req.ConversationID, "student_id", studentID, "error", err)
		} else {
			h.queue.Enqueue(ctx, queue.Task{ConversationID: req.ConversationID, StudentID: studentID})
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
