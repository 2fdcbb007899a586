package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitpath/advisory-engine/internal/cache"
	"github.com/admitpath/advisory-engine/internal/llm"
	"github.com/admitpath/advisory-engine/internal/middleware"
	"github.com/admitpath/advisory-engine/internal/model"
	"github.com/admitpath/advisory-engine/internal/queue"
	"github.com/admitpath/advisory-engine/internal/repository"
	"github.com/admitpath/advisory-engine/internal/service"
	"github.com/admitpath/advisory-engine/pkg/logger"
)

// scriptedLLM streams a fixed reply one word at a time.
type scriptedLLM struct {
	reply string
	err   error
}

func (s *scriptedLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: s.reply, Model: "scripted"}, nil
}

func (s *scriptedLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	for i, word := range strings.SplitAfter(s.reply, " ") {
		if err := cb(word, i); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Content: s.reply, Model: "scripted", TokensOut: len(s.reply) / 4}, nil
}

func (s *scriptedLLM) Name() string { return "scripted" }

// recordingQueue captures enqueued tasks instead of running them.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (q *recordingQueue) Enqueue(ctx context.Context, task queue.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

func (q *recordingQueue) snapshot() []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Task(nil), q.tasks...)
}

type chatFixture struct {
	handler       *ChatHandler
	conversations *repository.MemoryConversationRepository
	messages      *repository.MemoryMessageRepository
	contexts      *repository.MemoryStudentContextRepository
	queue         *recordingQueue
	llm           *scriptedLLM
}

func newChatFixture() *chatFixture {
	conversations := repository.NewMemoryConversationRepository()
	messages := repository.NewMemoryMessageRepository()
	contexts := repository.NewMemoryStudentContextRepository()
	profiles := repository.NewMemoryProfileRepository()
	contextCache := cache.New(time.Minute, time.Minute)
	log := logger.NewNop()

	lifecycle := service.NewLifecycleService(conversations, contexts, 4*time.Hour, log)
	assembler := service.NewAssemblerService(profiles, contexts, contextCache, log)
	client := &scriptedLLM{reply: "Start with your strongest anecdote."}
	q := &recordingQueue{}

	return &chatFixture{
		handler:       NewChatHandler(lifecycle, assembler, conversations, messages, client, q, log),
		conversations: conversations,
		messages:      messages,
		contexts:      contexts,
		queue:         q,
		llm:           client,
	}
}

func authedRequest(t *testing.T, method, target, studentID string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	ctx := context.WithValue(req.Context(), middleware.StudentIDKey, studentID)
	return req.WithContext(ctx)
}

func TestTurnStreamsSessionTokensAndDone(t *testing.T) {
	f := newChatFixture()
	req := authedRequest(t, http.MethodPost, "/api/v1/chat/turn", "student-1",
		model.ChatTurnRequest{Content: "How do I open my essay?", Mode: "essay"})
	rec := httptest.NewRecorder()

	f.handler.Turn(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: session")
	assert.Contains(t, body, `"is_new":true`)
	assert.Contains(t, body, "event: token")
	assert.Contains(t, body, "event: sidebar")
	assert.Contains(t, body, "event: done")

	// Both turns persisted, both counted.
	candidates, err := f.conversations.FindSummarizationCandidates(context.Background(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	msgs, err := f.messages.ListByConversation(context.Background(), candidates[0].ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Start with your strongest anecdote.", msgs[1].Content)

	conv, err := f.conversations.Get(context.Background(), candidates[0].ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)
}

func TestTurnSecondCallResumesConversation(t *testing.T) {
	f := newChatFixture()

	for i := 0; i < 2; i++ {
		req := authedRequest(t, http.MethodPost, "/api/v1/chat/turn", "student-1",
			model.ChatTurnRequest{Content: fmt.Sprintf("turn %d", i)})
		rec := httptest.NewRecorder()
		f.handler.Turn(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		if i == 1 {
			assert.Contains(t, rec.Body.String(), `"is_new":false`)
		}
	}

	sc, err := f.contexts.Get(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sc.TotalConversations)
}

func TestTurnRejectsEmptyContent(t *testing.T) {
	f := newChatFixture()
	req := authedRequest(t, http.MethodPost, "/api/v1/chat/turn", "student-1",
		model.ChatTurnRequest{Content: ""})
	rec := httptest.NewRecorder()

	f.handler.Turn(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTurnRejectsInvalidBody(t *testing.T) {
	f := newChatFixture()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/turn", strings.NewReader("{not json"))
	req = req.WithContext(context.WithValue(req.Context(), middleware.StudentIDKey, "student-1"))
	rec := httptest.NewRecorder()

	f.handler.Turn(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTurnLLMFailureSendsErrorEventAfterPersistingUserMessage(t *testing.T) {
	f := newChatFixture()
	f.llm.err = fmt.Errorf("upstream unavailable")

	req := authedRequest(t, http.MethodPost, "/api/v1/chat/turn", "student-1",
		model.ChatTurnRequest{Content: "hello"})
	rec := httptest.NewRecorder()
	f.handler.Turn(rec, req)

	assert.Contains(t, rec.Body.String(), "event: error")

	candidates, err := f.conversations.FindSummarizationCandidates(context.Background(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	msgs, err := f.messages.ListByConversation(context.Background(), candidates[0].ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
}

func TestEndMarksOwnConversationAndEnqueues(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	turn := authedRequest(t, http.MethodPost, "/api/v1/chat/turn", "student-1",
		model.ChatTurnRequest{Content: "hello"})
	f.handler.Turn(httptest.NewRecorder(), turn)

	candidates, err := f.conversations.FindSummarizationCandidates(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	convID := candidates[0].ConversationID

	req := authedRequest(t, http.MethodPost, "/api/v1/chat/end", "student-1",
		model.EndSessionRequest{ConversationID: convID})
	rec := httptest.NewRecorder()
	f.handler.End(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	conv, err := f.conversations.Get(ctx, convID)
	require.NoError(t, err)
	assert.NotNil(t, conv.EndedAt)

	tasks := f.queue.snapshot()
	require.Len(t, tasks, 1)
	assert.Equal(t, convID, tasks[0].ConversationID)
	assert.Equal(t, "student-1", tasks[0].StudentID)
}

func TestEndIgnoresForeignConversation(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	turn := authedRequest(t, http.MethodPost, "/api/v1/chat/turn", "student-1",
		model.ChatTurnRequest{Content: "hello"})
	f.handler.Turn(httptest.NewRecorder(), turn)

	candidates, err := f.conversations.FindSummarizationCandidates(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	convID := candidates[0].ConversationID

	req := authedRequest(t, http.MethodPost, "/api/v1/chat/end", "intruder",
		model.EndSessionRequest{ConversationID: convID})
	rec := httptest.NewRecorder()
	f.handler.End(rec, req)

	// Still 202, but nothing happened.
	assert.Equal(t, http.StatusAccepted, rec.Code)
	conv, err := f.conversations.Get(ctx, convID)
	require.NoError(t, err)
	assert.Nil(t, conv.EndedAt)
	assert.Empty(t, f.queue.snapshot())
}

func TestEndRejectsMalformedConversationID(t *testing.T) {
	f := newChatFixture()
	req := authedRequest(t, http.MethodPost, "/api/v1/chat/end", "student-1",
		model.EndSessionRequest{ConversationID: "not-a-uuid"})
	rec := httptest.NewRecorder()

	f.handler.End(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
