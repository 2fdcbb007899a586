package service

import (
	"context"
	"sync"
	"time"

	"github.com/admitpath/advisory-engine/internal/cache"
	"github.com/admitpath/advisory-engine/internal/llm"
	"github.com/admitpath/advisory-engine/internal/repository"
	"github.com/admitpath/advisory-engine/pkg/logger"
)

// testClock is a controllable time source for the services' now hook.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock {
	return &testClock{now: at}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeLLM replays scripted responses in order. A nil entry in errs means
// that call succeeds with the matching response.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []*llm.CompletionRequest
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, req)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	content := ""
	if idx < len(f.responses) {
		content = f.responses[idx]
	} else if n := len(f.responses); n > 0 {
		content = f.responses[n-1]
	}
	return &llm.CompletionResponse{Content: content, Model: "fake"}, nil
}

func (f *fakeLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	resp, err := f.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := cb(resp.Content, 0); err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// testEnv bundles the in-memory collaborators most tests need.
type testEnv struct {
	clock         *testClock
	conversations *repository.MemoryConversationRepository
	messages      *repository.MemoryMessageRepository
	contexts      *repository.MemoryStudentContextRepository
	profiles      *repository.MemoryProfileRepository
	cache         *cache.ContextCache
}

func newTestEnv() *testEnv {
	return &testEnv{
		clock:         newTestClock(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)),
		conversations: repository.NewMemoryConversationRepository(),
		messages:      repository.NewMemoryMessageRepository(),
		contexts:      repository.NewMemoryStudentContextRepository(),
		profiles:      repository.NewMemoryProfileRepository(),
		cache:         cache.New(time.Minute, time.Minute),
	}
}

func (e *testEnv) lifecycle(window time.Duration) *LifecycleService {
	s := NewLifecycleService(e.conversations, e.contexts, window, logger.NewNop())
	s.now = e.clock.Now
	return s
}

func (e *testEnv) assembler() *AssemblerService {
	s := NewAssemblerService(e.profiles, e.contexts, e.cache, logger.NewNop())
	s.now = e.clock.Now
	return s
}

func (e *testEnv) summarizer(client llm.Client) *SummarizerService {
	s := NewSummarizerService(e.conversations, e.messages, e.contexts, e.profiles,
		client, time.Second, e.cache.Invalidate, logger.NewNop())
	s.now = e.clock.Now
	return s
}

func (e *testEnv) notifier(client llm.Client) *NotifierService {
	s := NewNotifierService(e.contexts, e.assembler(), client, time.Second, logger.NewNop())
	s.now = e.clock.Now
	return s
}
