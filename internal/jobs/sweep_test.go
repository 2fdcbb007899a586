package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitpath/advisory-engine/internal/llm"
	"github.com/admitpath/advisory-engine/internal/model"
	"github.com/admitpath/advisory-engine/internal/repository"
	"github.com/admitpath/advisory-engine/internal/service"
	"github.com/admitpath/advisory-engine/pkg/logger"
)

type staticLLM struct{}

func (staticLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{
		Content: `{"summary": "s", "headline": "h", "recent_sessions": "r", "student_understanding": "u", "open_commitments": "c"}`,
	}, nil
}

func (s staticLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	return s.Complete(ctx, req)
}

func (staticLLM) Name() string { return "static" }

func TestSweepDrainsBacklogOnStart(t *testing.T) {
	convs := repository.NewMemoryConversationRepository()
	msgs := repository.NewMemoryMessageRepository()
	contexts := repository.NewMemoryStudentContextRepository()
	profiles := repository.NewMemoryProfileRepository()
	ctx := context.Background()

	staleAt := time.Now().Add(-6 * time.Hour)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("conv-%d", i)
		at := staleAt
		require.NoError(t, convs.Insert(ctx, &model.Conversation{
			ID:            id,
			StudentID:     fmt.Sprintf("student-%d", i),
			StartedAt:     staleAt,
			LastMessageAt: &at,
			MessageCount:  1,
		}))
		require.NoError(t, msgs.Insert(ctx, &model.Message{
			ID: id + "-m0", ConversationID: id, Role: model.RoleUser, Content: "hi",
		}))
	}

	summarizer := service.NewSummarizerService(convs, msgs, contexts, profiles,
		staticLLM{}, time.Second, nil, logger.NewNop())
	job := NewSweepJob(summarizer, 4*time.Hour, time.Hour, 10, logger.NewNop())

	job.Start()
	defer job.Stop()

	require.Eventually(t, func() bool {
		for i := 0; i < 3; i++ {
			conv, err := convs.Get(ctx, fmt.Sprintf("conv-%d", i))
			if err != nil || !conv.Summarized() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweepStopIsClean(t *testing.T) {
	convs := repository.NewMemoryConversationRepository()
	summarizer := service.NewSummarizerService(convs,
		repository.NewMemoryMessageRepository(),
		repository.NewMemoryStudentContextRepository(),
		repository.NewMemoryProfileRepository(),
		staticLLM{}, time.Second, nil, logger.NewNop())
	job := NewSweepJob(summarizer, 4*time.Hour, 10*time.Millisecond, 10, logger.NewNop())

	job.Start()
	time.Sleep(30 * time.Millisecond)
	assert.NotPanics(t, job.Stop)
}
