package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitpath/advisory-engine/internal/model"
	"github.com/admitpath/advisory-engine/internal/repository"
	"github.com/admitpath/advisory-engine/pkg/logger"
)

const (
	digestJSON = `{"summary": "Maya worked through her essay hook and committed to a full draft.",
		"headline": "Essay hook workshop",
		"topics": ["essay"],
		"decisions": ["open with the robotics story"],
		"action_items": ["full draft by Friday"]}`
	mergeJSON = `{"recent_sessions": "Mar 10, 2026: essay hook workshop.",
		"student_understanding": "Strong writer, needs deadlines.",
		"open_commitments": "Full essay draft by Friday."}`
)

// seedConversation creates a conversation with n persisted messages and
// returns its ID.
func seedConversation(t *testing.T, env *testEnv, studentID string, n int) string {
	t.Helper()
	ctx := context.Background()
	lc := env.lifecycle(4 * time.Hour)

	res, err := lc.GetOrCreateActive(ctx, studentID, "")
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		require.NoError(t, env.messages.Insert(ctx, &model.Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: res.Conversation.ID,
			Role:           role,
			Content:        fmt.Sprintf("%s message %d", studentID, i),
			CreatedAt:      env.clock.Now(),
		}))
		require.NoError(t, lc.RecordActivity(ctx, res.Conversation.ID))
	}
	return res.Conversation.ID
}

func TestSummarizeOneStoresSummaryAndMergesMaster(t *testing.T) {
	env := newTestEnv()
	convID := seedConversation(t, env, "student-1", 4)
	client := &fakeLLM{responses: []string{digestJSON, mergeJSON}}
	svc := env.summarizer(client)
	ctx := context.Background()

	require.NoError(t, svc.SummarizeOne(ctx, convID, "student-1"))
	assert.Equal(t, 2, client.callCount())

	conv, err := env.conversations.Get(ctx, convID)
	require.NoError(t, err)
	require.NotNil(t, conv.Summary)
	assert.Contains(t, *conv.Summary, "essay hook")
	require.NotNil(t, conv.SummaryForUser)
	assert.Equal(t, "Essay hook workshop", conv.SummaryForUser.Headline)
	assert.Equal(t, []string{"full draft by Friday"}, conv.SummaryForUser.ActionItems)

	sc, err := env.contexts.Get(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, "Strong writer, needs deadlines.", sc.StudentUnderstanding)
	assert.Equal(t, "Full essay draft by Friday.", sc.OpenCommitments)
	assert.Equal(t, 4, sc.TotalMessages)
	require.NotNil(t, sc.MasterSummaryUpdatedAt)
}

func TestSummarizeOneIsIdempotent(t *testing.T) {
	env := newTestEnv()
	convID := seedConversation(t, env, "student-1", 2)
	client := &fakeLLM{responses: []string{digestJSON, mergeJSON}}
	svc := env.summarizer(client)
	ctx := context.Background()

	require.NoError(t, svc.SummarizeOne(ctx, convID, "student-1"))
	require.NoError(t, svc.SummarizeOne(ctx, convID, "student-1"))

	// The redelivery makes no LLM calls and does not double-count messages.
	assert.Equal(t, 2, client.callCount())
	sc, err := env.contexts.Get(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 2, sc.TotalMessages)
}

func TestSummarizeOneSkipsEmptyConversation(t *testing.T) {
	env := newTestEnv()
	convID := seedConversation(t, env, "student-1", 0)
	client := &fakeLLM{}
	svc := env.summarizer(client)
	ctx := context.Background()

	require.NoError(t, svc.SummarizeOne(ctx, convID, "student-1"))
	assert.Zero(t, client.callCount())

	conv, err := env.conversations.Get(ctx, convID)
	require.NoError(t, err)
	assert.Nil(t, conv.Summary)
}

func TestSummarizeOneLLMFailureLeavesSummaryUnset(t *testing.T) {
	env := newTestEnv()
	convID := seedConversation(t, env, "student-1", 2)
	client := &fakeLLM{errs: []error{errors.New("upstream timeout")}}
	svc := env.summarizer(client)
	ctx := context.Background()

	err := svc.SummarizeOne(ctx, convID, "student-1")
	require.Error(t, err)

	conv, getErr := env.conversations.Get(ctx, convID)
	require.NoError(t, getErr)
	assert.Nil(t, conv.Summary)

	// The conversation stays eligible for a retry via the sweep.
	env.clock.Advance(5 * time.Hour)
	candidates, err := env.conversations.FindSummarizationCandidates(ctx, env.clock.Now().Add(-4*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, convID, candidates[0].ConversationID)
}

func TestSummarizeOneMalformedDigestFallsBackToRawText(t *testing.T) {
	env := newTestEnv()
	convID := seedConversation(t, env, "student-1", 2)
	raw := "Maya made real progress on her essay today.\nNo JSON here."
	client := &fakeLLM{responses: []string{raw, mergeJSON}}
	svc := env.summarizer(client)
	ctx := context.Background()

	require.NoError(t, svc.SummarizeOne(ctx, convID, "student-1"))

	conv, err := env.conversations.Get(ctx, convID)
	require.NoError(t, err)
	require.NotNil(t, conv.Summary)
	assert.Equal(t, raw, *conv.Summary)
	require.NotNil(t, conv.SummaryForUser)
	assert.Equal(t, "Maya made real progress on her essay today.", conv.SummaryForUser.Headline)
}

func TestSummarizeOneMergeFailureUsesDeterministicFallback(t *testing.T) {
	env := newTestEnv()
	convID := seedConversation(t, env, "student-1", 2)

	// Seed a prior record so the fallback has something to carry over.
	require.NoError(t, env.contexts.UpsertMasterSummary(context.Background(), &model.StudentContext{
		StudentID:            "student-1",
		StudentUnderstanding: "Prefers concrete checklists.",
		OpenCommitments:      "Ask two teachers for recommendations.",
	}, 0))

	client := &fakeLLM{
		responses: []string{digestJSON, ""},
		errs:      []error{nil, errors.New("merge call failed")},
	}
	svc := env.summarizer(client)
	ctx := context.Background()

	require.NoError(t, svc.SummarizeOne(ctx, convID, "student-1"))

	conv, err := env.conversations.Get(ctx, convID)
	require.NoError(t, err)
	require.NotNil(t, conv.Summary)

	sc, err := env.contexts.Get(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, "Prefers concrete checklists.", sc.StudentUnderstanding)
	assert.Equal(t, "Ask two teachers for recommendations.", sc.OpenCommitments)
	assert.Contains(t, sc.RecentSessions, env.clock.Now().Format("Jan 2, 2006"))
	assert.Contains(t, sc.RecentSessions, "essay hook")
	assert.Equal(t, 2, sc.TotalMessages)
}

// flakyContextRepo fails reads while leaving the backing store intact.
type flakyContextRepo struct {
	*repository.MemoryStudentContextRepository
	getErr error
}

func (r *flakyContextRepo) Get(ctx context.Context, studentID string) (*model.StudentContext, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.MemoryStudentContextRepository.Get(ctx, studentID)
}

func TestSummarizeOneContextReadFailureKeepsMasterRecord(t *testing.T) {
	env := newTestEnv()
	convID := seedConversation(t, env, "student-1", 2)

	require.NoError(t, env.contexts.UpsertMasterSummary(context.Background(), &model.StudentContext{
		StudentID:            "student-1",
		StudentUnderstanding: "Years of accumulated understanding.",
		OpenCommitments:      "Finish FAFSA by March 1.",
	}, 7))

	client := &fakeLLM{responses: []string{digestJSON, mergeJSON}}
	svc := NewSummarizerService(env.conversations, env.messages,
		&flakyContextRepo{MemoryStudentContextRepository: env.contexts, getErr: errors.New("connection reset")},
		env.profiles, client, time.Second, env.cache.Invalidate, logger.NewNop())
	svc.now = env.clock.Now

	require.NoError(t, svc.SummarizeOne(context.Background(), convID, "student-1"))

	// The conversation summary lands; the master record stays as it was
	// rather than being rebuilt from a blank slate.
	conv, err := env.conversations.Get(context.Background(), convID)
	require.NoError(t, err)
	require.NotNil(t, conv.Summary)

	sc, err := env.contexts.Get(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, "Years of accumulated understanding.", sc.StudentUnderstanding)
	assert.Equal(t, "Finish FAFSA by March 1.", sc.OpenCommitments)
	assert.Equal(t, 7, sc.TotalMessages)
}

func TestSummarizeOneRefreshesQuickContextFromProfile(t *testing.T) {
	env := newTestEnv()
	seedStudent(env, "student-1")
	convID := seedConversation(t, env, "student-1", 2)
	client := &fakeLLM{responses: []string{digestJSON, mergeJSON}}
	svc := env.summarizer(client)

	require.NoError(t, svc.SummarizeOne(context.Background(), convID, "student-1"))

	sc, err := env.contexts.Get(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Contains(t, sc.QuickContext, "Maya")
	assert.Contains(t, sc.QuickContext, "Lincoln High")
}

func TestSummarizeOneInvalidatesCachedContext(t *testing.T) {
	env := newTestEnv()
	convID := seedConversation(t, env, "student-1", 2)
	env.assembler().Warmup(context.Background(), "student-1", "")
	require.NotNil(t, env.cache.GetContext("student-1"))

	client := &fakeLLM{responses: []string{digestJSON, mergeJSON}}
	svc := env.summarizer(client)
	require.NoError(t, svc.SummarizeOne(context.Background(), convID, "student-1"))

	assert.Nil(t, env.cache.GetContext("student-1"))
}

func TestProcessPendingSummarizesOldestFirst(t *testing.T) {
	env := newTestEnv()
	oldID := seedConversation(t, env, "student-1", 2)
	env.clock.Advance(time.Hour)
	newID := seedConversation(t, env, "student-2", 2)
	env.clock.Advance(5 * time.Hour)

	client := &fakeLLM{responses: []string{digestJSON, mergeJSON, digestJSON, mergeJSON}}
	svc := env.summarizer(client)
	ctx := context.Background()

	processed, err := svc.ProcessPending(ctx, env.clock.Now().Add(-4*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	// The older conversation's transcript goes out first.
	require.GreaterOrEqual(t, client.callCount(), 4)
	assert.Contains(t, client.calls[0].Messages[0].Content, "student-1 message 0")

	for _, id := range []string{oldID, newID} {
		conv, err := env.conversations.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, conv.Summary, id)
	}
}

func TestProcessPendingSkipsFailuresAndContinues(t *testing.T) {
	env := newTestEnv()
	_ = seedConversation(t, env, "student-1", 2)
	env.clock.Advance(time.Minute)
	okID := seedConversation(t, env, "student-2", 2)
	env.clock.Advance(5 * time.Hour)

	client := &fakeLLM{
		responses: []string{"", digestJSON, mergeJSON},
		errs:      []error{errors.New("first transcript fails")},
	}
	svc := env.summarizer(client)

	processed, err := svc.ProcessPending(context.Background(), env.clock.Now().Add(-4*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	conv, err := env.conversations.Get(context.Background(), okID)
	require.NoError(t, err)
	assert.NotNil(t, conv.Summary)
}
