package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/admitpath/advisory-engine/internal/llm"
	"github.com/admitpath/advisory-engine/internal/model"
	"github.com/admitpath/advisory-engine/internal/repository"
	"github.com/admitpath/advisory-engine/pkg/logger"
	"github.com/admitpath/advisory-engine/pkg/metrics"
)

// NotifierService decides which recently active students deserve a nudge.
// It decides only; delivery belongs to an outer system. When in doubt, and
// on any LLM failure, the answer is no notification.
type NotifierService struct {
	contexts   repository.StudentContextRepository
	assembler  *AssemblerService
	llm        llm.Client
	llmTimeout time.Duration
	logger     *logger.Logger

	now func() time.Time
}

// NewNotifierService creates a new notification decision engine.
func NewNotifierService(
	contexts repository.StudentContextRepository,
	assembler *AssemblerService,
	llmClient llm.Client,
	llmTimeout time.Duration,
	log *logger.Logger,
) *NotifierService {
	return &NotifierService{
		contexts:   contexts,
		assembler:  assembler,
		llm:        llmClient,
		llmTimeout: llmTimeout,
		logger:     log,
		now:        time.Now,
	}
}

// DecideBatch evaluates every student active within the window and returns
// one decision per student. A failure for one student yields a silent
// decision for them and never aborts the batch.
func (n *NotifierService) DecideBatch(ctx context.Context, window time.Duration, limit int) ([]model.NotificationDecision, error) {
	since := n.now().Add(-window)
	studentIDs, err := n.contexts.RecentlyActive(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recently active students: %w", err)
	}

	decisions := make([]model.NotificationDecision, 0, len(studentIDs))
	for _, id := range studentIDs {
		if ctx.Err() != nil {
			return decisions, ctx.Err()
		}
		d := n.decideOne(ctx, id)
		label := "skip"
		if d.Notify {
			label = "notify"
		}
		metrics.NotificationDecisions.WithLabelValues(label).Inc()
		decisions = append(decisions, d)
	}
	return decisions, nil
}

func (n *NotifierService) decideOne(ctx context.Context, studentID string) model.NotificationDecision {
	silent := func(reason string) model.NotificationDecision {
		return model.NotificationDecision{StudentID: studentID, Notify: false, Reason: reason}
	}

	ac, err := n.assembler.Assemble(ctx, studentID, DefaultMode, nil)
	if err != nil {
		n.logger.Warn("notification decision skipped, context unavailable",
			"student_id", studentID, "error", err)
		return silent("context unavailable")
	}

	var b strings.Builder
	b.WriteString(ac.SystemPrompt)
	b.WriteString("\n\nShould this student receive a push notification right now? ")
	b.WriteString("Notify only for a concrete, timely reason such as an approaching deadline ")
	b.WriteString("or a stalled commitment. Respond with a single JSON object:\n")
	b.WriteString(`{"notify": false, "title": "", "body": "", "reason": ""}`)

	callCtx, cancel := context.WithTimeout(ctx, n.llmTimeout)
	defer cancel()

	start := time.Now()
	resp, err := n.llm.Complete(callCtx, &llm.CompletionRequest{
		System:    "You triage proactive outreach for a college admissions advisory app. Be conservative; unnecessary notifications erode trust.",
		Messages:  []llm.ChatMessage{{Role: "user", Content: b.String()}},
		MaxTokens: 512,
	})
	if err != nil {
		metrics.RecordLLMCall("notify", n.llm.Name(), "error", time.Since(start).Seconds(), 0, 0)
		n.logger.Warn("notification decision degraded to silent", "student_id", studentID, "error", err)
		return silent("llm unavailable")
	}
	metrics.RecordLLMCall("notify", n.llm.Name(), "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	res := llm.ParseOrDefault(resp.Content, model.NotificationDecision{
		Notify: false,
		Reason: "unparseable decision",
	})
	d := res.Value
	d.StudentID = studentID
	if d.Notify && (d.Title == "" || d.Body == "") {
		// A nudge with no content is worse than silence.
		d.Notify = false
		d.Reason = "decision missing title or body"
	}
	return d
}
