package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/admitpath/advisory-engine/internal/llm"
	"github.com/admitpath/advisory-engine/internal/model"
	"github.com/admitpath/advisory-engine/internal/repository"
	"github.com/admitpath/advisory-engine/pkg/logger"
	"github.com/admitpath/advisory-engine/pkg/metrics"
)

const (
	transcriptMessageLimit = 200
	priorSummaryLimit      = 4
	recentSessionsMaxLen   = 1600
)

// conversationDigest is the structured ask for the per-conversation
// summarization call.
type conversationDigest struct {
	Summary     string   `json:"summary"`
	Headline    string   `json:"headline"`
	Topics      []string `json:"topics"`
	Decisions   []string `json:"decisions"`
	ActionItems []string `json:"action_items"`
}

// masterMerge is the structured ask for the master summary merge call.
type masterMerge struct {
	RecentSessions       string `json:"recent_sessions"`
	StudentUnderstanding string `json:"student_understanding"`
	OpenCommitments      string `json:"open_commitments"`
}

// SummarizerService condenses finished conversations and folds them into
// each student's master summary. Every entry point is idempotent: the queue
// delivers at least once and the sweep re-enqueues anything that slipped.
type SummarizerService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	contexts      repository.StudentContextRepository
	profiles      repository.ProfileRepository
	llm           llm.Client
	llmTimeout    time.Duration
	invalidate    func(studentID string)
	logger        *logger.Logger

	now func() time.Time
}

// NewSummarizerService creates a new summarizer. invalidate is called after
// a merge lands so cached contexts pick up the new master summary; pass nil
// when no cache is wired.
func NewSummarizerService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	contexts repository.StudentContextRepository,
	profiles repository.ProfileRepository,
	llmClient llm.Client,
	llmTimeout time.Duration,
	invalidate func(studentID string),
	log *logger.Logger,
) *SummarizerService {
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &SummarizerService{
		conversations: conversations,
		messages:      messages,
		contexts:      contexts,
		profiles:      profiles,
		llm:           llmClient,
		llmTimeout:    llmTimeout,
		invalidate:    invalidate,
		logger:        log,
		now:           time.Now,
	}
}

// SummarizeOne runs the full pipeline for a single conversation: summarize
// the transcript, store the summary exactly once, then merge it into the
// student's master summary. Re-running after any partial completion is
// safe. An error return means the summary has not landed and the attempt
// should be retried; a landed summary with a failed merge is repaired with
// deterministic fallbacks instead of failing.
func (s *SummarizerService) SummarizeOne(ctx context.Context, conversationID, studentID string) error {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		metrics.SummarizationsTotal.WithLabelValues("store_error").Inc()
		return fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	if conv.Summarized() {
		metrics.SummarizationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	msgs, err := s.messages.ListByConversation(ctx, conversationID, transcriptMessageLimit)
	if err != nil {
		metrics.SummarizationsTotal.WithLabelValues("store_error").Inc()
		return fmt.Errorf("failed to load transcript for %s: %w", conversationID, err)
	}
	if len(msgs) == 0 {
		// Nothing to summarize; the candidate query filters these out, but a
		// stray enqueue can still land here.
		metrics.SummarizationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	// Priors are read before the write so the merge sees only earlier
	// conversations.
	priors, err := s.conversations.RecentSummaries(ctx, studentID, priorSummaryLimit)
	if err != nil {
		s.logger.Warn("failed to load prior summaries, merging without continuity",
			"student_id", studentID, "error", err)
		priors = nil
	}

	digest, usedFallback, err := s.summarizeTranscript(ctx, msgs)
	if err != nil {
		metrics.SummarizationsTotal.WithLabelValues("llm_error").Inc()
		return fmt.Errorf("failed to summarize conversation %s: %w", conversationID, err)
	}

	forUser := model.UserSummary{
		Headline:    digest.Headline,
		Topics:      digest.Topics,
		Decisions:   digest.Decisions,
		ActionItems: digest.ActionItems,
	}
	won, err := s.conversations.SetSummary(ctx, conversationID, digest.Summary, forUser, s.now())
	if err != nil {
		metrics.SummarizationsTotal.WithLabelValues("store_error").Inc()
		return fmt.Errorf("failed to store summary for %s: %w", conversationID, err)
	}
	if !won {
		// A concurrent delivery got here first and owns the merge.
		metrics.SummarizationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	s.mergeMasterSummary(ctx, studentID, conv, digest.Summary, priors)
	s.invalidate(studentID)

	outcome := "success"
	if usedFallback {
		outcome = "fallback"
	}
	metrics.SummarizationsTotal.WithLabelValues(outcome).Inc()
	s.logger.Info("conversation summarized",
		"conversation_id", conversationID, "student_id", studentID,
		"messages", len(msgs), "fallback", usedFallback)
	return nil
}

// ProcessPending sweeps unsummarized conversations oldest first and runs
// each through SummarizeOne sequentially. Per-conversation failures are
// logged and skipped so one bad transcript cannot stall the backlog.
func (s *SummarizerService) ProcessPending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	candidates, err := s.conversations.FindSummarizationCandidates(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list summarization candidates: %w", err)
	}
	metrics.SummarizationBacklog.Set(float64(len(candidates)))

	processed := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := s.SummarizeOne(ctx, c.ConversationID, c.StudentID); err != nil {
			s.logger.Warn("sweep summarization failed",
				"conversation_id", c.ConversationID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *SummarizerService) summarizeTranscript(ctx context.Context, msgs []model.Message) (conversationDigest, bool, error) {
	transcript := renderTranscript(msgs)

	callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.llm.Complete(callCtx, &llm.CompletionRequest{
		System: "You summarize college advising conversations. Respond with a single JSON object:\n" +
			`{"summary": "2-3 paragraph advisor-facing summary", "headline": "one line", ` +
			`"topics": [], "decisions": [], "action_items": []}` + "\n" +
			"The summary must capture decisions made, concerns raised, and commitments in both directions.",
		Messages:  []llm.ChatMessage{{Role: "user", Content: transcript}},
		MaxTokens: 1024,
	})
	if err != nil {
		metrics.RecordLLMCall("summarize", s.llm.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return conversationDigest{}, false, err
	}
	metrics.RecordLLMCall("summarize", s.llm.Name(), "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	raw := strings.TrimSpace(resp.Content)
	if raw == "" {
		return conversationDigest{}, false, fmt.Errorf("empty completion from %s", s.llm.Name())
	}

	// Malformed output is recoverable: the raw text becomes the advisor
	// summary and the headline degrades to its first line.
	res := llm.ParseOrDefault(raw, conversationDigest{
		Summary:  raw,
		Headline: firstLine(raw, 120),
	})
	if res.Fallback {
		s.logger.Warn("summary response was not valid JSON, using raw text", "reason", res.Reason)
	}
	digest := res.Value
	if strings.TrimSpace(digest.Summary) == "" {
		digest.Summary = raw
	}
	if strings.TrimSpace(digest.Headline) == "" {
		digest.Headline = firstLine(digest.Summary, 120)
	}
	return digest, res.Fallback, nil
}

// mergeMasterSummary folds the new conversation summary into the student's
// rolling record. The summary is already stored at this point, so failures
// here degrade rather than erroring: LLM trouble falls back to a
// deterministic merge, and store trouble leaves the record untouched until
// the next cycle.
func (s *SummarizerService) mergeMasterSummary(ctx context.Context, studentID string, conv *model.Conversation, summary string, priors []repository.SummaryRow) {
	sc, err := s.contexts.Get(ctx, studentID)
	if errors.Is(err, repository.ErrNotFound) {
		sc = &model.StudentContext{StudentID: studentID}
	} else if err != nil {
		// Merging over an unreadable record would overwrite it with a blank
		// one. Leave the master record a cycle stale instead.
		s.logger.Error("failed to load student context for merge", "student_id", studentID, "error", err)
		return
	}

	profile, err := s.profiles.GetProfile(ctx, studentID)
	if err != nil {
		profile = nil
	}
	if qc := BuildQuickContext(profile); qc != "" {
		sc.QuickContext = qc
	}

	merged, err := s.mergeWithLLM(ctx, sc, summary, priors)
	if err != nil {
		s.logger.Warn("master summary merge degraded to deterministic fallback",
			"student_id", studentID, "error", err)
		merged = fallbackMerge(sc, conv, summary)
	}
	sc.RecentSessions = merged.RecentSessions
	sc.StudentUnderstanding = merged.StudentUnderstanding
	sc.OpenCommitments = merged.OpenCommitments
	now := s.now()
	sc.MasterSummaryUpdatedAt = &now

	if err := s.contexts.UpsertMasterSummary(ctx, sc, conv.MessageCount); err != nil {
		// The conversation summary survives; the master record catches up on
		// the next cycle.
		s.logger.Error("failed to upsert master summary", "student_id", studentID, "error", err)
	}
}

func (s *SummarizerService) mergeWithLLM(ctx context.Context, sc *model.StudentContext, summary string, priors []repository.SummaryRow) (masterMerge, error) {
	var b strings.Builder
	b.WriteString("## Current record\n")
	fmt.Fprintf(&b, "Recent sessions:\n%s\n\n", orNone(sc.RecentSessions))
	fmt.Fprintf(&b, "Student understanding:\n%s\n\n", orNone(sc.StudentUnderstanding))
	fmt.Fprintf(&b, "Open commitments:\n%s\n\n", orNone(sc.OpenCommitments))
	b.WriteString("## New conversation summary\n")
	b.WriteString(summary)
	b.WriteString("\n")
	if len(priors) > 0 {
		b.WriteString("\n## Earlier conversation summaries, newest first\n")
		for _, p := range priors {
			fmt.Fprintf(&b, "%s:\n%s\n\n", p.At.Format("Jan 2, 2006"), truncate(p.Summary, 600))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.llm.Complete(callCtx, &llm.CompletionRequest{
		System: "You maintain a student's rolling advising record. Fold the new conversation into it " +
			"and respond with a single JSON object:\n" +
			`{"recent_sessions": "dated digest, newest first, about 150 words", ` +
			`"student_understanding": "stable traits, concerns and preferences, about 150 words", ` +
			`"open_commitments": "outstanding items only; drop resolved ones"}`,
		Messages:  []llm.ChatMessage{{Role: "user", Content: b.String()}},
		MaxTokens: 1024,
	})
	if err != nil {
		metrics.RecordLLMCall("merge", s.llm.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return masterMerge{}, err
	}
	metrics.RecordLLMCall("merge", s.llm.Name(), "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	res := llm.ParseOrDefault(resp.Content, masterMerge{})
	if res.Fallback {
		return masterMerge{}, fmt.Errorf("merge response was not valid JSON: %s", res.Reason)
	}
	merged := res.Value
	if strings.TrimSpace(merged.RecentSessions) == "" {
		return masterMerge{}, fmt.Errorf("merge response missing recent_sessions")
	}
	return merged, nil
}

// fallbackMerge produces usable field values without an LLM. Prose fields
// carry over unchanged and the new summary is prepended to the session
// digest as a dated excerpt.
func fallbackMerge(sc *model.StudentContext, conv *model.Conversation, summary string) masterMerge {
	at := conv.StartedAt
	if conv.LastMessageAt != nil {
		at = *conv.LastMessageAt
	}
	entry := fmt.Sprintf("%s: %s", at.Format("Jan 2, 2006"), truncate(summary, 200))
	sessions := entry
	if sc.RecentSessions != "" {
		sessions = truncate(entry+"\n"+sc.RecentSessions, recentSessionsMaxLen)
	}

	understanding := sc.StudentUnderstanding
	if understanding == "" {
		understanding = "No established picture of this student yet."
	}
	return masterMerge{
		RecentSessions:       sessions,
		StudentUnderstanding: understanding,
		OpenCommitments:      sc.OpenCommitments,
	}
}

func renderTranscript(msgs []model.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(strings.TrimSpace(s), max)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
