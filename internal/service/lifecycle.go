// Package service provides the conversation and context lifecycle engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/admitpath/advisory-engine/internal/model"
	"github.com/admitpath/advisory-engine/internal/repository"
	"github.com/admitpath/advisory-engine/pkg/logger"
	"github.com/admitpath/advisory-engine/pkg/metrics"
)

// DefaultMode is the session intent tag used when the caller sends none.
const DefaultMode = "general"

// LifecycleService owns the state machine for a student's conversation
// sessions. "Active" is a query over ended_at and last_message_at, never a
// stored flag, so it cannot go stale.
type LifecycleService struct {
	conversations repository.ConversationRepository
	contexts      repository.StudentContextRepository
	activeWindow  time.Duration
	logger        *logger.Logger

	now func() time.Time
}

// NewLifecycleService creates a new lifecycle service.
func NewLifecycleService(
	conversations repository.ConversationRepository,
	contexts repository.StudentContextRepository,
	activeWindow time.Duration,
	log *logger.Logger,
) *LifecycleService {
	return &LifecycleService{
		conversations: conversations,
		contexts:      contexts,
		activeWindow:  activeWindow,
		logger:        log,
		now:           time.Now,
	}
}

// ActiveConversation is the result of resolving a student's current session.
type ActiveConversation struct {
	Conversation *model.Conversation

	// IsNew reports that no resumable conversation existed and a fresh one
	// was created.
	IsNew bool

	// StaleConversationIDs lists the student's unsummarized conversations
	// that fell out of the active window. Callers should forward them to the
	// summarization queue; this is opportunistic catch-up, not a guarantee.
	StaleConversationIDs []string
}

// GetOrCreateActive resumes the student's active conversation or starts a
// new one. An ended conversation is never resumed, even when its last
// message is still inside the window.
func (s *LifecycleService) GetOrCreateActive(ctx context.Context, studentID, mode string) (*ActiveConversation, error) {
	if mode == "" {
		mode = DefaultMode
	}
	now := s.now()
	cutoff := now.Add(-s.activeWindow)

	stale, err := s.conversations.FindStaleIDs(ctx, studentID, cutoff)
	if err != nil {
		// Catch-up is opportunistic; the periodic sweep covers what this
		// call misses.
		s.logger.Warn("failed to list stale conversations", "student_id", studentID, "error", err)
		stale = nil
	}

	conv, err := s.conversations.FindActive(ctx, studentID, cutoff)
	if err == nil {
		return &ActiveConversation{Conversation: conv, StaleConversationIDs: stale}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to find active conversation: %w", err)
	}

	conv = &model.Conversation{
		ID:            uuid.Must(uuid.NewV7()).String(),
		StudentID:     studentID,
		Mode:          mode,
		StartedAt:     now,
		LastMessageAt: &now,
		MessageCount:  0,
	}
	if err := s.conversations.Insert(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	if err := s.contexts.RecordNewConversation(ctx, studentID, now); err != nil {
		return nil, fmt.Errorf("failed to record new conversation: %w", err)
	}

	metrics.ConversationsStarted.Inc()
	s.logger.Info("conversation created",
		"conversation_id", conv.ID, "student_id", studentID, "mode", mode)

	return &ActiveConversation{Conversation: conv, IsNew: true, StaleConversationIDs: stale}, nil
}

// MarkEnded terminates a conversation. Idempotent, and tolerant of a missing
// row: the signal usually arrives from page unload and may be late or
// duplicated.
func (s *LifecycleService) MarkEnded(ctx context.Context, conversationID string) error {
	err := s.conversations.MarkEnded(ctx, conversationID, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Debug("mark ended for unknown conversation", "conversation_id", conversationID)
		return nil
	}
	return err
}

// RecordActivity bumps last_message_at and increments message_count. Called
// once per persisted message row. A missing conversation is a programming
// error and surfaces.
func (s *LifecycleService) RecordActivity(ctx context.Context, conversationID string) error {
	if err := s.conversations.BumpActivity(ctx, conversationID, s.now()); err != nil {
		return fmt.Errorf("failed to record activity on %s: %w", conversationID, err)
	}
	return nil
}

// FindSummarizationCandidates returns unsummarized conversations ready for
// the pipeline, oldest first, across all students.
func (s *LifecycleService) FindSummarizationCandidates(ctx context.Context, limit int) ([]repository.Candidate, error) {
	cutoff := s.now().Add(-s.activeWindow)
	return s.conversations.FindSummarizationCandidates(ctx, cutoff, limit)
}
