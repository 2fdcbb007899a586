package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/admitpath/advisory-engine/internal/model"
)

// MemoryConversationRepository is an in-memory ConversationRepository.
type MemoryConversationRepository struct {
	mu    sync.RWMutex
	convs map[string]*model.Conversation
}

// NewMemoryConversationRepository creates an empty in-memory repository.
func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{convs: make(map[string]*model.Conversation)}
}

func (r *MemoryConversationRepository) Insert(ctx context.Context, conv *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *conv
	r.convs[c.ID] = &c
	return nil
}

func (r *MemoryConversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

func (r *MemoryConversationRepository) FindActive(ctx context.Context, studentID string, cutoff time.Time) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *model.Conversation
	for _, conv := range r.convs {
		if conv.StudentID != studentID || conv.EndedAt != nil || conv.LastMessageAt == nil {
			continue
		}
		if conv.LastMessageAt.Before(cutoff) {
			continue
		}
		if best == nil || conv.LastMessageAt.After(*best.LastMessageAt) {
			best = conv
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	c := *best
	return &c, nil
}

func (r *MemoryConversationRepository) FindStaleIDs(ctx context.Context, studentID string, cutoff time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*model.Conversation
	for _, conv := range r.convs {
		if conv.StudentID != studentID || conv.Summarized() || conv.MessageCount == 0 {
			continue
		}
		if conv.LastMessageAt != nil && conv.LastMessageAt.Before(cutoff) {
			stale = append(stale, conv)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].LastMessageAt.Before(*stale[j].LastMessageAt)
	})
	ids := make([]string, len(stale))
	for i, conv := range stale {
		ids[i] = conv.ID
	}
	return ids, nil
}

func (r *MemoryConversationRepository) BumpActivity(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	conv.LastMessageAt = &t
	conv.MessageCount++
	return nil
}

func (r *MemoryConversationRepository) MarkEnded(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return ErrNotFound
	}
	if conv.EndedAt != nil {
		return nil
	}
	t := at
	conv.EndedAt = &t
	return nil
}

func (r *MemoryConversationRepository) SetSummary(ctx context.Context, id, summary string, forUser model.UserSummary, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return false, ErrNotFound
	}
	if conv.Summarized() {
		return false, nil
	}
	s := summary
	u := forUser
	t := at
	conv.Summary = &s
	conv.SummaryForUser = &u
	conv.SummaryUpdatedAt = &t
	return true, nil
}

func (r *MemoryConversationRepository) FindSummarizationCandidates(ctx context.Context, cutoff time.Time, limit int) ([]Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var eligible []*model.Conversation
	for _, conv := range r.convs {
		if conv.Summarized() || conv.MessageCount == 0 {
			continue
		}
		if conv.EndedAt != nil || (conv.LastMessageAt != nil && conv.LastMessageAt.Before(cutoff)) {
			eligible = append(eligible, conv)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].LastMessageAt.Before(*eligible[j].LastMessageAt)
	})
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	candidates := make([]Candidate, len(eligible))
	for i, conv := range eligible {
		candidates[i] = Candidate{ConversationID: conv.ID, StudentID: conv.StudentID}
	}
	return candidates, nil
}

func (r *MemoryConversationRepository) RecentSummaries(ctx context.Context, studentID string, limit int) ([]SummaryRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var summarized []*model.Conversation
	for _, conv := range r.convs {
		if conv.StudentID == studentID && conv.Summarized() && conv.LastMessageAt != nil {
			summarized = append(summarized, conv)
		}
	}
	sort.Slice(summarized, func(i, j int) bool {
		return summarized[i].LastMessageAt.After(*summarized[j].LastMessageAt)
	})
	if limit > 0 && len(summarized) > limit {
		summarized = summarized[:limit]
	}
	rows := make([]SummaryRow, len(summarized))
	for i, conv := range summarized {
		rows[i] = SummaryRow{Summary: *conv.Summary, At: *conv.LastMessageAt}
	}
	return rows, nil
}

// MemoryMessageRepository is an in-memory MessageRepository.
type MemoryMessageRepository struct {
	mu   sync.RWMutex
	msgs map[string][]model.Message
}

// NewMemoryMessageRepository creates an empty in-memory repository.
func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{msgs: make(map[string][]model.Message)}
}

func (r *MemoryMessageRepository) Insert(ctx context.Context, msg *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[msg.ConversationID] = append(r.msgs[msg.ConversationID], *msg)
	return nil
}

func (r *MemoryMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := r.msgs[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// MemoryStudentContextRepository is an in-memory StudentContextRepository.
type MemoryStudentContextRepository struct {
	mu       sync.RWMutex
	contexts map[string]*model.StudentContext
}

// NewMemoryStudentContextRepository creates an empty in-memory repository.
func NewMemoryStudentContextRepository() *MemoryStudentContextRepository {
	return &MemoryStudentContextRepository{contexts: make(map[string]*model.StudentContext)}
}

func (r *MemoryStudentContextRepository) Get(ctx context.Context, studentID string) (*model.StudentContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.contexts[studentID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *sc
	return &c, nil
}

func (r *MemoryStudentContextRepository) RecordNewConversation(ctx context.Context, studentID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.contexts[studentID]
	if !ok {
		sc = &model.StudentContext{StudentID: studentID}
		r.contexts[studentID] = sc
	}
	t := at
	sc.TotalConversations++
	sc.LastConversationAt = &t
	return nil
}

func (r *MemoryStudentContextRepository) UpsertMasterSummary(ctx context.Context, in *model.StudentContext, addMessages int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.contexts[in.StudentID]
	if !ok {
		sc = &model.StudentContext{StudentID: in.StudentID}
		r.contexts[in.StudentID] = sc
	}
	sc.QuickContext = in.QuickContext
	sc.RecentSessions = in.RecentSessions
	sc.StudentUnderstanding = in.StudentUnderstanding
	sc.OpenCommitments = in.OpenCommitments
	sc.TotalMessages += addMessages
	sc.MasterSummaryUpdatedAt = in.MasterSummaryUpdatedAt
	return nil
}

func (r *MemoryStudentContextRepository) RecentlyActive(ctx context.Context, since time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*model.StudentContext
	for _, sc := range r.contexts {
		if sc.LastConversationAt != nil && !sc.LastConversationAt.Before(since) {
			active = append(active, sc)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastConversationAt.After(*active[j].LastConversationAt)
	})
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	ids := make([]string, len(active))
	for i, sc := range active {
		ids[i] = sc.StudentID
	}
	return ids, nil
}

// MemoryProfileRepository is an in-memory ProfileRepository seeded by tests
// or by the broker-less development mode.
type MemoryProfileRepository struct {
	mu        sync.RWMutex
	profiles  map[string]*model.StudentProfile
	goals     map[string][]model.Goal
	deadlines map[string][]model.Deadline
}

// NewMemoryProfileRepository creates an empty in-memory repository.
func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{
		profiles:  make(map[string]*model.StudentProfile),
		goals:     make(map[string][]model.Goal),
		deadlines: make(map[string][]model.Deadline),
	}
}

// SeedProfile stores a profile for reads.
func (r *MemoryProfileRepository) SeedProfile(p *model.StudentProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *p
	r.profiles[p.StudentID] = &c
}

// SeedGoals stores goals for reads.
func (r *MemoryProfileRepository) SeedGoals(studentID string, goals []model.Goal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.goals[studentID] = append([]model.Goal(nil), goals...)
}

// SeedDeadlines stores deadlines for reads.
func (r *MemoryProfileRepository) SeedDeadlines(studentID string, deadlines []model.Deadline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadlines[studentID] = append([]model.Deadline(nil), deadlines...)
}

func (r *MemoryProfileRepository) GetProfile(ctx context.Context, studentID string) (*model.StudentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[studentID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r *MemoryProfileRepository) ListGoals(ctx context.Context, studentID string) ([]model.Goal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Goal
	for _, g := range r.goals[studentID] {
		if g.Status == model.GoalStatusPlanning || g.Status == model.GoalStatusInProgress {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *MemoryProfileRepository) ListUpcomingDeadlines(ctx context.Context, studentID string, after time.Time, limit int) ([]model.Deadline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Deadline
	for _, d := range r.deadlines[studentID] {
		if !d.DueAt.Before(after) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
