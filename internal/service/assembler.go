package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/admitpath/advisory-engine/internal/cache"
	"github.com/admitpath/advisory-engine/internal/model"
	"github.com/admitpath/advisory-engine/internal/repository"
	"github.com/admitpath/advisory-engine/pkg/logger"
)

// recentMessageLimit caps how many trailing messages are echoed into the
// system prompt when resuming a session.
const recentMessageLimit = 5

// AssemblerService builds the per-turn LLM context for a student: a system
// prompt from the persistent student record plus a structured sidebar for
// the UI. Every field is optional; a brand-new student yields a minimal but
// valid context.
type AssemblerService struct {
	profiles repository.ProfileRepository
	contexts repository.StudentContextRepository
	cache    *cache.ContextCache
	logger   *logger.Logger

	now func() time.Time
}

// NewAssemblerService creates a new context assembler.
func NewAssemblerService(
	profiles repository.ProfileRepository,
	contexts repository.StudentContextRepository,
	contextCache *cache.ContextCache,
	log *logger.Logger,
) *AssemblerService {
	return &AssemblerService{
		profiles: profiles,
		contexts: contexts,
		cache:    contextCache,
		logger:   log,
		now:      time.Now,
	}
}

// Assemble reads the student record and renders a fresh context. It never
// consults the cache; use AssembleCached on the request path.
func (s *AssemblerService) Assemble(ctx context.Context, studentID, mode string, recent []model.Message) (*model.AssembledContext, error) {
	if mode == "" {
		mode = DefaultMode
	}
	now := s.now()

	profile, err := s.profiles.GetProfile(ctx, studentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	sc, err := s.contexts.Get(ctx, studentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load student context: %w", err)
	}
	goals, err := s.profiles.ListGoals(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load goals: %w", err)
	}
	deadlines, err := s.profiles.ListUpcomingDeadlines(ctx, studentID, now, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to load deadlines: %w", err)
	}

	sidebar := buildSidebar(sc, goals, deadlines, now)

	return &model.AssembledContext{
		StudentID:    studentID,
		Mode:         mode,
		SystemPrompt: renderSystemPrompt(profile, sc, goals, deadlines, mode, recent),
		Sidebar:      sidebar,
		AssembledAt:  now,
	}, nil
}

// AssembleCached returns the cached context for the student when present,
// otherwise assembles and caches a fresh one. Resumed sessions pass their
// trailing messages so a rebuilt prompt keeps continuity.
func (s *AssemblerService) AssembleCached(ctx context.Context, studentID, mode string, recent []model.Message) (*model.AssembledContext, error) {
	if ac := s.cache.GetContext(studentID); ac != nil {
		return ac, nil
	}
	ac, err := s.Assemble(ctx, studentID, mode, recent)
	if err != nil {
		return nil, err
	}
	s.cache.SetContext(studentID, ac)
	return ac, nil
}

// Warmup pre-assembles the student's context so the first turn of an
// imminent session skips the database reads. Fire and forget: failures are
// logged, never returned, and a panic cannot escape to the caller's
// goroutine.
func (s *AssemblerService) Warmup(ctx context.Context, studentID, mode string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during context warmup", "student_id", studentID, "panic", r)
		}
	}()

	if s.cache.GetContext(studentID) != nil {
		return
	}
	ac, err := s.Assemble(ctx, studentID, mode, nil)
	if err != nil {
		s.logger.Warn("context warmup failed", "student_id", studentID, "error", err)
		return
	}
	s.cache.SetContext(studentID, ac)
	s.logger.Debug("context warmed", "student_id", studentID, "mode", mode)
}

// Invalidate drops the student's cached context and profile snapshot.
// Called after summarization lands so the next turn sees the merged record.
func (s *AssemblerService) Invalidate(studentID string) {
	s.cache.Invalidate(studentID)
}

// ProfileSnapshot returns the lightweight profile used for greetings,
// served from cache when possible. A student with no profile row gets an
// empty snapshot, not an error.
func (s *AssemblerService) ProfileSnapshot(ctx context.Context, studentID string) (*model.ProfileSnapshot, error) {
	if snap := s.cache.GetProfile(studentID); snap != nil {
		return snap, nil
	}
	profile, err := s.profiles.GetProfile(ctx, studentID)
	if errors.Is(err, repository.ErrNotFound) {
		profile = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	snap := &model.ProfileSnapshot{StudentID: studentID}
	if profile != nil {
		snap.FirstName = profile.FirstName
		snap.GradeLevel = profile.GradeLevel
		snap.School = profile.School
		snap.Targets = profile.TargetSchools
	}
	s.cache.SetProfile(studentID, snap)
	return snap, nil
}

// Greeting renders the deterministic opener for a new session. No LLM call
// is involved, so it is safe on the hot path.
func (s *AssemblerService) Greeting(ctx context.Context, studentID string) string {
	snap, err := s.ProfileSnapshot(ctx, studentID)
	if err != nil {
		s.logger.Warn("greeting fell back to generic", "student_id", studentID, "error", err)
		return "Welcome back! What would you like to work on today?"
	}

	name := snap.FirstName
	if name == "" {
		return "Welcome! What would you like to work on today?"
	}
	if sc, err := s.contexts.Get(ctx, studentID); err == nil && sc.LastConversationAt != nil {
		days := daysBetween(*sc.LastConversationAt, s.now())
		if days >= 7 {
			return fmt.Sprintf("Welcome back, %s! It's been a while. What would you like to work on today?", name)
		}
	}
	return fmt.Sprintf("Welcome back, %s! What would you like to work on today?", name)
}

func buildSidebar(sc *model.StudentContext, goals []model.Goal, deadlines []model.Deadline, now time.Time) model.Sidebar {
	sb := model.Sidebar{}
	if sc != nil {
		sb.Objectives = sc.GeneratedObjectives
		sb.OpenCommitments = sc.OpenCommitments
		if sc.LastConversationAt != nil {
			d := daysBetween(*sc.LastConversationAt, now)
			sb.DaysSinceLastSession = &d
		}
		if len(deadlines) == 0 {
			deadlines = sc.UpcomingDeadlines
		}
	}
	sb.Deadlines = deadlines
	for _, g := range goals {
		sb.GoalProgress = append(sb.GoalProgress, model.GoalProgress{
			GoalID:   g.ID,
			Title:    g.Title,
			Progress: g.Progress(),
		})
	}
	return sb
}

func renderSystemPrompt(profile *model.StudentProfile, sc *model.StudentContext, goals []model.Goal, deadlines []model.Deadline, mode string, recent []model.Message) string {
	var b strings.Builder
	b.WriteString("You are an experienced college admissions advisor. ")
	b.WriteString("Be concrete, encouraging, and honest about tradeoffs.\n\n")

	quick := ""
	if sc != nil && sc.QuickContext != "" {
		quick = sc.QuickContext
	} else {
		quick = BuildQuickContext(profile)
	}
	if quick != "" {
		b.WriteString("## Student\n")
		b.WriteString(quick)
		b.WriteString("\n\n")
	}

	if sc != nil {
		if sc.StudentUnderstanding != "" {
			b.WriteString("## What you know about this student\n")
			b.WriteString(sc.StudentUnderstanding)
			b.WriteString("\n\n")
		}
		if sc.RecentSessions != "" {
			b.WriteString("## Recent sessions\n")
			b.WriteString(sc.RecentSessions)
			b.WriteString("\n\n")
		}
		if sc.OpenCommitments != "" {
			b.WriteString("## Open commitments\n")
			b.WriteString(sc.OpenCommitments)
			b.WriteString("\n\n")
		}
	}

	if len(goals) > 0 {
		b.WriteString("## Active goals\n")
		for _, g := range goals {
			if p := g.Progress(); p != nil {
				fmt.Fprintf(&b, "- %s (%d%% complete)\n", g.Title, *p)
			} else {
				fmt.Fprintf(&b, "- %s\n", g.Title)
			}
		}
		b.WriteString("\n")
	}

	if len(deadlines) > 0 {
		b.WriteString("## Upcoming deadlines\n")
		for _, d := range deadlines {
			if d.School != "" {
				fmt.Fprintf(&b, "- %s (%s): %s\n", d.Title, d.School, d.DueAt.Format("Jan 2, 2006"))
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", d.Title, d.DueAt.Format("Jan 2, 2006"))
			}
		}
		b.WriteString("\n")
	}

	if n := len(recent); n > 0 {
		b.WriteString("## Conversation so far\n")
		start := 0
		if n > recentMessageLimit {
			start = n - recentMessageLimit
		}
		for _, m := range recent[start:] {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, truncate(m.Content, 300))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Session focus: %s.", mode)
	return b.String()
}

// BuildQuickContext renders the one-paragraph student identity line from the
// profile. Deterministic string assembly, tolerant of a nil or empty
// profile.
func BuildQuickContext(profile *model.StudentProfile) string {
	if profile == nil {
		return ""
	}
	var parts []string
	if profile.FirstName != "" {
		parts = append(parts, profile.FirstName)
	}
	if profile.GradeLevel != nil {
		parts = append(parts, fmt.Sprintf("grade %d", *profile.GradeLevel))
	}
	if profile.School != "" {
		parts = append(parts, "at "+profile.School)
	}
	if profile.GPA != nil {
		parts = append(parts, fmt.Sprintf("GPA %.2f", *profile.GPA))
	}
	if profile.SATScore != nil {
		parts = append(parts, fmt.Sprintf("SAT %d", *profile.SATScore))
	}
	if len(profile.TargetSchools) > 0 {
		parts = append(parts, "targeting "+strings.Join(profile.TargetSchools, ", "))
	}
	return strings.Join(parts, ", ")
}

func daysBetween(from, to time.Time) int {
	d := int(to.Sub(from).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
