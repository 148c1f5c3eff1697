package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PQContinuum/PQ-Frontend-sub000/internal/metrics"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/plans"
)

const (
	minimalPersonalFacts   = 3
	minimalPreferenceFacts = 2
	standardRelevantFacts  = 5
	standardTechnicalFacts = 3
	standardProjectFacts   = 2
	shortMessageWords      = 5
	longMessageWords       = 50
)

// Notifier tells peer instances that a user's cached context is stale.
type Notifier interface {
	PublishInvalidation(ctx context.Context, userID string) error
}

// PromptOptions tune a single context lookup.
type PromptOptions struct {
	CurrentMessage string
	ForceLevel     plans.ContextLevel
}

// ExtractionJob is one request to derive and store facts from a conversation.
type ExtractionJob struct {
	UserID         string
	Plan           plans.Plan
	ConversationID string
	Turns          []Turn
	// Force skips the extraction cadence check.
	Force bool
}

// ExtractionResult summarizes an ExtractAndSave run.
type ExtractionResult struct {
	Skipped   string `json:"skipped,omitempty"`
	Extracted int    `json:"extracted"`
	Saved     int    `json:"saved"`
	Rejected  int    `json:"rejected"`
	Pruned    int64  `json:"pruned"`
}

// Service assembles prompt context from stored facts and keeps the store fed from conversations.
type Service struct {
	repo      Repository
	cache     ContextCache
	extractor *Extractor
	notifier  Notifier
	now       func() time.Time
}

// NewService creates a memory service. The cache is owned by the service for the process lifetime.
func NewService(repo Repository, cache ContextCache, extractor *Extractor) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		extractor: extractor,
		now:       time.Now,
	}
}

// SetNotifier enables cross-instance cache invalidation.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SelectLevel picks the context level for a lookup: an explicit level wins,
// then message length, then the plan default.
func SelectLevel(opts PromptOptions, limits plans.Limits) plans.ContextLevel {
	if opts.ForceLevel.Valid() {
		return opts.ForceLevel
	}
	if strings.TrimSpace(opts.CurrentMessage) == "" {
		return limits.DefaultContextLevel
	}
	words := len(strings.Fields(opts.CurrentMessage))
	switch {
	case words < shortMessageWords:
		return plans.LevelMinimal
	case words > longMessageWords:
		return plans.LevelFull
	default:
		return plans.LevelStandard
	}
}

// GetContextForPrompt returns the rendered context block for userID, or "" when
// there is nothing to add or anything goes wrong.
func (s *Service) GetContextForPrompt(ctx context.Context, userID string, plan plans.Plan, opts PromptOptions) string {
	if cached, ok := s.cache.Get(ctx, userID); ok {
		metrics.ContextCacheLookups.WithLabelValues("hit").Inc()
		return cached
	}
	metrics.ContextCacheLookups.WithLabelValues("miss").Inc()

	limits := plans.LimitsFor(plan)
	level := SelectLevel(opts, limits)
	metrics.ContextLevelSelected.WithLabelValues(string(level)).Inc()

	out, err := s.buildContext(ctx, userID, level, limits, opts.CurrentMessage)
	if err != nil {
		metrics.ContextAssemblyFailures.Inc()
		slog.Warn("memory: context assembly failed, serving no personalization",
			"error", err, "user_id", userID, "level", level)
		return ""
	}

	// Empty results are not cached so that facts saved later show up on the next turn.
	if out != "" {
		s.cache.Set(ctx, userID, out)
	}
	return out
}

func (s *Service) buildContext(ctx context.Context, userID string, level plans.ContextLevel, limits plans.Limits, message string) (string, error) {
	var facts []Fact

	switch level {
	case plans.LevelFull:
		all, err := s.repo.ListByUser(ctx, userID, limits.MaxContextItems)
		if err != nil {
			return "", err
		}
		facts = all

	case plans.LevelStandard:
		core, err := s.coreFacts(ctx, userID)
		if err != nil {
			return "", err
		}
		relevant, err := s.relevantFacts(ctx, userID, message)
		if err != nil {
			return "", err
		}
		facts = dedupeFacts(core, relevant)

	default:
		core, err := s.coreFacts(ctx, userID)
		if err != nil {
			return "", err
		}
		facts = core
	}

	text := FormatContext(facts)
	text, cut := Truncate(text, limits.MaxContextTokens)
	if cut {
		metrics.ContextTruncations.Inc()
	}
	return text, nil
}

func (s *Service) coreFacts(ctx context.Context, userID string) ([]Fact, error) {
	personal, err := s.repo.ListByCategory(ctx, userID, CategoryPersonal, minimalPersonalFacts)
	if err != nil {
		return nil, fmt.Errorf("loading personal facts: %w", err)
	}
	prefs, err := s.repo.ListByCategory(ctx, userID, CategoryPreferences, minimalPreferenceFacts)
	if err != nil {
		return nil, fmt.Errorf("loading preference facts: %w", err)
	}
	return append(personal, prefs...), nil
}

// relevantFacts matches the message's technical vocabulary against stored facts
// and falls back to recent technical and project facts when nothing matches.
func (s *Service) relevantFacts(ctx context.Context, userID, message string) ([]Fact, error) {
	if kws := RelevantKeywords(message); len(kws) > 0 {
		matched, err := s.repo.SearchByKeywords(ctx, userID, kws, standardRelevantFacts)
		if err != nil {
			return nil, fmt.Errorf("searching relevant facts: %w", err)
		}
		if len(matched) > 0 {
			return matched, nil
		}
	}

	technical, err := s.repo.ListByCategory(ctx, userID, CategoryTechnical, standardTechnicalFacts)
	if err != nil {
		return nil, fmt.Errorf("loading technical facts: %w", err)
	}
	project, err := s.repo.ListByCategory(ctx, userID, CategoryProject, standardProjectFacts)
	if err != nil {
		return nil, fmt.Errorf("loading project facts: %w", err)
	}
	return append(technical, project...), nil
}

// EnforceContextLimits prunes the oldest facts above the plan ceiling and returns how many were removed.
func (s *Service) EnforceContextLimits(ctx context.Context, userID string, plan plans.Plan) (int64, error) {
	limits := plans.LimitsFor(plan)
	count, err := s.repo.Count(ctx, userID)
	if err != nil {
		return 0, err
	}
	if count <= int64(limits.MaxContextItems) {
		return 0, nil
	}

	pruned, err := s.repo.PruneOldest(ctx, userID, limits.MaxContextItems)
	if err != nil {
		return 0, err
	}
	metrics.FactsPruned.WithLabelValues("limit").Add(float64(pruned))
	slog.Info("pruned facts over plan limit", "user_id", userID, "plan", plan, "pruned", pruned)
	s.Invalidate(ctx, userID)
	return pruned, nil
}

// ApplyRetention deletes facts not mentioned within the plan's retention window.
func (s *Service) ApplyRetention(ctx context.Context, userID string, plan plans.Plan) (int64, error) {
	days := plans.LimitsFor(plan).ContextRetentionDays
	if days <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := s.repo.DeleteOlderThan(ctx, userID, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.FactsPruned.WithLabelValues("retention").Add(float64(n))
		s.Invalidate(ctx, userID)
	}
	return n, nil
}

// ExtractAndSave runs the extraction pipeline for one conversation window.
// Extraction failures are absorbed; persistence failures are returned.
func (s *Service) ExtractAndSave(ctx context.Context, job ExtractionJob) (ExtractionResult, error) {
	var res ExtractionResult
	limits := plans.LimitsFor(job.Plan)

	if !limits.AutoExtraction {
		res.Skipped = "disabled"
		metrics.ExtractionsTotal.WithLabelValues("skipped_disabled").Inc()
		return res, nil
	}

	userTurns := 0
	for _, t := range job.Turns {
		if t.Role == RoleUser {
			userTurns++
		}
	}
	if !job.Force && (userTurns == 0 || userTurns%max(limits.ExtractionInterval, 1) != 0) {
		res.Skipped = "cadence"
		metrics.ExtractionsTotal.WithLabelValues("skipped_cadence").Inc()
		return res, nil
	}

	if !ShouldExtractFacts(job.Turns) {
		res.Skipped = "no_signal"
		metrics.ExtractionsTotal.WithLabelValues("skipped_no_signal").Inc()
		return res, nil
	}

	extracted, err := s.extractor.ExtractFacts(ctx, job.Turns)
	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues("failed").Inc()
		return res, nil
	}
	res.Extracted = len(extracted)

	var source *string
	if job.ConversationID != "" {
		id := job.ConversationID
		source = &id
	}

	for _, f := range extracted {
		if !IsValidFact(f) {
			res.Rejected++
			continue
		}
		_, err := s.repo.Upsert(ctx, UpsertParams{
			UserID:               job.UserID,
			Key:                  GenerateKey(f.Category, f.Value),
			Value:                f.Value,
			Category:             f.Category,
			Confidence:           f.Confidence,
			SourceConversationID: source,
		})
		if err != nil {
			metrics.ExtractionsTotal.WithLabelValues("error").Inc()
			if res.Saved > 0 {
				s.Invalidate(ctx, job.UserID)
			}
			return res, fmt.Errorf("saving extracted fact: %w", err)
		}
		res.Saved++
	}
	metrics.FactsSaved.Add(float64(res.Saved))
	metrics.FactsRejected.Add(float64(res.Rejected))

	if res.Saved == 0 {
		metrics.ExtractionsTotal.WithLabelValues("empty").Inc()
		return res, nil
	}

	pruned, err := s.EnforceContextLimits(ctx, job.UserID, job.Plan)
	if err != nil {
		s.Invalidate(ctx, job.UserID)
		return res, fmt.Errorf("enforcing context limits: %w", err)
	}
	res.Pruned = pruned
	s.Invalidate(ctx, job.UserID)
	metrics.ExtractionsTotal.WithLabelValues("saved").Inc()

	slog.Info("extracted facts", "user_id", job.UserID, "conversation_id", job.ConversationID,
		"saved", res.Saved, "rejected", res.Rejected, "pruned", res.Pruned)
	return res, nil
}

// Invalidate drops the user's cached context here and on peer instances.
func (s *Service) Invalidate(ctx context.Context, userID string) {
	s.cache.Delete(ctx, userID)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishInvalidation(ctx, userID); err != nil {
		slog.Warn("memory: broadcasting cache invalidation failed", "error", err, "user_id", userID)
	}
}

// InvalidateLocal drops the cached context on this instance only.
func (s *Service) InvalidateLocal(ctx context.Context, userID string) {
	s.cache.Delete(ctx, userID)
}

// ClearCache drops every cached context on this instance.
func (s *Service) ClearCache(ctx context.Context) {
	s.cache.Clear(ctx)
}

// ListFacts returns the user's facts, optionally restricted to one category.
func (s *Service) ListFacts(ctx context.Context, userID string, category Category) ([]Fact, error) {
	if category == "" {
		return s.repo.ListByUser(ctx, userID, 0)
	}
	return s.repo.ListByCategory(ctx, userID, category, 0)
}

// DeleteFact removes one fact. It returns ErrFactNotFound when the user has no such fact.
func (s *Service) DeleteFact(ctx context.Context, userID string, id uuid.UUID) error {
	ok, err := s.repo.DeleteOne(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrFactNotFound
	}
	s.Invalidate(ctx, userID)
	return nil
}

// DeleteAllFacts removes every fact the user has.
func (s *Service) DeleteAllFacts(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.DeleteAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.Invalidate(ctx, userID)
	return n, nil
}
