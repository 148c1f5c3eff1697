package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PQContinuum/PQ-Frontend-sub000/internal/plans"
)

type recordingNotifier struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (n *recordingNotifier) PublishInvalidation(_ context.Context, userID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
	return n.err
}

type failingRepo struct {
	Repository
	err error
}

func (r failingRepo) ListByUser(context.Context, string, int) ([]Fact, error) { return nil, r.err }
func (r failingRepo) ListByCategory(context.Context, string, Category, int) ([]Fact, error) {
	return nil, r.err
}

type serviceFixture struct {
	svc   *Service
	repo  *SQLiteRepository
	cache *LRUCache
	llm   *stubCompleter
	clock *steppingClock
}

func setupService(t *testing.T) *serviceFixture {
	t.Helper()
	repo, clock := setupSQLite(t)
	cache := NewLRUCache(100, time.Minute)
	stub := &stubCompleter{response: `{"facts": []}`}
	svc := NewService(repo, cache, NewExtractor(stub, 20))
	return &serviceFixture{svc: svc, repo: repo, cache: cache, llm: stub, clock: clock}
}

func (f *serviceFixture) add(t *testing.T, userID string, category Category, value string) *Fact {
	t.Helper()
	fact, err := f.repo.Upsert(context.Background(), UpsertParams{
		UserID: userID, Key: GenerateKey(category, value), Value: value, Category: category, Confidence: 80,
	})
	require.NoError(t, err)
	return fact
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "palabra"
	}
	return strings.Join(w, " ")
}

func TestSelectLevel(t *testing.T) {
	free := plans.LimitsFor(plans.Free)
	ent := plans.LimitsFor(plans.Enterprise)

	assert.Equal(t, plans.LevelMinimal, SelectLevel(PromptOptions{CurrentMessage: "hola"}, ent))
	assert.Equal(t, plans.LevelMinimal, SelectLevel(PromptOptions{CurrentMessage: words(4)}, ent))
	assert.Equal(t, plans.LevelStandard, SelectLevel(PromptOptions{CurrentMessage: words(5)}, free))
	assert.Equal(t, plans.LevelStandard, SelectLevel(PromptOptions{CurrentMessage: words(50)}, free))
	assert.Equal(t, plans.LevelFull, SelectLevel(PromptOptions{CurrentMessage: words(51)}, free))
	assert.Equal(t, plans.LevelMinimal, SelectLevel(PromptOptions{}, free))
	assert.Equal(t, plans.LevelFull, SelectLevel(PromptOptions{}, ent))
	assert.Equal(t, plans.LevelFull, SelectLevel(PromptOptions{CurrentMessage: "hola", ForceLevel: plans.LevelFull}, free))
	assert.Equal(t, plans.LevelMinimal, SelectLevel(PromptOptions{CurrentMessage: "hola", ForceLevel: "bogus"}, ent))
}

// Free user, no facts, one-word message: minimal level, empty result, nothing cached.
func TestGetContextForPrompt_EmptyIsNotCached(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	out := f.svc.GetContextForPrompt(ctx, "u1", plans.Free, PromptOptions{CurrentMessage: "hola"})
	assert.Equal(t, "", out)
	_, cached := f.cache.Get(ctx, "u1")
	assert.False(t, cached)

	f.add(t, "u1", CategoryPersonal, "Se llama Ana")
	out = f.svc.GetContextForPrompt(ctx, "u1", plans.Free, PromptOptions{CurrentMessage: "hola"})
	assert.Contains(t, out, "Se llama Ana", "new facts show up without waiting for a TTL")
}

func TestGetContextForPrompt_MinimalUsesPersonalAndPreferences(t *testing.T) {
	f := setupService(t)
	for i := 0; i < 4; i++ {
		f.add(t, "u1", CategoryPersonal, fmt.Sprintf("dato personal %d", i))
	}
	for i := 0; i < 3; i++ {
		f.add(t, "u1", CategoryPreferences, fmt.Sprintf("preferencia %d", i))
	}
	f.add(t, "u1", CategoryTechnical, "Usa Go")

	out := f.svc.GetContextForPrompt(context.Background(), "u1", plans.Enterprise, PromptOptions{CurrentMessage: "hola"})
	assert.Equal(t, 3, strings.Count(out, "- dato personal"))
	assert.Equal(t, 2, strings.Count(out, "- preferencia"))
	assert.NotContains(t, out, "Usa Go")
	assert.NotContains(t, out, "dato personal 0", "oldest personal fact is outside the top three")
}

func TestGetContextForPrompt_StandardKeywordMatch(t *testing.T) {
	f := setupService(t)
	f.add(t, "u1", CategoryPersonal, "Se llama Ana")
	f.add(t, "u1", CategoryTechnical, "Usa React con Next.js")
	f.add(t, "u1", CategoryTechnical, "Programa en Python")
	f.add(t, "u1", CategoryProject, "Construye un CRM")

	out := f.svc.GetContextForPrompt(context.Background(), "u1", plans.Basic,
		PromptOptions{CurrentMessage: "¿cómo optimizo mi componente de react?"})
	assert.Contains(t, out, "Se llama Ana")
	assert.Contains(t, out, "Usa React con Next.js")
	assert.NotContains(t, out, "Python")
	assert.NotContains(t, out, "CRM")
}

func TestGetContextForPrompt_StandardFallback(t *testing.T) {
	f := setupService(t)
	f.add(t, "u1", CategoryPersonal, "Se llama Ana")
	f.add(t, "u1", CategoryTechnical, "Programa en Python")
	f.add(t, "u1", CategoryProject, "Construye un CRM")
	f.add(t, "u1", CategoryDecisions, "Decidió lanzar en marzo")

	out := f.svc.GetContextForPrompt(context.Background(), "u1", plans.Basic,
		PromptOptions{CurrentMessage: "necesito ayuda con una idea nueva"})
	assert.Contains(t, out, "Programa en Python")
	assert.Contains(t, out, "Construye un CRM")
	assert.NotContains(t, out, "Decidió")
}

func TestGetContextForPrompt_StandardFallbackWhenSearchFindsNothing(t *testing.T) {
	f := setupService(t)
	f.add(t, "u1", CategoryTechnical, "Programa en Python")

	out := f.svc.GetContextForPrompt(context.Background(), "u1", plans.Basic,
		PromptOptions{CurrentMessage: "tengo dudas con docker compose hoy"})
	assert.Contains(t, out, "Programa en Python")
}

func TestGetContextForPrompt_StandardDedupes(t *testing.T) {
	f := setupService(t)
	f.add(t, "u1", CategoryPreferences, "Prefiere ejemplos en react")

	out := f.svc.GetContextForPrompt(context.Background(), "u1", plans.Basic,
		PromptOptions{CurrentMessage: "muéstrame un hook de react por favor"})
	assert.Equal(t, 1, strings.Count(out, "Prefiere ejemplos en react"))
}

// Sixty-word message on Free selects full and is cut to the 150-token budget.
func TestGetContextForPrompt_FullTruncatesToBudget(t *testing.T) {
	f := setupService(t)
	for i := 0; i < 10; i++ {
		f.add(t, "u1", CategoryProject, fmt.Sprintf("Proyecto %d: plataforma de comercio electrónico con pagos recurrentes y envíos", i))
	}

	out := f.svc.GetContextForPrompt(context.Background(), "u1", plans.Free, PromptOptions{CurrentMessage: words(60)})
	require.NotEmpty(t, out)
	assert.True(t, strings.HasSuffix(out, truncationMarker))
	assert.LessOrEqual(t, len([]rune(strings.TrimSuffix(out, truncationMarker))), 150*4)
}

func TestGetContextForPrompt_FullRespectsItemLimit(t *testing.T) {
	f := setupService(t)
	for i := 0; i < 15; i++ {
		f.add(t, "u1", CategorySummary, fmt.Sprintf("r%02d", i))
	}

	out := f.svc.GetContextForPrompt(context.Background(), "u1", plans.Free, PromptOptions{ForceLevel: plans.LevelFull})
	body := strings.TrimSuffix(out, truncationMarker)
	assert.Equal(t, 10, strings.Count(body, "\n- r"))
}

func TestGetContextForPrompt_CacheHitBypassesStore(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.cache.Set(ctx, "u1", "cached block")

	out := f.svc.GetContextForPrompt(ctx, "u1", plans.Free, PromptOptions{CurrentMessage: words(60)})
	assert.Equal(t, "cached block", out)
}

func TestGetContextForPrompt_PopulatesCache(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.add(t, "u1", CategoryPersonal, "Se llama Ana")

	out := f.svc.GetContextForPrompt(ctx, "u1", plans.Free, PromptOptions{CurrentMessage: "hola"})
	cached, ok := f.cache.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, out, cached)
}

func TestGetContextForPrompt_StoreFailureYieldsEmpty(t *testing.T) {
	cache := NewLRUCache(10, time.Minute)
	svc := NewService(failingRepo{err: errors.New("db down")}, cache, NewExtractor(nil, 20))

	out := svc.GetContextForPrompt(context.Background(), "u1", plans.Free, PromptOptions{CurrentMessage: "hola"})
	assert.Equal(t, "", out)
	_, ok := cache.Get(context.Background(), "u1")
	assert.False(t, ok)
}

// Twelve facts on Free are pruned to ten, oldest first, and the cache entry is dropped.
func TestEnforceContextLimits_PrunesOldestAndInvalidates(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	var inserted []*Fact
	for i := 0; i < 12; i++ {
		inserted = append(inserted, f.add(t, "u1", CategoryPersonal, fmt.Sprintf("hecho %02d", i)))
	}
	f.cache.Set(ctx, "u1", "stale")

	pruned, err := f.svc.EnforceContextLimits(ctx, "u1", plans.Free)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pruned)

	count, err := f.repo.Count(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 10, count)

	remaining, err := f.repo.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	for _, r := range remaining {
		assert.NotEqual(t, inserted[0].ID, r.ID)
		assert.NotEqual(t, inserted[1].ID, r.ID)
	}

	_, ok := f.cache.Get(ctx, "u1")
	assert.False(t, ok)
}

func TestEnforceContextLimits_UnderLimitKeepsCache(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.add(t, "u1", CategoryPersonal, "Se llama Ana")
	f.cache.Set(ctx, "u1", "fresh")

	pruned, err := f.svc.EnforceContextLimits(ctx, "u1", plans.Free)
	require.NoError(t, err)
	assert.Zero(t, pruned)
	_, ok := f.cache.Get(ctx, "u1")
	assert.True(t, ok)
}

func TestExtractAndSave_SavesValidFacts(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.llm.response = `{"facts": [
		{"key": "project_startup", "value": "Trabaja en una startup de e-commerce", "category": "project", "confidence": 85},
		{"key": "low", "value": "Quizás le gusta el té", "category": "preferences", "confidence": 30},
		{"key": "short", "value": "Go", "category": "technical", "confidence": 90}
	]}`
	f.cache.Set(ctx, "u1", "stale")

	res, err := f.svc.ExtractAndSave(ctx, ExtractionJob{
		UserID: "u1", Plan: plans.Enterprise, ConversationID: "conv-9", Turns: startupTurns(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Extracted)
	assert.Equal(t, 1, res.Saved)
	assert.Equal(t, 2, res.Rejected)

	facts, err := f.repo.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, GenerateKey(CategoryProject, "Trabaja en una startup de e-commerce"), facts[0].Key)
	require.NotNil(t, facts[0].SourceConversationID)
	assert.Equal(t, "conv-9", *facts[0].SourceConversationID)

	_, ok := f.cache.Get(ctx, "u1")
	assert.False(t, ok, "cache is invalidated after saving")
}

func TestExtractAndSave_RepeatedMentionUpdatesInsteadOfDuplicating(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.llm.response = `{"facts": [{"key": "a", "value": "Usa Next.js", "category": "technical", "confidence": 70}]}`
	job := ExtractionJob{UserID: "u1", Plan: plans.Enterprise, Turns: startupTurns()}

	_, err := f.svc.ExtractAndSave(ctx, job)
	require.NoError(t, err)
	f.llm.response = `{"facts": [{"key": "b", "value": "usa next.js!", "category": "technical", "confidence": 95}]}`
	_, err = f.svc.ExtractAndSave(ctx, job)
	require.NoError(t, err)

	count, _ := f.repo.Count(ctx, "u1")
	assert.EqualValues(t, 1, count)
	facts, _ := f.repo.ListByUser(ctx, "u1", 0)
	assert.Equal(t, 95, facts[0].Confidence)
}

func TestExtractAndSave_Cadence(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	// Free extracts every 5 user turns; startupTurns has 3.
	res, err := f.svc.ExtractAndSave(ctx, ExtractionJob{UserID: "u1", Plan: plans.Free, Turns: startupTurns()})
	require.NoError(t, err)
	assert.Equal(t, "cadence", res.Skipped)
	assert.Zero(t, f.llm.Calls())

	res, err = f.svc.ExtractAndSave(ctx, ExtractionJob{UserID: "u1", Plan: plans.Free, Turns: startupTurns(), Force: true})
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 1, f.llm.Calls())
}

func TestExtractAndSave_NoSignalSkipsModel(t *testing.T) {
	f := setupService(t)
	turns := []Turn{userTurn("ok"), userTurn("sí"), userTurn("gracias")}

	res, err := f.svc.ExtractAndSave(context.Background(), ExtractionJob{UserID: "u1", Plan: plans.Enterprise, Turns: turns})
	require.NoError(t, err)
	assert.Equal(t, "no_signal", res.Skipped)
	assert.Zero(t, f.llm.Calls())
}

func TestExtractAndSave_ModelFailureIsAbsorbed(t *testing.T) {
	f := setupService(t)
	f.llm.err = errors.New("timeout")

	res, err := f.svc.ExtractAndSave(context.Background(), ExtractionJob{UserID: "u1", Plan: plans.Enterprise, Turns: startupTurns()})
	require.NoError(t, err)
	assert.Zero(t, res.Saved)
}

func TestExtractAndSave_UnknownCategoryPropagates(t *testing.T) {
	f := setupService(t)
	f.llm.response = `{"facts": [{"key": "x", "value": "Colecciona sellos", "category": "hobbies", "confidence": 90}]}`

	_, err := f.svc.ExtractAndSave(context.Background(), ExtractionJob{UserID: "u1", Plan: plans.Enterprise, Turns: startupTurns()})
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestExtractAndSave_EnforcesPlanLimit(t *testing.T) {
	f := setupService(t)
	for i := 0; i < 10; i++ {
		f.add(t, "u1", CategoryPersonal, fmt.Sprintf("hecho %02d", i))
	}
	f.llm.response = `{"facts": [{"key": "x", "value": "Trabaja en una startup", "category": "project", "confidence": 90}]}`

	res, err := f.svc.ExtractAndSave(context.Background(), ExtractionJob{UserID: "u1", Plan: plans.Free, Turns: startupTurns(), Force: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Pruned)
	count, _ := f.repo.Count(context.Background(), "u1")
	assert.EqualValues(t, 10, count)
}

func TestInvalidate_Broadcasts(t *testing.T) {
	f := setupService(t)
	n := &recordingNotifier{err: errors.New("nats down")}
	f.svc.SetNotifier(n)
	ctx := context.Background()
	f.cache.Set(ctx, "u1", "x")

	f.svc.Invalidate(ctx, "u1")
	_, ok := f.cache.Get(ctx, "u1")
	assert.False(t, ok)
	assert.Equal(t, []string{"u1"}, n.users)

	f.cache.Set(ctx, "u1", "x")
	f.svc.InvalidateLocal(ctx, "u1")
	assert.Len(t, n.users, 1, "local invalidation does not broadcast")
}

func TestApplyRetention(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.add(t, "u1", CategoryPersonal, "dato viejo")
	f.clock.step = 40 * 24 * time.Hour
	fresh := f.add(t, "u1", CategoryPersonal, "dato nuevo")
	f.svc.now = func() time.Time { return fresh.LastMentioned.Add(time.Hour) }
	f.cache.Set(ctx, "u1", "stale")

	n, err := f.svc.ApplyRetention(ctx, "u1", plans.Free)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	facts, err := f.repo.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "dato nuevo", facts[0].Value)
	_, ok := f.cache.Get(ctx, "u1")
	assert.False(t, ok)

	// Enterprise keeps two years, so nothing more goes.
	n, err = f.svc.ApplyRetention(ctx, "u1", plans.Enterprise)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteFact(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	fact := f.add(t, "u1", CategoryPersonal, "Se llama Ana")

	assert.ErrorIs(t, f.svc.DeleteFact(ctx, "u2", fact.ID), ErrFactNotFound)
	require.NoError(t, f.svc.DeleteFact(ctx, "u1", fact.ID))
	assert.ErrorIs(t, f.svc.DeleteFact(ctx, "u1", fact.ID), ErrFactNotFound)
}

func TestListFacts(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.add(t, "u1", CategoryPersonal, "Se llama Ana")
	f.add(t, "u1", CategoryTechnical, "Usa Go")

	all, err := f.svc.ListFacts(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	tech, err := f.svc.ListFacts(ctx, "u1", CategoryTechnical)
	require.NoError(t, err)
	assert.Len(t, tech, 1)
}
