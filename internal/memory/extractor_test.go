package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startupTurns() []Turn {
	return []Turn{
		userTurn("hola"),
		assistantTurn("¡Hola! ¿En qué te ayudo?"),
		userTurn("quiero ideas para una landing"),
		assistantTurn("Claro, cuéntame más."),
		userTurn("trabajo en una startup de e-commerce"),
	}
}

func TestShouldExtractFacts_StartupScenario(t *testing.T) {
	assert.True(t, ShouldExtractFacts(startupTurns()))
}

func TestShouldExtractFacts_TooFewUserTurns(t *testing.T) {
	turns := []Turn{
		userTurn("trabajo en una startup"),
		assistantTurn("genial"),
		userTurn("uso react"),
	}
	assert.False(t, ShouldExtractFacts(turns))
}

func TestShouldExtractFacts_NoTriggerInRecentTurns(t *testing.T) {
	turns := []Turn{
		userTurn("trabajo en una startup"),
		userTurn("ok"),
		userTurn("gracias"),
		userTurn("listo"),
	}
	assert.False(t, ShouldExtractFacts(turns), "trigger is older than the last three user turns")
}

func TestShouldExtractFacts_CaseInsensitive(t *testing.T) {
	turns := []Turn{userTurn("a"), userTurn("b"), userTurn("PREFIERO respuestas cortas")}
	assert.True(t, ShouldExtractFacts(turns))
}

func TestExtractFacts_StartupScenario(t *testing.T) {
	stub := &stubCompleter{response: `{"facts": [{"key": "project_startup", "value": "Trabaja en una startup de e-commerce", "category": "project", "confidence": 85}]}`}
	e := NewExtractor(stub, 20)

	facts, err := e.ExtractFacts(context.Background(), startupTurns())
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, CategoryProject, facts[0].Category)
	assert.GreaterOrEqual(t, facts[0].Confidence, 50)
	assert.True(t, IsValidFact(facts[0]))

	assert.Contains(t, stub.last.User, "User: trabajo en una startup de e-commerce")
	assert.Contains(t, stub.last.User, "Assistant: Claro, cuéntame más.")
	assert.InDelta(t, 0.1, stub.last.Temperature, 1e-9)
	assert.Equal(t, 1000, stub.last.MaxTokens)
	assert.False(t, stub.last.JSON, "stub does not support JSON mode")
}

func TestExtractFacts_WindowIsLastTwentyTurns(t *testing.T) {
	stub := &stubCompleter{response: `{"facts": []}`}
	e := NewExtractor(stub, 20)

	var turns []Turn
	for i := 0; i < 30; i++ {
		turns = append(turns, userTurn("mensaje "+string(rune('a'+i%26))+strings.Repeat("x", i)))
	}
	_, err := e.ExtractFacts(context.Background(), turns)
	require.NoError(t, err)
	assert.Equal(t, 20, strings.Count(stub.last.User, "User: "))
	assert.NotContains(t, stub.last.User, "User: mensaje a\n")
}

func TestExtractFacts_FencedOutput(t *testing.T) {
	stub := &stubCompleter{response: "```json\n{\"facts\": [{\"key\": \"k\", \"value\": \"Usa Next.js 14\", \"category\": \"Technical\", \"confidence\": 90.6}]}\n```"}
	e := NewExtractor(stub, 20)

	facts, err := e.ExtractFacts(context.Background(), startupTurns())
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, CategoryTechnical, facts[0].Category)
	assert.Equal(t, 91, facts[0].Confidence)
}

func TestExtractFacts_MalformedJSON(t *testing.T) {
	stub := &stubCompleter{response: "no tengo hechos"}
	e := NewExtractor(stub, 20)

	facts, err := e.ExtractFacts(context.Background(), startupTurns())
	assert.Error(t, err)
	assert.Empty(t, facts)
}

func TestExtractFacts_ModelError(t *testing.T) {
	stub := &stubCompleter{err: errors.New("boom")}
	e := NewExtractor(stub, 20)

	facts, err := e.ExtractFacts(context.Background(), startupTurns())
	assert.Error(t, err)
	assert.Empty(t, facts)
}

func TestExtractFacts_NilCompleter(t *testing.T) {
	e := NewExtractor(nil, 20)
	facts, err := e.ExtractFacts(context.Background(), startupTurns())
	assert.NoError(t, err)
	assert.Empty(t, facts)
}

func TestIsValidFact_ConfidenceBoundary(t *testing.T) {
	f := ExtractedFact{Key: "k", Value: "Usa Go", Category: CategoryTechnical}

	f.Confidence = 49
	assert.False(t, IsValidFact(f))
	f.Confidence = 50
	assert.True(t, IsValidFact(f))
}

func TestIsValidFact_ValueLengthBoundary(t *testing.T) {
	f := ExtractedFact{Key: "k", Category: CategoryPersonal, Confidence: 80}

	f.Value = "abc"
	assert.False(t, IsValidFact(f))
	f.Value = "abcd"
	assert.True(t, IsValidFact(f))
	f.Value = strings.Repeat("a", 500)
	assert.True(t, IsValidFact(f))
	f.Value = strings.Repeat("a", 501)
	assert.False(t, IsValidFact(f))
}

func TestIsValidFact_CountsCharactersNotBytes(t *testing.T) {
	f := ExtractedFact{Key: "k", Value: "ñañá", Category: CategoryPersonal, Confidence: 80}
	assert.True(t, IsValidFact(f))
}

func TestIsValidFact_MissingKeyOrCategory(t *testing.T) {
	assert.False(t, IsValidFact(ExtractedFact{Value: "Usa Go", Category: CategoryTechnical, Confidence: 80}))
	assert.False(t, IsValidFact(ExtractedFact{Key: "k", Value: "Usa Go", Confidence: 80}))
}

func TestIsValidFact_LeavesCategoryMembershipToStore(t *testing.T) {
	f := ExtractedFact{Key: "k", Value: "Colecciona sellos", Category: "hobbies", Confidence: 90}
	assert.True(t, IsValidFact(f))
	assert.False(t, f.Category.Valid())
}

func TestGenerateKey_Deterministic(t *testing.T) {
	a := GenerateKey(CategoryTechnical, "Usa Next.js 14")
	b := GenerateKey(CategoryTechnical, "usa next js 14!")
	assert.Equal(t, a, b)
	assert.Equal(t, "technical_usanextjs14", a)
}

func TestGenerateKey_Truncates(t *testing.T) {
	k := GenerateKey(CategoryProject, strings.Repeat("ab", 40))
	assert.Equal(t, "project_"+strings.Repeat("ab", 15), k)
}

func TestGenerateKey_KeepsAccentedLetters(t *testing.T) {
	assert.Equal(t, "personal_vivoenbogotá", GenerateKey(CategoryPersonal, "Vivo en Bogotá"))
}

func TestRelevantKeywords(t *testing.T) {
	kws := RelevantKeywords("¿Cómo despliego mi app de React en AWS con Docker?")
	assert.ElementsMatch(t, []string{"react", "aws", "docker"}, kws)
	assert.Empty(t, RelevantKeywords("hola, ¿cómo estás?"))
}
