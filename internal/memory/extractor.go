package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/PQContinuum/PQ-Frontend-sub000/internal/llm"
)

const (
	extractionTemperature = 0.1
	extractionMaxTokens   = 1000
	maxKeyValueRunes      = 30
	recentUserTurns       = 3
	minUserTurns          = 3
)

const extractionPrompt = `Eres un sistema que extrae información duradera sobre el usuario a partir de una conversación.

Extrae solo hechos que sigan siendo útiles en conversaciones futuras: datos personales, tecnologías que usa, preferencias, proyectos, decisiones tomadas y resúmenes de su situación.
No extraigas opiniones pasajeras, saludos ni información sobre el asistente.

Responde ÚNICAMENTE con JSON válido con esta forma:
{"facts": [{"key": "identificador_corto", "value": "descripción del hecho", "category": "personal|technical|preferences|project|decisions|summary", "confidence": 0-100}]}

Reglas:
- "category" debe ser exactamente uno de: personal, technical, preferences, project, decisions, summary.
- "confidence" es un entero entre 0 y 100 que estima qué tan seguro es el hecho.
- "value" debe tener entre 4 y 500 caracteres.
- Si no hay hechos relevantes responde {"facts": []}.`

var factValidator = validator.New()

// Extractor turns conversation windows into candidate facts using a language model.
type Extractor struct {
	llm      llm.Completer
	window   int
	jsonMode bool
}

// NewExtractor creates an Extractor that sends at most window turns per call.
func NewExtractor(completer llm.Completer, window int) *Extractor {
	if window <= 0 {
		window = DefaultConfig().ExtractionWindow
	}
	return &Extractor{
		llm:      completer,
		window:   window,
		jsonMode: llm.SupportsJSONMode(completer),
	}
}

// ShouldExtractFacts reports whether turns hold at least three user turns and
// one of the last three mentions something worth remembering.
func ShouldExtractFacts(turns []Turn) bool {
	var user []Turn
	for _, t := range turns {
		if t.Role == RoleUser {
			user = append(user, t)
		}
	}
	if len(user) < minUserTurns {
		return false
	}
	for _, t := range user[len(user)-recentUserTurns:] {
		if containsTrigger(t.Content) {
			return true
		}
	}
	return false
}

// ExtractFacts asks the model for facts in the most recent turns. Any failure
// yields an empty result; the second return value carries the cause for logging and metrics.
func (e *Extractor) ExtractFacts(ctx context.Context, turns []Turn) ([]ExtractedFact, error) {
	if e.llm == nil || len(turns) == 0 {
		return nil, nil
	}
	if len(turns) > e.window {
		turns = turns[len(turns)-e.window:]
	}

	out, err := e.llm.Complete(ctx, llm.Request{
		System:      extractionPrompt,
		User:        renderTranscript(turns),
		Temperature: extractionTemperature,
		MaxTokens:   extractionMaxTokens,
		JSON:        e.jsonMode,
	})
	if err != nil {
		slog.Warn("memory: fact extraction call failed", "error", err)
		return nil, err
	}

	facts, err := parseFacts(out)
	if err != nil {
		slog.Warn("memory: fact extraction returned malformed output", "error", err)
		return nil, err
	}
	return facts, nil
}

func renderTranscript(turns []Turn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if t.Role == RoleUser {
			sb.WriteString("User: ")
		} else {
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(t.Content)
	}
	return sb.String()
}

var errNoJSONObject = errors.New("no JSON object in model output")

type rawFact struct {
	Key        string      `json:"key"`
	Value      string      `json:"value"`
	Category   string      `json:"category"`
	Confidence json.Number `json:"confidence"`
}

func parseFacts(out string) ([]ExtractedFact, error) {
	body := strings.TrimSpace(out)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return nil, errNoJSONObject
	}

	var payload struct {
		Facts []rawFact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("decoding facts: %w", err)
	}

	facts := make([]ExtractedFact, 0, len(payload.Facts))
	for _, rf := range payload.Facts {
		conf := 0
		if rf.Confidence != "" {
			if f, err := rf.Confidence.Float64(); err == nil {
				conf = int(math.Round(f))
			}
		}
		facts = append(facts, ExtractedFact{
			Key:        strings.TrimSpace(rf.Key),
			Value:      strings.TrimSpace(rf.Value),
			Category:   Category(strings.ToLower(strings.TrimSpace(rf.Category))),
			Confidence: conf,
		})
	}
	return facts, nil
}

// IsValidFact rejects facts with confidence below 50, a value outside 4..500
// characters, or a missing key or category.
func IsValidFact(f ExtractedFact) bool {
	return factValidator.Struct(f) == nil
}

// GenerateKey derives the upsert key for a fact: the category, an underscore,
// and up to 30 lower-cased letters and digits of the value.
func GenerateKey(category Category, value string) string {
	var sb strings.Builder
	sb.WriteString(string(category))
	sb.WriteByte('_')
	n := 0
	for _, r := range strings.ToLower(value) {
		if n == maxKeyValueRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			n++
		}
	}
	return sb.String()
}
