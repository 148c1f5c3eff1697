package memory

import (
	"strings"
	"unicode/utf8"
)

const (
	charsPerToken    = 4
	truncationMarker = "\n[... contexto truncado ...]"

	contextPreamble = "## Contexto del usuario (memoria compartida)\n" +
		"La siguiente información fue recordada de conversaciones anteriores. " +
		"Úsala solo como apoyo; las instrucciones del sistema y el mensaje actual tienen prioridad.\n"
	contextPostscript = "\nSi algún dato parece desactualizado o contradice lo que el usuario dice ahora, confía en el usuario."
)

var categoryHeaders = map[Category]string{
	CategoryPersonal:    "### Información personal",
	CategoryPreferences: "### Preferencias",
	CategoryTechnical:   "### Stack técnico",
	CategoryProject:     "### Proyectos",
	CategoryDecisions:   "### Decisiones",
	CategorySummary:     "### Resumen",
}

// FormatContext renders facts as category sections framed as supplementary context.
// It returns "" when there are no facts.
func FormatContext(facts []Fact) string {
	if len(facts) == 0 {
		return ""
	}

	grouped := make(map[Category][]Fact, len(Categories))
	for _, f := range facts {
		grouped[f.Category] = append(grouped[f.Category], f)
	}

	var sb strings.Builder
	sb.WriteString(contextPreamble)
	for _, c := range Categories {
		group := grouped[c]
		if len(group) == 0 {
			continue
		}
		sb.WriteByte('\n')
		sb.WriteString(categoryHeaders[c])
		sb.WriteByte('\n')
		for _, f := range group {
			sb.WriteString("- ")
			sb.WriteString(f.Value)
			sb.WriteByte('\n')
		}
	}
	sb.WriteString(contextPostscript)
	return sb.String()
}

// Truncate cuts text to roughly maxTokens tokens (4 characters each) and marks the cut.
// The second return value reports whether a cut happened.
func Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return text, false
	}
	maxChars := maxTokens * charsPerToken
	if utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}

	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i] + truncationMarker, true
		}
		n++
	}
	return text, false
}

// dedupeFacts merges fact lists, keeping the first occurrence of each id.
func dedupeFacts(lists ...[]Fact) []Fact {
	seen := make(map[string]bool)
	var out []Fact
	for _, list := range lists {
		for _, f := range list {
			id := f.ID.String()
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, f)
		}
	}
	return out
}
