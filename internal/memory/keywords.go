package memory

import (
	"strings"
	"unicode"
)

// extractionTriggers gate fact extraction: a recent user turn must mention one.
var extractionTriggers = []string{
	// personal
	"me llamo", "mi nombre", "soy ", "vivo en", "tengo ", "mi familia", "mi esposa", "mi esposo", "mis hijos",
	"my name", "i am ", "i'm ", "i live", "my wife", "my husband", "my kids",
	// work
	"trabajo", "empresa", "startup", "negocio", "cliente", "equipo", "proyecto", "emprendimiento",
	"i work", "company", "business", "customer", "team", "project",
	// technical
	"uso ", "utilizo", "programo", "stack", "framework", "lenguaje", "base de datos", "servidor",
	"i use", "database", "server", "deploy", "api",
	"react", "next", "node", "python", "golang", "typescript", "javascript", "docker", "kubernetes", "aws",
	// preferences
	"prefiero", "me gusta", "no me gusta", "odio", "favorito", "siempre", "nunca",
	"i prefer", "i like", "i love", "i hate", "favorite", "always", "never",
	// decisions
	"decidí", "decidimos", "vamos a", "elegí", "elegimos", "plan es",
	"decided", "we will", "going to", "chose", "plan is",
	// business
	"ventas", "ingresos", "clientes", "mercado", "e-commerce", "ecommerce", "saas", "inversión",
	"sales", "revenue", "market", "investors", "funding",
}

// relevanceTerms are matched against the current message to pick related facts.
var relevanceTerms = []string{
	"react", "next", "nextjs", "vue", "angular", "svelte", "node", "express", "python", "django", "flask",
	"fastapi", "go", "golang", "rust", "java", "spring", "kotlin", "swift", "typescript", "javascript",
	"php", "laravel", "ruby", "rails", "docker", "kubernetes", "aws", "gcp", "azure", "vercel",
	"postgres", "postgresql", "mysql", "mongodb", "redis", "sqlite", "supabase", "firebase", "prisma",
	"graphql", "rest", "api", "stripe", "tailwind", "css", "html", "git", "linux", "terraform",
	"llm", "openai", "machine learning", "ia", "ai",
}

// containsTrigger reports whether text mentions any extraction trigger, ignoring case.
func containsTrigger(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range extractionTriggers {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RelevantKeywords returns the relevance terms present in message as whole words.
func RelevantKeywords(message string) []string {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}
	joined := " " + strings.Join(words, " ") + " "

	var out []string
	for _, term := range relevanceTerms {
		if strings.Contains(term, " ") {
			if strings.Contains(joined, " "+term+" ") {
				out = append(out, term)
			}
			continue
		}
		if present[term] {
			out = append(out, term)
		}
	}
	return out
}
