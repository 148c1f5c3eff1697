// Package llm wraps the chat completion providers used for fact extraction.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRateLimited   = errors.New("llm: rate limited")
	ErrUnavailable   = errors.New("llm: provider unavailable")
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Request is a single-shot completion: one system instruction, one user message.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider to constrain output to a JSON object when it can.
	JSON bool
}

// Completer returns the text of a single completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	if strings.EqualFold(provider, ProviderAnthropic) {
		return "claude-3-5-haiku-latest"
	}
	return "gpt-4o-mini"
}

// New builds the Completer named by cfg.Provider.
func New(cfg Config) (Completer, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel(cfg.Provider)
	}

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		return NewOpenAI(model, cfg.APIKey, cfg.BaseURL), nil
	case ProviderAnthropic:
		return NewAnthropic(model, cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// SupportsJSONMode reports whether the provider honours a JSON-only response format.
func SupportsJSONMode(c Completer) bool {
	_, ok := c.(*OpenAI)
	return ok
}
