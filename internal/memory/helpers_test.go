package memory

import (
	"context"
	"sync"

	"github.com/PQContinuum/PQ-Frontend-sub000/internal/llm"
)

// stubCompleter returns a canned response and records the last request.
type stubCompleter struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	last     llm.Request
}

func (s *stubCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	return s.response, s.err
}

func (s *stubCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func userTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: text}
}

func assistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Content: text}
}
