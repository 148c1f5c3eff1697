package memory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrFactNotFound    = errors.New("fact not found")
	ErrInvalidCategory = errors.New("invalid fact category")
)

// Category groups facts for assembly and display.
type Category string

const (
	CategoryPersonal    Category = "personal"
	CategoryTechnical   Category = "technical"
	CategoryPreferences Category = "preferences"
	CategoryProject     Category = "project"
	CategoryDecisions   Category = "decisions"
	CategorySummary     Category = "summary"
)

// Categories lists every category in rendering order.
var Categories = []Category{
	CategoryPersonal,
	CategoryPreferences,
	CategoryTechnical,
	CategoryProject,
	CategoryDecisions,
	CategorySummary,
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Fact is a row in the user_contexts table.
type Fact struct {
	ID                   uuid.UUID `json:"id"`
	UserID               string    `json:"user_id"`
	Key                  string    `json:"key"`
	Value                string    `json:"value"`
	Category             Category  `json:"category"`
	Confidence           int       `json:"confidence"`
	SourceConversationID *string   `json:"source_conversation_id,omitempty"`
	LastMentioned        time.Time `json:"last_mentioned"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// UpsertParams carries the columns written by Repository.Upsert.
type UpsertParams struct {
	UserID               string
	Key                  string
	Value                string
	Category             Category
	Confidence           int
	SourceConversationID *string
}

// Turn is one message of a conversation.
type Turn struct {
	Role      string    `json:"role" validate:"required,oneof=user assistant"`
	Content   string    `json:"content" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ExtractedFact is a candidate fact as returned by the language model.
type ExtractedFact struct {
	Key        string   `json:"key" validate:"required"`
	Value      string   `json:"value" validate:"min=4,max=500"`
	Category   Category `json:"category" validate:"required"`
	Confidence int      `json:"confidence" validate:"min=50,max=100"`
}

// ExtractRequest is the body of POST /memory/extract.
type ExtractRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
	Turns          []Turn `json:"turns,omitempty" validate:"omitempty,max=200,dive"`
	Force          bool   `json:"force,omitempty"`
}

// AppendTurnRequest is the body of POST /conversations/{id}/turns.
type AppendTurnRequest struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=20000"`
}

// ContextResponse is returned by GET /memory/context.
type ContextResponse struct {
	Context string `json:"context"`
	Plan    string `json:"plan"`
}
