package nats

import (
	"encoding/json"
	"time"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// StreamMemory holds extraction jobs until a worker acks them.
const StreamMemory = "PQ_MEMORY"

const (
	SubjectMemoryWildcard    = "pq.memory.>"
	SubjectExtractionRequest = "pq.memory.extract"
	// SubjectCacheInvalidate is core NATS fan-out, not persisted in a stream.
	SubjectCacheInvalidate = "pq.cache.invalidate"
)

// ConsumerMemoryExtractor is the durable consumer shared by all API instances.
const ConsumerMemoryExtractor = "memory-extractor"

// ExtractionRequested asks a worker to run fact extraction over a stored conversation.
type ExtractionRequested struct {
	RequestID      string    `json:"request_id"`
	UserID         string    `json:"user_id"`
	Plan           string    `json:"plan"`
	ConversationID string    `json:"conversation_id"`
	Force          bool      `json:"force,omitempty"`
	RequestedAt    time.Time `json:"requested_at"`
	// Turns is set when the caller supplied the transcript instead of relying on the stored conversation.
	Turns json.RawMessage `json:"turns,omitempty"`
}

// CacheInvalidated tells every instance to drop a user's cached context.
type CacheInvalidated struct {
	UserID string `json:"user_id"`
	Origin string `json:"origin,omitempty"`
}
