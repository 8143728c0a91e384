package memory

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an operation targets a record that does not
// exist.
var ErrNotFound = errors.New("memory: not found")

// Message is one chat history entry in the session store (STM).
type Message struct {
	// ID is the unique identifier for this message (e.g., a UUID).
	ID string

	// SessionID is the conversation session this message belongs to.
	SessionID string

	// UserID identifies the account the session belongs to.
	UserID string

	// Role is who produced the message: "user", "assistant", or "system".
	Role string

	// Content is the message text.
	Content string

	// CreatedAt is when the message was recorded.
	CreatedAt time.Time
}

// Memory is one distilled long-term memory record (LTM). It carries its
// pre-computed embedding so the store does not need to re-embed on insertion.
type Memory struct {
	// ID is the unique identifier for this memory (e.g., a UUID).
	ID string

	// UserID identifies the account this memory is about.
	UserID string

	// Content is the memory text (e.g., "likes jazz, dislikes mornings").
	Content string

	// Embedding is the vector representation of Content. Dimension must
	// match the store configuration.
	Embedding []float32

	// Category is an optional coarse label (e.g., "preference", "fact",
	// "event").
	Category string

	// CreatedAt is when the memory was recorded.
	CreatedAt time.Time
}

// Filter narrows a semantic search to a subset of stored memories.
// All non-zero fields are applied as AND conditions.
type Filter struct {
	// UserID restricts results to memories about a specific account.
	UserID string

	// Category restricts results to memories with this label.
	Category string

	// After filters memories recorded after this instant (exclusive).
	After time.Time

	// Before filters memories recorded before this instant (exclusive).
	Before time.Time
}

// SearchResult pairs a retrieved memory with its vector-space distance from
// the query embedding. Lower Distance values indicate higher similarity.
type SearchResult struct {
	// Memory is the retrieved record.
	Memory Memory

	// Distance is the cosine distance to the query embedding.
	Distance float64
}
