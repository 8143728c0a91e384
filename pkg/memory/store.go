// Package memory defines the two-layer memory architecture used by the Koemi
// companion.
//
//   - STM – Session Store ([SessionStore]): hot, time-ordered chat history.
//     Allows fast appends and recency-window retrieval during an active
//     conversation, plus the edit/delete operations the REST surface exposes.
//   - LTM – Semantic Store ([SemanticStore]): vector store for
//     embedding-based similarity search over distilled memories about the
//     user (preferences, facts, recurring topics).
//
// Both interfaces are public so that external packages can supply
// alternative storage backends (Postgres/pgvector, Redis, in-memory, …).
//
// Every implementation must be safe for concurrent use.
package memory

import "context"

// ─────────────────────────────────────────────────────────────────────────────
// STM – Session Store interface
// ─────────────────────────────────────────────────────────────────────────────

// SessionStore is the STM layer: a time-ordered log of [Message] records
// keyed by session.
//
// Messages must be returned in chronological order unless otherwise
// specified. Implementations must be safe for concurrent use.
type SessionStore interface {
	// Append adds a message to the store. msg.ID and msg.SessionID must be
	// non-empty; the caller assigns IDs (typically UUIDs).
	Append(ctx context.Context, msg Message) error

	// List returns the messages of a session in chronological order (oldest
	// first). A limit of 0 means no cap; a positive limit returns the most
	// recent limit messages, still ordered oldest first. Returns an empty
	// (non-nil) slice when the session has no messages.
	List(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// Update replaces the content of the message with the given ID.
	// Returns [ErrNotFound] when no such message exists.
	Update(ctx context.Context, messageID, content string) error

	// DeleteSession removes all messages of a session. Deleting an unknown
	// session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error
}

// ─────────────────────────────────────────────────────────────────────────────
// LTM – Semantic Store interface
// ─────────────────────────────────────────────────────────────────────────────

// SemanticStore is the LTM layer: a vector store for embedding-based
// similarity search over [Memory] records.
//
// Callers are responsible for producing embeddings before calling Add or
// Search. Implementations must be safe for concurrent use.
type SemanticStore interface {
	// Add stores a pre-embedded [Memory]. If a memory with the same ID
	// already exists it must be replaced (upsert).
	Add(ctx context.Context, mem Memory) error

	// Search finds the topK memories whose embeddings are closest to the
	// query embedding, filtered by filter. Results are ordered by ascending
	// Distance (most similar first). Returns an empty (non-nil) slice when
	// no memories match.
	Search(ctx context.Context, embedding []float32, topK int, filter Filter) ([]SearchResult, error)

	// Delete removes the memory with the given ID. Deleting an unknown
	// memory is not an error.
	Delete(ctx context.Context, memoryID string) error
}
