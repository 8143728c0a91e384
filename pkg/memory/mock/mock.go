// Package mock provides in-memory test doubles for the memory layer
// interfaces.
//
// SessionStore and SemanticStore are working in-memory implementations, so
// tests can exercise full read-after-write flows without a database. Both
// also expose error-injection fields and are safe for concurrent use.
//
// Typical usage:
//
//	store := mock.NewSessionStore()
//	_ = store.Append(ctx, memory.Message{ID: "m1", SessionID: "s1", Content: "hi"})
//	msgs, _ := store.List(ctx, "s1", 0)
package mock

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hikaru-dev/koemi/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.SessionStore  = (*SessionStore)(nil)
	_ memory.SemanticStore = (*SemanticStore)(nil)
)

// ─────────────────────────────────────────────────────────────────────────────
// SessionStore mock (STM)
// ─────────────────────────────────────────────────────────────────────────────

// SessionStore is an in-memory implementation of [memory.SessionStore].
type SessionStore struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every method. Use it to simulate
	// storage failures.
	Err error

	// messages holds all appended messages in insertion order.
	messages []memory.Message
}

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// Append implements [memory.SessionStore].
func (s *SessionStore) Append(ctx context.Context, msg memory.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if msg.ID == "" || msg.SessionID == "" {
		return fmt.Errorf("mock session store: message ID and session ID must not be empty")
	}
	s.messages = append(s.messages, msg)
	return nil
}

// List implements [memory.SessionStore].
func (s *SessionStore) List(ctx context.Context, sessionID string, limit int) ([]memory.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	msgs := []memory.Message{}
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			msgs = append(msgs, m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Update implements [memory.SessionStore].
func (s *SessionStore) Update(ctx context.Context, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Content = content
			return nil
		}
	}
	return fmt.Errorf("mock session store: update %q: %w", messageID, memory.ErrNotFound)
}

// DeleteSession implements [memory.SessionStore].
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.SessionID != sessionID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

// Len returns the total number of stored messages across all sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// ─────────────────────────────────────────────────────────────────────────────
// SemanticStore mock (LTM)
// ─────────────────────────────────────────────────────────────────────────────

// SemanticStore is an in-memory implementation of [memory.SemanticStore]
// using exact cosine distance.
type SemanticStore struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every method.
	Err error

	// memories holds all stored records keyed by ID.
	memories map[string]memory.Memory
}

// NewSemanticStore creates an empty in-memory semantic store.
func NewSemanticStore() *SemanticStore {
	return &SemanticStore{memories: map[string]memory.Memory{}}
}

// Add implements [memory.SemanticStore].
func (s *SemanticStore) Add(ctx context.Context, mem memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if mem.ID == "" {
		return fmt.Errorf("mock semantic store: memory ID must not be empty")
	}
	s.memories[mem.ID] = mem
	return nil
}

// Search implements [memory.SemanticStore].
func (s *SemanticStore) Search(ctx context.Context, embedding []float32, topK int, filter memory.Filter) ([]memory.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	results := []memory.SearchResult{}
	for _, m := range s.memories {
		if filter.UserID != "" && m.UserID != filter.UserID {
			continue
		}
		if filter.Category != "" && m.Category != filter.Category {
			continue
		}
		if !filter.After.IsZero() && !m.CreatedAt.After(filter.After) {
			continue
		}
		if !filter.Before.IsZero() && !m.CreatedAt.Before(filter.Before) {
			continue
		}
		results = append(results, memory.SearchResult{
			Memory:   m,
			Distance: cosineDistance(embedding, m.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete implements [memory.SemanticStore].
func (s *SemanticStore) Delete(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.memories, memoryID)
	return nil
}

// Len returns the number of stored memories.
func (s *SemanticStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memories)
}

// cosineDistance computes 1 - cosine similarity. Mismatched or zero-length
// vectors yield the maximum distance.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
