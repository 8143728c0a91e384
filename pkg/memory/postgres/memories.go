package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/hikaru-dev/koemi/pkg/memory"
)

// Add implements [memory.SemanticStore]. It upserts a pre-embedded
// [memory.Memory] into the memories table. If a memory with the same ID
// already exists it is completely replaced.
func (s *Store) Add(ctx context.Context, mem memory.Memory) error {
	if mem.ID == "" {
		return fmt.Errorf("semantic store: memory ID must not be empty")
	}

	const q = `
		INSERT INTO memories (id, user_id, content, embedding, category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    user_id    = EXCLUDED.user_id,
		    content    = EXCLUDED.content,
		    embedding  = EXCLUDED.embedding,
		    category   = EXCLUDED.category,
		    created_at = EXCLUDED.created_at`

	vec := pgvector.NewVector(mem.Embedding)
	_, err := s.pool.Exec(ctx, q,
		mem.ID,
		mem.UserID,
		mem.Content,
		vec,
		mem.Category,
		mem.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("semantic store: add: %w", err)
	}
	return nil
}

// Search implements [memory.SemanticStore]. It finds the topK memories whose
// embeddings are closest (cosine distance) to the supplied query embedding,
// optionally filtered by filter.
//
// Results are ordered by ascending cosine distance (most similar first).
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, filter memory.Filter) ([]memory.SearchResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = "+next(filter.UserID))
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = "+next(filter.Category))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(filter.Before))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, user_id, content, embedding, category, created_at,
		       embedding <=> $1 AS distance
		FROM   memories
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SearchResult, error) {
		var (
			sr  memory.SearchResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&sr.Memory.ID,
			&sr.Memory.UserID,
			&sr.Memory.Content,
			&vec,
			&sr.Memory.Category,
			&sr.Memory.CreatedAt,
			&sr.Distance,
		); err != nil {
			return memory.SearchResult{}, err
		}
		sr.Memory.Embedding = vec.Slice()
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("semantic store: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return results, nil
}

// Delete implements [memory.SemanticStore]. It removes the memory with the
// given ID. Deleting an unknown memory is not an error.
func (s *Store) Delete(ctx context.Context, memoryID string) error {
	const q = `DELETE FROM memories WHERE id = $1`

	if _, err := s.pool.Exec(ctx, q, memoryID); err != nil {
		return fmt.Errorf("semantic store: delete: %w", err)
	}
	return nil
}
