package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/hikaru-dev/koemi/pkg/memory"
)

var (
	_ memory.SessionStore  = (*Store)(nil)
	_ memory.SemanticStore = (*Store)(nil)
)

// Store backs both memory tiers with one PostgreSQL database: session
// transcripts (STM) in plain tables and semantic memories (LTM) in a
// pgvector column. It wraps a single [pgxpool.Pool] and is safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and
// applies [Migrate] so the schema is in place before the first query.
//
// embeddingDimensions fixes the width of the vector column and must equal the
// configured embedding model's output dimension (1536 for OpenAI
// text-embedding-3-small). Changing it later means migrating the column by
// hand.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Without the pgvector type registration, vector columns cannot be
	// scanned into pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Healthy reports whether the database answers a ping.
func (s *Store) Healthy(ctx context.Context) (bool, string) {
	if err := s.pool.Ping(ctx); err != nil {
		return false, fmt.Sprintf("postgres store: %v", err)
	}
	return true, "postgres store: reachable"
}

// Close releases the connection pool. Typically deferred right after
// [NewStore].
func (s *Store) Close() {
	s.pool.Close()
}
