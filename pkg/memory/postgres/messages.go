package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hikaru-dev/koemi/pkg/memory"
)

// Append implements [memory.SessionStore]. It adds msg to the messages
// table.
func (s *Store) Append(ctx context.Context, msg memory.Message) error {
	if msg.ID == "" || msg.SessionID == "" {
		return fmt.Errorf("session store: message ID and session ID must not be empty")
	}

	const q = `
		INSERT INTO messages (id, session_id, user_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		msg.ID,
		msg.SessionID,
		msg.UserID,
		msg.Role,
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("session store: append: %w", err)
	}
	return nil
}

// List implements [memory.SessionStore]. It returns the session's messages
// in chronological order (oldest first). A positive limit keeps only the
// most recent limit messages.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]memory.Message, error) {
	q := `
		SELECT id, session_id, user_id, role, content, created_at
		FROM   messages
		WHERE  session_id = $1
		ORDER  BY created_at`
	args := []any{sessionID}

	if limit > 0 {
		// Take the newest rows, then flip back to chronological order.
		q = fmt.Sprintf(`
			SELECT id, session_id, user_id, role, content, created_at
			FROM (
			    SELECT id, session_id, user_id, role, content, created_at
			    FROM   messages
			    WHERE  session_id = $1
			    ORDER  BY created_at DESC
			    LIMIT  $2
			) recent
			ORDER BY created_at`)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	return collectMessages(rows)
}

// Update implements [memory.SessionStore]. It replaces the content of the
// message with the given ID.
func (s *Store) Update(ctx context.Context, messageID, content string) error {
	const q = `UPDATE messages SET content = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, messageID, content)
	if err != nil {
		return fmt.Errorf("session store: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session store: update %q: %w", messageID, memory.ErrNotFound)
	}
	return nil
}

// DeleteSession implements [memory.SessionStore]. It removes all messages of
// the session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	const q = `DELETE FROM messages WHERE session_id = $1`

	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("session store: delete session: %w", err)
	}
	return nil
}

// collectMessages scans pgx rows into a slice of Message values.
func collectMessages(rows pgx.Rows) ([]memory.Message, error) {
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Message, error) {
		var m memory.Message
		if err := row.Scan(
			&m.ID,
			&m.SessionID,
			&m.UserID,
			&m.Role,
			&m.Content,
			&m.CreatedAt,
		); err != nil {
			return memory.Message{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	return msgs, nil
}
