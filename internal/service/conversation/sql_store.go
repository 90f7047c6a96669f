package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cordai/internal/models"
)

// SQLStore keeps summaries in the conversations table created by
// storage.Migrate. Ordering uses a per-user position counter so that new
// entries sort first while updates keep their slot. MySQL DSNs need
// parseTime=true.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) List(ctx context.Context, userID string) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, last_message_at, last_read_at FROM conversations WHERE user_id = ? ORDER BY position DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]*models.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, userID, conversationID string) (*models.Conversation, bool, error) {
	return getConversation(ctx, s.db, userID, conversationID)
}

func (s *SQLStore) Upsert(ctx context.Context, userID string, conv *models.Conversation, now time.Time) (out *models.Conversation, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	existing, ok, err := getConversation(ctx, tx, userID, conv.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		out = merge(existing, conv, now)
		if _, err = tx.ExecContext(ctx,
			`UPDATE conversations SET title = ?, last_message_at = ?, last_read_at = ? WHERE user_id = ? AND id = ?`,
			out.Title, nullTime(out.LastMessageAt), nullTime(out.LastReadAt), userID, conv.ID,
		); err != nil {
			return nil, fmt.Errorf("update conversation: %w", err)
		}
	} else {
		var maxPos sql.NullInt64
		if err = tx.QueryRowContext(ctx,
			`SELECT MAX(position) FROM conversations WHERE user_id = ?`, userID,
		).Scan(&maxPos); err != nil {
			return nil, fmt.Errorf("next position: %w", err)
		}
		out = fresh(userID, conv, now)
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO conversations (user_id, id, title, position, last_message_at, last_read_at) VALUES (?, ?, ?, ?, ?, ?)`,
			userID, out.ID, out.Title, maxPos.Int64+1, nullTime(out.LastMessageAt), nullTime(out.LastReadAt),
		); err != nil {
			return nil, fmt.Errorf("insert conversation: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit conversation: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Remove(ctx context.Context, userID, conversationID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE user_id = ? AND id = ?`, userID, conversationID,
	); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getConversation(ctx context.Context, q queryer, userID, conversationID string) (*models.Conversation, bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, user_id, title, last_message_at, last_read_at FROM conversations WHERE user_id = ? AND id = ?`,
		userID, conversationID,
	)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return c, true, nil
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var (
		c          models.Conversation
		sent, read sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &sent, &read); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if sent.Valid {
		t := sent.Time.UTC()
		c.LastMessageAt = &t
	}
	if read.Valid {
		t := read.Time.UTC()
		c.LastReadAt = &t
	}
	return &c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
