// Package store persists chat activity to Postgres.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vntrieu/mixplay/internal/chat"
)

// ArchivedMessage is a stored chat message.
type ArchivedMessage struct {
	chat.Message
	Room      string     `json:"room"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// ArchivedPoll is a finished poll.
type ArchivedPoll struct {
	ID   string    `json:"id"`
	Room string    `json:"room"`
	Poll chat.Poll `json:"poll"`
}

// ArchiveStore reads and writes the chat archive tables.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

// SaveMessage inserts m. A message already archived is left alone.
func (s *ArchiveStore) SaveMessage(ctx context.Context, room string, m chat.Message) error {
	target := pgtype.Text{String: m.Target, Valid: m.Target != ""}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, room, user_id, user_name, user_level, body, target, whisper, action, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, room, int64(m.UserID), m.UserName, m.UserLevel, m.Body, target, m.Whisper, m.Action, m.Timestamp)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// MarkDeleted flags one message as deleted.
func (s *ArchiveStore) MarkDeleted(ctx context.Context, room string, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chat_messages SET deleted_at = $3 WHERE room = $1 AND id = $2 AND deleted_at IS NULL`,
		room, id, at)
	if err != nil {
		return fmt.Errorf("mark message deleted: %w", err)
	}
	return nil
}

// MarkUserPurged flags every message from userID in room as deleted.
func (s *ArchiveStore) MarkUserPurged(ctx context.Context, room string, userID uint32, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_messages SET deleted_at = $3 WHERE room = $1 AND user_id = $2 AND deleted_at IS NULL`,
		room, int64(userID), at)
	if err != nil {
		return 0, fmt.Errorf("mark user purged: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkRoomCleared flags every message in room as deleted.
func (s *ArchiveStore) MarkRoomCleared(ctx context.Context, room string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_messages SET deleted_at = $2 WHERE room = $1 AND deleted_at IS NULL`,
		room, at)
	if err != nil {
		return 0, fmt.Errorf("mark room cleared: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SavePoll stores a finished poll and returns its archive id.
func (s *ArchiveStore) SavePoll(ctx context.Context, room string, p chat.Poll) (string, error) {
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return "", fmt.Errorf("marshal answers: %w", err)
	}
	id := uuid.New()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chat_polls (id, room, author_id, author_name, question, answers, voters, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, room, int64(p.AuthorID), p.AuthorName, p.Question, answers, p.Voters, p.EndsAt)
	if err != nil {
		return "", fmt.Errorf("insert chat poll: %w", err)
	}
	return id.String(), nil
}

// RecentMessages returns up to limit messages from room, newest first.
func (s *ArchiveStore) RecentMessages(ctx context.Context, room string, limit int) ([]ArchivedMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, room, user_id, user_name, user_level, body, target, whisper, action, deleted_at, sent_at
		FROM chat_messages
		WHERE room = $1
		ORDER BY sent_at DESC
		LIMIT $2`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var out []ArchivedMessage
	for rows.Next() {
		var (
			m       ArchivedMessage
			userID  int64
			target  pgtype.Text
			deleted pgtype.Timestamptz
		)
		if err := rows.Scan(&m.ID, &m.Room, &userID, &m.UserName, &m.UserLevel, &m.Body, &target,
			&m.Whisper, &m.Action, &deleted, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.UserID = uint32(userID)
		if target.Valid {
			m.Target = target.String
		}
		if deleted.Valid {
			at := deleted.Time.UTC()
			m.DeletedAt = &at
			m.Deleted = true
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return out, nil
}

// LatestPoll returns the most recent finished poll in room, or nil.
func (s *ArchiveStore) LatestPoll(ctx context.Context, room string) (*ArchivedPoll, error) {
	var (
		p        ArchivedPoll
		id       uuid.UUID
		authorID int64
		answers  []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, room, author_id, author_name, question, answers, voters, ends_at
		FROM chat_polls
		WHERE room = $1
		ORDER BY ends_at DESC
		LIMIT 1`, room).
		Scan(&id, &p.Room, &authorID, &p.Poll.AuthorName, &p.Poll.Question, &answers, &p.Poll.Voters, &p.Poll.EndsAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest poll: %w", err)
	}
	if err := json.Unmarshal(answers, &p.Poll.Answers); err != nil {
		return nil, fmt.Errorf("decode poll answers: %w", err)
	}
	p.ID = id.String()
	p.Poll.AuthorID = uint32(authorID)
	p.Poll.EndsAt = p.Poll.EndsAt.UTC()
	return &p, nil
}
