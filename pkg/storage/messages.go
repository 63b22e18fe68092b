package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rubiojr/pulse/pkg/core"
)

const messageColumns = "id, sender_id, receiver_id, content, type, post_id, is_read, read_at, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (core.Message, error) {
	var (
		m         core.Message
		postID    sql.NullString
		readAt    sql.NullString
		createdAt string
		msgType   string
	)
	if err := row.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Content, &msgType, &postID, &m.Read, &readAt, &createdAt); err != nil {
		return core.Message{}, err
	}
	m.Type = core.MessageType(msgType)
	m.PostID = stringPtr(postID)

	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Message{}, err
	}
	if readAt.Valid {
		t, err := parseTime(readAt.String)
		if err != nil {
			return core.Message{}, err
		}
		m.ReadAt = &t
	}
	return m, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows)

	messages := []core.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Store) InsertMessage(ctx context.Context, m core.Message) error {
	if m.Type == "" {
		m.Type = core.MessageText
	}
	var readAt sql.NullString
	if m.ReadAt != nil {
		readAt = sql.NullString{String: formatTime(*m.ReadAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Sender, m.Receiver, m.Content, string(m.Type), nullString(m.PostID), m.Read, readAt, formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) MessagesBetween(ctx context.Context, a, b core.UserID) ([]core.Message, error) {
	messages, err := s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC`,
		a, b, b, a,
	)
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return messages, nil
}

func (s *Store) MessagesInvolving(ctx context.Context, user core.UserID) ([]core.Message, error) {
	messages, err := s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at DESC, id DESC`,
		user, user,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages for %s: %w", user, err)
	}
	return messages, nil
}

func (s *Store) MarkRead(ctx context.Context, sender, receiver core.UserID, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1, read_at = ?
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0`,
		formatTime(at), sender, receiver,
	)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting updated messages: %w", err)
	}
	return n, nil
}

func (s *Store) UnreadMessageCount(ctx context.Context, receiver core.UserID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND is_read = 0`, receiver,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return n, nil
}

func (s *Store) UnreadMessageCounts(ctx context.Context, receiver core.UserID) (map[core.UserID]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender_id, COUNT(*) FROM messages
		WHERE receiver_id = ? AND is_read = 0
		GROUP BY sender_id`, receiver,
	)
	if err != nil {
		return nil, fmt.Errorf("counting unread messages per sender: %w", err)
	}
	defer s.closeRows(rows)

	counts := make(map[core.UserID]int)
	for rows.Next() {
		var sender core.UserID
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, fmt.Errorf("scanning unread count: %w", err)
		}
		counts[sender] = n
	}
	return counts, rows.Err()
}

// AllMessages streams every message, oldest first, to fn. Iteration stops at
// the first error returned by fn.
func (s *Store) AllMessages(ctx context.Context, fn func(core.Message) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return fmt.Errorf("querying messages: %w", err)
	}
	defer s.closeRows(rows)

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return fmt.Errorf("scanning message: %w", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}
