package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rubiojr/pulse/pkg/core"
)

const enrichedNotificationQuery = `
	SELECT n.id, n.sender_id, n.receiver_id, n.type, n.message_id, n.content, n.is_read, n.created_at,
		u.username, u.name, u.avatar_url, m.content
	FROM notifications n
	LEFT JOIN users u ON u.id = n.sender_id
	LEFT JOIN messages m ON m.id = n.message_id`

func (s *Store) InsertNotification(ctx context.Context, n core.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, sender_id, receiver_id, type, message_id, content, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Sender, n.Receiver, string(n.Type), nullString(n.MessageID), n.Content, n.Read, formatTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting notification %s: %w", n.ID, err)
	}
	return nil
}

// scanEnriched reads one row of enrichedNotificationQuery. resolved reports
// whether the sender profile was found.
func scanEnriched(row rowScanner) (n core.EnrichedNotification, resolved bool, err error) {
	var (
		ntype       string
		messageID   sql.NullString
		createdAt   string
		username    sql.NullString
		name        sql.NullString
		avatar      sql.NullString
		messageBody sql.NullString
	)
	err = row.Scan(&n.ID, &n.Sender.ID, &n.Receiver, &ntype, &messageID, &n.Content, &n.Read, &createdAt,
		&username, &name, &avatar, &messageBody)
	if err != nil {
		return n, false, err
	}
	n.Type = core.NotificationType(ntype)
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return n, false, err
	}
	if messageID.Valid {
		n.Message = &core.MessageRef{ID: messageID.String, Content: messageBody.String}
	}
	n.Sender.Username = username.String
	n.Sender.Name = name.String
	n.Sender.AvatarURL = avatar.String
	return n, username.Valid, nil
}

// EnrichedNotification returns the notification joined with its sender's
// profile and triggering message. A missing notification or an unresolvable
// sender is reported as NotFound.
func (s *Store) EnrichedNotification(ctx context.Context, id string) (core.EnrichedNotification, error) {
	row := s.db.QueryRowContext(ctx, enrichedNotificationQuery+` WHERE n.id = ?`, id)
	n, resolved, err := scanEnriched(row)
	if err == sql.ErrNoRows {
		return core.EnrichedNotification{}, core.NotFound("enrich notification", "notification %s not found", id)
	}
	if err != nil {
		return core.EnrichedNotification{}, fmt.Errorf("reading notification %s: %w", id, err)
	}
	if !resolved {
		return n, core.NotFound("enrich notification", "sender %s of notification %s not found", n.Sender.ID, id)
	}
	return n, nil
}

// ListNotifications returns every notification for receiver, newest first.
// Notifications whose sender no longer resolves are kept with only the
// sender id set.
func (s *Store) ListNotifications(ctx context.Context, receiver core.UserID) ([]core.EnrichedNotification, error) {
	rows, err := s.db.QueryContext(ctx,
		enrichedNotificationQuery+` WHERE n.receiver_id = ? ORDER BY n.created_at DESC, n.id DESC`, receiver)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer s.closeRows(rows)

	out := []core.EnrichedNotification{}
	for rows.Next() {
		n, _, err := scanEnriched(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) UnreadNotificationCount(ctx context.Context, receiver core.UserID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE receiver_id = ? AND is_read = 0`, receiver,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return n, nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, receiver core.UserID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE receiver_id = ? AND is_read = 0`, receiver)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting updated notifications: %w", err)
	}
	return n, nil
}
