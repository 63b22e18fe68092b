package core

import (
	"context"
	"time"
)

// MessageStore persists direct messages and their read state.
type MessageStore interface {
	InsertMessage(ctx context.Context, m Message) error
	// MessagesBetween returns the conversation between a and b, oldest first.
	MessagesBetween(ctx context.Context, a, b UserID) ([]Message, error)
	// MessagesInvolving returns every message sent or received by user,
	// newest first.
	MessagesInvolving(ctx context.Context, user UserID) ([]Message, error)
	// MarkRead flips unread messages from sender to receiver and returns how
	// many rows changed.
	MarkRead(ctx context.Context, sender, receiver UserID, at time.Time) (int64, error)
	UnreadMessageCount(ctx context.Context, receiver UserID) (int, error)
	// UnreadMessageCounts returns unread counts for receiver keyed by sender.
	UnreadMessageCounts(ctx context.Context, receiver UserID) (map[UserID]int, error)
}

// NotificationStore persists notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n Notification) error
	// EnrichedNotification re-reads a notification joined with its sender
	// profile.
	EnrichedNotification(ctx context.Context, id string) (EnrichedNotification, error)
	ListNotifications(ctx context.Context, receiver UserID) ([]EnrichedNotification, error)
	UnreadNotificationCount(ctx context.Context, receiver UserID) (int, error)
	MarkAllNotificationsRead(ctx context.Context, receiver UserID) (int64, error)
}

// DefaultSearchLimit caps user directory searches when no limit is given.
const DefaultSearchLimit = 20

// UserDirectory resolves identities to users.
type UserDirectory interface {
	UserExists(ctx context.Context, id UserID) (bool, error)
	PublicProfile(ctx context.Context, id UserID) (PublicProfile, error)
	FindUsersByPattern(ctx context.Context, pattern string, limit int) ([]PublicProfile, error)
}
