package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserID identifies a user. Well-formed identities are canonical UUID strings.
type UserID string

func (id UserID) String() string { return string(id) }

// ValidateUserID rejects empty or non canonical UUID identities. field names the
// offending input in the returned error.
func ValidateUserID(field string, id UserID) error {
	if strings.TrimSpace(string(id)) == "" {
		return InvalidArgument("validate", "%s is required", field)
	}
	// uuid.Parse also takes uppercase, braced, urn and dashless forms. Only
	// the canonical lowercase form names a stored identity.
	parsed, err := uuid.Parse(string(id))
	if err != nil || len(id) != 36 || parsed.String() != string(id) {
		return InvalidArgument("validate", "invalid %s %q", field, string(id))
	}
	return nil
}

// NewID returns a time ordered identifier used for messages, notifications
// and users.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type MessageType string

const (
	MessageText      MessageType = "text"
	MessagePostShare MessageType = "post_share"
)

type Message struct {
	ID        string      `json:"_id"`
	Sender    UserID      `json:"sender"`
	Receiver  UserID      `json:"receiver"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	PostID    *string     `json:"postId"`
	Read      bool        `json:"isRead"`
	ReadAt    *time.Time  `json:"readAt,omitempty"`
	CreatedAt time.Time   `json:"timestamp"`
}

type NotificationType string

const (
	NotificationLike     NotificationType = "like"
	NotificationComment  NotificationType = "comment"
	NotificationFollow   NotificationType = "follow"
	NotificationMessage  NotificationType = "message"
	NotificationReminder NotificationType = "reminder"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationLike, NotificationComment, NotificationFollow, NotificationMessage, NotificationReminder:
		return true
	}
	return false
}

// Notification is the stored record. Clients never see it directly, they get
// an EnrichedNotification instead.
type Notification struct {
	ID        string           `json:"_id"`
	Sender    UserID           `json:"sender"`
	Receiver  UserID           `json:"receiver"`
	Type      NotificationType `json:"type"`
	MessageID *string          `json:"message,omitempty"`
	Content   string           `json:"content,omitempty"`
	Read      bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

// PublicProfile holds the user fields that are safe to show to other users.
type PublicProfile struct {
	ID        UserID `json:"_id"`
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"profilepic,omitempty"`
}

type MessageRef struct {
	ID      string `json:"_id"`
	Content string `json:"content"`
}

// EnrichedNotification is a notification joined with its sender's public
// profile and, for message notifications, the triggering message.
type EnrichedNotification struct {
	ID        string           `json:"_id"`
	Sender    PublicProfile    `json:"sender"`
	Receiver  UserID           `json:"receiver"`
	Type      NotificationType `json:"type"`
	Message   *MessageRef      `json:"message,omitempty"`
	Content   string           `json:"content,omitempty"`
	Read      bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Unenriched wraps a stored notification without a profile lookup. Only the
// sender id is filled in.
func Unenriched(n Notification) EnrichedNotification {
	en := EnrichedNotification{
		ID:        n.ID,
		Sender:    PublicProfile{ID: n.Sender},
		Receiver:  n.Receiver,
		Type:      n.Type,
		Content:   n.Content,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
	if n.MessageID != nil {
		en.Message = &MessageRef{ID: *n.MessageID}
	}
	return en
}

type LastMessage struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
	Sender    UserID    `json:"sender"`
}

// ChatSummary is one conversation entry in a user's chat list. On the wire
// the partner profile fields sit at the top level next to lastMessage and
// unreadCount.
type ChatSummary struct {
	Partner     PublicProfile
	LastMessage LastMessage
	UnreadCount int
}

type chatSummaryJSON struct {
	PublicProfile
	LastMessage LastMessage `json:"lastMessage"`
	UnreadCount int         `json:"unreadCount"`
}

func (c ChatSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(chatSummaryJSON{c.Partner, c.LastMessage, c.UnreadCount})
}

func (c *ChatSummary) UnmarshalJSON(data []byte) error {
	var v chatSummaryJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = ChatSummary{Partner: v.PublicProfile, LastMessage: v.LastMessage, UnreadCount: v.UnreadCount}
	return nil
}

type User struct {
	ID        UserID    `json:"_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"profilepic,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) Profile() PublicProfile {
	return PublicProfile{ID: u.ID, Username: u.Username, Name: u.Name, AvatarURL: u.AvatarURL}
}

// SnippetLength bounds notification content derived from a message.
const SnippetLength = 100

// Snippet returns the first n characters of s. Multi-byte characters are
// never split.
func Snippet(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
