package api

import (
	"time"

	"github.com/rubiojr/pulse/pkg/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Version     string    `json:"version"`
	Connections int       `json:"connections"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// UpdatedResponse reports a bulk read marking.
type UpdatedResponse struct {
	Message string `json:"message"`
	Updated int64  `json:"updated"`
}

type UnreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}

// CreateNotificationRequest is a like, comment, follow or reminder sent by
// the caller to receiverId.
type CreateNotificationRequest struct {
	ReceiverID core.UserID           `json:"receiverId"`
	Type       core.NotificationType `json:"type"`
	Content    string                `json:"content,omitempty"`
}

// PostLikedRequest carries a post's updated like list and the rooms that
// should see it.
type PostLikedRequest struct {
	Rooms        []core.UserID `json:"rooms"`
	UpdatedLikes []core.UserID `json:"updatedLikes"`
}

type DeliveredResponse struct {
	Delivered int `json:"delivered"`
}
