package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/rubiojr/pulse/pkg/core"
)

// Event names as seen by clients.
const (
	EventReceiveMessage  = "receive-message"
	EventNewNotification = "new_notification"
	EventTyping          = "typing"
	EventStopTyping      = "stop typing"
	EventPostLiked       = "post-liked"
	EventConnected       = "connected"
	EventError           = "error"
)

// Event is a typed realtime payload. Each variant maps to exactly one wire
// event name.
type Event interface {
	Name() string
}

type ReceiveMessage struct {
	Message core.Message
}

func (ReceiveMessage) Name() string { return EventReceiveMessage }

type NewNotification struct {
	Notification core.EnrichedNotification
}

func (NewNotification) Name() string { return EventNewNotification }

// Typing tells a partner that From started typing.
type Typing struct {
	From core.UserID
}

func (Typing) Name() string { return EventTyping }

type StopTyping struct {
	From core.UserID
}

func (StopTyping) Name() string { return EventStopTyping }

type PostLiked struct {
	PostID string        `json:"postId"`
	Likes  []core.UserID `json:"updatedLikes"`
}

func (PostLiked) Name() string { return EventPostLiked }

// Connected acknowledges a bound handshake. It is written to the connection
// directly, never routed through a room.
type Connected struct {
	User         core.UserID `json:"userId"`
	ConnectionID string      `json:"connectionId"`
}

func (Connected) Name() string { return EventConnected }

// ErrorEvent reports a rejected client action on the connection that sent it.
type ErrorEvent struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (ErrorEvent) Name() string { return EventError }

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Payload returns the data carried on the wire for ev.
func Payload(ev Event) any {
	switch v := ev.(type) {
	case ReceiveMessage:
		return v.Message
	case NewNotification:
		return v.Notification
	case Typing:
		return v.From
	case StopTyping:
		return v.From
	default:
		return v
	}
}

// Encode renders ev as {"event": name, "data": payload}.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode event: nil event")
	}
	data, err := json.Marshal(envelope{Event: ev.Name(), Data: Payload(ev)})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Name(), err)
	}
	return data, nil
}
