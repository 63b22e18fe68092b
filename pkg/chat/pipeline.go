package chat

import (
	"context"
	"strings"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/realtime"
)

// SendRequest is a send with an explicit sender.
type SendRequest struct {
	Sender   core.UserID      `json:"sender" validate:"required,uuid"`
	Receiver core.UserID      `json:"receiver" validate:"required,uuid"`
	Content  string           `json:"content" validate:"required"`
	Type     core.MessageType `json:"type,omitempty" validate:"omitempty,oneof=text post_share"`
	PostID   *string          `json:"postId,omitempty"`
}

// AuthenticatedSendRequest is a send whose sender comes from the verified
// identity of the caller.
type AuthenticatedSendRequest struct {
	ReceiverID core.UserID      `json:"receiverId" validate:"required,uuid"`
	Message    string           `json:"message" validate:"required"`
	Type       core.MessageType `json:"type,omitempty" validate:"omitempty,oneof=text post_share"`
	PostID     *string          `json:"postId,omitempty"`
}

type SendOptions struct {
	// EchoToSender also pushes receive-message to the sender's room so the
	// sender's other sessions see the message.
	EchoToSender bool
}

// Send validates and persists a message, derives its notification and
// pushes both to the receiver.
func (s *Service) Send(ctx context.Context, req SendRequest, opts SendOptions) (core.Message, error) {
	if err := s.checkStruct("send message", req); err != nil {
		return core.Message{}, err
	}
	return s.send(ctx, req, opts)
}

// SendAuthenticated sends as sender, the identity resolved for the caller.
// The sender's room gets no echo.
func (s *Service) SendAuthenticated(ctx context.Context, sender core.UserID, req AuthenticatedSendRequest) (core.Message, error) {
	if err := core.ValidateUserID("sender", sender); err != nil {
		return core.Message{}, err
	}
	if err := s.checkStruct("send message", req); err != nil {
		return core.Message{}, err
	}
	return s.send(ctx, SendRequest{
		Sender:   sender,
		Receiver: req.ReceiverID,
		Content:  req.Message,
		Type:     req.Type,
		PostID:   req.PostID,
	}, SendOptions{})
}

func (s *Service) send(ctx context.Context, req SendRequest, opts SendOptions) (core.Message, error) {
	const op = "send message"

	if strings.TrimSpace(req.Content) == "" {
		return core.Message{}, core.InvalidArgument(op, "content is required")
	}
	if req.Sender == req.Receiver {
		return core.Message{}, core.InvalidArgument(op, "cannot send a message to yourself")
	}
	if req.Type == "" {
		req.Type = core.MessageText
	}
	if req.PostID != nil && *req.PostID == "" {
		req.PostID = nil
	}
	if err := s.requireUser(ctx, op, "sender", req.Sender); err != nil {
		return core.Message{}, err
	}
	if err := s.requireUser(ctx, op, "receiver", req.Receiver); err != nil {
		return core.Message{}, err
	}

	msg := core.Message{
		ID:        core.NewID(),
		Sender:    req.Sender,
		Receiver:  req.Receiver,
		Content:   req.Content,
		Type:      req.Type,
		PostID:    req.PostID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.messages.InsertMessage(ctx, msg); err != nil {
		s.logger.Errorf("persisting message from %s to %s: %v", msg.Sender, msg.Receiver, err)
		return core.Message{}, core.Internal(op, err)
	}

	notification, deliver := s.messageNotification(ctx, msg)

	s.broadcaster.Emit(msg.Receiver, realtime.ReceiveMessage{Message: msg})
	if deliver {
		s.broadcaster.Emit(msg.Receiver, realtime.NewNotification{Notification: notification})
	}
	if opts.EchoToSender {
		s.broadcaster.Emit(msg.Sender, realtime.ReceiveMessage{Message: msg})
	}

	s.logger.Debugf("message %s delivered from %s to %s", msg.ID, msg.Sender, msg.Receiver)
	return msg, nil
}

// messageNotification stores the notification derived from msg and returns
// its enriched form. Failures are logged, never returned: the message is
// already the record of truth.
func (s *Service) messageNotification(ctx context.Context, msg core.Message) (core.EnrichedNotification, bool) {
	msgID := msg.ID
	n := core.Notification{
		ID:        core.NewID(),
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Type:      core.NotificationMessage,
		MessageID: &msgID,
		Content:   core.Snippet(msg.Content, core.SnippetLength),
		CreatedAt: msg.CreatedAt,
	}
	if err := s.notifications.InsertNotification(ctx, n); err != nil {
		s.logger.Errorf("message %s persisted without notification: %v", msg.ID, err)
		return core.EnrichedNotification{}, false
	}
	return s.enrich(ctx, n)
}
