package chat

import (
	"context"
	"strings"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/realtime"
)

// Typing tells partner that self started typing. Nothing is stored and the
// server keeps no typing timers; clients decide when to stop.
func (s *Service) Typing(ctx context.Context, self, partner core.UserID) error {
	if err := validatePair(self, partner); err != nil {
		return err
	}
	s.broadcaster.Emit(partner, realtime.Typing{From: self})
	return nil
}

// StopTyping tells partner that self stopped typing.
func (s *Service) StopTyping(ctx context.Context, self, partner core.UserID) error {
	if err := validatePair(self, partner); err != nil {
		return err
	}
	s.broadcaster.Emit(partner, realtime.StopTyping{From: self})
	return nil
}

func validatePair(self, partner core.UserID) error {
	if err := core.ValidateUserID("user", self); err != nil {
		return err
	}
	return core.ValidateUserID("partner", partner)
}

// NotifyPostLiked pushes the updated like list of a post to each room and
// returns how many connections received it.
func (s *Service) NotifyPostLiked(ctx context.Context, rooms []core.UserID, postID string, likes []core.UserID) (int, error) {
	if strings.TrimSpace(postID) == "" {
		return 0, core.InvalidArgument("post liked", "postId is required")
	}
	for _, room := range rooms {
		if err := core.ValidateUserID("room", room); err != nil {
			return 0, err
		}
	}
	for _, like := range likes {
		if err := core.ValidateUserID("updatedLikes", like); err != nil {
			return 0, err
		}
	}
	if likes == nil {
		likes = []core.UserID{}
	}
	ev := realtime.PostLiked{PostID: postID, Likes: likes}
	delivered := 0
	for _, room := range rooms {
		delivered += s.broadcaster.Emit(room, ev)
	}
	return delivered, nil
}

// NotifyRequest creates a notification that is not tied to a message, such
// as a follow, like, comment or reminder.
type NotifyRequest struct {
	Sender   core.UserID           `json:"sender" validate:"required,uuid"`
	Receiver core.UserID           `json:"receiver" validate:"required,uuid"`
	Type     core.NotificationType `json:"type" validate:"required"`
	Content  string                `json:"content,omitempty"`
}

// Notify persists one notification and pushes it to the receiver. Unlike
// the message path the notification is the primary record here, so a
// failed insert is returned.
func (s *Service) Notify(ctx context.Context, req NotifyRequest) (core.EnrichedNotification, error) {
	const op = "notify"
	if err := s.checkStruct(op, req); err != nil {
		return core.EnrichedNotification{}, err
	}
	if !req.Type.Valid() {
		return core.EnrichedNotification{}, core.InvalidArgument(op, "type must be one of: like comment follow message reminder")
	}
	if req.Sender == req.Receiver {
		return core.EnrichedNotification{}, core.InvalidArgument(op, "cannot notify yourself")
	}
	if err := s.requireUser(ctx, op, "receiver", req.Receiver); err != nil {
		return core.EnrichedNotification{}, err
	}

	n := core.Notification{
		ID:        core.NewID(),
		Sender:    req.Sender,
		Receiver:  req.Receiver,
		Type:      req.Type,
		Content:   core.Snippet(req.Content, core.SnippetLength),
		CreatedAt: s.now().UTC(),
	}
	if err := s.notifications.InsertNotification(ctx, n); err != nil {
		s.logger.Errorf("persisting %s notification for %s: %v", n.Type, n.Receiver, err)
		return core.EnrichedNotification{}, core.Internal(op, err)
	}

	en, deliver := s.enrich(ctx, n)
	if !deliver {
		return core.Unenriched(n), nil
	}
	s.broadcaster.Emit(n.Receiver, realtime.NewNotification{Notification: en})
	return en, nil
}
