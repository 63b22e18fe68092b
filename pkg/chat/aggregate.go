package chat

import (
	"context"
	"sort"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/samber/lo"
)

// MarkRead marks every unread message from sender to receiver as read and
// returns how many changed. Calling it again changes nothing.
func (s *Service) MarkRead(ctx context.Context, sender, receiver core.UserID) (int64, error) {
	if err := core.ValidateUserID("sender", sender); err != nil {
		return 0, err
	}
	if err := core.ValidateUserID("receiver", receiver); err != nil {
		return 0, err
	}
	n, err := s.messages.MarkRead(ctx, sender, receiver, s.now().UTC())
	if err != nil {
		s.logger.Errorf("marking messages from %s to %s read: %v", sender, receiver, err)
		return 0, core.Internal("mark read", err)
	}
	return n, nil
}

// History returns the conversation between a and b, oldest first.
func (s *Service) History(ctx context.Context, a, b core.UserID) ([]core.Message, error) {
	if err := core.ValidateUserID("sender", a); err != nil {
		return nil, err
	}
	if err := core.ValidateUserID("receiver", b); err != nil {
		return nil, err
	}
	msgs, err := s.messages.MessagesBetween(ctx, a, b)
	if err != nil {
		s.logger.Errorf("loading history %s/%s: %v", a, b, err)
		return nil, core.Internal("history", err)
	}
	return msgs, nil
}

// UnreadMessageCount sums the unread messages user received from every
// sender.
func (s *Service) UnreadMessageCount(ctx context.Context, user core.UserID) (int, error) {
	if err := core.ValidateUserID("user", user); err != nil {
		return 0, err
	}
	counts, err := s.messages.UnreadMessageCounts(ctx, user)
	if err != nil {
		s.logger.Errorf("counting unread messages for %s: %v", user, err)
		return 0, core.Internal("unread messages", err)
	}
	return lo.Sum(lo.Values(counts)), nil
}

func (s *Service) UnreadNotificationCount(ctx context.Context, user core.UserID) (int, error) {
	if err := core.ValidateUserID("user", user); err != nil {
		return 0, err
	}
	n, err := s.notifications.UnreadNotificationCount(ctx, user)
	if err != nil {
		s.logger.Errorf("counting unread notifications for %s: %v", user, err)
		return 0, core.Internal("unread notifications", err)
	}
	return n, nil
}

// ListNotifications returns user's notifications newest first.
func (s *Service) ListNotifications(ctx context.Context, user core.UserID) ([]core.EnrichedNotification, error) {
	if err := core.ValidateUserID("user", user); err != nil {
		return nil, err
	}
	list, err := s.notifications.ListNotifications(ctx, user)
	if err != nil {
		s.logger.Errorf("listing notifications for %s: %v", user, err)
		return nil, core.Internal("list notifications", err)
	}
	return list, nil
}

// MarkAllRead marks all of user's notifications read.
func (s *Service) MarkAllRead(ctx context.Context, user core.UserID) (int64, error) {
	if err := core.ValidateUserID("user", user); err != nil {
		return 0, err
	}
	n, err := s.notifications.MarkAllNotificationsRead(ctx, user)
	if err != nil {
		s.logger.Errorf("marking notifications read for %s: %v", user, err)
		return 0, core.Internal("mark notifications read", err)
	}
	return n, nil
}

// ChatHistory returns one entry per conversation partner of user: the most
// recent message exchanged and the number of unread messages from that
// partner, newest conversation first. Partners that no longer resolve in
// the directory are left out.
func (s *Service) ChatHistory(ctx context.Context, user core.UserID) ([]core.ChatSummary, error) {
	const op = "chat history"
	if err := core.ValidateUserID("user", user); err != nil {
		return nil, err
	}

	msgs, err := s.messages.MessagesInvolving(ctx, user)
	if err != nil {
		s.logger.Errorf("loading messages for %s: %v", user, err)
		return nil, core.Internal(op, err)
	}
	unread, err := s.messages.UnreadMessageCounts(ctx, user)
	if err != nil {
		s.logger.Errorf("counting unread messages for %s: %v", user, err)
		return nil, core.Internal(op, err)
	}

	partnerOf := func(m core.Message) core.UserID {
		if m.Sender == user {
			return m.Receiver
		}
		return m.Sender
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
	latest := lo.UniqBy(msgs, partnerOf)

	summaries := make([]core.ChatSummary, 0, len(latest))
	for _, m := range latest {
		partner := partnerOf(m)
		profile, err := s.users.PublicProfile(ctx, partner)
		if core.IsNotFound(err) {
			s.logger.Debugf("skipping unknown chat partner %s of %s", partner, user)
			continue
		}
		if err != nil {
			s.logger.Errorf("loading profile %s: %v", partner, err)
			return nil, core.Internal(op, err)
		}
		summaries = append(summaries, core.ChatSummary{
			Partner: profile,
			LastMessage: core.LastMessage{
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
				Sender:    m.Sender,
			},
			UnreadCount: unread[partner],
		})
	}
	return summaries, nil
}

// SearchUsers finds users whose username contains pattern, ignoring case.
// A blank pattern yields an empty list.
func (s *Service) SearchUsers(ctx context.Context, pattern string) ([]core.PublicProfile, error) {
	users, err := s.users.FindUsersByPattern(ctx, pattern, core.DefaultSearchLimit)
	if err != nil {
		s.logger.Errorf("searching users for %q: %v", pattern, err)
		return nil, core.Internal("search users", err)
	}
	return users, nil
}
