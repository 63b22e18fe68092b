package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/realtime"
	"github.com/urfave/cli/v3"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1).
			Margin(0, 0, 1, 0)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")).
			Margin(1, 0, 1, 0)

	chatStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Margin(0, 0, 1, 2)

	unreadStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("203"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	noDataStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Margin(0, 0, 0, 2)
)

// InboxCommand creates the inbox command
func InboxCommand() *cli.Command {
	return &cli.Command{
		Name:      "inbox",
		Usage:     "Show a user's conversations and notifications",
		ArgsUsage: "<user-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "notifications",
				Usage: "Number of notifications to show (0 for all)",
				Value: 10,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			id := core.UserID(c.Args().First())
			if err := core.ValidateUserID("user-id", id); err != nil {
				return err
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			registry := realtime.NewRegistry(cfg.Realtime.SendBuffer)
			defer registry.Close()
			svc, err := newChatService(cfg, store, registry)
			if err != nil {
				return err
			}
			if err := svc.ResolveUser(ctx, id); err != nil {
				return err
			}

			inbox, err := loadInbox(ctx, svc, id)
			if err != nil {
				return err
			}
			fmt.Print(inbox.render(int(c.Int("notifications"))))
			return nil
		},
	}
}

type inboxReader interface {
	ChatHistory(ctx context.Context, user core.UserID) ([]core.ChatSummary, error)
	UnreadMessageCount(ctx context.Context, user core.UserID) (int, error)
	UnreadNotificationCount(ctx context.Context, user core.UserID) (int, error)
	ListNotifications(ctx context.Context, user core.UserID) ([]core.EnrichedNotification, error)
}

type inbox struct {
	user                core.UserID
	chats               []core.ChatSummary
	unreadMessages      int
	unreadNotifications int
	notifications       []core.EnrichedNotification
}

func loadInbox(ctx context.Context, r inboxReader, user core.UserID) (*inbox, error) {
	in := &inbox{user: user}
	var err error
	if in.chats, err = r.ChatHistory(ctx, user); err != nil {
		return nil, fmt.Errorf("loading chats: %w", err)
	}
	if in.unreadMessages, err = r.UnreadMessageCount(ctx, user); err != nil {
		return nil, fmt.Errorf("counting unread messages: %w", err)
	}
	if in.unreadNotifications, err = r.UnreadNotificationCount(ctx, user); err != nil {
		return nil, fmt.Errorf("counting unread notifications: %w", err)
	}
	if in.notifications, err = r.ListNotifications(ctx, user); err != nil {
		return nil, fmt.Errorf("loading notifications: %w", err)
	}
	return in, nil
}

func (in *inbox) render(maxNotifications int) string {
	var out strings.Builder

	out.WriteString(titleStyle.Render(fmt.Sprintf("Inbox for %s", in.user)))
	out.WriteString("\n")

	out.WriteString(headerStyle.Render(fmt.Sprintf("Conversations (%d unread)", in.unreadMessages)))
	out.WriteString("\n")
	if len(in.chats) == 0 {
		out.WriteString(noDataStyle.Render("No conversations yet"))
		out.WriteString("\n")
	}
	for _, chat := range in.chats {
		out.WriteString(chatStyle.Render(renderChat(chat)))
		out.WriteString("\n")
	}

	out.WriteString(headerStyle.Render(fmt.Sprintf("Notifications (%d unread)", in.unreadNotifications)))
	out.WriteString("\n")
	notifications := in.notifications
	if maxNotifications > 0 && len(notifications) > maxNotifications {
		notifications = notifications[:maxNotifications]
	}
	if len(notifications) == 0 {
		out.WriteString(noDataStyle.Render("No notifications"))
		out.WriteString("\n")
	}
	for _, n := range notifications {
		out.WriteString("  ")
		out.WriteString(renderNotification(n))
		out.WriteString("\n")
	}
	return out.String()
}

func renderChat(chat core.ChatSummary) string {
	var b strings.Builder
	name := chat.Partner.Username
	if chat.Partner.Name != "" {
		name = fmt.Sprintf("%s (%s)", chat.Partner.Name, chat.Partner.Username)
	}
	b.WriteString(name)
	if chat.UnreadCount > 0 {
		b.WriteString("  ")
		b.WriteString(unreadStyle.Render(fmt.Sprintf("%d new", chat.UnreadCount)))
	}
	b.WriteString("\n")
	prefix := ""
	if chat.LastMessage.Sender != chat.Partner.ID {
		prefix = "you: "
	}
	b.WriteString(prefix + chat.LastMessage.Content)
	b.WriteString("\n")
	b.WriteString(metaStyle.Render(chat.LastMessage.CreatedAt.Local().Format(time.DateTime)))
	return b.String()
}

func renderNotification(n core.EnrichedNotification) string {
	marker := " "
	if !n.Read {
		marker = unreadStyle.Render("•")
	}
	who := n.Sender.Username
	if who == "" {
		who = n.Sender.ID.String()
	}
	text := fmt.Sprintf("%s %s from %s", marker, n.Type, who)
	switch {
	case n.Message != nil && n.Message.Content != "":
		text += ": " + n.Message.Content
	case n.Content != "":
		text += ": " + n.Content
	}
	return text + "  " + metaStyle.Render(n.CreatedAt.Local().Format(time.DateTime))
}
