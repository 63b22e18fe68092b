package integration_tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/rubiojr/pulse/pkg/api"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/realtime"
)

func TestTwoUserConversation(t *testing.T) {
	srv := startTestServer(t, CreateTestConfig(t.TempDir()))
	alice := srv.createUser(t, "alice", "Alice")
	bob := srv.createUser(t, "bob", "Bob")
	aliceToken := srv.token(t, alice)
	bobToken := srv.token(t, bob)

	bobConn := srv.connect(t, bob)

	// Alice sends two messages over HTTP while bob is online.
	for _, text := range []string{"hey bob", "lunch?"} {
		var msg core.Message
		status := srv.request(t, http.MethodPost, "/api/v1/chat/send", aliceToken,
			map[string]any{"receiverId": bob.ID, "message": text}, &msg)
		if status != http.StatusCreated {
			t.Fatalf("send status = %d", status)
		}
		if msg.Sender != alice.ID || msg.Receiver != bob.ID || msg.Content != text || msg.Read {
			t.Fatalf("unexpected stored message %+v", msg)
		}

		events := collectEvents(t, bobConn, 2)
		received, ok := events[realtime.EventReceiveMessage]
		if !ok {
			t.Fatalf("bob did not get %s, got %v", realtime.EventReceiveMessage, events)
		}
		var pushed core.Message
		if err := json.Unmarshal(received.Data, &pushed); err != nil {
			t.Fatalf("decode pushed message: %v", err)
		}
		if pushed.ID != msg.ID {
			t.Fatalf("pushed message id = %s, want %s", pushed.ID, msg.ID)
		}

		notified, ok := events[realtime.EventNewNotification]
		if !ok {
			t.Fatalf("bob did not get %s, got %v", realtime.EventNewNotification, events)
		}
		var n core.EnrichedNotification
		if err := json.Unmarshal(notified.Data, &n); err != nil {
			t.Fatalf("decode notification: %v", err)
		}
		if n.Type != core.NotificationMessage || n.Sender.Username != "alice" {
			t.Fatalf("unexpected notification %+v", n)
		}
		if n.Message == nil || n.Message.ID != msg.ID {
			t.Fatalf("notification does not reference message %s: %+v", msg.ID, n.Message)
		}
	}

	// Bob replies over the websocket.
	if err := bobConn.WriteJSON(map[string]any{
		"event": "send-message",
		"data":  map[string]any{"receiver": alice.ID, "content": "sure"},
	}); err != nil {
		t.Fatalf("write send-message: %v", err)
	}
	if ev := readEvent(t, bobConn); ev.Event != realtime.EventReceiveMessage {
		t.Fatalf("expected echo of bob's message, got %s", ev.Event)
	}

	var unread api.UnreadCountResponse
	if status := srv.request(t, http.MethodGet, "/api/v1/chat/unread-count", bobToken, nil, &unread); status != http.StatusOK {
		t.Fatalf("unread count status = %d", status)
	}
	if unread.UnreadCount != 2 {
		t.Fatalf("bob unread = %d, want 2", unread.UnreadCount)
	}

	var chats []core.ChatSummary
	if status := srv.request(t, http.MethodGet, "/api/v1/chat/history", bobToken, nil, &chats); status != http.StatusOK {
		t.Fatalf("chat history status = %d", status)
	}
	if len(chats) != 1 {
		t.Fatalf("bob has %d chats, want 1", len(chats))
	}
	if chats[0].Partner.ID != alice.ID || chats[0].UnreadCount != 2 || chats[0].LastMessage.Content != "sure" {
		t.Fatalf("unexpected chat summary %+v", chats[0])
	}

	var conversation []core.Message
	path := "/api/v1/chat/" + alice.ID.String() + "/" + bob.ID.String()
	if status := srv.request(t, http.MethodGet, path, "", nil, &conversation); status != http.StatusOK {
		t.Fatalf("conversation status = %d", status)
	}
	if len(conversation) != 3 || conversation[0].Content != "hey bob" || conversation[2].Content != "sure" {
		t.Fatalf("unexpected conversation %+v", conversation)
	}

	var marked api.UpdatedResponse
	path = "/api/v1/chat/mark-read/" + alice.ID.String() + "/" + bob.ID.String()
	if status := srv.request(t, http.MethodPut, path, "", nil, &marked); status != http.StatusOK {
		t.Fatalf("mark read status = %d", status)
	}
	if marked.Updated != 2 {
		t.Fatalf("marked %d messages, want 2", marked.Updated)
	}
	srv.request(t, http.MethodGet, "/api/v1/chat/unread-count", bobToken, nil, &unread)
	if unread.UnreadCount != 0 {
		t.Fatalf("bob unread after mark read = %d", unread.UnreadCount)
	}

	// Notifications: two for bob (from alice), one for alice (from bob).
	var bobNotifications []core.EnrichedNotification
	srv.request(t, http.MethodGet, "/api/v1/notifications", bobToken, nil, &bobNotifications)
	if len(bobNotifications) != 2 {
		t.Fatalf("bob has %d notifications, want 2", len(bobNotifications))
	}
	if bobNotifications[0].Message == nil || bobNotifications[0].Message.Content != "lunch?" {
		t.Fatalf("notifications not newest first: %+v", bobNotifications[0])
	}

	srv.request(t, http.MethodGet, "/api/v1/notifications/unread-count", aliceToken, nil, &unread)
	if unread.UnreadCount != 1 {
		t.Fatalf("alice unread notifications = %d, want 1", unread.UnreadCount)
	}
	srv.request(t, http.MethodPut, "/api/v1/notifications/mark-read", bobToken, nil, &marked)
	if marked.Updated != 2 {
		t.Fatalf("marked %d notifications, want 2", marked.Updated)
	}
	srv.request(t, http.MethodGet, "/api/v1/notifications/unread-count", bobToken, nil, &unread)
	if unread.UnreadCount != 0 {
		t.Fatalf("bob unread notifications after mark read = %d", unread.UnreadCount)
	}
}

func TestOfflineReceiverCatchesUp(t *testing.T) {
	srv := startTestServer(t, CreateTestConfig(t.TempDir()))
	alice := srv.createUser(t, "alice", "")
	bob := srv.createUser(t, "bob", "")

	var msg core.Message
	status := srv.request(t, http.MethodPost, "/api/v1/chat", "",
		map[string]any{"sender": alice.ID, "receiver": bob.ID, "content": "you there?"}, &msg)
	if status != http.StatusCreated {
		t.Fatalf("send status = %d", status)
	}
	if srv.registry.Connections(bob.ID) != 0 {
		t.Fatal("bob should be offline")
	}

	// Nothing is replayed on connect; bob reads history over HTTP.
	srv.connect(t, bob)
	var chats []core.ChatSummary
	srv.request(t, http.MethodGet, "/api/v1/chat/history/"+bob.ID.String(), "", nil, &chats)
	if len(chats) != 1 || chats[0].LastMessage.Content != "you there?" || chats[0].UnreadCount != 1 {
		t.Fatalf("unexpected chats after reconnect %+v", chats)
	}
}

func TestHealthReportsConnections(t *testing.T) {
	srv := startTestServer(t, CreateTestConfig(t.TempDir()))
	alice := srv.createUser(t, "alice", "")
	srv.connect(t, alice)
	srv.connect(t, alice)

	var health api.HealthResponse
	if status := srv.request(t, http.MethodGet, "/health", "", nil, &health); status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	if health.Status != "ok" || health.Connections != 2 {
		t.Fatalf("unexpected health %+v", health)
	}
}
