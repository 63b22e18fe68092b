package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/realtime"
)

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func wsDial(t *testing.T, env *testEnv, token string) *websocket.Conn {
	t.Helper()
	u, _ := url.Parse(env.ts.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	if token != "" {
		u.RawQuery = "token=" + url.QueryEscape(token)
	}

	header := http.Header{}
	header.Set("Origin", testOrigin)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// wsDialBound dials with a token and waits for the connected event.
func wsDialBound(t *testing.T, env *testEnv, u core.User) *websocket.Conn {
	t.Helper()
	conn := wsDial(t, env, env.token(t, u))
	ev := readEvent(t, conn)
	if ev.Event != realtime.EventConnected {
		t.Fatalf("expected connected, got %s", ev.Event)
	}
	var data realtime.Connected
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("decode connected: %v", err)
	}
	if data.User != u.ID || data.ConnectionID == "" {
		t.Fatalf("unexpected connected payload %+v", data)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %s: %v", data, err)
	}
	return ev
}

func sendEvent(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": name, "data": data}); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWebSocketReceivesSend(t *testing.T) {
	env := newTestEnv(t)
	bob := wsDialBound(t, env, env.bob)
	waitFor(t, "bob registered", func() bool { return env.registry.Connections(env.bob.ID) == 1 })

	status, body := env.do(t, "POST", "/api/v1/chat", "", map[string]any{
		"sender": env.alice.ID, "receiver": env.bob.ID, "content": "hi",
	})
	if status != http.StatusCreated {
		t.Fatalf("send status = %d (%s)", status, body)
	}
	sent := decodeInto[core.Message](t, body)

	ev := readEvent(t, bob)
	if ev.Event != realtime.EventReceiveMessage {
		t.Fatalf("first event = %s", ev.Event)
	}
	var msg core.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil || msg.ID != sent.ID {
		t.Fatalf("receive-message payload = %s (%v)", ev.Data, err)
	}

	ev = readEvent(t, bob)
	if ev.Event != realtime.EventNewNotification {
		t.Fatalf("second event = %s", ev.Event)
	}
	var n core.EnrichedNotification
	if err := json.Unmarshal(ev.Data, &n); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if n.Sender.Username != "alice" || n.Message == nil || n.Message.ID != sent.ID {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestWebSocketEveryConnectionOfUser(t *testing.T) {
	env := newTestEnv(t)
	tab1 := wsDialBound(t, env, env.bob)
	tab2 := wsDialBound(t, env, env.bob)
	waitFor(t, "two bob connections", func() bool { return env.registry.Connections(env.bob.ID) == 2 })

	if status, _ := env.do(t, "POST", "/api/v1/chat/send", env.token(t, env.alice), map[string]any{
		"receiverId": env.bob.ID, "message": "both tabs",
	}); status != http.StatusCreated {
		t.Fatalf("send status = %d", status)
	}

	for i, conn := range []*websocket.Conn{tab1, tab2} {
		if ev := readEvent(t, conn); ev.Event != realtime.EventReceiveMessage {
			t.Fatalf("tab %d got %s", i+1, ev.Event)
		}
	}
}

func TestWebSocketIdentifyAndTyping(t *testing.T) {
	env := newTestEnv(t)
	bob := wsDialBound(t, env, env.bob)
	alice := wsDial(t, env, "")

	sendEvent(t, alice, "typing", env.bob.ID)
	ev := readEvent(t, alice)
	if ev.Event != realtime.EventError {
		t.Fatalf("unbound typing should fail, got %s", ev.Event)
	}
	var e realtime.ErrorEvent
	_ = json.Unmarshal(ev.Data, &e)
	if e.Error != "unauthorized" {
		t.Fatalf("error = %+v", e)
	}

	sendEvent(t, alice, "identify", map[string]string{"token": "garbage"})
	if ev := readEvent(t, alice); ev.Event != realtime.EventError {
		t.Fatalf("bad identify should fail, got %s", ev.Event)
	}

	sendEvent(t, alice, "identify", map[string]string{"token": env.token(t, env.alice)})
	if ev := readEvent(t, alice); ev.Event != realtime.EventConnected {
		t.Fatalf("identify should bind, got %s", ev.Event)
	}
	waitFor(t, "alice registered", func() bool { return env.registry.Connections(env.alice.ID) == 1 })

	sendEvent(t, alice, "typing", env.bob.ID)
	ev = readEvent(t, bob)
	if ev.Event != realtime.EventTyping {
		t.Fatalf("bob got %s", ev.Event)
	}
	var from core.UserID
	if err := json.Unmarshal(ev.Data, &from); err != nil || from != env.alice.ID {
		t.Fatalf("typing payload = %s", ev.Data)
	}

	sendEvent(t, alice, "stop typing", env.bob.ID)
	if ev := readEvent(t, bob); ev.Event != realtime.EventStopTyping {
		t.Fatalf("bob got %s", ev.Event)
	}
}

func TestWebSocketSendMessageEchoes(t *testing.T) {
	env := newTestEnv(t)
	alice := wsDialBound(t, env, env.alice)
	bob := wsDialBound(t, env, env.bob)

	sendEvent(t, alice, "send-message", map[string]any{"receiver": env.bob.ID, "content": "over ws"})

	if ev := readEvent(t, bob); ev.Event != realtime.EventReceiveMessage {
		t.Fatalf("bob got %s", ev.Event)
	}
	ev := readEvent(t, alice)
	if ev.Event != realtime.EventReceiveMessage {
		t.Fatalf("alice should get her echo, got %s", ev.Event)
	}
	var msg core.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil || msg.Content != "over ws" || msg.Sender != env.alice.ID {
		t.Fatalf("echo payload = %s", ev.Data)
	}

	sendEvent(t, alice, "send-message", map[string]any{"receiver": env.bob.ID, "content": "  "})
	ev = readEvent(t, alice)
	if ev.Event != realtime.EventError {
		t.Fatalf("blank content should fail, got %s", ev.Event)
	}
	var e realtime.ErrorEvent
	_ = json.Unmarshal(ev.Data, &e)
	if e.Error != "invalid_argument" {
		t.Fatalf("error = %+v", e)
	}
}

func TestWebSocketRejectsUnknownEvents(t *testing.T) {
	env := newTestEnv(t)
	alice := wsDialBound(t, env, env.alice)

	if err := alice.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, alice); ev.Event != realtime.EventError {
		t.Fatalf("got %s", ev.Event)
	}

	sendEvent(t, alice, "dance", nil)
	ev := readEvent(t, alice)
	var e realtime.ErrorEvent
	_ = json.Unmarshal(ev.Data, &e)
	if ev.Event != realtime.EventError || e.Error != "unsupported_event" {
		t.Fatalf("got %s %+v", ev.Event, e)
	}
}

func TestWebSocketCloseUnregisters(t *testing.T) {
	env := newTestEnv(t)
	bob := wsDialBound(t, env, env.bob)
	waitFor(t, "bob registered", func() bool { return env.registry.Connections(env.bob.ID) == 1 })

	_ = bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = bob.Close()
	waitFor(t, "bob unregistered", func() bool { return env.registry.Size() == 0 })

	// Sending to an offline user still succeeds and persists.
	if status, _ := env.do(t, "POST", "/api/v1/chat", "", map[string]any{
		"sender": env.alice.ID, "receiver": env.bob.ID, "content": "later",
	}); status != http.StatusCreated {
		t.Fatalf("offline send status = %d", status)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t)
	u, _ := url.Parse(env.ts.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	header := http.Header{}
	header.Set("Origin", "http://evil.test")
	_, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestWebSocketFollowNotification(t *testing.T) {
	env := newTestEnv(t)
	bob := wsDialBound(t, env, env.bob)
	waitFor(t, "bob registered", func() bool { return env.registry.Connections(env.bob.ID) == 1 })

	status, body := env.do(t, "POST", "/api/v1/notifications", env.token(t, env.alice), map[string]any{
		"receiverId": env.bob.ID, "type": "follow",
	})
	if status != http.StatusCreated {
		t.Fatalf("create notification status = %d (%s)", status, body)
	}
	created := decodeInto[core.EnrichedNotification](t, body)

	ev := readEvent(t, bob)
	if ev.Event != realtime.EventNewNotification {
		t.Fatalf("bob got %s", ev.Event)
	}
	var n core.EnrichedNotification
	if err := json.Unmarshal(ev.Data, &n); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if n.ID != created.ID || n.Type != core.NotificationFollow || n.Sender.ID != env.alice.ID || n.Sender.Username != "alice" {
		t.Fatalf("unexpected notification %+v", n)
	}

	tests := []struct {
		name   string
		token  string
		body   map[string]any
		status int
	}{
		{"no token", "", map[string]any{"receiverId": env.bob.ID, "type": "follow"}, http.StatusUnauthorized},
		{"unknown type", env.token(t, env.alice), map[string]any{"receiverId": env.bob.ID, "type": "poke"}, http.StatusBadRequest},
		{"self", env.token(t, env.alice), map[string]any{"receiverId": env.alice.ID, "type": "like"}, http.StatusBadRequest},
		{"unknown receiver", env.token(t, env.alice), map[string]any{"receiverId": core.NewID(), "type": "like"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, body := env.do(t, "POST", "/api/v1/notifications", tt.token, tt.body); status != tt.status {
				t.Fatalf("status = %d, want %d (%s)", status, tt.status, body)
			}
		})
	}
}

func TestWebSocketPostLiked(t *testing.T) {
	env := newTestEnv(t)
	bob := wsDialBound(t, env, env.bob)
	waitFor(t, "bob registered", func() bool { return env.registry.Connections(env.bob.ID) == 1 })

	status, body := env.do(t, "POST", "/api/v1/posts/p1/liked", env.token(t, env.alice), map[string]any{
		"rooms":        []core.UserID{env.bob.ID, env.alice.ID},
		"updatedLikes": []core.UserID{env.alice.ID},
	})
	if status != http.StatusOK {
		t.Fatalf("post liked status = %d (%s)", status, body)
	}
	if got := decodeInto[DeliveredResponse](t, body); got.Delivered != 1 {
		t.Fatalf("delivered = %d, want 1", got.Delivered)
	}

	ev := readEvent(t, bob)
	if ev.Event != realtime.EventPostLiked {
		t.Fatalf("bob got %s", ev.Event)
	}
	var liked realtime.PostLiked
	if err := json.Unmarshal(ev.Data, &liked); err != nil {
		t.Fatalf("decode post-liked: %v", err)
	}
	if liked.PostID != "p1" || len(liked.Likes) != 1 || liked.Likes[0] != env.alice.ID {
		t.Fatalf("unexpected post-liked payload %s", ev.Data)
	}

	if status, _ := env.do(t, "POST", "/api/v1/posts/p1/liked", "", map[string]any{"rooms": []string{}}); status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", status)
	}
	status, _ = env.do(t, "POST", "/api/v1/posts/p1/liked", env.token(t, env.alice), map[string]any{
		"rooms": []string{"not-a-user"},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("malformed room status = %d", status)
	}
}
