package integration_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rubiojr/pulse/pkg/api"
	"github.com/rubiojr/pulse/pkg/auth"
	"github.com/rubiojr/pulse/pkg/chat"
	"github.com/rubiojr/pulse/pkg/config"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/realtime"
	"github.com/rubiojr/pulse/pkg/storage"
)

const testOrigin = "http://localhost:5173"

// CreateTestConfig creates a configuration rooted at tempDir with a fixed
// secret and short websocket timeouts.
func CreateTestConfig(tempDir string) *config.Config {
	return &config.Config{
		ListenAddr: "127.0.0.1:0",
		StorageDir: tempDir,
		Database:   "pulse.db",
		Auth: config.AuthConfig{
			JWTSecret:  "integration-secret",
			CookieName: auth.DefaultCookieName,
			TokenTTL:   config.Duration{Duration: time.Hour},
		},
		Realtime: config.RealtimeConfig{
			SendBuffer:        64,
			WriteWait:         config.Duration{Duration: 2 * time.Second},
			PongWait:          config.Duration{Duration: 10 * time.Second},
			MaxMessageSize:    64 * 1024,
			EchoToSender:      true,
			DeliverUnenriched: true,
		},
		Server: config.ServerConfig{
			CORSOrigin:      testOrigin,
			ShutdownTimeout: config.Duration{Duration: 5 * time.Second},
		},
	}
}

// testServer is a fully wired pulse server listening on a local port.
type testServer struct {
	cfg      *config.Config
	ts       *httptest.Server
	store    *storage.Store
	registry *realtime.Registry
	authn    *auth.Authenticator
}

func startTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		t.Fatalf("creating storage dir: %v", err)
	}

	store, err := storage.Open(context.Background(), cfg.DBPath())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Logf("Warning: failed to close store: %v", err)
		}
	})

	registry := realtime.NewRegistry(cfg.Realtime.SendBuffer)
	t.Cleanup(registry.Close)

	svc, err := chat.New(chat.Options{
		Messages:          store,
		Notifications:     store,
		Users:             store,
		Broadcaster:       registry,
		DeliverUnenriched: cfg.Realtime.DeliverUnenriched,
	})
	if err != nil {
		t.Fatalf("chat service: %v", err)
	}
	authn, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.CookieName)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}

	srv := api.NewServer(svc, registry, authn, api.Options{
		CORSOrigin:     cfg.Server.CORSOrigin,
		WriteWait:      cfg.Realtime.WriteWait.Duration,
		PongWait:       cfg.Realtime.PongWait.Duration,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		EchoToSender:   cfg.Realtime.EchoToSender,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{cfg: cfg, ts: ts, store: store, registry: registry, authn: authn}
}

func (s *testServer) createUser(t *testing.T, username, name string) core.User {
	t.Helper()
	u, err := s.store.CreateUser(context.Background(), core.User{Username: username, Name: name})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func (s *testServer) token(t *testing.T, u core.User) string {
	t.Helper()
	tok, err := s.authn.Issue(u.ID, s.cfg.Auth.TokenTTL.Duration)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

// request performs an HTTP call and decodes a JSON response into out when
// out is not nil. It returns the status code.
func (s *testServer) request(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// connect opens a websocket session for u and waits for the connected event.
func (s *testServer) connect(t *testing.T, u core.User) *websocket.Conn {
	t.Helper()
	target, _ := url.Parse(s.ts.URL)
	target.Scheme = "ws"
	target.Path = "/ws"
	target.RawQuery = "token=" + url.QueryEscape(s.token(t, u))

	header := http.Header{}
	header.Set("Origin", testOrigin)
	conn, _, err := websocket.DefaultDialer.Dial(target.String(), header)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if ev := readEvent(t, conn); ev.Event != realtime.EventConnected {
		t.Fatalf("expected %s, got %s", realtime.EventConnected, ev.Event)
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

// collectEvents reads n events and indexes them by name.
func collectEvents(t *testing.T, conn *websocket.Conn, n int) map[string]wireEvent {
	t.Helper()
	events := make(map[string]wireEvent, n)
	for i := 0; i < n; i++ {
		ev := readEvent(t, conn)
		events[ev.Event] = ev
	}
	return events
}
