package integration_tests

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/rubiojr/pulse/pkg/core"
)

func TestUserSearchInjectionIntegration(t *testing.T) {
	srv := startTestServer(t, CreateTestConfig(t.TempDir()))
	for _, name := range []string{"alice", "bob", "carol", "admin_ops", "100%real"} {
		srv.createUser(t, name, "")
	}

	tests := []struct {
		name      string
		pattern   string
		wantUsers []string
	}{
		{"plain substring", "ar", []string{"carol"}},
		{"case insensitive", "ALI", []string{"alice"}},
		{"quote breakout", "' OR '1'='1", nil},
		{"comment injection", "alice'--", nil},
		{"stacked statement", "x'; DROP TABLE users; --", nil},
		{"union select", "' UNION SELECT id, username, name, avatar_url FROM users --", nil},
		{"like wildcard percent is literal", "%", []string{"100%real"}},
		{"like wildcard underscore is literal", "_", []string{"admin_ops"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var users []core.PublicProfile
			status := srv.request(t, http.MethodGet, "/api/v1/user/search?username="+url.QueryEscape(tt.pattern), "", nil, &users)
			if status != http.StatusOK {
				t.Fatalf("search status = %d", status)
			}
			if len(users) != len(tt.wantUsers) {
				t.Fatalf("search %q returned %d users %+v, want %v", tt.pattern, len(users), users, tt.wantUsers)
			}
			for i, want := range tt.wantUsers {
				if users[i].Username != want {
					t.Fatalf("result %d = %q, want %q", i, users[i].Username, want)
				}
			}
		})
	}

	// The users table must still be intact after the attempts above.
	var users []core.PublicProfile
	srv.request(t, http.MethodGet, "/api/v1/user/search?username=o", "", nil, &users)
	if len(users) != 3 {
		t.Fatalf("expected bob, carol and admin_ops after injection attempts, got %+v", users)
	}
}
