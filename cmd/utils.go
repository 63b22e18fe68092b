package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rubiojr/pulse/pkg/auth"
	"github.com/rubiojr/pulse/pkg/chat"
	"github.com/rubiojr/pulse/pkg/config"
	"github.com/rubiojr/pulse/pkg/log"
	"github.com/rubiojr/pulse/pkg/realtime"
	"github.com/rubiojr/pulse/pkg/storage"
	"github.com/urfave/cli/v3"
)

// loadConfig reads the configuration named by the global --config flag and
// applies the debug settings.
func loadConfig(c *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	configureLogging(c.Bool("debug"), cfg)
	return cfg, nil
}

func configureLogging(debug bool, cfg *config.Config) {
	log.SetGlobalDebug(debug)
	log.SetDebugServices(cfg.DebugServices)
}

// openStore opens the configured database, creating the storage directory
// and applying pending migrations.
func openStore(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	store, err := storage.Open(ctx, cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return store, nil
}

func newAuthenticator(cfg *config.Config) (*auth.Authenticator, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is not set, run 'pulse init' or set PULSE_JWT_SECRET")
	}
	return auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.CookieName)
}

// newChatService wires the chat service over store. Commands that never
// push events pass a registry nobody is connected to.
func newChatService(cfg *config.Config, store *storage.Store, registry *realtime.Registry) (*chat.Service, error) {
	return chat.New(chat.Options{
		Messages:          store,
		Notifications:     store,
		Users:             store,
		Broadcaster:       registry,
		DeliverUnenriched: cfg.Realtime.DeliverUnenriched,
	})
}
