package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rubiojr/pulse/pkg/api"
	"github.com/rubiojr/pulse/pkg/config"
	"github.com/rubiojr/pulse/pkg/log"
	"github.com/rubiojr/pulse/pkg/realtime"
	"github.com/urfave/cli/v3"
)

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API and websocket server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Address to listen on (overrides listen_addr)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"), c.String("addr"), c.Bool("debug"))
		},
	}
}

// serve runs the server until SIGINT or SIGTERM. SIGHUP and changes to the
// configuration file reload the hot reloadable settings.
func serve(ctx context.Context, configPath, addr string, debug bool) error {
	logger := log.ForService("serve")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	configureLogging(debug, cfg)

	authn, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnf("failed to close store: %v", err)
		}
	}()

	registry := realtime.NewRegistry(cfg.Realtime.SendBuffer)
	defer registry.Close()

	svc, err := newChatService(cfg, store, registry)
	if err != nil {
		return err
	}

	apiServer := api.NewServer(svc, registry, authn, api.Options{
		CORSOrigin:     cfg.Server.CORSOrigin,
		WriteWait:      cfg.Realtime.WriteWait.Duration,
		PongWait:       cfg.Realtime.PongWait.Duration,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		EchoToSender:   cfg.Realtime.EchoToSender,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting pulse server on http://%s", cfg.ListenAddr)
		logger.Infof("  database: %s", cfg.DBPath())
		logger.Infof("  websocket: ws://%s/ws", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	rl := newReloader(configPath, debug, cfg, apiServer, svc)

	var watchEvents <-chan fsnotify.Event
	var watchErrors <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnf("failed to close config file watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			logger.Warnf("failed to watch config file %s: %v", configPath, err)
		} else {
			logger.Infof("watching config file for changes: %s", configPath)
		}
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
	}

	for {
		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case <-ctx.Done():
			return shutdown(server, registry, rl.config().Server.ShutdownTimeout.Duration)
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				logger.Infof("received SIGHUP, reloading configuration")
				if err := rl.reload(); err != nil {
					logger.Errorf("failed to reload configuration: %v", err)
				}
			default:
				logger.Infof("shutting down")
				return shutdown(server, registry, rl.config().Server.ShutdownTimeout.Duration)
			}
		case event, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)) {
				continue
			}
			logger.Infof("config file changed: %s (%s), reloading", event.Name, event.Op)

			// Editors often replace the file atomically; the watch has to be
			// re-added on the new inode.
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(200 * time.Millisecond)
				if _, err := os.Stat(configPath); os.IsNotExist(err) {
					logger.Warnf("config file was removed and not replaced, skipping reload")
					continue
				}
				if err := watcher.Add(configPath); err != nil {
					logger.Warnf("failed to re-add config file to watcher: %v", err)
				}
			} else {
				time.Sleep(100 * time.Millisecond)
			}

			if err := rl.reload(); err != nil {
				logger.Errorf("failed to reload configuration after file change: %v", err)
			}
		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			logger.Warnf("config file watcher error: %v", err)
		}
	}
}

// shutdown stops accepting requests and closes every websocket session.
// Hijacked websocket connections are not tracked by http.Server, so closing
// the registry is what ends them.
func shutdown(server *http.Server, registry *realtime.Registry, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	registry.Close()
	return err
}
