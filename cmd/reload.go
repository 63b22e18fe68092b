package cmd

import (
	"sync"

	"github.com/rubiojr/pulse/pkg/config"
	"github.com/rubiojr/pulse/pkg/log"
)

// runtimeSettings receives the settings that can change while serving.
type runtimeSettings interface {
	SetEchoToSender(bool)
}

type unenrichedSetting interface {
	SetDeliverUnenriched(bool)
}

// reloader re-reads the configuration file and applies the keys that can
// change without a restart: debug_services, realtime.echo_to_sender and
// realtime.deliver_unenriched. Anything else is reported as needing a
// restart.
type reloader struct {
	path    string
	debug   bool
	api     runtimeSettings
	chat    unenrichedSetting
	mu      sync.Mutex
	current *config.Config
	logger  *log.Logger
}

func newReloader(path string, debug bool, cfg *config.Config, api runtimeSettings, chat unenrichedSetting) *reloader {
	return &reloader{
		path:    path,
		debug:   debug,
		api:     api,
		chat:    chat,
		current: cfg,
		logger:  log.ForService("serve"),
	}
}

func (r *reloader) reload() error {
	cfg, err := config.LoadConfig(r.path)
	if err != nil {
		return err
	}
	r.apply(cfg)
	return nil
}

func (r *reloader) apply(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	configureLogging(r.debug, cfg)
	r.api.SetEchoToSender(cfg.Realtime.EchoToSender)
	r.chat.SetDeliverUnenriched(cfg.Realtime.DeliverUnenriched)

	if changed := restartRequired(r.current, cfg); len(changed) > 0 {
		r.logger.Warnf("restart required to apply: %v", changed)
		// Keep the running values for the keys that were not applied.
		kept := *r.current
		kept.DebugServices = cfg.DebugServices
		kept.Realtime.EchoToSender = cfg.Realtime.EchoToSender
		kept.Realtime.DeliverUnenriched = cfg.Realtime.DeliverUnenriched
		r.current = &kept
		return
	}
	r.current = cfg
}

// restartRequired lists the keys that differ between old and new and are
// only read at startup.
func restartRequired(old, new *config.Config) []string {
	var changed []string
	if old.ListenAddr != new.ListenAddr {
		changed = append(changed, "listen_addr")
	}
	if old.DBPath() != new.DBPath() {
		changed = append(changed, "storage_dir/database")
	}
	if old.Auth != new.Auth {
		changed = append(changed, "auth")
	}
	if old.Server != new.Server {
		changed = append(changed, "server")
	}
	o, n := old.Realtime, new.Realtime
	if o.SendBuffer != n.SendBuffer || o.WriteWait != n.WriteWait || o.PongWait != n.PongWait || o.MaxMessageSize != n.MaxMessageSize {
		changed = append(changed, "realtime")
	}
	return changed
}

func (r *reloader) config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
