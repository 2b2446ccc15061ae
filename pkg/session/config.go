package session

import (
	"time"

	"github.com/ternarybob/tether/internal/config"
	"github.com/ternarybob/tether/pkg/daemon"
)

// FromSettings builds a session Config from a predefined session merged
// with the service-wide daemon defaults. Filters and error patterns are
// concatenated; a session read timeout overrides the default.
func FromSettings(sc config.SessionConfig, dc config.DaemonConfig) Config {
	timeout := dc.ReadTimeout
	if sc.ReadTimeout > 0 {
		timeout = sc.ReadTimeout
	}
	return Config{
		Spec: daemon.Spec{
			Identity:      sc.Identity,
			Command:       sc.Command,
			User:          sc.User,
			SwitchUser:    dc.SwitchUser,
			Filters:       concat(dc.Filters, sc.Filters),
			ErrorPatterns: concat(dc.ErrorPatterns, sc.ErrorPatterns),
			ReadTimeout:   time.Duration(timeout) * time.Second,
		},
		Wrap: sc.Wrap,
	}
}

// Defined returns a Config for every session predefined in cfg.
func Defined(cfg *config.Config) []Config {
	out := make([]Config, 0, len(cfg.Sessions))
	for _, sc := range cfg.Sessions {
		out = append(out, FromSettings(sc, cfg.Daemon))
	}
	return out
}

// NewStoreFromConfig creates a Store with cfg's predefined sessions and,
// when enabled, file transcripts under cfg.TranscriptDir.
func NewStoreFromConfig(cfg *config.Config, opts ...StoreOption) (*Store, error) {
	registry := daemon.NewRegistry(daemon.WithSwitchUser(cfg.Daemon.SwitchUser))
	base := []StoreOption{WithDefined(Defined(cfg)...)}
	if cfg.Daemon.PersistTranscripts {
		base = append(base, WithTranscriptDir(cfg.TranscriptDir()))
	}
	return NewStore(registry, append(base, opts...)...)
}

func concat(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
