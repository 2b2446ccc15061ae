package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/tether/pkg/script"
)

// OptionTimeout is the entry option holding a per-line timeout in seconds
// or as a duration string ("1m30s").
const OptionTimeout = "timeout"

// handler exposes a session to scripts.
type handler struct {
	s     *Session
	verbs script.HandlerMap
}

// Handler returns a script handler whose exec, send and sync verbs drive
// the session's daemon. Blocks can read "identity", "command", "user" and
// any transcript state through Context.Value.
func (s *Session) Handler() script.Handler {
	h := &handler{s: s}
	h.verbs = script.HandlerMap{
		VerbExec: h.exec,
		VerbSend: h.send,
		VerbSync: h.sync,
	}
	return h
}

func (h *handler) Lookup(verb script.Verb) (script.HandlerFunc, bool) {
	return h.verbs.Lookup(verb)
}

func (h *handler) Values() map[string]any {
	values := h.s.transcript.State()
	values["identity"] = h.s.ID()
	values["command"] = h.s.cfg.Spec.Command
	values["user"] = h.s.cfg.Spec.User
	return values
}

func (h *handler) exec(ctx context.Context, args string, opts script.Options) (string, error) {
	timeout, err := TimeoutOption(opts)
	if err != nil {
		return "", err
	}
	return h.s.Exec(ctx, args, timeout, nil)
}

func (h *handler) send(ctx context.Context, args string, _ script.Options) (string, error) {
	return "", h.s.Send(ctx, args)
}

func (h *handler) sync(ctx context.Context, _ string, opts script.Options) (string, error) {
	timeout, err := TimeoutOption(opts)
	if err != nil {
		return "", err
	}
	return h.s.Sync(ctx, timeout, nil)
}

// TimeoutOption reads OptionTimeout from opts. A missing option yields -1,
// which selects the daemon default.
func TimeoutOption(opts script.Options) (time.Duration, error) {
	raw, ok := opts[OptionTimeout]
	if !ok || raw == nil {
		return -1, nil
	}
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		v = strings.TrimSpace(v)
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s option %q: %w", OptionTimeout, v, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("parse %s option: unsupported type %T", OptionTimeout, raw)
	}
}
