package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/tether/internal/config"
	"github.com/ternarybob/tether/pkg/daemon"
	"github.com/ternarybob/tether/pkg/script"
)

const succeed = "; echo '" + daemon.SuccessSentinel + "'"

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	st, err := NewStore(daemon.NewRegistry(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Shutdown() })
	return st
}

func shellConfig(id string) Config {
	return Config{Spec: daemon.Spec{Identity: id, Command: "exec /bin/sh"}}
}

func TestSession_ExecRecordsTranscript(t *testing.T) {
	st := newTestStore(t)
	s, err := st.Open(context.Background(), Config{Spec: daemon.Spec{
		Identity: "rec",
		Command:  "exec /bin/sh",
		Filters:  []string{"hunter2"},
	}})
	require.NoError(t, err)

	out, err := s.Exec(context.Background(), "echo pw=hunter2"+succeed, 5*time.Second, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "pw="+daemon.FilteredToken)

	history := s.Transcript().History()
	require.Len(t, history, 1)
	assert.Equal(t, KindExec, history[0].Kind)
	assert.NotContains(t, history[0].Input, "hunter2")
	assert.Equal(t, out, history[0].Output)
	assert.Empty(t, history[0].Error)
}

func TestSession_FailureRecordsPartialOutput(t *testing.T) {
	st := newTestStore(t)
	s, err := st.Open(context.Background(), shellConfig("fail"))
	require.NoError(t, err)

	_, err = s.Exec(context.Background(), "echo before; echo '"+daemon.FailureSentinel+"'", 5*time.Second, nil)
	require.ErrorIs(t, err, daemon.ErrProtocolFailure)

	history := s.Transcript().History()
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Output, "before")
	assert.NotEmpty(t, history[0].Error)
}

func TestSession_Wrap(t *testing.T) {
	st := newTestStore(t)
	cfg := shellConfig("wrapped")
	cfg.Wrap = true
	s, err := st.Open(context.Background(), cfg)
	require.NoError(t, err)

	out, err := s.Exec(context.Background(), "echo fine", 5*time.Second, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "fine")

	_, err = s.Exec(context.Background(), "false", 5*time.Second, nil)
	assert.ErrorIs(t, err, daemon.ErrProtocolFailure)

	assert.Equal(t, "false", s.Transcript().History()[1].Input, "transcript keeps the unwrapped input")
}

func TestSession_SendThenSync(t *testing.T) {
	st := newTestStore(t)
	s, err := st.Open(context.Background(), shellConfig("split"))
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "echo split"+succeed))

	var lines []string
	out, err := s.Sync(context.Background(), 5*time.Second, func(line string) { lines = append(lines, line) })
	require.NoError(t, err)
	assert.Contains(t, out, "split")
	assert.Equal(t, []string{"split"}, lines)

	history := s.Transcript().History()
	require.Len(t, history, 2)
	assert.Equal(t, KindSend, history[0].Kind)
	assert.Equal(t, KindSync, history[1].Kind)
}

func TestSession_RecreatesDeadDaemon(t *testing.T) {
	st := newTestStore(t)
	s, err := st.Open(context.Background(), shellConfig("phoenix"))
	require.NoError(t, err)

	first, ok := s.Live()
	require.True(t, ok)
	require.NoError(t, first.Terminate())

	_, ok = s.Live()
	assert.False(t, ok)

	out, err := s.Exec(context.Background(), "echo back"+succeed, 5*time.Second, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "back")

	second, ok := s.Live()
	require.True(t, ok)
	assert.NotSame(t, first, second)
}

func TestSession_Run(t *testing.T) {
	st := newTestStore(t)
	s, err := st.Open(context.Background(), shellConfig("script"))
	require.NoError(t, err)

	doc, err := script.ParseDocument([]byte(`
before:
  - {verb: send, args: "cd /"}
main:
  - args: "pwd`+succeed+`"
  - {verb: exec, args: "echo slow`+succeed+`", options: {timeout: 5}}
after:
  - {verb: send, args: "echo done"}
  - {verb: sync, options: {timeout: "2s"}}
`), script.FormatYAML)
	require.NoError(t, err)

	// The trailing sync has no sentinel to wait for.
	doc.After[0].Args = script.Args{"echo done" + succeed}

	res, err := s.Run(context.Background(), doc)
	require.NoError(t, err)

	main := res.Phase(script.PhaseMain)
	require.Len(t, main, 2)
	assert.Contains(t, main[0], "/\n")
	assert.Contains(t, main[1], "slow")
	assert.Contains(t, res.Joined(script.PhaseAfter), "done")
	assert.Equal(t, []string{""}, res.Phase(script.PhaseBefore))
}

func TestSession_RunFallsBackToShell(t *testing.T) {
	st := newTestStore(t)
	s, err := st.Open(context.Background(), shellConfig("fallback"))
	require.NoError(t, err)

	doc := &script.Document{
		Verbs: []string{"exec", "echo"},
		Main: []script.EntrySpec{
			{Verb: "echo", Args: script.Args{"from", "host"}},
		},
	}
	res, err := s.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "from host\n", res.Joined(script.PhaseMain))
	assert.Empty(t, s.Transcript().History(), "host commands bypass the daemon")
}

func TestSession_HandlerValues(t *testing.T) {
	st := newTestStore(t)
	s, err := st.Get("nope")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrUnknownSession)

	s, err = st.Open(context.Background(), Config{Spec: daemon.Spec{Identity: "vals", Command: "exec /bin/sh", User: ""}})
	require.NoError(t, err)
	s.Transcript().SetState("region", "eu")

	var seen []any
	b, err := script.New(DefaultVerbs,
		script.WithHandler(s.Handler()),
		script.WithBlock(func(c *script.Context) error {
			for _, key := range []string{"identity", "command", "region"} {
				v, _ := c.Value(key)
				seen = append(seen, v)
			}
			return nil
		}),
	)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, []any{"vals", "exec /bin/sh", "eu"}, seen)
}

func TestTimeoutOption(t *testing.T) {
	tests := []struct {
		name string
		opts script.Options
		want time.Duration
		err  bool
	}{
		{name: "missing", opts: nil, want: -1},
		{name: "int", opts: script.Options{"timeout": 3}, want: 3 * time.Second},
		{name: "int64", opts: script.Options{"timeout": int64(4)}, want: 4 * time.Second},
		{name: "float", opts: script.Options{"timeout": 0.5}, want: 500 * time.Millisecond},
		{name: "seconds string", opts: script.Options{"timeout": "7"}, want: 7 * time.Second},
		{name: "duration string", opts: script.Options{"timeout": "1m"}, want: time.Minute},
		{name: "duration", opts: script.Options{"timeout": 2 * time.Second}, want: 2 * time.Second},
		{name: "bad string", opts: script.Options{"timeout": "soon"}, err: true},
		{name: "bad type", opts: script.Options{"timeout": true}, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TimeoutOption(tt.opts)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_OpenIsIdempotent(t *testing.T) {
	st := newTestStore(t)

	a, err := st.Open(context.Background(), shellConfig("same"))
	require.NoError(t, err)
	b, err := st.Open(context.Background(), shellConfig("same"))
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, []string{"same"}, st.List())
	assert.Equal(t, []string{"same"}, st.Registry().Identities())
}

func TestStore_FailedOpenIsNotKept(t *testing.T) {
	st := newTestStore(t)
	ch := st.Events().Subscribe()

	_, err := st.Open(context.Background(), Config{Spec: daemon.Spec{
		Identity:   "retry",
		Command:    "exec /bin/sh",
		User:       "nobody",
		SwitchUser: "/nonexistent/su",
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, daemon.ErrSpawn)
	assert.Empty(t, st.List())

	s, err := st.Open(context.Background(), shellConfig("retry"))
	require.NoError(t, err)
	assert.Equal(t, "exec /bin/sh", s.Config().Spec.Command)
	assert.Equal(t, []string{"retry"}, st.List())

	select {
	case ev := <-ch:
		assert.Equal(t, EventOpened, ev.Type)
		assert.Equal(t, "exec /bin/sh", ev.Data["command"])
	case <-time.After(time.Second):
		t.Fatal("no opened event")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestStore_InvalidFilterRejected(t *testing.T) {
	st := newTestStore(t)

	cfg := shellConfig("badfilter")
	cfg.Spec.Filters = []string{"("}
	_, err := st.Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Empty(t, st.List())
	assert.Empty(t, st.Registry().Identities())
}

func TestStore_DefinedSessionsOpenLazily(t *testing.T) {
	st := newTestStore(t, WithDefined(shellConfig("lazy")))

	s, err := st.Get("lazy")
	require.NoError(t, err)
	assert.Empty(t, st.Registry().Identities(), "Get does not spawn")

	_, err = s.Exec(context.Background(), "true"+succeed, 5*time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"lazy"}, st.Registry().Identities())

	info, err := st.Describe("lazy")
	require.NoError(t, err)
	assert.True(t, info.Alive)
	assert.NotZero(t, info.PID)
	assert.Equal(t, 1, info.Exchanges)
}

func TestStore_CloseAndDelete(t *testing.T) {
	dir := t.TempDir()
	st := newTestStore(t, WithTranscriptDir(dir))

	s, err := st.Open(context.Background(), shellConfig("keep"))
	require.NoError(t, err)
	_, err = s.Exec(context.Background(), "echo x"+succeed, 5*time.Second, nil)
	require.NoError(t, err)

	require.NoError(t, st.Close("keep"))
	assert.Empty(t, st.List())
	assert.Empty(t, st.Registry().Identities())
	assert.FileExists(t, TranscriptPath(dir, "keep"))

	err = st.Close("keep")
	assert.True(t, errors.Is(err, ErrUnknownSession))

	_, err = st.Open(context.Background(), shellConfig("keep"))
	require.NoError(t, err)
	reopened, err := st.Get("keep")
	require.NoError(t, err)
	assert.Len(t, reopened.Transcript().History(), 1, "transcript reloads from disk")

	require.NoError(t, st.Delete("keep"))
	assert.NoFileExists(t, TranscriptPath(dir, "keep"))
}

func TestStore_Shutdown(t *testing.T) {
	st := newTestStore(t)

	var daemons []*daemon.Daemon
	for _, id := range []string{"one", "two"} {
		s, err := st.Open(context.Background(), shellConfig(id))
		require.NoError(t, err)
		d, ok := s.Live()
		require.True(t, ok)
		daemons = append(daemons, d)
	}
	assert.Len(t, st.Infos(), 2)

	require.NoError(t, st.Shutdown())
	for _, d := range daemons {
		assert.False(t, d.Alive())
	}
	assert.Empty(t, st.List())
}

func TestFromSettings(t *testing.T) {
	dc := config.DaemonConfig{
		ReadTimeout:   30,
		SwitchUser:    "sudo -iu",
		Filters:       []string{"global"},
		ErrorPatterns: []string{"^fatal"},
	}
	sc := config.SessionConfig{
		Identity: "db",
		Command:  "psql",
		User:     "postgres",
		Filters:  []string{"local"},
		Wrap:     true,
	}

	cfg := FromSettings(sc, dc)
	assert.Equal(t, "db", cfg.Spec.Identity)
	assert.Equal(t, "sudo -iu", cfg.Spec.SwitchUser)
	assert.Equal(t, []string{"global", "local"}, cfg.Spec.Filters)
	assert.Equal(t, []string{"^fatal"}, cfg.Spec.ErrorPatterns)
	assert.Equal(t, 30*time.Second, cfg.Spec.ReadTimeout)
	assert.True(t, cfg.Wrap)

	sc.ReadTimeout = 5
	assert.Equal(t, 5*time.Second, FromSettings(sc, dc).Spec.ReadTimeout)
}

func TestNewStoreFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Service.DataDir = t.TempDir()
	cfg.Daemon.PersistTranscripts = true
	cfg.Sessions = []config.SessionConfig{{Identity: "sh", Command: "exec /bin/sh"}}

	st, err := NewStoreFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Shutdown() })

	s, err := st.Get("sh")
	require.NoError(t, err)
	_, err = s.Exec(context.Background(), "true"+succeed, 5*time.Second, nil)
	require.NoError(t, err)
	assert.FileExists(t, TranscriptPath(cfg.TranscriptDir(), "sh"))
}
