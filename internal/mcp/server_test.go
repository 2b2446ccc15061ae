package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/tether/internal/config"
	"github.com/ternarybob/tether/pkg/daemon"
	"github.com/ternarybob/tether/pkg/session"
)

const succeed = "; echo '" + daemon.SuccessSentinel + "'"

func newTestServer(t *testing.T) (*Server, *session.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Service.DataDir = t.TempDir()
	cfg.Sessions = []config.SessionConfig{{Identity: "pre", Command: "exec /bin/sh"}}

	store, err := session.NewStoreFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Shutdown() })

	return NewServer(cfg, store, "test"), store
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content %T", res.Content[0])
		return ""
	}
}

func TestOpenExecClose(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleOpen(ctx, call(map[string]any{
		"identity": "tool",
		"command":  "exec /bin/sh",
		"filters":  []any{"secret"},
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "Session tool open")

	res, err = s.handleExec(ctx, call(map[string]any{
		"identity": "tool",
		"text":     "echo a secret" + succeed,
		"timeout":  5.0,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "a "+daemon.FilteredToken)

	res, err = s.handleList(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "tool\trunning")

	res, err = s.handleTranscript(ctx, call(map[string]any{"identity": "tool"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"kind": "exec"`)

	res, err = s.handleClose(ctx, call(map[string]any{"identity": "tool"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Empty(t, store.Registry().Identities())
}

func TestExecFailureShowsOutput(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleExec(ctx, call(map[string]any{
		"identity": "pre",
		"text":     "echo broken; echo '" + daemon.FailureSentinel + "'",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	body := text(t, res)
	assert.Contains(t, body, "Output:\nbroken\n")
}

func TestMissingArguments(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleOpen(ctx, call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleExec(ctx, call(map[string]any{"identity": "pre"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleExec(ctx, call(map[string]any{"identity": "ghost", "text": "true"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "session_open")
}

func TestListEmpty(t *testing.T) {
	s, _ := newTestServer(t)

	res, err := s.handleList(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Equal(t, "No open sessions.", text(t, res))
}

func TestScriptRun(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleOpen(ctx, call(map[string]any{"identity": "pre"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	doc := `
before:
  - {verb: send, args: "cd /"}
main:
  - args: "pwd` + succeed + `"
`
	res, err = s.handleScript(ctx, call(map[string]any{"identity": "pre", "script": doc}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	body := text(t, res)
	assert.Contains(t, body, "## main\n/\n")

	res, err = s.handleScript(ctx, call(map[string]any{"identity": "pre", "script": "main: [", "format": "yaml"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
