package script

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEntry_Normalization(t *testing.T) {
	single := NewCommandEntry("exec", "ls -la", nil)
	assert.Equal(t, []string{"ls -la"}, single.Arguments)
	assert.NotNil(t, single.Options)

	args := []string{"a", "b"}
	multi := NewCommandEntryArgs("exec", args, Options{"k": "v"})
	args[0] = "changed"
	assert.Equal(t, []string{"a", "b"}, multi.Arguments, "arguments are copied")
	assert.Equal(t, "a b", multi.JoinedArguments())
	assert.Equal(t, "exec a b", multi.CommandLine())
}

func TestCommandEntry_HandlerWins(t *testing.T) {
	var gotArgs string
	var gotOpts Options
	h := HandlerMap{
		"foo": func(_ context.Context, args string, opts Options) (string, error) {
			gotArgs = args
			gotOpts = opts
			return "handled", nil
		},
	}
	runner := &fakeRunner{}

	entry := NewCommandEntryArgs("foo", []string{"x", "y"}, Options{"flag": true})
	out, err := entry.Execute(context.Background(), h, runner)
	require.NoError(t, err)

	assert.Equal(t, "handled", out)
	assert.Equal(t, "x y", gotArgs)
	assert.Equal(t, true, gotOpts["flag"])
	assert.Empty(t, runner.lines, "no process should be started")
}

func TestCommandEntry_FallsBackToRunner(t *testing.T) {
	runner := &fakeRunner{}
	entry := NewCommandEntryArgs("bar", []string{"1", "2"}, nil)

	_, err := entry.Execute(context.Background(), HandlerMap{}, runner)
	require.NoError(t, err)
	assert.Equal(t, []string{"bar 1 2"}, runner.lines)
}

func TestCommandEntry_ShellSuccess(t *testing.T) {
	entry := NewCommandEntryArgs("echo", []string{"hello", "world"}, nil)
	out, err := entry.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)
}

func TestCommandEntry_ShellNonZeroExit(t *testing.T) {
	entry := NewCommandEntryArgs("sh", []string{"-c", "'echo oops; exit 3'"}, nil)
	_, err := entry.Execute(context.Background(), nil, ShellRunner{})
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrExternalCommand))
	var extErr *ExternalCommandError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, 3, extErr.ExitCode)
	assert.Contains(t, extErr.Output, "oops")
}

func TestCommandEntry_UnresolvableVerb(t *testing.T) {
	entry := NewCommandEntry("tether-no-such-command", "arg", nil)
	_, err := entry.Execute(context.Background(), HandlerMap{}, nil)

	var extErr *ExternalCommandError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, 127, extErr.ExitCode)
}

type fakeRunner struct {
	lines []string
}

func (r *fakeRunner) Run(_ context.Context, line string) (string, error) {
	r.lines = append(r.lines, line)
	return line, nil
}
