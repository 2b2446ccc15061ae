// Package main provides the tether CLI.
//
// tether drives long-lived interactive processes (shells, database
// consoles, remote sessions) through line-oriented exchanges and phased
// script documents.
//
// Usage:
//
//	tether run <script> [flags]       Run a script document against a session
//	tether exec [flags] <text...>     Send one command and print its output
//	tether watch <script> [flags]     Re-run a script document on every change
//	tether version                    Show version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ternarybob/tether/internal/config"
	"github.com/ternarybob/tether/internal/logger"
	"github.com/ternarybob/tether/internal/watch"
	"github.com/ternarybob/tether/pkg/script"
	"github.com/ternarybob/tether/pkg/session"
)

// version is set via -ldflags at build time
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout)
	stop()

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage(stdout)
		return fmt.Errorf("no command given")
	}

	switch args[0] {
	case "run":
		return cmdRun(ctx, args[1:], stdout)
	case "exec":
		return cmdExec(ctx, args[1:], stdout)
	case "watch":
		return cmdWatch(ctx, args[1:], stdout)
	case "version", "-v", "--version":
		fmt.Fprintf(stdout, "tether version %s\n", version)
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stdout)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `tether - drive long-lived interactive processes

Usage:
  tether <command> [flags]

Commands:
  run <script>      Run a script document (YAML, TOML or JSON) against a session
  exec <text...>    Send one command to a fresh session and print its output
  watch <script>    Run a script document and re-run it whenever it changes
  version           Show version information
  help              Show this help

Session flags:
  --config path     Config file with predefined sessions (default: ~/.tether/config.yaml)
  --session id      Session identity (predefined in config unless --command is set)
  --command cmd     Command to spawn, run through /bin/sh -c
  --user name       Run the command as this user through the switch-user wrapper
  --filter regex    Redact matches from output (repeatable)
  --timeout secs    Per-line read timeout (0 = daemon default)
  --wrap            Append exit-status sentinels to every exec

Environment:
  TETHER_DAEMON_READ_TIMEOUT   Default per-line read timeout in seconds (120)
  TETHER_LOG_LEVEL             Log level (default: warn for the CLI)

Examples:
  tether exec --command "exec /bin/sh" uname -a
  tether run deploy.yaml --command "ssh -T app01" --wrap
  tether watch checks.yaml --session db-primary`)
}

// sessionFlags are shared by run, exec and watch.
type sessionFlags struct {
	configPath string
	identity   string
	command    string
	user       string
	filters    []string
	timeout    int
	wrap       bool
	logLevel   string
}

func newFlagSet(name string, sf *sessionFlags, defaultIdentity string, defaultWrap bool) *pflag.FlagSet {
	fs := pflag.NewFlagSet("tether "+name, pflag.ContinueOnError)
	fs.StringVar(&sf.configPath, "config", config.DefaultConfigPath(), "config file path")
	fs.StringVarP(&sf.identity, "session", "s", defaultIdentity, "session identity")
	fs.StringVarP(&sf.command, "command", "c", "", "command to spawn through /bin/sh -c")
	fs.StringVarP(&sf.user, "user", "u", "", "run the command as this user")
	fs.StringArrayVar(&sf.filters, "filter", nil, "redaction pattern (repeatable)")
	fs.IntVarP(&sf.timeout, "timeout", "t", 0, "per-line read timeout in seconds (0 = daemon default)")
	fs.BoolVar(&sf.wrap, "wrap", defaultWrap, "append exit-status sentinels to every exec")
	fs.StringVar(&sf.logLevel, "log-level", "warn", "log level (overridden by TETHER_LOG_LEVEL)")
	return fs
}

// open loads the config and resolves the session the flags describe. The
// returned cleanup terminates every daemon the store spawned.
func (sf *sessionFlags) open(ctx context.Context) (*session.Session, func(), error) {
	logger.SetupCLI(sf.logLevel)

	cfg, err := config.Load(sf.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	store, err := session.NewStoreFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create session store: %w", err)
	}
	cleanup := func() { _ = store.Shutdown() }

	var sess *session.Session
	if sf.command != "" {
		sess, err = store.Open(ctx, session.FromSettings(config.SessionConfig{
			Identity:    sf.identity,
			Command:     sf.command,
			User:        sf.user,
			Filters:     sf.filters,
			ReadTimeout: sf.timeout,
			Wrap:        sf.wrap,
		}, cfg.Daemon))
	} else {
		sess, err = store.Get(sf.identity)
		if err == nil {
			_, err = sess.Daemon(ctx)
		}
	}
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open session %q: %w", sf.identity, err)
	}
	return sess, cleanup, nil
}

// readTimeout converts --timeout for single exchanges.
func (sf *sessionFlags) readTimeout() time.Duration {
	if sf.timeout <= 0 {
		return -1
	}
	return time.Duration(sf.timeout) * time.Second
}

func cmdRun(ctx context.Context, args []string, stdout io.Writer) error {
	var sf sessionFlags
	fs := newFlagSet("run", &sf, "run", false)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tether run <script> [flags]")
	}

	doc, err := script.LoadDocument(fs.Arg(0))
	if err != nil {
		return err
	}

	sess, cleanup, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := sess.Run(ctx, doc)
	printResults(stdout, res)
	return err
}

func cmdExec(ctx context.Context, args []string, stdout io.Writer) error {
	var sf sessionFlags
	fs := newFlagSet("exec", &sf, "exec", true)
	fs.SetInterspersed(false)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: tether exec [flags] <text...>")
	}

	sess, cleanup, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := sess.Exec(ctx, strings.Join(fs.Args(), " "), sf.readTimeout(), nil)
	fmt.Fprint(stdout, out)
	return err
}

func cmdWatch(ctx context.Context, args []string, stdout io.Writer) error {
	var sf sessionFlags
	fs := newFlagSet("watch", &sf, "watch", false)
	debounce := fs.Duration("debounce", watch.DefaultDebounce, "quiet period before a re-run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tether watch <script> [flags]")
	}

	sess, cleanup, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	w, err := watch.New(fs.Arg(0), func(ctx context.Context, doc *script.Document) error {
		res, err := sess.Run(ctx, doc)
		printResults(stdout, res)
		return err
	}, watch.WithDebounce(*debounce))
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Watching %s (Ctrl-C to stop)\n", fs.Arg(0))
	return w.Run(ctx)
}

func printResults(w io.Writer, res script.Results) {
	for _, p := range script.Phases {
		for _, out := range res.Phase(p) {
			fmt.Fprint(w, out)
		}
	}
}
