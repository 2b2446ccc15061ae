// Package main provides the entry point for tether-service.
//
// tether-service keeps daemon sessions alive between requests and exposes
// them through:
//   - REST API for programmatic access
//   - MCP tools for agent integration (stdio, or streamable HTTP at /mcp)
//
// Usage:
//
//	tether-service                    Start the service (default)
//	tether-service serve              Start the service
//	tether-service version            Show version
//	tether-service status             Show service status
//	tether-service stop               Stop the running service
//	tether-service mcp                Start MCP server (stdio mode)
package main

import (
	"fmt"
	"os"

	"github.com/ternarybob/tether/internal/api"
	"github.com/ternarybob/tether/internal/config"
	"github.com/ternarybob/tether/internal/logger"
	"github.com/ternarybob/tether/internal/mcp"
	"github.com/ternarybob/tether/internal/service"
	"github.com/ternarybob/tether/pkg/session"
)

// version is set via -ldflags at build time
var version = "dev"

// mcpPath is where the MCP endpoint is mounted on the HTTP API.
const mcpPath = "/mcp"

func main() {
	api.SetVersion(version)

	if len(os.Args) < 2 {
		if err := cmdServe(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var err error
	switch os.Args[1] {
	case "serve", "start":
		err = cmdServe()
	case "version", "-v", "--version":
		cmdVersion()
	case "status":
		err = cmdStatus()
	case "stop":
		err = cmdStop()
	case "mcp", "mcp-server":
		err = cmdMCP()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tether-service - Long-lived daemon session service

Usage:
  tether-service [command]

Commands:
  serve         Start the service (default)
  version       Show version information
  status        Show service status
  stop          Stop the running service
  mcp           Start MCP server (stdio mode)
  help          Show this help

Environment:
  TETHER_CONFIG                 Config file path (default: ~/.tether/config.yaml)
  TETHER_DAEMON_READ_TIMEOUT    Default per-line read timeout in seconds (120)

Examples:
  tether-service                       Start the service
  tether-service mcp                   Start MCP server on stdio
  curl localhost:8421/health           Check service health
  curl localhost:8421/sessions         List open sessions`)
}

func cmdVersion() {
	fmt.Printf("tether-service version %s\n", version)
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("TETHER_CONFIG")
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func cmdServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if running, pid := service.IsRunning(cfg); running {
		return fmt.Errorf("service already running (PID %d)", pid)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	log := logger.SetupLogger(cfg)
	defer logger.Stop()

	store, err := session.NewStoreFromConfig(cfg, session.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}

	apiServer := api.NewServer(cfg, store)
	if cfg.MCP.Enabled {
		apiServer.Mount(mcpPath, mcp.NewServer(cfg, store, version).HTTPHandler())
	}

	svc := service.New(cfg, store)
	if err := svc.Start(apiServer.Handler()); err != nil {
		_ = store.Shutdown()
		return fmt.Errorf("start service: %w", err)
	}

	fmt.Printf("tether-service v%s started on %s\n", version, svc.Addr())
	fmt.Printf("API: http://%s/sessions\n", svc.Addr())
	if cfg.MCP.Enabled {
		fmt.Printf("MCP: http://%s%s\n", svc.Addr(), mcpPath)
	}

	return svc.Wait()
}

func cmdStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid := service.IsRunning(cfg)
	if running {
		fmt.Printf("tether-service: running (PID %d)\n", pid)
		fmt.Printf("Address: %s\n", cfg.Address())
	} else {
		fmt.Println("tether-service: stopped")
	}

	return nil
}

func cmdStop() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid := service.IsRunning(cfg)
	if !running {
		fmt.Println("tether-service is not running")
		return nil
	}

	fmt.Printf("Stopping tether-service (PID %d)...\n", pid)
	if err := service.StopRunning(cfg); err != nil {
		return err
	}

	fmt.Println("tether-service stopped")
	return nil
}

// cmdMCP serves the MCP tools on stdio. Logs go to the log file only, since
// stdout carries the protocol.
func cmdMCP() error {
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	log := logger.SetupStdio(cfg)
	defer logger.Stop()

	store, err := session.NewStoreFromConfig(cfg, session.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}
	defer func() {
		if err := store.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("Session shutdown error")
		}
	}()

	fmt.Fprintf(os.Stderr, "[tether-service] MCP server ready (%d predefined sessions)\n", len(cfg.Sessions))
	return mcp.NewServer(cfg, store, version).ServeStdio()
}
