// Package mcp exposes daemon sessions as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ternarybob/tether/internal/config"
	"github.com/ternarybob/tether/pkg/daemon"
	"github.com/ternarybob/tether/pkg/script"
	"github.com/ternarybob/tether/pkg/session"
)

// Server wraps the session store to provide MCP tool access.
type Server struct {
	cfg    *config.Config
	store  *session.Store
	server *server.MCPServer
}

// NewServer creates an MCP server over store.
func NewServer(cfg *config.Config, store *session.Store, version string) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
	}

	mcpServer := server.NewMCPServer(
		"tether",
		version,
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.server = mcpServer
	return s
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("session_open",
			mcp.WithDescription("Open a long-lived shell session. Reuses the live session when the identity is already open. Omit command to open a session predefined in the service configuration."),
			mcp.WithString("identity",
				mcp.Required(),
				mcp.Description("Session identity (e.g., 'db-primary')"),
			),
			mcp.WithString("command",
				mcp.Description("Command run through /bin/sh -c (e.g., 'exec /bin/sh', 'psql -d app')"),
			),
			mcp.WithString("user",
				mcp.Description("Run the command as this user through the privilege-switch wrapper"),
			),
			mcp.WithArray("filters",
				mcp.Description("Regular expressions redacted from all output"),
				mcp.Items(map[string]any{"type": "string"}),
			),
			mcp.WithArray("error_patterns",
				mcp.Description("Regular expressions that mark a command as failed"),
				mcp.Items(map[string]any{"type": "string"}),
			),
			mcp.WithBoolean("wrap",
				mcp.Description("Append exit-status sentinels to every exec (default: false)"),
			),
		),
		s.handleOpen,
	)

	mcpServer.AddTool(
		mcp.NewTool("session_exec",
			mcp.WithDescription("Send input to a session and read output until the command reports success or failure."),
			mcp.WithString("identity",
				mcp.Required(),
				mcp.Description("Session identity"),
			),
			mcp.WithString("text",
				mcp.Required(),
				mcp.Description("Input line to send"),
			),
			mcp.WithNumber("timeout",
				mcp.Description("Per-line read timeout in seconds (default: daemon default)"),
			),
		),
		s.handleExec,
	)

	mcpServer.AddTool(
		mcp.NewTool("session_close",
			mcp.WithDescription("Terminate a session's process. The transcript is kept unless purge is set."),
			mcp.WithString("identity",
				mcp.Required(),
				mcp.Description("Session identity"),
			),
			mcp.WithBoolean("purge",
				mcp.Description("Also delete the stored transcript (default: false)"),
			),
		),
		s.handleClose,
	)

	mcpServer.AddTool(
		mcp.NewTool("session_list",
			mcp.WithDescription("List open sessions with their process state."),
		),
		s.handleList,
	)

	mcpServer.AddTool(
		mcp.NewTool("session_transcript",
			mcp.WithDescription("Show the recorded exchanges of a session."),
			mcp.WithString("identity",
				mcp.Required(),
				mcp.Description("Session identity"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Number of most recent exchanges to show (default: 20)"),
			),
		),
		s.handleTranscript,
	)

	mcpServer.AddTool(
		mcp.NewTool("script_run",
			mcp.WithDescription("Run a script document (before, main and after phases) against a session."),
			mcp.WithString("identity",
				mcp.Required(),
				mcp.Description("Session identity"),
			),
			mcp.WithString("script",
				mcp.Required(),
				mcp.Description("Script document with verbs, before, main and after lists"),
			),
			mcp.WithString("format",
				mcp.Description("Document format: yaml, toml or json (default: yaml)"),
			),
		),
		s.handleScript,
	)
}

func (s *Server) handleOpen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("identity", "")
	if id == "" {
		return mcp.NewToolResultError("identity parameter is required"), nil
	}

	command := request.GetString("command", "")
	if command == "" {
		sess, err := s.store.Get(id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("open session failed: %v", err)), nil
		}
		if _, err := sess.Daemon(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("open session failed: %v", err)), nil
		}
	} else {
		cfg := session.FromSettings(config.SessionConfig{
			Identity:      id,
			Command:       command,
			User:          request.GetString("user", ""),
			Filters:       request.GetStringSlice("filters", nil),
			ErrorPatterns: request.GetStringSlice("error_patterns", nil),
			Wrap:          request.GetBool("wrap", false),
		}, s.cfg.Daemon)
		if _, err := s.store.Open(ctx, cfg); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("open session failed: %v", err)), nil
		}
	}

	info, err := s.store.Describe(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open session failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session %s open (pid %d).", info.Identity, info.PID)), nil
}

func (s *Server) handleExec(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := s.session(request)
	if errResult != nil {
		return errResult, nil
	}
	text := request.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text parameter is required"), nil
	}

	timeout := time.Duration(-1)
	if secs := request.GetFloat("timeout", -1); secs >= 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	out, err := sess.Exec(ctx, text, timeout, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%v\n\nOutput:\n%s", summarize(err), out)), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) handleClose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("identity", "")
	if id == "" {
		return mcp.NewToolResultError("identity parameter is required"), nil
	}

	var err error
	if request.GetBool("purge", false) {
		err = s.store.Delete(id)
	} else {
		err = s.store.Close(id)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("close session failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session %s closed.", id)), nil
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := s.store.Infos()
	if len(infos) == 0 {
		return mcp.NewToolResultText("No open sessions."), nil
	}

	var b strings.Builder
	for _, info := range infos {
		state := "stopped"
		if info.Alive {
			state = fmt.Sprintf("running pid %d", info.PID)
		}
		fmt.Fprintf(&b, "%s\t%s\t%d exchanges\t%s\n", info.Identity, state, info.Exchanges, info.Command)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleTranscript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := s.session(request)
	if errResult != nil {
		return errResult, nil
	}

	history := sess.Transcript().History()
	if limit := request.GetInt("limit", 20); limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	jsonBytes, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal transcript failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := s.session(request)
	if errResult != nil {
		return errResult, nil
	}

	format := script.Format(request.GetString("format", string(script.FormatYAML)))
	doc, err := script.ParseDocument([]byte(request.GetString("script", "")), format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("parse script failed: %v", err)), nil
	}

	res, err := sess.Run(ctx, doc)
	text := formatResults(res)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%v\n\n%s", summarize(err), text)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// session resolves the identity argument.
func (s *Server) session(request mcp.CallToolRequest) (*session.Session, *mcp.CallToolResult) {
	id := request.GetString("identity", "")
	if id == "" {
		return nil, mcp.NewToolResultError("identity parameter is required")
	}
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("session %q not found; open it with session_open", id))
	}
	return sess, nil
}

// ServeStdio starts the MCP server on stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.server)
}

// HTTPHandler serves the tools over streamable HTTP.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func formatResults(res script.Results) string {
	var b strings.Builder
	for _, p := range script.Phases {
		outs := res.Phase(p)
		if len(outs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", p)
		for _, out := range outs {
			b.WriteString(out)
			if !strings.HasSuffix(out, "\n") {
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

// summarize drops the output a daemon error embeds, since it is shown
// separately.
func summarize(err error) string {
	if _, ok := daemon.OutputOf(err); ok {
		return strings.SplitN(err.Error(), "\n", 2)[0]
	}
	return err.Error()
}
