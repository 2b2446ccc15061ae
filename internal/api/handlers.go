package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ternarybob/tether/internal/config"
	"github.com/ternarybob/tether/internal/logger"
	"github.com/ternarybob/tether/pkg/daemon"
	"github.com/ternarybob/tether/pkg/script"
	"github.com/ternarybob/tether/pkg/session"
)

// version is set via -ldflags at build time
var version = "dev"

// maxScriptBytes bounds script document bodies.
const maxScriptBytes = 1 << 20

// SetVersion sets the version string (called from main).
func SetVersion(v string) {
	version = v
}

// Response types

// HealthResponse is the response for /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// VersionResponse is the response for /version.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OpenSessionRequest is the request body for opening a session. An empty
// command opens a session predefined in the service configuration.
type OpenSessionRequest struct {
	Identity      string   `json:"identity"`
	Command       string   `json:"command,omitempty"`
	User          string   `json:"user,omitempty"`
	Filters       []string `json:"filters,omitempty"`
	ErrorPatterns []string `json:"error_patterns,omitempty"`
	ReadTimeout   int      `json:"read_timeout,omitempty"`
	Wrap          bool     `json:"wrap,omitempty"`
}

// SendRequest is the request body for send.
type SendRequest struct {
	Text string `json:"text"`
}

// SyncRequest is the request body for sync. Timeout is in seconds; nil
// selects the daemon default and 0 waits forever.
type SyncRequest struct {
	Timeout *float64 `json:"timeout,omitempty"`
}

// ExecRequest is the request body for exec.
type ExecRequest struct {
	Text    string   `json:"text"`
	Timeout *float64 `json:"timeout,omitempty"`
}

// ExchangeResponse carries redacted daemon output. Error is set on failure
// and Output then holds the partial output.
type ExchangeResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// ScriptResponse carries per-phase script results.
type ScriptResponse struct {
	Results  map[string][]string `json:"results"`
	Combined string              `json:"combined"`
	Error    string              `json:"error,omitempty"`
}

// TranscriptResponse lists a session's exchanges.
type TranscriptResponse struct {
	Identity  string             `json:"identity"`
	Exchanges []session.Exchange `json:"exchanges"`
}

// LogsResponse lists the retained log lines of a session.
type LogsResponse struct {
	Identity string   `json:"identity"`
	Lines    []string `json:"lines"`
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: len(s.store.List()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{
		Version: version,
		Service: "tether-service",
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Infos())
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Identity == "" {
		writeError(w, http.StatusBadRequest, "Identity is required")
		return
	}

	var err error
	if req.Command == "" {
		var sess *session.Session
		if sess, err = s.store.Get(req.Identity); err == nil {
			_, err = sess.Daemon(r.Context())
		}
	} else {
		cfg := session.FromSettings(config.SessionConfig{
			Identity:      req.Identity,
			Command:       req.Command,
			User:          req.User,
			Filters:       req.Filters,
			ErrorPatterns: req.ErrorPatterns,
			ReadTimeout:   req.ReadTimeout,
			Wrap:          req.Wrap,
		}, s.cfg.Daemon)
		_, err = s.store.Open(r.Context(), cfg)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	info, err := s.store.Describe(req.Identity)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	info, err := s.store.Describe(sess.ID())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var err error
	if r.URL.Query().Get("purge") == "true" {
		err = s.store.Delete(id)
	} else {
		err = s.store.Close(id)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := sess.Send(r.Context(), req.Text); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req SyncRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	out, err := sess.Sync(r.Context(), seconds(req.Timeout), nil)
	writeExchange(w, out, err)
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	out, err := sess.Exec(r.Context(), req.Text, seconds(req.Timeout), nil)
	writeExchange(w, out, err)
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxScriptBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	doc, err := script.ParseDocument(body, formatFor(r.Header.Get("Content-Type")))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := sess.Run(r.Context(), doc)
	resp := ScriptResponse{Results: res.Map(), Combined: res.Combined()}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, TranscriptResponse{
		Identity:  sess.ID(),
		Exchanges: sess.Transcript().History(),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	lines, err := logger.SessionLogs(sess.ID(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, LogsResponse{Identity: sess.ID(), Lines: lines})
}

// Helper functions

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return nil, false
	}
	return sess, true
}

// statusFor maps session and daemon errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownSession), errors.Is(err, daemon.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, daemon.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, daemon.ErrProtocolFailure), errors.Is(err, script.ErrExternalCommand):
		return http.StatusUnprocessableEntity
	case errors.Is(err, daemon.ErrClosed):
		return http.StatusGone
	case errors.Is(err, daemon.ErrSpawn):
		return http.StatusBadGateway
	case errors.Is(err, script.ErrUnknownVerb), errors.Is(err, script.ErrEmptyLine):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeExchange(w http.ResponseWriter, out string, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), ExchangeResponse{Output: out, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ExchangeResponse{Output: out})
}

// seconds converts an optional seconds value; nil selects the default.
func seconds(v *float64) time.Duration {
	if v == nil {
		return -1
	}
	return time.Duration(*v * float64(time.Second))
}

func formatFor(contentType string) script.Format {
	switch {
	case strings.Contains(contentType, "yaml"):
		return script.FormatYAML
	case strings.Contains(contentType, "toml"):
		return script.FormatTOML
	default:
		return script.FormatJSON
	}
}

// decodeOptional decodes a JSON body that may be empty.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
