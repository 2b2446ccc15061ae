// Package service provides the tether-service lifecycle: PID file, HTTP
// listener, signal handling and graceful shutdown of every daemon session.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tether/internal/config"
	"github.com/ternarybob/tether/internal/fileutil"
	"github.com/ternarybob/tether/internal/logger"
	"github.com/ternarybob/tether/pkg/session"
)

const shutdownTimeout = 30 * time.Second

// Service manages the service lifecycle.
type Service struct {
	cfg      *config.Config
	store    *session.Store
	logger   arbor.ILogger
	server   *http.Server
	listener net.Listener

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	errCh    chan error
}

// New creates a service that shuts store down on exit.
func New(cfg *config.Config, store *session.Store) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: logger.GetLogger(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		errCh:  make(chan error, 1),
	}
}

// Start writes the PID file and starts serving handler.
func (s *Service) Start(handler http.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("service already running")
	}

	if err := s.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address(), err)
	}

	if err := fileutil.WritePID(s.cfg.PIDPath()); err != nil {
		_ = ln.Close()
		return fmt.Errorf("write PID: %w", err)
	}

	// No WriteTimeout: exec and sync requests block for up to the daemon
	// read timeout per line.
	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.listener = ln
	s.running = true

	go func() {
		s.logger.Info().Str("address", ln.Addr().String()).Msg("Starting server")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Server error")
			s.errCh <- err
		}
	}()

	return nil
}

// Addr returns the bound listener address.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Wait blocks until a signal, Stop or a server failure, then shuts down.
func (s *Service) Wait() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		s.logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case <-s.stopCh:
		s.logger.Info().Msg("Stop requested, shutting down")
	case serveErr = <-s.errCh:
	}

	return errors.Join(serveErr, s.shutdown())
}

// Stop asks a pending Wait to shut down and blocks until it has.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Service) shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Server shutdown error")
		errs = append(errs, err)
	}

	if err := s.store.Shutdown(); err != nil {
		s.logger.Warn().Err(err).Msg("Session shutdown error")
		errs = append(errs, err)
	}

	_ = os.Remove(s.cfg.PIDPath())

	s.running = false
	close(s.doneCh)
	s.logger.Info().Msg("Service stopped")
	return errors.Join(errs...)
}

// IsRunning checks the PID file for a live service process. A stale PID
// file is removed.
func IsRunning(cfg *config.Config) (bool, int) {
	pidPath := cfg.PIDPath()

	pid, err := fileutil.ReadPID(pidPath)
	if err != nil {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidPath)
		return false, 0
	}

	return true, pid
}

// StopRunning sends SIGTERM to a running service and waits for it to exit,
// killing it after three seconds.
func StopRunning(cfg *config.Config) error {
	running, pid := IsRunning(cfg)
	if !running {
		return fmt.Errorf("service not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if running, _ := IsRunning(cfg); !running {
			return nil
		}
	}

	if err := process.Kill(); err != nil {
		return fmt.Errorf("kill process: %w", err)
	}
	_ = os.Remove(cfg.PIDPath())

	return nil
}
