package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"dmsdk/internal/config"
	"dmsdk/internal/infrastructure"
)

// Server runs the status router on a loopback listener.
type Server struct {
	cfg    config.StatusConfig
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server for handler.
func NewServer(cfg config.StatusConfig, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		logger: infrastructure.ComponentLogger(logger, "status_server"),
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", slog.String("addr", ln.Addr().String()))
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Status server shutdown incomplete", slog.String("error", err.Error()))
		s.srv.Close()
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("Status server stopped")
	return nil
}
