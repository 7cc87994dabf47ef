package pipe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	transportErrors "dmsdk/internal/errors"
	"dmsdk/internal/infrastructure"
	"dmsdk/pkg/contracts/launcher"
)

// Handler answers launcher requests. The returned value is marshalled as
// the response result. Returning *errors.CodeError sets the response code;
// any other error is reported as an internal failure.
type Handler interface {
	ServeLauncher(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (any, error)

// ServeLauncher calls f.
func (f HandlerFunc) ServeLauncher(ctx context.Context, method string, params json.RawMessage) (any, error) {
	return f(ctx, method, params)
}

// Server accepts launcher connections and dispatches their frames.
type Server struct {
	handler Handler
	logger  *slog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	active *atomic.Int64
	served *atomic.Uint64
}

// NewServer creates a server for handler.
func NewServer(handler Handler, logger *slog.Logger) *Server {
	return &Server{
		handler: handler,
		logger:  infrastructure.ComponentLogger(logger, "pipe_server"),
		conns:   make(map[net.Conn]struct{}),
		active:  atomic.NewInt64(0),
		served:  atomic.NewUint64(0),
	}
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int64 { return s.active.Load() }

// Served returns the number of requests answered.
func (s *Server) Served() uint64 { return s.served.Load() }

// Serve accepts connections on ln until ctx is done. It closes ln and every
// open connection before returning. A cancelled ctx is a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	var conns sync.WaitGroup

	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		s.closeAll()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			s.track(conn, true)
			conns.Add(1)
			go func() {
				defer conns.Done()
				defer s.track(conn, false)
				s.serveConn(gctx, conn)
			}()
		}
	})

	err := g.Wait()
	conns.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		s.active.Inc()
		return
	}
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		s.active.Dec()
	}
	conn.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reader := bufio.NewReaderSize(conn, 64*1024)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				s.logger.Debug("Connection read failed", slog.String("error", err.Error()))
			}
			return
		}

		var req launcher.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			s.logger.Debug("Dropping malformed request frame", slog.String("error", err.Error()))
			return
		}

		resp := s.dispatch(ctx, req)
		if err := writeFrame(conn, resp); err != nil {
			s.logger.Debug("Connection write failed", slog.String("error", err.Error()))
			return
		}
		s.served.Inc()
	}
}

func (s *Server) dispatch(ctx context.Context, req launcher.Request) launcher.Response {
	resp := launcher.Response{ID: req.ID}

	result, err := s.handler.ServeLauncher(ctx, req.Method, req.Params)
	if err != nil {
		var codeErr *transportErrors.CodeError
		if errors.As(err, &codeErr) {
			resp.Code = codeErr.Raw
			if resp.Code == 0 {
				resp.Code = int(codeErr.Code)
			}
			resp.Message = codeErr.Message
		} else {
			resp.Code = int(transportErrors.CodeInternal)
			resp.Message = err.Error()
		}
		return resp
	}

	if result == nil {
		return resp
	}
	raw, err := json.Marshal(result)
	if err != nil {
		resp.Code = int(transportErrors.CodeInternal)
		resp.Message = "failed to encode result"
		return resp
	}
	resp.Result = raw
	return resp
}
