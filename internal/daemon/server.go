package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// Handler answers the folder-level requests. Implementations must be safe
// for concurrent use; each connection is served on its own goroutine.
type Handler interface {
	Ask(ctx context.Context, params AskParams) (AskResult, error)
	Refresh(ctx context.Context, params RefreshParams) (RefreshResult, error)
	Folders() []FolderStatus
}

// Server listens on a Unix socket and dispatches requests to a Handler.
type Server struct {
	socketPath string
	timeout    time.Duration
	grace      time.Duration
	handler    Handler
	started    time.Time

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for cfg. handler may be nil, in which case
// only ping and status are served.
func NewServer(cfg Config, handler Handler) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
		grace:      cfg.ShutdownGracePeriod,
		handler:    handler,
	}, nil
}

// ListenAndServe serves until ctx is cancelled, then gives in-flight
// requests the grace period before cancelling them.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A socket left by a crashed daemon blocks Listen.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("daemon_listening", slog.String("socket", s.socketPath))

	reqCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed() {
				break
			}
			slog.Error("daemon_accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(reqCtx, conn)
		}()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.grace):
		slog.Warn("daemon_shutdown_cancelling_requests", slog.Duration("grace", s.grace))
		cancelRequests()
		<-done
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (s *Server) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// handleConnection serves the single request of one connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		slog.Warn("daemon_deadline_failed", slog.String("error", err.Error()))
	}

	encoder := json.NewEncoder(conn)

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp := s.handleRequest(ctx, req)
	slog.Debug("daemon_request",
		slog.String("method", req.Method),
		slog.String("id", req.ID),
		slog.Bool("ok", resp.Error == nil),
		slog.Duration("took", time.Since(start)))

	if err := encoder.Encode(resp); err != nil {
		slog.Warn("daemon_response_failed", slog.String("error", err.Error()))
	}
}

// handleRequest dispatches a request by method.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.status())

	case MethodAsk:
		var params AskParams
		if resp, ok := s.prepare(req, &params, params.Validate); !ok {
			return resp
		}
		res, err := s.handler.Ask(ctx, params)
		if err != nil {
			return NewErrorResponse(req.ID, ErrCodeAskFailed, err.Error())
		}
		return NewSuccessResponse(req.ID, res)

	case MethodRefresh:
		var params RefreshParams
		if resp, ok := s.prepare(req, &params, params.Validate); !ok {
			return resp
		}
		res, err := s.handler.Refresh(ctx, params)
		if err != nil {
			return NewErrorResponse(req.ID, ErrCodeRefreshFailed, err.Error())
		}
		return NewSuccessResponse(req.ID, res)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// prepare checks for a handler and decodes and validates params. ok is
// false when resp holds the error to send.
func (s *Server) prepare(req Request, params any, validate func() error) (resp Response, ok bool) {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured"), false
	}
	if err := decodeResult(req.Params, params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params"), false
	}
	if err := validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error()), false
	}
	return Response{}, true
}

func (s *Server) status() StatusResult {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	status := StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(started).Round(time.Second).String(),
	}
	if s.handler != nil {
		status.Folders = s.handler.Folders()
		status.FoldersLoaded = len(status.Folders)
	}
	return status
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener == nil {
		return nil
	}
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// decodeResult converts a decoded JSON value (a map) into out.
func decodeResult(in, out any) error {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
