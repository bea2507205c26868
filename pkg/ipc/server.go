package ipc

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log"
	"net"
	"os"
	"sync"

	"github.com/oklog/ulid/v2"
)

// HandlerFunc processes RPC params and returns a result or structured error.
type HandlerFunc func(context.Context, json.RawMessage) (any, *Error)

// StreamFunc opens a stream. Every value received from the returned channel is
// written as its own frame until the channel closes or the client goes away.
// The context is cancelled when the client disconnects.
type StreamFunc func(context.Context, json.RawMessage) (<-chan any, *Error)

// Logger is satisfied by logging.Logger; kept minimal to avoid dependency cycles.
type Logger interface {
	Printf(format string, v ...any)
}

// Observer is notified after every handled request.
type Observer func(method string, rpcErr *Error)

// Server listens for IPC requests over Unix sockets.
type Server struct {
	ln       net.Listener
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	streams  map[string]StreamFunc
	closed   bool
	logger   Logger
	observe  Observer
}

// NewServer constructs an IPC server.
func NewServer(logger Logger) *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		streams:  make(map[string]StreamFunc),
		logger:   logger,
	}
}

// Register installs a handler for a method.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// RegisterStream installs a streaming handler for a method.
func (s *Server) RegisterStream(method string, handler StreamFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[method] = handler
}

// Observe sets a callback run after each request.
func (s *Server) Observe(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observe = fn
}

// Start begins accepting connections on endpoint. A stale socket file is removed first.
func (s *Server) Start(ctx context.Context, endpoint string) error {
	if s == nil {
		return errors.New("nil server")
	}
	if _, err := os.Stat(endpoint); err == nil {
		if err := os.Remove(endpoint); err != nil {
			return err
		}
	}
	ln, err := net.Listen("unix", endpoint)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	go s.acceptLoop(ctx, ln)
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logf("accept error: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := readFrame(conn)
		if err != nil {
			return
		}
		traceID := newTraceID()
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			s.writeError(conn, "", traceID, CodeInvalidRequest, "invalid json", nil)
			continue
		}
		if stream := s.lookupStream(req.Type); stream != nil {
			s.serveStream(ctx, conn, req, traceID, stream)
			return
		}
		handler := s.lookupHandler(req.Type)
		if handler == nil {
			rpcErr := Errorf(CodeInvalidRequest, "unknown method", map[string]any{"method": req.Type})
			s.notify(req.Type, rpcErr)
			s.writeError(conn, req.ID, traceID, rpcErr.Code, rpcErr.Message, rpcErr.Details)
			continue
		}
		result, rpcErr := handler(ctx, req.Params)
		s.notify(req.Type, rpcErr)
		resp := Response{ID: req.ID, TraceID: traceID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			raw, err := json.Marshal(result)
			if err != nil {
				s.writeError(conn, req.ID, traceID, CodeInternal, err.Error(), nil)
				continue
			}
			resp.OK = true
			resp.Result = raw
		}
		if err := s.writeResponse(conn, resp); err != nil {
			return
		}
	}
}

// serveStream acknowledges the request, then forwards values until either side stops.
// The connection is dedicated to the stream afterwards.
func (s *Server) serveStream(ctx context.Context, conn net.Conn, req Request, traceID string, stream StreamFunc) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	values, rpcErr := stream(ctx, req.Params)
	s.notify(req.Type, rpcErr)
	if rpcErr != nil {
		s.writeError(conn, req.ID, traceID, rpcErr.Code, rpcErr.Message, rpcErr.Details)
		return
	}
	if err := s.writeResponse(conn, Response{ID: req.ID, OK: true, TraceID: traceID}); err != nil {
		return
	}
	go func() {
		for {
			if _, err := readFrame(conn); err != nil {
				cancel()
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-values:
			if !ok {
				return
			}
			raw, err := json.Marshal(v)
			if err != nil {
				s.logf("stream %s: marshal: %v", req.Type, err)
				continue
			}
			if err := writeFrame(conn, raw); err != nil {
				return
			}
		}
	}
}

func (s *Server) lookupHandler(method string) HandlerFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[method]
}

func (s *Server) lookupStream(method string) StreamFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[method]
}

func (s *Server) notify(method string, rpcErr *Error) {
	s.mu.RLock()
	fn := s.observe
	s.mu.RUnlock()
	if fn != nil {
		fn(method, rpcErr)
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return writeFrame(conn, payload)
}

func (s *Server) writeError(conn net.Conn, id, traceID, code, msg string, details map[string]any) {
	resp := Response{ID: id, TraceID: traceID}
	resp.Error = &Error{Code: code, Message: msg, Details: details}
	_ = s.writeResponse(conn, resp)
}

// Stop shuts down the listener.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Server) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}

// Errorf helps build protocol errors.
func Errorf(code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

func newTraceID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
