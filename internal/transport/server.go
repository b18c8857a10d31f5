// Package transport implements the framed TCP server: newline-delimited
// JSON over 127.0.0.1, one cooperative goroutine per connection, with
// per-connection FIFO response ordering and no cross-connection ordering
// guarantee.
//
// Framing is grounded on the teacher's internal/bridge stdio reader: a
// buffered reader accumulates partial reads and splits on message
// boundaries. Here the boundary is always "\n" (no Content-Length framing
// — that was an MCP stdio concern, not part of this wire protocol).
package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/browserd/browserd/internal/browrpc"
	"github.com/browserd/browserd/internal/state"
)

// Handler dispatches one parsed, authenticated request to a response.
// Implementations never panic across this boundary; Server recovers.
type Handler func(req browrpc.Request) browrpc.Response

// Server is a framed TCP server bound to 127.0.0.1:<port>.
type Server struct {
	instanceID string
	handler    Handler
	log        *zap.SugaredLogger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New creates a Server for the given instance that dispatches accepted,
// authenticated requests to handler.
func New(instanceID string, handler Handler, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{instanceID: instanceID, handler: handler, log: log}
}

// Start binds 127.0.0.1:port (port 0 picks an ephemeral port), writes the
// PID and port files for the instance, and begins accepting connections in
// the background. It does not block; call Stop to shut the server down.
func (s *Server) Start(port int) (actualPort int, err error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return 0, fmt.Errorf("listen on port %d: %w", port, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	actualPort = ln.Addr().(*net.TCPAddr).Port

	if err := s.writeRendezvousFiles(actualPort); err != nil {
		_ = ln.Close()
		return 0, err
	}

	s.wg.Add(1)
	go s.acceptLoop(ln)

	return actualPort, nil
}

func (s *Server) writeRendezvousFiles(port int) error {
	if _, err := state.EnsureInstanceDir(s.instanceID); err != nil {
		return err
	}
	pidPath, err := state.PIDFile(s.instanceID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	portPath, err := state.PortFile(s.instanceID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(portPath, []byte(strconv.Itoa(port)), 0o644); err != nil {
		return fmt.Errorf("write port file: %w", err)
	}
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Expected on deliberate Stop(); log anything else. Socket-level
			// errors never propagate to a client — there is no client here.
			if !isClosedListenerError(err) {
				s.log.Warnw("accept error", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn owns one connection: reads accumulate and split on "\n", each
// complete message is parsed, authenticated, dispatched, and answered
// before the next message on this connection is read — sequential
// per-connection FIFO, no cross-connection ordering.
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("panic handling connection", "panic", r)
		}
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.handleLine(line, writer)
			if err := writer.Flush(); err != nil {
				s.log.Debugw("write error, closing connection", "error", err)
				return
			}
		}
		if err != nil {
			return // EOF or socket error: connection is done.
		}
	}
}

func (s *Server) handleLine(line []byte, w *bufio.Writer) {
	var req browrpc.Request
	if err := json.Unmarshal(line, &req); err != nil {
		writeResponse(w, browrpc.Errorf(browrpc.ErrParse, err.Error()))
		return
	}

	if !state.ValidateToken(s.instanceID, req.Token) {
		writeResponse(w, browrpc.Errorf(browrpc.ErrAuth, browrpc.Unauthorized))
		return
	}

	writeResponse(w, s.safeDispatch(req))
}

func (s *Server) safeDispatch(req browrpc.Request) (resp browrpc.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("panic in handler", "cmd", req.Cmd, "panic", r)
			resp = browrpc.Errorf(browrpc.ErrHandlerDomain, fmt.Sprintf("internal error handling %q", req.Cmd))
		}
	}()
	return s.handler(req)
}

func writeResponse(w *bufio.Writer, resp browrpc.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(browrpc.Errorf(browrpc.ErrHandlerDomain, "failed to marshal response"))
	}
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

// Stop closes the listener, waits for in-flight connections to finish
// their current message, and deletes the PID/port files.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	s.wg.Wait()

	if pidPath, err := state.PIDFile(s.instanceID); err == nil {
		_ = os.Remove(pidPath)
	}
	if portPath, err := state.PortFile(s.instanceID); err == nil {
		_ = os.Remove(portPath)
	}
	return nil
}

func isClosedListenerError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
