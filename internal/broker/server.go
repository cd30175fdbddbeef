// Package broker implements the extension host: a loopback TCP server
// speaking one JSON object per line, routing each request to the bound
// handler registry via one of three strategies (aggregate, broadcast,
// first-match).
//
// The server accepts exactly one connection, the host application. Requests
// are handled concurrently as their lines arrive; responses are correlated
// by id, not by order. The connection going away, either by a shutdown
// request or a transport failure, ends the process.
package broker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/outrider-term/outrider/internal/diag"
	"github.com/outrider-term/outrider/internal/handler"
	"github.com/outrider-term/outrider/internal/protocol"
)

// maxLineBytes bounds one request line. Seeds can carry whole transcripts,
// so the limit is generous.
const maxLineBytes = 8 << 20

// Options configures a Server.
type Options struct {
	// Port to listen on; 0 lets the kernel choose (tests).
	Port int
	// NotifyFilter is an optional expression gating notification fan-out.
	NotifyFilter string
}

// Server owns the control connection and the handler registry.
type Server struct {
	disp *dispatcher
	port int

	ln       net.Listener
	writeMu  sync.Mutex
	quitting atomic.Bool
}

func NewServer(reg *handler.Registry, opts Options) *Server {
	return &Server{
		disp: &dispatcher{reg: reg, filter: newNotifyFilter(opts.NotifyFilter)},
		port: opts.Port,
	}
}

// Listen binds the loopback socket. Splitting this from Run lets the caller
// report the bound address before the host connects.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run serves the single host connection until shutdown, disconnect, or
// context cancellation, then returns. The caller decides the process exit;
// a nil return is a clean end of service.
func (s *Server) Run(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	defer s.ln.Close()

	// Cancellation must also unblock the accept itself, not just an
	// established connection.
	stopAccept := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	conn, err := s.ln.Accept()
	stopAccept()
	if err != nil {
		if ctx.Err() != nil {
			diag.Logf("server", "context canceled")
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()
	// One host per process; refuse later dials fast instead of queueing
	// them.
	_ = s.ln.Close()
	diag.Logf("server", "host connected from %s", conn.RemoteAddr())

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		go s.handleLine(ctx, conn, line)
	}

	switch err := scanner.Err(); {
	case s.quitting.Load():
		diag.Logf("server", "shutdown requested")
		return nil
	case ctx.Err() != nil:
		diag.Logf("server", "context canceled")
		return nil
	case err != nil && !errors.Is(err, net.ErrClosed):
		return fmt.Errorf("read: %w", err)
	default:
		diag.Logf("server", "host disconnected")
		return nil
	}
}

// handleLine parses and answers one request. It runs in its own goroutine;
// only the response write is serialized.
func (s *Server) handleLine(ctx context.Context, conn net.Conn, line []byte) {
	req, err := protocol.DecodeRequest(line)
	if err != nil {
		resp := protocol.Errorf("%v", err)
		resp.ID = protocol.SalvageID(line)
		s.write(conn, resp)
		return
	}
	if req.LogPath != "" {
		diag.SetPath(req.LogPath)
	}

	var resp *protocol.Response
	switch req.Action {
	case protocol.ActionConfig:
		resp = s.disp.aggregate(ctx, req)
	case protocol.ActionNotify:
		resp = s.disp.broadcast(ctx, req)
	case protocol.ActionShutdown:
		resp = protocol.OK()
		resp.ID = req.ID
		s.write(conn, resp)
		s.quitting.Store(true)
		_ = conn.Close()
		return
	default:
		resp = s.disp.dispatch(ctx, req)
	}
	resp.ID = req.ID
	s.write(conn, resp)
}

// write sends one response line. Handler goroutines finish at their own
// pace, so writes from different requests interleave here under the mutex.
func (s *Server) write(conn net.Conn, resp *protocol.Response) {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		diag.Logf("server", "encode failed: %v", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := conn.Write(append(data, '\n')); err != nil {
		diag.Logf("server", "write failed: %v", err)
	}
}
