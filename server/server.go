// Package server accepts TCP connections, performs the RFC 6455
// opening handshake, and hands each upgraded connection to a Loop and
// Group. Carries the connection-tracking and graceful-shutdown shape of
// an HTTP server, generalized away from HTTP routing down to the single
// job of turning an accepted socket into a protocol.Connection.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"

	"github.com/kestrelws/core/group"
	"github.com/kestrelws/core/handshake"
	"github.com/kestrelws/core/internal/logging"
	"github.com/kestrelws/core/protocol"
	"github.com/kestrelws/core/reactor"
)

// Server accepts connections on one address and upgrades them into a
// single Group running on a single Loop.
type Server struct {
	addr  string
	group *group.Group
	loop  *reactor.Loop

	ln net.Listener

	mu     sync.Mutex
	closed bool
}

// New constructs a Server bound to addr, serving g on its own Loop.
func New(addr string, g *group.Group) (*Server, error) {
	loop, err := reactor.NewLoop()
	if err != nil {
		return nil, fmt.Errorf("server: new loop: %w", err)
	}
	return &Server{addr: addr, group: g, loop: loop}, nil
}

// Loop returns the Loop this server drives its Group's connections on,
// for WithLoop wiring before the first connection is accepted.
func (s *Server) Loop() *reactor.Loop { return s.loop }

// Serve listens on the server's address, runs its Loop in the calling
// goroutine's stead (in a background goroutine), and blocks accepting
// connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.ln = ln

	go s.loop.Run()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	logging.Info("server listening", "addr", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			logging.Error("accept failed", "addr", s.addr, "err", err)
			return err
		}
		go s.upgrade(conn)
	}
}

// Close stops accepting new connections and stops the Loop.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	logging.Info("server closing", "addr", s.addr)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.loop.Stop()
}

// upgrade performs the HTTP handshake synchronously on its own
// goroutine, then hands the raw descriptor off to the server's Loop.
func (s *Server) upgrade(conn net.Conn) {
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		conn.Close()
		return
	}

	hreq, err := handshake.ParseRequest(req)
	if err != nil {
		logging.Warn("handshake rejected", "remote", conn.RemoteAddr(), "err", err)
		conn.Close()
		return
	}

	enabled, serverNoCtx, clientNoCtx := handshake.NegotiateDeflate(
		hreq, s.group.CompressionNegotiated(), s.group.SlidingWindowEnabled())

	resp := &handshake.Response{
		Accept:          handshake.Accept(hreq.Key),
		Deflate:         enabled,
		ServerNoContext: serverNoCtx,
		ClientNoContext: clientNoCtx,
		ServerIdentity:  s.group.ServerIdentity(),
	}
	if len(hreq.Protocols) > 0 {
		resp.Protocol = hreq.Protocols[0]
	}

	if err := handshake.WriteResponse(conn, resp); err != nil {
		conn.Close()
		return
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return
	}
	fd, err := duplicateFd(tcpConn)
	if err != nil {
		conn.Close()
		return
	}
	_ = tcpConn.Close() // the duplicated fd keeps the connection alive

	s.loop.Submit(func() {
		h := &reactor.ConnHandler{}
		sock, err := s.loop.Register(fd, h)
		if err != nil {
			logging.Error("loop registration failed", "err", err)
			syscall.Close(fd)
			return
		}
		c := protocol.NewConnection(protocol.RoleServer, sock, s.group, enabled)
		h.Conn = c
		s.group.Link(c)
	})
}

// duplicateFd extracts a raw, independently-owned descriptor from conn
// that outlives conn.Close(), via SyscallConn, matching the technique
// required to hand a net.Conn's fd to a raw epoll loop.
func duplicateFd(conn *net.TCPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var dupFd int
	var dupErr error
	err = sc.Control(func(fd uintptr) {
		dupFd, dupErr = syscall.Dup(int(fd))
	})
	if err != nil {
		return 0, err
	}
	if dupErr != nil {
		return 0, dupErr
	}
	if err := syscall.SetNonblock(dupFd, true); err != nil {
		syscall.Close(dupFd)
		return 0, err
	}
	return dupFd, nil
}
