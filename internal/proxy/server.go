// Package proxy terminates client connections, opens a companion connection
// to the protected MySQL server for each, and runs the per-session guard
// and blocker halves.
package proxy

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/sqlwarden/sqlwarden/internal/login"
	"github.com/sqlwarden/sqlwarden/internal/metrics"
	"github.com/sqlwarden/sqlwarden/internal/mysqlproto"
)

// HealthGate reports whether the protected server is currently accepting
// sessions; the health checker satisfies it.
type HealthGate interface {
	IsHealthy() bool
}

// Endpoint names one side of the proxy: a TCP host/port or a Unix domain
// socket path. Exactly one form must be populated.
type Endpoint struct {
	Host   string
	Port   int
	Socket string
}

// Network returns the net package's network name for the endpoint.
func (e Endpoint) Network() string {
	if e.Socket != "" {
		return "unix"
	}
	return "tcp"
}

// Addr returns the dial/listen address for the endpoint.
func (e Endpoint) Addr() string {
	if e.Socket != "" {
		return e.Socket
	}
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

// Server accepts client sessions and proxies each to the upstream server.
type Server struct {
	listen   Endpoint
	connect  Endpoint
	analyzer *Analyzer
	logins   *login.Filter
	health   HealthGate
	metrics  *metrics.Collector

	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a proxy server. logins, health, and metrics may be nil.
func NewServer(listen, connect Endpoint, a *Analyzer, lf *login.Filter, hc HealthGate, m *metrics.Collector) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		listen:   listen,
		connect:  connect,
		analyzer: a,
		logins:   lf,
		health:   hc,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start begins listening and serving sessions.
func (s *Server) Start() error {
	if s.listen.Network() == "unix" {
		// A previous unclean shutdown leaves the socket file behind.
		os.Remove(s.listen.Socket)
	}
	ln, err := net.Listen(s.listen.Network(), s.listen.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listen.Addr(), err)
	}
	s.listener = ln
	log.Printf("[proxy] listening on %s, forwarding to %s", s.listen.Addr(), s.connect.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Printf("[proxy] accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(clientConn net.Conn) {
	defer clientConn.Close()

	s.mu.Lock()
	s.conns[clientConn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, clientConn)
		s.mu.Unlock()
	}()

	// Fail fast while the health checker reports the backend down, instead
	// of making every client wait out a dial timeout.
	if s.health != nil && !s.health.IsHealthy() {
		log.Printf("[proxy] refusing session, upstream %s is unhealthy", s.connect.Addr())
		mysqlproto.NewReplies().SendErrorWith(clientConn, 0, 1040, "cannot connect to database server")
		return
	}

	serverConn, err := net.Dial(s.connect.Network(), s.connect.Addr())
	if err != nil {
		log.Printf("[proxy] cannot reach upstream %s: %v", s.connect.Addr(), err)
		return
	}
	defer serverConn.Close()

	if s.metrics != nil {
		s.metrics.SessionStarted()
		defer s.metrics.SessionEnded()
	}

	sess := newSession(clientConn, serverConn, s.analyzer, s.logins, s.metrics)
	sess.run()
}

// Stop closes the listener, cuts every live session's client socket, and
// waits for the handlers to drain.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if s.listen.Network() == "unix" {
		os.Remove(s.listen.Socket)
	}
	log.Printf("[proxy] server stopped")
}
