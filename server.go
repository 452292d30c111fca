package processproxy

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/niik/process-proxy/internal/wire"
)

// defaultHandshakeDeadline bounds how long a just-accepted socket has to
// present its 146-byte handshake before the acceptor gives up on it
// (§4.7, §6).
const defaultHandshakeDeadline = 1000 * time.Millisecond

// TokenValidator decides whether a presented token may proceed past the
// handshake. Returning a non-nil error rejects the connection silently —
// the consumer callback is never invoked for a connection that fails
// validation (§6).
type TokenValidator func(token string) error

// Consumer receives each Connection once its handshake has been read and
// validated.
type Consumer func(*Connection)

// Server is a loopback-only TCP acceptor for the process-proxy protocol
// (§1's scope: same-host only, never a remote listener). Each accepted
// socket is handled on its own goroutine: the handshake is read under a
// deadline, validated, and only then handed to the Consumer as a
// Connection.
type Server struct {
	ln                net.Listener
	consumer          Consumer
	validate          TokenValidator
	handshakeDeadline time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewServer binds a loopback TCP listener on addr (e.g. "127.0.0.1:0" to
// let the OS pick a port) and returns a Server ready to Serve. An addr
// whose host is not a loopback IP or "localhost" is rejected. validate
// may be nil to accept every handshake unconditionally; deadline <= 0
// uses defaultHandshakeDeadline.
func NewServer(addr string, consumer Consumer, validate TokenValidator, deadline time.Duration) (*Server, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return nil, fmt.Errorf("process-proxy: %q is not a loopback address", addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline <= 0 {
		deadline = defaultHandshakeDeadline
	}
	return &Server{
		ln:                ln,
		consumer:          consumer,
		validate:          validate,
		handshakeDeadline: deadline,
	}, nil
}

// Addr returns the listener's bound address, useful for reading back the
// OS-assigned port after binding to "127.0.0.1:0".
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve blocks, accepting connections until the listener is closed. It
// always returns a non-nil error.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections and waits for in-flight
// handshakes to finish.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.ln.Close() })
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	if err := conn.SetDeadline(time.Now().Add(s.handshakeDeadline)); err != nil {
		conn.Close()
		return
	}

	token, err := wire.ReadHandshake(conn)
	if err != nil {
		conn.Close()
		return
	}

	if s.validate != nil {
		if err := s.validate(token); err != nil {
			conn.Close()
			return
		}
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return
	}

	s.consumer(newConnection(conn, token))
}
