// Package processproxy is the controller-side client library for the
// process-proxy protocol: a loopback TCP acceptor, a handshake-validating
// Connection type, and the Input/Output stream facades built on top of
// it (spec §§1, 4, 6).
package processproxy

import (
	"net"
	"strings"

	"github.com/niik/process-proxy/internal/wire"
)

// Connection is one accepted, handshake-verified native endpoint. All of
// its operations funnel through a single serialized command queue — the
// protocol permits at most one command in flight per connection (§4.4,
// §5).
type Connection struct {
	conn  net.Conn
	token string
	queue *commandQueue

	input  *Input
	stdout *Output
	stderr *Output
}

// newConnection wraps an already-handshaken conn. Unexported: callers
// obtain a Connection from a Server's accept callback.
func newConnection(conn net.Conn, token string) *Connection {
	c := &Connection{
		conn:  conn,
		token: token,
		queue: newCommandQueue(conn),
	}
	c.input = newInput(c)
	c.stdout = newOutput(c, wire.OpWriteOut, wire.OpCloseOut)
	c.stderr = newOutput(c, wire.OpWriteErr, wire.OpCloseErr)
	return c
}

// Token returns the token the native endpoint presented during the
// handshake (§3).
func (c *Connection) Token() string { return c.token }

// Closed reports whether the connection's socket has closed, or EXIT has
// already been successfully dispatched (§3's unified closed semantics).
func (c *Connection) Closed() bool { return c.queue.isClosed() }

// Input returns the stream facade for READ_INPUT.
func (c *Connection) Input() *Input { return c.input }

// Stdout returns the stream facade for WRITE_OUT.
func (c *Connection) Stdout() *Output { return c.stdout }

// Stderr returns the stream facade for WRITE_ERR.
func (c *Connection) Stderr() *Output { return c.stderr }

// OnClose registers a callback fired at most once, when a command's socket
// I/O fails and the connection is marked closed. A successful Exit marks
// the connection closed without firing it, and a socket that closes while
// no command is in flight is not noticed until the next command.
func (c *Connection) OnClose(fn func()) {
	c.queue.onClose = fn
}

// OnError registers a callback fired whenever a transport-level I/O
// failure closes the connection out from under an in-flight command.
func (c *Connection) OnError(fn func(error)) {
	c.queue.onError = fn
}

// GetArgs returns the native endpoint's command-line arguments, program
// name first (§4.2).
func (c *Connection) GetArgs() ([]string, error) {
	var args []string
	err := c.queue.submit(wire.OpGetArgs, nil, func(conn net.Conn) error {
		a, err := wire.ReadStringSlice(conn)
		if err != nil {
			return err
		}
		args = a
		return nil
	})
	return args, err
}

// GetEnv returns the native endpoint's environment as a key/value map.
// Entries without an "=" are dropped here at the controller boundary;
// the wire payload itself carries every entry verbatim (§4.2).
func (c *Connection) GetEnv() (map[string]string, error) {
	var raw []string
	err := c.queue.submit(wire.OpGetEnv, nil, func(conn net.Conn) error {
		r, err := wire.ReadStringSlice(conn)
		if err != nil {
			return err
		}
		raw = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(raw))
	for _, entry := range raw {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return env, nil
}

// GetCwd returns the native endpoint's current working directory (§4.2).
func (c *Connection) GetCwd() (string, error) {
	var dir string
	err := c.queue.submit(wire.OpGetCwd, nil, func(conn net.Conn) error {
		d, err := wire.ReadString(conn)
		if err != nil {
			return err
		}
		dir = d
		return nil
	})
	return dir, err
}

// IsInputConnected reports whether the native endpoint's stdin still has
// a live source (§4.3).
func (c *Connection) IsInputConnected() (bool, error) {
	var connected bool
	err := c.queue.submit(wire.OpIsInputConnected, nil, func(conn net.Conn) error {
		v, err := wire.ReadI32(conn)
		if err != nil {
			return err
		}
		connected = v != 0
		return nil
	})
	return connected, err
}

// Exit requests the native endpoint terminate with the given exit code.
// All three stream facades are destroyed first so no further command of
// theirs races the EXIT dispatch (§4.4, §9).
func (c *Connection) Exit(code int32) error {
	c.input.destroy()
	c.stdout.destroy()
	c.stderr.destroy()

	return c.queue.submit(wire.OpExit, func(conn net.Conn) error {
		return wire.WriteI32(conn, code)
	}, nil)
}
