package processproxy

import (
	"net"
	"sync"

	"github.com/niik/process-proxy/internal/wire"
)

// Output is the controller-side facade over WRITE_OUT/WRITE_ERR: every
// Write is its own command, round-tripped before it returns (§4.2's
// one-write-one-command-one-completion rule). It satisfies
// io.WriteCloser.
type Output struct {
	conn    *Connection
	writeOp wire.Op
	closeOp wire.Op

	mu        sync.Mutex
	destroyed bool
}

func newOutput(c *Connection, writeOp, closeOp wire.Op) *Output {
	return &Output{conn: c, writeOp: writeOp, closeOp: closeOp}
}

// Write sends p as a single WRITE_OUT/WRITE_ERR command and blocks until
// the native endpoint has written it and replied. A zero-length p is a
// valid, well-defined write (§8 scenario coverage).
func (o *Output) Write(p []byte) (int, error) {
	err := o.conn.queue.submit(o.writeOp, func(conn net.Conn) error {
		return wire.WriteBytes(conn, p)
	}, nil)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close issues CLOSE_OUT/CLOSE_ERR. Calling it again is a local no-op;
// the native endpoint's own double-close rejection is only ever observed
// on the first Close of a stream that some other path already closed out
// from under it.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return nil
	}
	o.destroyed = true
	o.mu.Unlock()

	return o.conn.queue.submit(o.closeOp, nil, nil)
}

func (o *Output) destroy() {
	_ = o.Close()
}
