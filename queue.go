package processproxy

import (
	"errors"
	"net"
	"sync"

	"github.com/niik/process-proxy/internal/wire"
)

// errConnectionClosed and errConnectionAlreadyClosed are the two local
// rejection errors §7 distinguishes: the former for any operation whose
// socket closed before or during it, the latter returned specifically to
// callers of Exit once it (or a prior close) has already happened.
var (
	errConnectionClosed        = errors.New("process-proxy: connection closed")
	errConnectionAlreadyClosed = errors.New("process-proxy: connection already closed")
)

// transportErr wraps an underlying socket I/O failure so commandQueue can
// tell it apart from an ordinary non-zero-status protocol error, which
// must not tear down the connection (§7 propagation policy).
type transportErr struct{ err error }

func (e *transportErr) Error() string { return e.err.Error() }
func (e *transportErr) Unwrap() error { return e.err }

// commandQueue is the serial, single-in-flight pipeline every Connection
// operation passes through (§4.4, §5, §9). It is a private, mutex-guarded
// structure: at most one command is ever mid-flight, and queued callers
// block on the mutex. Calls made one after another from one goroutine go
// out in call order; sync.Mutex does not guarantee that goroutines
// waiting concurrently acquire it in the order they called submit.
type commandQueue struct {
	mu       sync.Mutex
	conn     net.Conn
	closed   bool
	exitSent bool
	onClose  func()
	onError  func(error)
}

func newCommandQueue(conn net.Conn) *commandQueue {
	return &commandQueue{
		conn: conn,
	}
}

// isStreamCloseOp reports whether op is one of the three stream-close
// commands, which resolve successfully as a local no-op once the
// connection is already closed instead of rejecting (§4.4 close
// behavior).
func isStreamCloseOp(op wire.Op) bool {
	switch op {
	case wire.OpCloseInput, wire.OpCloseOut, wire.OpCloseErr:
		return true
	default:
		return false
	}
}

// submit runs the queue discipline from §4.4 for a single operation:
// write the opcode and payload, read the status, reject on non-zero
// status, otherwise run read to decode the success payload. write and
// read may be nil when an operation has no payload in that direction.
func (q *commandQueue) submit(op wire.Op, write, read func(net.Conn) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.exitSent {
		return q.localRejection(op)
	}

	err := q.doIO(op, write, read)
	if err == nil {
		if op == wire.OpExit {
			q.exitSent = true
		}
		return nil
	}

	var te *transportErr
	if !errors.As(err, &te) {
		// A decoded protocol-level error (non-zero status): the
		// connection itself is still healthy.
		return err
	}

	justClosed := !q.closed
	q.closed = true
	if q.onError != nil {
		q.onError(te.err)
	}
	if justClosed && q.onClose != nil {
		q.onClose()
	}
	return errConnectionClosed
}

func (q *commandQueue) localRejection(op wire.Op) error {
	if isStreamCloseOp(op) {
		return nil
	}
	if op == wire.OpExit {
		return errConnectionAlreadyClosed
	}
	return errConnectionClosed
}

// doIO performs the actual wire exchange. Any error it returns that
// originates from socket I/O (as opposed to a decoded protocol error) is
// wrapped in *transportErr.
func (q *commandQueue) doIO(op wire.Op, write, read func(net.Conn) error) error {
	if err := wire.WriteOp(q.conn, op); err != nil {
		return &transportErr{err}
	}
	if write != nil {
		if err := write(q.conn); err != nil {
			return &transportErr{err}
		}
	}

	status, err := wire.ReadStatus(q.conn)
	if err != nil {
		return &transportErr{err}
	}
	if status != wire.StatusOK {
		msg, err := wire.ReadString(q.conn)
		if err != nil {
			return &transportErr{err}
		}
		if msg == "" {
			msg = "process-proxy: operation failed with no message"
		}
		return errors.New(msg)
	}

	if read != nil {
		if err := read(q.conn); err != nil {
			return &transportErr{err}
		}
	}
	return nil
}

// markClosed forces the queue into the closed state from the outside and
// fires the callbacks the way submit does. Nothing in this package calls
// it; a socket that closes while no command is in flight is noticed by
// the next submit.
func (q *commandQueue) markClosed(cause error) {
	q.mu.Lock()
	justClosed := !q.closed
	q.closed = true
	onClose := q.onClose
	onError := q.onError
	q.mu.Unlock()

	if cause != nil && onError != nil {
		onError(cause)
	}
	if justClosed && onClose != nil {
		onClose()
	}
}

func (q *commandQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed || q.exitSent
}
