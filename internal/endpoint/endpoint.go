// Package endpoint implements the native side of process-proxy: the
// "proxy" process that dials back to a controller over loopback TCP,
// performs the handshake, and then serves command requests against its
// own stdin, stdout, stderr, cwd, env, and exit status until the
// connection ends.
//
// The command loop is single-threaded and fully blocking except for
// READ_INPUT and IS_INPUT_CONNECTED, which use platform-specific
// non-blocking primitives (reader_unix.go, reader_windows.go) so a slow
// or absent stdin never stalls the loop.
package endpoint

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"github.com/niik/process-proxy/internal/wire"
)

// PortVar and TokenVar name the environment variables the native
// endpoint reads at boot, per spec §6.
const (
	PortVar  = "PROCESS_PROXY_PORT"
	TokenVar = "PROCESS_PROXY_TOKEN"
)

// Exit codes for boot failures, distinct from any code EXIT supplies.
const (
	ExitBadPort        = 10
	ExitDialFailed     = 11
	ExitShortHandshake = 12
)

// BootError carries a diagnostic message and the process exit code main()
// should use when the endpoint fails before entering the command loop.
type BootError struct {
	Code    int
	Message string
}

func (e *BootError) Error() string { return e.Message }

// Endpoint is one running native-side session: a single socket, the
// process-global state it answers queries against, and the mutable
// handler state (exit code latch, close flags) those queries update.
type Endpoint struct {
	conn net.Conn
	args []string

	stdin  nonBlockingReader
	stdout io.WriteCloser
	stderr io.WriteCloser

	exitCode   int
	exitForced bool
}

// Dial reads PortVar/TokenVar from the environment, connects to the
// controller on loopback, and sends the handshake. It returns a
// *BootError (never a bare error) on any failure, so main() can exit
// with the documented diagnostic code.
func Dial() (*Endpoint, error) {
	port, err := readPort()
	if err != nil {
		return nil, &BootError{Code: ExitBadPort, Message: err.Error()}
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, &BootError{Code: ExitDialFailed, Message: fmt.Sprintf("dial %s: %v", addr, err)}
	}

	token := os.Getenv(TokenVar)
	handshake := wire.EncodeHandshake(token)
	n, err := conn.Write(handshake)
	if err != nil || n != len(handshake) {
		conn.Close()
		msg := fmt.Sprintf("short handshake write: wrote %d of %d bytes", n, len(handshake))
		if err != nil {
			msg = fmt.Sprintf("handshake write: %v", err)
		}
		return nil, &BootError{Code: ExitShortHandshake, Message: msg}
	}

	return &Endpoint{
		conn:   conn,
		args:   append([]string(nil), os.Args...),
		stdin:  newStdinReader(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}, nil
}

// Run blocks, serving command requests until the connection ends or a
// fatal protocol error occurs. It returns the process exit code: zero on
// clean loop exit, or whatever EXIT last requested.
func (e *Endpoint) Run() int {
	defer e.conn.Close()

	for {
		op, err := wire.ReadOp(e.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("process-proxy: read opcode: %v", err)
			}
			break
		}

		if !wire.IsValid(op) {
			log.Printf("process-proxy: unknown opcode 0x%02x, closing", byte(op))
			break
		}

		if fatal := e.dispatch(op); fatal {
			break
		}

		if e.exitForced {
			break
		}
	}

	return e.exitCode
}

// dispatch reads the request payload for op, performs its side effect,
// and writes the response envelope in full. It returns true if the
// connection must be torn down (a socket I/O failure).
func (e *Endpoint) dispatch(op wire.Op) (fatal bool) {
	switch op {
	case wire.OpGetArgs:
		return e.handleGetArgs()
	case wire.OpReadInput:
		return e.handleReadInput()
	case wire.OpWriteOut:
		return e.handleWrite(e.stdout)
	case wire.OpWriteErr:
		return e.handleWrite(e.stderr)
	case wire.OpGetCwd:
		return e.handleGetCwd()
	case wire.OpGetEnv:
		return e.handleGetEnv()
	case wire.OpExit:
		return e.handleExit()
	case wire.OpCloseInput:
		return e.handleClose(e.stdin, "input")
	case wire.OpCloseOut:
		return e.handleClose(e.stdout, "output")
	case wire.OpCloseErr:
		return e.handleClose(e.stderr, "error")
	case wire.OpIsInputConnected:
		return e.handleIsInputConnected()
	default:
		return true
	}
}

func (e *Endpoint) handleGetArgs() bool {
	if err := wire.WriteStatus(e.conn, wire.StatusOK); err != nil {
		return true
	}
	return wire.WriteStringSlice(e.conn, e.args) != nil
}

func (e *Endpoint) handleGetCwd() bool {
	dir, err := getwd()
	if err != nil {
		return e.writeError(err)
	}
	if err := wire.WriteStatus(e.conn, wire.StatusOK); err != nil {
		return true
	}
	return wire.WriteString(e.conn, dir) != nil
}

func (e *Endpoint) handleGetEnv() bool {
	env := os.Environ()
	if err := wire.WriteStatus(e.conn, wire.StatusOK); err != nil {
		return true
	}
	return wire.WriteStringSlice(e.conn, env) != nil
}

func (e *Endpoint) handleWrite(dst io.Writer) bool {
	payload, err := wire.ReadBytes(e.conn)
	if err != nil {
		return true
	}
	if len(payload) > 0 {
		if _, err := dst.Write(payload); err != nil {
			return e.writeError(err)
		}
	}
	return wire.WriteStatus(e.conn, wire.StatusOK) != nil
}

func (e *Endpoint) handleExit() bool {
	code, err := wire.ReadI32(e.conn)
	if err != nil {
		return true
	}
	// The status must reach the controller before the endpoint terminates
	// (§4.2 EXIT ordering): write the response first, then latch.
	if err := wire.WriteStatus(e.conn, wire.StatusOK); err != nil {
		return true
	}
	e.exitCode = int(code)
	e.exitForced = true
	return false
}

func (e *Endpoint) handleClose(c io.Closer, name string) bool {
	err := c.Close()
	if err != nil {
		return e.writeError(fmt.Errorf("close %s: %w", name, err))
	}
	return wire.WriteStatus(e.conn, wire.StatusOK) != nil
}

func (e *Endpoint) handleReadInput() bool {
	maxBytes, err := wire.ReadU32(e.conn)
	if err != nil {
		return true
	}

	data, closed, err := e.stdin.TryRead(int(maxBytes))
	if err != nil {
		// Any I/O error other than "would block" is treated as the
		// terminal end-of-input signal, per §4.3.
		closed = true
	}

	if err := wire.WriteStatus(e.conn, wire.StatusOK); err != nil {
		return true
	}

	var n int32
	switch {
	case closed:
		n = -1
	case len(data) > 0:
		n = int32(len(data))
	default:
		n = 0
	}
	if err := wire.WriteI32(e.conn, n); err != nil {
		return true
	}
	if n > 0 {
		if _, err := e.conn.Write(data); err != nil {
			return true
		}
	}
	return false
}

func (e *Endpoint) handleIsInputConnected() bool {
	connected := e.stdin.Connected()
	if err := wire.WriteStatus(e.conn, wire.StatusOK); err != nil {
		return true
	}
	var v int32
	if connected {
		v = 1
	}
	return wire.WriteI32(e.conn, v) != nil
}

// writeError writes a non-zero status followed by err's message. It
// returns true (fatal) only if writing the error response itself fails.
func (e *Endpoint) writeError(err error) bool {
	if werr := wire.WriteStatus(e.conn, wire.StatusError); werr != nil {
		return true
	}
	return wire.WriteString(e.conn, err.Error()) != nil
}
