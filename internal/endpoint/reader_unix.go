//go:build !windows

package endpoint

import (
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// stdinReader implements nonBlockingReader on unix-like systems by
// toggling O_NONBLOCK on fd 0 for the duration of each read and restoring
// it afterward, per §9's "toggle non-blocking mode" strategy.
type stdinReader struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
	eof    bool
}

func newStdinReader() nonBlockingReader {
	return &stdinReader{f: os.Stdin}
}

func (r *stdinReader) TryRead(max int) (data []byte, closed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.eof {
		return nil, true, nil
	}
	if max <= 0 {
		return nil, false, nil
	}

	fd := int(r.f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, false, err
	}
	defer unix.SetNonblock(fd, false)

	buf := make([]byte, max)
	n, rerr := r.f.Read(buf)
	if n > 0 {
		return buf[:n], false, nil
	}

	switch {
	case rerr == nil:
		return nil, false, nil
	case errors.Is(rerr, io.EOF):
		r.eof = true
		return nil, true, nil
	case errors.Is(rerr, unix.EAGAIN), errors.Is(rerr, unix.EWOULDBLOCK):
		return nil, false, nil
	default:
		r.eof = true
		return nil, true, rerr
	}
}

func (r *stdinReader) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if !r.eof {
		return true
	}

	// End-of-stream has been observed, so TryRead now reports closed;
	// still report connected while fd 0 shows unread bytes (FIONREAD),
	// and disconnected once none remain.
	fd := int(r.f.Fd())
	n, err := unix.IoctlGetInt(fd, unix.FIONREAD)
	return err == nil && n > 0
}

func (r *stdinReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.f.Close()
}
