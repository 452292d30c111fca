//go:build windows

package endpoint

import (
	"errors"
	"os"
	"sync"

	"golang.org/x/sys/windows"
)

// stdinReader implements nonBlockingReader on Windows using
// PeekNamedPipe, per §9: Windows pipe and console handles have no
// non-blocking read mode, so the endpoint must peek the available byte
// count before issuing a read that is guaranteed not to block.
type stdinReader struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
	eof    bool
}

func newStdinReader() nonBlockingReader {
	return &stdinReader{f: os.Stdin}
}

// peek returns the number of bytes currently available to read without
// blocking, and whether the far end has gone away (ERROR_BROKEN_PIPE).
// A handle that doesn't support peeking (e.g. an interactive console) is
// treated as "nothing available yet" rather than an error, so the loop
// keeps polling instead of wedging on startup.
func (r *stdinReader) peek() (avail int, broken bool, err error) {
	handle := windows.Handle(r.f.Fd())
	var totalAvail uint32
	perr := windows.PeekNamedPipe(handle, nil, nil, &totalAvail, nil)
	if perr != nil {
		if errors.Is(perr, windows.ERROR_BROKEN_PIPE) {
			return 0, true, nil
		}
		return 0, false, nil
	}
	return int(totalAvail), false, nil
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

	avail, broken, perr := r.peek()
	if perr != nil {
		r.eof = true
		return nil, true, perr
	}
	if broken {
		r.eof = true
		return nil, true, nil
	}
	if avail == 0 {
		return nil, false, nil
	}

	n := avail
	if n > max {
		n = max
	}
	buf := make([]byte, n)
	read, rerr := r.f.Read(buf)
	if read > 0 {
		return buf[:read], false, nil
	}
	if rerr != nil {
		r.eof = true
		return nil, true, rerr
	}
	return nil, false, nil
}

func (r *stdinReader) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.eof {
		return false
	}
	_, broken, _ := r.peek()
	return !broken
}

func (r *stdinReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.f.Close()
}
