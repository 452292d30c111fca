package processproxy

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/niik/process-proxy/internal/wire"
)

// defaultInputPollInterval is how long the poll loop waits between two
// READ_INPUT commands, and defaultReadChunk is the maximum byte count
// each READ_INPUT requests.
const (
	defaultInputPollInterval = 100 * time.Millisecond
	defaultReadChunk         = 8192
)

// Input is the controller-side facade over READ_INPUT: a lazy, finite,
// pollable source. Nothing is read from the native endpoint's stdin
// until Start is called, and the stream ends permanently the first time
// a poll reports the source closed (§4.3).
type Input struct {
	conn *Connection

	mu           sync.Mutex
	onData       func([]byte)
	onEnd        func()
	pollInterval time.Duration
	readChunk    uint32
	paused       bool
	started      bool
	stopped      bool
	done         chan struct{}
}

func newInput(c *Connection) *Input {
	return &Input{
		conn:         c,
		pollInterval: defaultInputPollInterval,
		readChunk:    defaultReadChunk,
	}
}

// OnData registers the callback invoked with each non-empty chunk read
// from the native endpoint's stdin.
func (in *Input) OnData(fn func([]byte)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onData = fn
}

// OnEnd registers the callback invoked exactly once when the source
// closes.
func (in *Input) OnEnd(fn func()) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onEnd = fn
}

// SetPollInterval overrides the default polling cadence. Must be called
// before Start.
func (in *Input) SetPollInterval(d time.Duration) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pollInterval = d
}

// Start begins polling in the background. Calling Start more than once,
// or after the stream has ended, has no effect.
func (in *Input) Start() {
	in.mu.Lock()
	if in.started || in.stopped {
		in.mu.Unlock()
		return
	}
	in.started = true
	in.done = make(chan struct{})
	done := in.done
	in.mu.Unlock()

	go in.loop(done)
}

// Pause suspends polling without tearing the stream down; Resume
// restarts it.
func (in *Input) Pause() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.paused = true
}

// Resume lifts a prior Pause, starting the poll loop if it has not been
// started yet.
func (in *Input) Resume() {
	in.mu.Lock()
	in.paused = false
	in.mu.Unlock()
	in.Start()
}

func (in *Input) loop(done chan struct{}) {
	ticker := time.NewTicker(in.currentInterval())
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		if in.isPaused() {
			continue
		}

		data, ended, err := in.poll()
		if err != nil {
			return
		}
		if len(data) > 0 {
			if cb := in.dataCallback(); cb != nil {
				cb(data)
			}
		}
		if ended {
			if cb := in.endCallback(); cb != nil {
				cb()
			}
			in.destroy()
			return
		}
	}
}

func (in *Input) poll() (data []byte, ended bool, err error) {
	chunk := in.currentReadChunk()
	err = in.conn.queue.submit(wire.OpReadInput, func(conn net.Conn) error {
		return wire.WriteU32(conn, chunk)
	}, func(conn net.Conn) error {
		n, err := wire.ReadI32(conn)
		if err != nil {
			return err
		}
		switch {
		case n < 0:
			ended = true
		case n > 0:
			buf := make([]byte, n)
			if _, err := io.ReadFull(conn, buf); err != nil {
				return err
			}
			data = buf
		}
		return nil
	})
	return data, ended, err
}

// Close stops polling and enqueues CLOSE_INPUT, terminating the sequence
// even if the endpoint had more buffered data (§4.5). Closing an
// already-closed facade is a no-op (§8); the underlying wire-level
// double-close rejection is a property of the queue, not of this
// facade, which only ever sends CLOSE_INPUT once.
func (in *Input) Close() error {
	if !in.beginClose() {
		return nil
	}
	return in.conn.queue.submit(wire.OpCloseInput, nil, nil)
}

// destroy is the teardown Exit uses ahead of sending EXIT: same
// semantics as Close, errors discarded.
func (in *Input) destroy() {
	_ = in.Close()
}

// beginClose stops polling and reports whether this call is the first
// to close the facade.
func (in *Input) beginClose() bool {
	in.mu.Lock()
	already := in.stopped
	in.stopped = true
	done := in.done
	in.mu.Unlock()

	if already {
		return false
	}
	if done != nil {
		close(done)
	}
	return true
}

func (in *Input) isPaused() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.paused
}

func (in *Input) currentInterval() time.Duration {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pollInterval
}

func (in *Input) currentReadChunk() uint32 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.readChunk
}

func (in *Input) dataCallback() func([]byte) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.onData
}

func (in *Input) endCallback() func() {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.onEnd
}
