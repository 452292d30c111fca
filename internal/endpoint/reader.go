package endpoint

import "io"

// nonBlockingReader abstracts the platform-specific strategy for reading
// process stdin without ever blocking the command loop (§4.3, §9).
//
// Two concrete strategies exist, chosen per platform at compile time via
// build tags: reader_unix.go temporarily toggles O_NONBLOCK on fd 0 for
// the duration of a read and restores it afterward; reader_windows.go
// peeks the available byte count first, since Windows pipe and console
// handles have no non-blocking read mode.
type nonBlockingReader interface {
	io.Closer

	// TryRead attempts to read up to max bytes without blocking. closed
	// is true once end-of-input has been observed; a returned error other
	// than "would block" is also treated as terminal by the caller.
	TryRead(max int) (data []byte, closed bool, err error)

	// Connected reports whether input is still open or has unread
	// buffered bytes waiting — i.e. whether a future TryRead could still
	// return data, regardless of whether the source has closed.
	Connected() bool
}
