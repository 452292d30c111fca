//go:build windows

package endpoint

import (
	"os"

	"golang.org/x/sys/windows"
)

// windowsMaxPath mirrors the platform's default MAX_PATH; paths longer
// than this are shortened before going out on the wire, per §4.2.
const windowsMaxPath = 260

// getwd obtains the current directory in the native wide-character
// encoding, shortens it if it exceeds windowsMaxPath, then converts to
// UTF-8 for the wire.
func getwd() (string, error) {
	n, err := windows.GetCurrentDirectory(0, nil)
	if err != nil || n == 0 {
		return os.Getwd()
	}
	buf := make([]uint16, n)
	if _, err := windows.GetCurrentDirectory(uint32(len(buf)), &buf[0]); err != nil {
		return os.Getwd()
	}
	path := windows.UTF16ToString(buf)

	if len(path) > windowsMaxPath {
		if short, err := shortenPath(path); err == nil {
			path = short
		}
	}
	return path, nil
}

// shortenPath converts a long-form Windows path to its 8.3 short form.
func shortenPath(long string) (string, error) {
	longPtr, err := windows.UTF16PtrFromString(long)
	if err != nil {
		return "", err
	}
	n, err := windows.GetShortPathName(longPtr, nil, 0)
	if err != nil || n == 0 {
		return "", err
	}
	buf := make([]uint16, n)
	if _, err := windows.GetShortPathName(longPtr, &buf[0], uint32(len(buf))); err != nil {
		return "", err
	}
	return windows.UTF16ToString(buf), nil
}
