// Package flock provides a blocking, exclusive, cross-process advisory file
// lock with a single interface over the POSIX and Windows mechanisms.
//
// Acquire blocks the calling goroutine until the OS grants the lock. There is
// no try-lock and no timeout; callers that need to bound the wait must wrap
// Acquire themselves. Release must be called on every path that reached a
// successful Acquire.
package flock

import (
	"fmt"
	"os"
	"sync"
)

// Mode selects how the locked file is opened.
type Mode int

const (
	// ModeRead opens the file read-only, creating it if absent.
	ModeRead Mode = iota
	// ModeReadWrite opens the file read-write, creating it if absent.
	ModeReadWrite
)

// Handle is a held exclusive lock. The underlying file stays open until
// Release.
type Handle struct {
	mu       sync.Mutex
	f        *os.File
	released bool
}

// Acquire opens path and blocks until an exclusive advisory lock on the
// underlying descriptor is obtained.
func Acquire(path string, mode Mode) (*Handle, error) {
	flags := os.O_RDONLY | os.O_CREATE
	if mode == ModeReadWrite {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("flock open %s: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock acquire %s: %w", path, err)
	}
	return &Handle{f: f}, nil
}

// File returns the locked file for reading and writing its bytes.
func (h *Handle) File() *os.File {
	return h.f
}

// Release unlocks and closes the descriptor. Calling it more than once is
// a no-op so deferred releases compose with early explicit ones.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	unlockErr := unlockFile(h.f)
	closeErr := h.f.Close()
	if unlockErr != nil {
		return fmt.Errorf("flock release: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("flock close: %w", closeErr)
	}
	return nil
}
