//go:build windows

package flock

import (
	"os"

	"golang.org/x/sys/windows"
)

// Windows has no whole-file advisory lock, so we lock a one-byte range at
// offset zero. A zero-length region would be meaningless, and one byte is
// enough because every locker targets the same range.

func lockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.LockFileEx(windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol)
}

func unlockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
}
