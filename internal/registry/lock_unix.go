//go:build unix

package registry

import (
	"os"
	"syscall"
)

// flockExclusive blocks until it holds an exclusive whole-file lock.
func flockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

// flockShared blocks until it holds a shared whole-file lock, used by
// read-only snapshot callers so they never race a concurrent writer.
func flockShared(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_SH)
}

func flockUnlock(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
