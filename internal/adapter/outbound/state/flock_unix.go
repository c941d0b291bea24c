//go:build !windows

package state

import "golang.org/x/sys/unix"

// flockLock acquires an exclusive lock on fd, blocking until it is free.
func flockLock(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_EX)
}

func flockUnlock(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_UN)
}
