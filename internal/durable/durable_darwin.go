//go:build darwin

package durable

import "golang.org/x/sys/unix"

// fsync uses F_FULLFSYNC on Darwin, where plain fsync only flushes to the
// drive's write cache rather than the physical medium.
func fsync(fd int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_FULLFSYNC, 0)
	if err != nil {
		// F_FULLFSYNC is unsupported on some filesystems (e.g. certain
		// network mounts); fall back to a plain fsync rather than fail
		// the unlock outright.
		return unix.Fsync(fd)
	}
	return nil
}

func msync(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	// Darwin's msync requires the address to match the mmap base; callers
	// always pass the full mapped slice, so this is safe.
	return unix.Msync(data, unix.MS_SYNC)
}
