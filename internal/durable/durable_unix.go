//go:build linux || freebsd

package durable

import "golang.org/x/sys/unix"

// fsync uses fdatasync on Linux/FreeBSD, which is sufficient for data
// durability there.
func fsync(fd int) error {
	return unix.Fdatasync(fd)
}

func msync(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Msync(data, unix.MS_SYNC)
}
