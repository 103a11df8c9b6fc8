//go:build !linux && !freebsd && !darwin

package durable

import "os"

func fsync(fd int) error {
	return os.NewFile(uintptr(fd), "").Sync()
}

func msync(data []byte) error {
	return nil
}
