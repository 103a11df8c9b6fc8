// Package durable provides the platform-specific "push to stable storage"
// primitives the Lockable substrate needs at exclusive-unlock time
// (write-metadata → fsync → unlock), and an Msync wrapper for mmap'd
// regions sorted in place.
package durable

// Fsync durably flushes the file identified by fd. On platforms whose
// plain fsync does not guarantee the data reached the physical device
// (Darwin), it uses the platform full-sync primitive instead.
func Fsync(fd int) error {
	return fsync(fd)
}

// Msync flushes a memory-mapped region to its backing file.
func Msync(data []byte) error {
	return msync(data)
}
