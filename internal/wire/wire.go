// Package wire provides little-endian binary encoding helpers shared by
// the on-disk layouts (list, mhash, rhash headers and entries).
//
// Benchmarking showed encoding/binary.LittleEndian is already well
// optimized by the compiler; a hand-rolled or unsafe-pointer version gains
// nothing in exchange for real risk, so this package is a thin wrapper.
package wire

import "encoding/binary"

// PutU32 writes a uint32 at off in little-endian order.
func PutU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// PutU64 writes a uint64 at off in little-endian order.
func PutU64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

// ReadU32 reads a uint32 at off in little-endian order.
func ReadU32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// ReadU64 reads a uint64 at off in little-endian order.
func ReadU64(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off : off+8])
}

// Align8 rounds n up to the next 8-byte boundary.
func Align8(n int) int {
	return (n + 7) &^ 7
}
