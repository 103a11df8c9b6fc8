package rhash

import "github.com/4store-go/storekit/internal/wire"

// rawEntry is the in-memory form of a packed 32-byte primary-table
// record: rid (8), aval (8), a 15-byte inline/offset payload, and a
// 1-byte disposition. The payload's declared 16th byte is the
// disposition itself, so the three fields share the 32-byte budget
// exactly.
type rawEntry struct {
	rid  uint64
	aval [8]byte
	val  [15]byte
	disp byte
}

func (e rawEntry) free() bool { return e.rid == 0 }

func readRaw(b []byte) rawEntry {
	var e rawEntry
	e.rid = wire.ReadU64(b, 0)
	copy(e.aval[:], b[8:16])
	copy(e.val[:], b[16:31])
	e.disp = b[31]
	return e
}

func writeRaw(b []byte, e rawEntry) {
	wire.PutU64(b, 0, e.rid)
	copy(b[8:16], e.aval[:])
	copy(b[16:31], e.val[:])
	b[31] = e.disp
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
