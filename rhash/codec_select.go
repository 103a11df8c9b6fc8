package rhash

import (
	"fmt"

	"github.com/4store-go/storekit/internal/codec"
	"github.com/4store-go/storekit/internal/wire"
)

// maxInlineSuffix is the inline-suffix length above which a 'p'
// disposition overflows to 'P'.
const maxInlineSuffix = 22

// selectAndEncode walks the codec selection order: inline UTF-8, BCD
// numeric, BCD date, prefix-compressed URI (inline or external), then
// plain or zlib-compressed external UTF-8.
//
// Prefix compression and attr are mutually exclusive in the 32-byte
// entry: 'p'/'P' spend aval entirely on the prefix code and inline
// suffix bytes, so they're only attempted when attr == 0 (URIs, which
// this format treats as never carrying a language/datatype tag).
func (h *Hash) selectAndEncode(rid, attr uint64, lex string) (rawEntry, error) {
	if len(lex) <= 15 {
		return inlineEntry(rid, attr, 'i', []byte(lex)), nil
	}
	if packed, ok := codec.CompressBCD(lex); ok {
		return inlineEntry(rid, attr, 'N', packed), nil
	}
	if packed, ok := codec.CompressBCDate(lex); ok {
		return inlineEntry(rid, attr, 'D', packed), nil
	}
	if attr == 0 {
		if code, plen, ok := h.prefixes.longestMatch(lex); ok {
			return h.encodePrefixed(rid, code, lex[plen:])
		}
	}
	return h.encodeOverflow(rid, attr, lex)
}

func inlineEntry(rid, attr uint64, disp byte, payload []byte) rawEntry {
	var e rawEntry
	e.rid = rid
	wire.PutU64(e.aval[:], 0, attr)
	copy(e.val[:], payload)
	e.disp = disp
	return e
}

func (h *Hash) encodePrefixed(rid uint64, code byte, suffix string) (rawEntry, error) {
	var e rawEntry
	e.rid = rid
	if len(suffix) > maxInlineSuffix {
		off, err := h.writeLexPlain(suffix)
		if err != nil {
			return rawEntry{}, err
		}
		e.aval[0] = code
		wire.PutU64(e.val[:8], 0, uint64(off))
		e.disp = 'P'
		return e, nil
	}
	e.aval[0] = code
	n := copy(e.aval[1:8], suffix)
	copy(e.val[:], suffix[n:])
	e.disp = 'p'
	return e, nil
}

func (h *Hash) encodeOverflow(rid, attr uint64, lex string) (rawEntry, error) {
	if h.learner.observe(lex) {
		if err := h.growPrefixesFromLearner(); err != nil {
			return rawEntry{}, err
		}
	}

	var off int64
	var err error
	disp := byte('f')
	if len(lex) > 100 {
		var used bool
		used, off, err = h.tryWriteZlib(lex)
		if err != nil {
			return rawEntry{}, err
		}
		if used {
			disp = 'Z'
		}
	}
	if disp == 'f' {
		off, err = h.writeLexPlain(lex)
		if err != nil {
			return rawEntry{}, err
		}
	}

	var e rawEntry
	e.rid = rid
	wire.PutU64(e.aval[:], 0, attr)
	wire.PutU64(e.val[:8], 0, uint64(off))
	e.disp = disp
	return e, nil
}

func (h *Hash) growPrefixesFromLearner() error {
	for _, p := range h.learner.topCandidates(learnerTopN) {
		if h.prefixes.full() {
			break
		}
		if _, _, exists := h.prefixes.longestMatch(p); exists {
			continue
		}
		code := uint32(len(h.prefixes.byCodeMap))
		if err := h.prefixList.AddR(encodePrefixRecord(code, p)); err != nil {
			return err
		}
		h.prefixes.register(byte(code), p)
		h.prefixesLoaded++
	}
	h.learner.reset()
	return nil
}

// decode reconstructs the lexical and attribute from a raw entry
// according to its disposition.
func (h *Hash) decode(e rawEntry) (lex string, attr uint64, err error) {
	switch e.disp {
	case 'i':
		return trimNUL(e.val[:]), wire.ReadU64(e.aval[:], 0), nil
	case 'N':
		return codec.DecompressBCD(e.val[:]), wire.ReadU64(e.aval[:], 0), nil
	case 'D':
		return codec.DecompressBCDate(e.val[:]), wire.ReadU64(e.aval[:], 0), nil
	case 'p':
		prefix, ok := h.prefixes.byCode(e.aval[0])
		if !ok {
			return "", 0, fmt.Errorf("%w: unknown prefix code %d", ErrCorruptEntry, e.aval[0])
		}
		suffix := trimNUL(e.aval[1:8]) + trimNUL(e.val[:])
		return prefix + suffix, 0, nil
	case 'P':
		prefix, ok := h.prefixes.byCode(e.aval[0])
		if !ok {
			return "", 0, fmt.Errorf("%w: unknown prefix code %d", ErrCorruptEntry, e.aval[0])
		}
		off := int64(wire.ReadU64(e.val[:8], 0))
		suffix, err := h.readLexPlain(off)
		if err != nil {
			return "", 0, err
		}
		return prefix + suffix, 0, nil
	case 'f':
		off := int64(wire.ReadU64(e.val[:8], 0))
		lex, err := h.readLexPlain(off)
		if err != nil {
			return "", 0, err
		}
		return lex, wire.ReadU64(e.aval[:], 0), nil
	case 'Z':
		off := int64(wire.ReadU64(e.val[:8], 0))
		lex, err := h.readLexZlib(off)
		if err != nil {
			return "", 0, err
		}
		return lex, wire.ReadU64(e.aval[:], 0), nil
	default:
		return "", 0, fmt.Errorf("%w: disposition %q", ErrCorruptEntry, rune(e.disp))
	}
}

// writeLexPlain appends {len:i32, bytes, NUL} to the lex file and
// returns its offset. Used for 'f' payloads and 'P' suffixes, which
// share the same self-delimiting shape.
func (h *Hash) writeLexPlain(s string) (int64, error) {
	off := h.lexOffset
	buf := make([]byte, 4+len(s)+1)
	wire.PutU32(buf, 0, uint32(len(s)))
	copy(buf[4:], s)
	if _, err := h.lex.WriteAt(buf, off); err != nil {
		logger.Error("rhash: write lex failed", "off", off, "err", err)
		return 0, fmt.Errorf("rhash: write lex: %w", err)
	}
	h.lexOffset += int64(len(buf))
	return off, nil
}

func (h *Hash) readLexPlain(off int64) (string, error) {
	lenBuf := make([]byte, 4)
	if _, err := h.lex.ReadAt(lenBuf, off); err != nil {
		logger.Error("rhash: read lex failed", "off", off, "err", err)
		return "", fmt.Errorf("rhash: read lex: %w", err)
	}
	n := wire.ReadU32(lenBuf, 0)
	buf := make([]byte, n)
	if n > 0 {
		if _, err := h.lex.ReadAt(buf, off+4); err != nil {
			logger.Error("rhash: read lex failed", "off", off, "err", err)
			return "", fmt.Errorf("rhash: read lex: %w", err)
		}
	}
	return string(buf), nil
}

// tryWriteZlib attempts zlib compression, writing {comp_len:i32,
// uncomp_len:i32, comp_bytes, NUL} only if the result is strictly
// smaller than len(lex)-4.
func (h *Hash) tryWriteZlib(lex string) (used bool, offset int64, err error) {
	compressed, err := codec.ZlibCompress(&h.zscratch, []byte(lex))
	if err != nil {
		logger.Error("rhash: zlib compress failed", "err", err)
		return false, 0, fmt.Errorf("rhash: zlib compress: %w", err)
	}
	if len(compressed) >= len(lex)-4 {
		return false, 0, nil
	}
	off := h.lexOffset
	buf := make([]byte, 8+len(compressed)+1)
	wire.PutU32(buf, 0, uint32(len(compressed)))
	wire.PutU32(buf, 4, uint32(len(lex)))
	copy(buf[8:], compressed)
	if _, err := h.lex.WriteAt(buf, off); err != nil {
		logger.Error("rhash: write lex failed", "off", off, "err", err)
		return false, 0, fmt.Errorf("rhash: write lex: %w", err)
	}
	h.lexOffset += int64(len(buf))
	return true, off, nil
}

func (h *Hash) readLexZlib(off int64) (string, error) {
	hdr := make([]byte, 8)
	if _, err := h.lex.ReadAt(hdr, off); err != nil {
		logger.Error("rhash: read lex failed", "off", off, "err", err)
		return "", fmt.Errorf("rhash: read lex: %w", err)
	}
	compLen := wire.ReadU32(hdr, 0)
	uncompLen := wire.ReadU32(hdr, 4)
	compressed := make([]byte, compLen)
	if compLen > 0 {
		if _, err := h.lex.ReadAt(compressed, off+8); err != nil {
			logger.Error("rhash: read lex failed", "off", off, "err", err)
			return "", fmt.Errorf("rhash: read lex: %w", err)
		}
	}
	out, err := codec.ZlibDecompress(compressed, int(uncompLen))
	if err != nil {
		logger.Error("rhash: zlib decompress failed", "off", off, "err", err)
		return "", fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return string(out), nil
}
