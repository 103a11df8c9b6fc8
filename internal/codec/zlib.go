package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ZlibScratch is a reusable compression output buffer, grown to
// max(1024, 1.01*input+12) so repeated 'Z'-disposition puts don't
// reallocate on every call.
type ZlibScratch struct {
	buf []byte
}

func (s *ZlibScratch) sized(inputLen int) []byte {
	need := int(float64(inputLen)*1.01) + 12
	if need < 1024 {
		need = 1024
	}
	if cap(s.buf) < need {
		s.buf = make([]byte, 0, need)
	}
	return s.buf[:0]
}

// ZlibCompress deflates data into scratch's backing buffer and returns the
// compressed bytes (valid until the next call using the same scratch).
func ZlibCompress(scratch *ZlibScratch, data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(scratch.sized(len(data)))
	w := zlib.NewWriter(buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("codec: zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: zlib compress: %w", err)
	}
	scratch.buf = buf.Bytes()
	return scratch.buf, nil
}

// ZlibDecompress inflates compressed back to the original uncompLen bytes.
func ZlibDecompress(compressed []byte, uncompLen int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("codec: zlib decompress: %w", err)
	}
	defer r.Close()

	out := make([]byte, uncompLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("codec: zlib decompress: %w", err)
	}
	return out, nil
}
