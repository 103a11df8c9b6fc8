// Package codec implements the BCD numeric/date lexical packers and the
// zlib wrap/unwrap helper used by rhash's 'N', 'D' and 'Z' dispositions.
package codec

import "strings"

// MaxBCDSymbols is the longest lexical either BCD codec can pack (two
// 4-bit symbols per byte, 15 bytes).
const MaxBCDSymbols = 30

// numericEncode/numericDecode implement the BCD numeric alphabet:
// '1'..'9' -> 1..9, '0' -> 10, '.' -> 11, '+' -> 12, '-' -> 13, 'e' -> 14.
// Nibble 0 is the terminator.
var numericEncode = buildEncodeTable(map[byte]byte{
	'.': 11, '+': 12, '-': 13, 'e': 14,
})
var numericDecode = buildDecodeTable(numericEncode)

// dateEncode/dateDecode implement the BCD xsd:dateTime alphabet: the same
// digits, but ':' -> 11, '+' -> 12, '-' -> 13, 'T' -> 14, 'Z' -> 15.
var dateEncode = buildEncodeTable(map[byte]byte{
	':': 11, '+': 12, '-': 13, 'T': 14, 'Z': 15,
})
var dateDecode = buildDecodeTable(dateEncode)

func buildEncodeTable(extra map[byte]byte) map[byte]byte {
	t := make(map[byte]byte, 10+len(extra))
	for d := byte('1'); d <= '9'; d++ {
		t[d] = d - '1' + 1
	}
	t['0'] = 10
	for sym, nib := range extra {
		t[sym] = nib
	}
	return t
}

func buildDecodeTable(enc map[byte]byte) [16]byte {
	var t [16]byte
	for sym, nib := range enc {
		t[nib] = sym
	}
	return t
}

// CompressBCD packs lex using the numeric alphabet. It fails (ok=false) if
// lex is longer than 30 symbols or contains a character outside the
// alphabet; the caller then tries the next codec.
func CompressBCD(lex string) (packed []byte, ok bool) {
	return compress(lex, numericEncode)
}

// DecompressBCD unpacks a numeric BCD payload back into its lexical form.
func DecompressBCD(packed []byte) string {
	return decompress(packed, numericDecode)
}

// CompressBCDate packs lex using the xsd:dateTime alphabet.
func CompressBCDate(lex string) (packed []byte, ok bool) {
	return compress(lex, dateEncode)
}

// DecompressBCDate unpacks a date BCD payload back into its lexical form.
func DecompressBCDate(packed []byte) string {
	return decompress(packed, dateDecode)
}

func compress(lex string, table map[byte]byte) ([]byte, bool) {
	if len(lex) > MaxBCDSymbols {
		return nil, false
	}
	nibbles := make([]byte, len(lex))
	for i := 0; i < len(lex); i++ {
		n, found := table[lex[i]]
		if !found {
			return nil, false
		}
		nibbles[i] = n
	}
	out := make([]byte, MaxBCDSymbols/2)
	for i, n := range nibbles {
		if i%2 == 0 {
			out[i/2] |= n
		} else {
			out[i/2] |= n << 4
		}
	}
	return out, true
}

func decompress(packed []byte, table [16]byte) string {
	var sb strings.Builder
	for i := 0; i < len(packed)*2 && i < MaxBCDSymbols; i++ {
		var nib byte
		if i%2 == 0 {
			nib = packed[i/2] & 0x0F
		} else {
			nib = packed[i/2] >> 4
		}
		if nib == 0 {
			break
		}
		sb.WriteByte(table[nib])
	}
	return sb.String()
}
