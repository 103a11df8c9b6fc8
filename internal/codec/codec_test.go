package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBCDRoundTrip(t *testing.T) {
	cases := []string{"123", "3.14159", "+1.5e10", "-0", "9", ""}
	for _, lex := range cases {
		packed, ok := CompressBCD(lex)
		require.True(t, ok, "lex=%q", lex)
		require.Len(t, packed, 15)
		require.Equal(t, lex, DecompressBCD(packed))
	}
}

func TestBCDRejectsOutOfAlphabet(t *testing.T) {
	_, ok := CompressBCD("abc")
	require.False(t, ok)
}

func TestBCDRejectsTooLong(t *testing.T) {
	_, ok := CompressBCD(strings.Repeat("1", 31))
	require.False(t, ok)
}

func TestBCDateRoundTrip(t *testing.T) {
	cases := []string{
		"2024-01-02T03:04:05Z",
		"1999-12-31T23:59:59+01:00",
		"2000-01-01T00:00:00-05:00",
	}
	for _, lex := range cases {
		packed, ok := CompressBCDate(lex)
		require.True(t, ok, "lex=%q", lex)
		require.Equal(t, lex, DecompressBCDate(packed))
	}
}

func TestBCDateRejectsLowercaseT(t *testing.T) {
	_, ok := CompressBCDate("2024-01-02t03:04:05z")
	require.False(t, ok)
}

func TestZlibRoundTrip(t *testing.T) {
	var scratch ZlibScratch
	data := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 500))

	compressed, err := ZlibCompress(&scratch, data)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(data))

	out, err := ZlibDecompress(compressed, len(data))
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestZlibRoundTripEmpty(t *testing.T) {
	var scratch ZlibScratch
	compressed, err := ZlibCompress(&scratch, nil)
	require.NoError(t, err)
	out, err := ZlibDecompress(compressed, 0)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestZlibScratchReused(t *testing.T) {
	var scratch ZlibScratch
	data := []byte(strings.Repeat("a", 5000))
	first, err := ZlibCompress(&scratch, data)
	require.NoError(t, err)
	firstLen := len(first)

	second, err := ZlibCompress(&scratch, data)
	require.NoError(t, err)
	require.Equal(t, firstLen, len(second))
}
