package bitops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixSuffixUnsplitRoundTrip(t *testing.T) {
	key := []byte{0x11, 0x22, 0x33, 0x44, 0x55}
	for bits := 0; bits <= len(key)*8; bits++ {
		p := Prefix(key, bits)
		s := Suffix(key, bits)
		got := Unsplit(p, s, bits)
		assert.Equal(t, key, got, "bits=%d", bits)
	}
}

func TestPrefixMasksUnusedBits(t *testing.T) {
	key := []byte{0xFF, 0xFF}
	p := Prefix(key, 12)
	require.Len(t, p, 2)
	assert.Equal(t, byte(0xFF), p[0])
	assert.Equal(t, byte(0xF0), p[1])
}

func TestSuffixMasksUnusedBits(t *testing.T) {
	key := []byte{0xFF, 0xFF}
	s := Suffix(key, 12)
	require.Len(t, s, 1)
	assert.Equal(t, byte(0x0F), s[0])
}

func TestHexRangeAlignedWholeByte(t *testing.T) {
	key := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	assert.Equal(t, "deadbeef", HexRange(key, 0, 32))
	assert.Equal(t, "dead", HexRange(key, 0, 16))
	assert.Equal(t, "beef", HexRange(key, 16, 32))
}

func TestHexRangePartialNibbles(t *testing.T) {
	key := []byte{0xAB, 0xCD}
	// bits [4, 12): low nibble of byte0 ("b"), high nibble of byte1 ("c")
	assert.Equal(t, "bc", HexRange(key, 4, 12))
}

func TestHexRangeInverse(t *testing.T) {
	key := []byte{0x12, 0x34, 0x56, 0x78}
	for _, rng := range [][2]int{{0, 32}, {0, 16}, {16, 32}, {8, 24}} {
		s, e := rng[0], rng[1]
		hex := HexRange(key, s, e)
		parsed, err := ParseHexRange(hex, s, e, len(key))
		require.NoError(t, err)
		want := make([]byte, len(key))
		copy(want, Prefix(key, e))
		// zero out everything before s
		for i := 0; i < s/8; i++ {
			want[i] = 0
		}
		if s&7 != 0 {
			want[s/8] &= 0xFF >> uint(s&7)
		}
		assert.Equal(t, want, parsed)
	}
}

func TestParseHexRangeRejectsBadCharacters(t *testing.T) {
	_, err := ParseHexRange("zz", 0, 8, 1)
	require.Error(t, err)
	var hexErr *InvalidHexCharacterError
	require.ErrorAs(t, err, &hexErr)
}

func TestParseHexRangeRejectsWrongLength(t *testing.T) {
	_, err := ParseHexRange("a", 0, 16, 2)
	require.Error(t, err)
	var lenErr *InvalidStringLengthError
	require.ErrorAs(t, err, &lenErr)
}

func TestBucketIndex(t *testing.T) {
	key := []byte{0x11, 0x22, 0x33, 0x44}
	assert.EqualValues(t, 0, BucketIndex(key, 0))
	// top 20 bits of 0x11223344 = 0x11223
	assert.EqualValues(t, 0x11223, BucketIndex(key, 20))
	assert.EqualValues(t, 0x112233, BucketIndex(key, 24))
}

func TestBucketIndexShortKey(t *testing.T) {
	key := []byte{0xFF}
	// zero-padded to 4 bytes: 0xFF000000, >> (32-8) = 0xFF
	assert.EqualValues(t, 0xFF, BucketIndex(key, 8))
}
