package hashindex

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stbuehler/go-hibp-index/buckettable"
	"github.com/stbuehler/go-hibp-index/keytype"
)

func sha1Key(b byte) []byte {
	k := make([]byte, 20)
	k[0] = b
	return k
}

// S1: build & lookup SHA-1 keys at depth 20 (not byte-aligned) with
// zero-length payloads.
func TestS1BuildAndLookupDepth20EmptyPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	b, err := Create(path, keytype.SHA1, "s1", 20, 0, 20)
	require.NoError(t, err)

	keys := [][]byte{sha1Key(0x01), sha1Key(0x02), sha1Key(0x80), sha1Key(0xff)}
	for _, k := range keys {
		require.NoError(t, b.AddEntry(k, nil))
	}
	require.NoError(t, b.Finish())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	for _, k := range keys {
		payload, found, err := r.Lookup(k)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Empty(t, payload)
	}

	_, found, err := r.Lookup(sha1Key(0x42))
	require.NoError(t, err)
	assert.False(t, found)
}

// S2: a depth that does not land on a byte boundary.
func TestS2NonByteAlignedDepth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	b, err := Create(path, keytype.SHA1, "s2", 20, 4, 21)
	require.NoError(t, err)

	keys := [][]byte{sha1Key(0x00), sha1Key(0x07), sha1Key(0x10), sha1Key(0xf8)}
	for i, k := range keys {
		payload := []byte{byte(i), byte(i), byte(i), byte(i)}
		require.NoError(t, b.AddEntry(k, payload))
	}
	require.NoError(t, b.Finish())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 21, r.Depth())

	for i, k := range keys {
		payload, found, err := r.Lookup(k)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte{byte(i), byte(i), byte(i), byte(i)}, payload)
	}
}

// S2b: a byte-aligned depth that leaves no suffix byte must be rejected,
// not merely a depth that overruns the key entirely.
func TestS2bDepthLeavesNoSuffixByte(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	kt, err := keytype.Other("short", 2)
	require.NoError(t, err)
	_, err = Create(path, kt, "s2b", 2, 0, 16)
	require.Error(t, err)
	var createErr *BuilderCreateError
	require.ErrorAs(t, err, &createErr)
	assert.Equal(t, ReasonInvalidKeyLength, createErr.Reason)
}

// writeRawIndex assembles a minimal index file by hand for testing
// corrupt-table scenarios that a Builder would never itself produce.
func writeRawIndex(t *testing.T, entries []byte, table *buckettable.Table) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := writeHeader(&buf, keytype.SHA1, "raw", 20, 4)
	require.NoError(t, err)
	buf.Write(entries)

	n, err := table.WriteTo(&buf)
	require.NoError(t, err)

	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], n)
	buf.Write(trailer[:])

	path := filepath.Join(t.TempDir(), "idx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// S3: a table payload that doesn't decompress, caught while opening.
func TestS3MalformedTable(t *testing.T) {
	var buf bytes.Buffer
	_, err := writeHeader(&buf, keytype.SHA1, "s3", 20, 4)
	require.NoError(t, err)
	buf.Write([]byte("not a valid deflate stream at all"))

	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], uint32(len("not a valid deflate stream at all")))
	buf.Write(trailer[:])

	path := filepath.Join(t.TempDir(), "idx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err = Open(path)
	require.Error(t, err)
	var tableErr *TableReadError
	assert.ErrorAs(t, err, &tableErr)
}

// S4: a hand-crafted table with non-monotone offsets.
func TestS4NonMonotoneOffsets(t *testing.T) {
	table := &buckettable.Table{Depth: 1, Offsets: []uint64{0, 100, 50}}
	path := writeRawIndex(t, make([]byte, 100), table)

	_, err := Open(path)
	require.Error(t, err)
	var tableErr *TableReadError
	assert.ErrorAs(t, err, &tableErr)
}

// S5: bucket segment lengths that aren't a multiple of the entry size.
func TestS5SegmentMisalignment(t *testing.T) {
	// depth 1 strips no whole byte (floor(1/8)=0), so suffix keeps all 20
	// key bytes (top bit masked); entrySize is 20+4=24. Offsets [0,10,24]
	// make bucket 0's range 10 bytes, not a multiple of 24.
	table := &buckettable.Table{Depth: 1, Offsets: []uint64{0, 10, 24}}
	path := writeRawIndex(t, make([]byte, 24), table)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	key := sha1Key(0x00) // bucket 0 at depth 1
	_, _, err = r.Lookup(key)
	require.Error(t, err)
	var segErr *InvalidSegmentLengthError
	assert.ErrorAs(t, err, &segErr)
}

// S6: a prefix-range scan spanning multiple buckets.
func TestS6PrefixRangeAcrossBuckets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	b, err := Create(path, keytype.SHA1, "s6", 20, 2, 8)
	require.NoError(t, err)

	// 0x30 and 0x3f both fall under the 4-bit prefix 0x3 but occupy two
	// different depth-8 buckets; 0x40 falls outside that prefix entirely.
	keys := [][]byte{
		{0x30, 0x01}, {0x30, 0x02}, {0x3f, 0x05}, {0x40, 0x00},
	}
	for i, prefix := range keys {
		k := make([]byte, 20)
		k[0], k[1] = prefix[0], prefix[1]
		require.NoError(t, b.AddEntry(k, []byte{byte(i), byte(i)}))
	}
	require.NoError(t, b.Finish())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	entries, err := r.Range([]byte{0x30}, 4)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, byte(0x30)>>4, e.Key[0]>>4)
	}
}

func TestFinishWithManifestWritesSidecar(t *testing.T) {
	dir := t.TempDir()
	idxPath := filepath.Join(dir, "idx")
	manifestPath := filepath.Join(dir, "idx.manifest")

	b, err := Create(idxPath, keytype.SHA1, "m", 20, 0, 4)
	require.NoError(t, err)
	require.NoError(t, b.AddEntry(sha1Key(0x01), nil))
	require.NoError(t, b.FinishWithManifest(manifestPath, "test-index"))

	_, err = os.Stat(manifestPath)
	require.NoError(t, err)
}

func TestAddEntryRejectsOutOfOrderKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	b, err := Create(path, keytype.SHA1, "order", 20, 0, 4)
	require.NoError(t, err)

	require.NoError(t, b.AddEntry(sha1Key(0x10), nil))
	err = b.AddEntry(sha1Key(0x05), nil)
	require.Error(t, err)
	var orderErr *UnorderedEntryError
	assert.ErrorAs(t, err, &orderErr)
}
