package hashlist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stbuehler/go-hibp-index/keytype"
)

func key20(b0, b1 byte) []byte {
	k := make([]byte, 20)
	k[0], k[1] = b0, b1
	return k
}

func TestCreateAddLookupRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard")
	w, err := Create(path, keytype.SHA1, "shard-0x30", 20, 4, 8, []byte{0x30})
	require.NoError(t, err)

	keys := [][]byte{key20(0x30, 0x01), key20(0x30, 0x05), key20(0x30, 0xff)}
	for i, k := range keys {
		payload := []byte{byte(i), byte(i), byte(i), byte(i)}
		require.NoError(t, w.Add(k, payload))
	}
	require.NoError(t, w.Finish())

	r, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 3, r.NumEntries())
	assert.Equal(t, 8, r.PrefixBits())

	for i, k := range keys {
		payload, found, err := r.Lookup(k)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte{byte(i), byte(i), byte(i), byte(i)}, payload)
	}

	_, found, err := r.Lookup(key20(0x30, 0x02))
	require.NoError(t, err)
	assert.False(t, found)

	all := r.All()
	require.Len(t, all, 3)
	for i, e := range all {
		assert.Equal(t, keys[i], e.Key)
	}
}

func TestAddRejectsWrongPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard")
	w, err := Create(path, keytype.SHA1, "shard-0x30", 20, 0, 8, []byte{0x30})
	require.NoError(t, err)

	err = w.Add(key20(0x31, 0x00), nil)
	require.Error(t, err)
	var prefixErr *WrongPrefixError
	assert.ErrorAs(t, err, &prefixErr)
}

func TestAddRejectsOutOfOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard")
	w, err := Create(path, keytype.SHA1, "shard", 20, 0, 4, []byte{0x30})
	require.NoError(t, err)

	require.NoError(t, w.Add(key20(0x30, 0x10), nil))
	err = w.Add(key20(0x30, 0x05), nil)
	require.Error(t, err)
	var orderErr *UnorderedEntryError
	assert.ErrorAs(t, err, &orderErr)
}

func TestNonByteAlignedPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard")
	// 4-bit prefix: only the top nibble of byte 0 is shared.
	w, err := Create(path, keytype.SHA1, "nibble", 20, 0, 4, []byte{0x30})
	require.NoError(t, err)

	require.NoError(t, w.Add(key20(0x31, 0x00), nil))
	require.NoError(t, w.Add(key20(0x3f, 0x00), nil))
	require.NoError(t, w.Finish())

	r, err := Open(path)
	require.NoError(t, err)
	_, found, err := r.Lookup(key20(0x31, 0x00))
	require.NoError(t, err)
	assert.True(t, found)
}
