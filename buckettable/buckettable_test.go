package buckettable

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderAndRoundTrip(t *testing.T) {
	b, err := NewBuilder(4) // 16 buckets
	require.NoError(t, err)

	require.NoError(t, b.Advance(0, 0))
	require.NoError(t, b.Advance(0, 10))
	require.NoError(t, b.Advance(2, 20))
	require.NoError(t, b.Advance(5, 30))

	table := b.Finish(40)
	require.Len(t, table.Offsets, 17)
	assert.EqualValues(t, []uint64{0, 20, 20, 30, 30, 30, 40, 40, 40, 40, 40, 40, 40, 40, 40, 40, 40}, table.Offsets)

	var buf bytes.Buffer
	n, err := table.WriteTo(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, n, buf.Len())

	got, err := ReadFrom(&buf, n)
	require.NoError(t, err)
	assert.Equal(t, table.Depth, got.Depth)
	assert.Equal(t, table.Offsets, got.Offsets)
}

func TestBuilderDepthZero(t *testing.T) {
	b, err := NewBuilder(0)
	require.NoError(t, err)
	require.NoError(t, b.Advance(0, 0))
	table := b.Finish(123)
	assert.Equal(t, []uint64{0, 123}, table.Offsets)
}

func TestNewBuilderRejectsExcessiveDepth(t *testing.T) {
	_, err := NewBuilder(25)
	require.Error(t, err)
	var depthErr *InvalidDepthError
	require.ErrorAs(t, err, &depthErr)
}

func TestAdvanceRejectsBackwardsBucket(t *testing.T) {
	b, err := NewBuilder(4)
	require.NoError(t, err)
	require.NoError(t, b.Advance(5, 0))
	err = b.Advance(2, 10)
	require.Error(t, err)
}

func TestReadFromRejectsNonMonotoneOffsets(t *testing.T) {
	// Hand-craft a table with table[1] > table[2].
	table := &Table{Depth: 1, Offsets: []uint64{0, 100, 50}}
	var buf bytes.Buffer
	n, err := table.WriteTo(&buf)
	require.NoError(t, err)

	_, err = ReadFrom(&buf, n)
	require.Error(t, err)
	var offErr *InvalidTableOffsetsError
	require.ErrorAs(t, err, &offErr)
}

func TestReadFromRejectsTruncatedLength(t *testing.T) {
	b, err := NewBuilder(2)
	require.NoError(t, err)
	table := b.Finish(10)
	var buf bytes.Buffer
	n, err := table.WriteTo(&buf)
	require.NoError(t, err)
	require.Greater(t, n, uint32(2))

	truncated := buf.Bytes()[:n-2]
	_, err = ReadFrom(bytes.NewReader(truncated), n) // declared length exceeds what's actually there
	require.Error(t, err)
}
