// Package buckettable implements the bucket-offset table appended to the
// tail of an index file: a vector of 2^D+1 byte offsets into the entry
// stream, addressed by a key's top D bits, DEFLATE-compressed on disk.
package buckettable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// MaxDepth is the largest supported D; at this depth the table has
// 16,777,217 uint64 slots (~128 MiB uncompressed).
const MaxDepth = 24

// InvalidDepthError reports a table whose declared depth exceeds MaxDepth.
type InvalidDepthError struct{ Depth int }

func (e *InvalidDepthError) Error() string {
	return fmt.Sprintf("invalid table depth %d (max %d)", e.Depth, MaxDepth)
}

// TooMuchTableDataError reports a decompressed table payload that didn't
// end where the slot count said it should.
type TooMuchTableDataError struct{}

func (e *TooMuchTableDataError) Error() string { return "too much table data for declared depth" }

// InvalidTableOffsetsError reports offsets that aren't non-decreasing.
type InvalidTableOffsetsError struct{ Index int }

func (e *InvalidTableOffsetsError) Error() string {
	return fmt.Sprintf("table offset at index %d is less than its predecessor", e.Index)
}

// Table is the fully materialized, in-memory bucket-offset vector. Slot b
// is the start offset of bucket b's entries in the entry stream; the final
// slot (index 2^D) is the end of the entry stream.
type Table struct {
	Depth   int
	Offsets []uint64
}

// NumBuckets returns 2^Depth.
func (t *Table) NumBuckets() int { return 1 << uint(t.Depth) }

// BucketRange returns the half-open byte range [start, end) of bucket b.
func (t *Table) BucketRange(b int) (start, end uint64) {
	return t.Offsets[b], t.Offsets[b+1]
}

// Builder accumulates bucket offsets incrementally as a Builder writes
// sorted entries: each time the bucket changes, the table is extended up
// to (and including) the new bucket with the current stream position.
type Builder struct {
	depth         int
	offsets       []uint64
	currentBucket int
	started       bool
}

// NewBuilder starts an empty table for the given depth.
func NewBuilder(depth int) (*Builder, error) {
	if depth < 0 || depth > MaxDepth {
		return nil, &InvalidDepthError{Depth: depth}
	}
	return &Builder{depth: depth}, nil
}

// Advance records that an entry belonging to bucket is about to be written
// at streamPos. Buckets must be non-decreasing across calls (the caller is
// expected to feed already-sorted keys); any bucket skipped between the
// previous and current bucket is backfilled with streamPos (an empty
// bucket occupies a zero-length range).
func (b *Builder) Advance(bucket int, streamPos uint64) error {
	if b.started && bucket < b.currentBucket {
		return fmt.Errorf("bucket index went backwards: %d after %d", bucket, b.currentBucket)
	}
	if !b.started {
		for i := 0; i <= bucket; i++ {
			b.offsets = append(b.offsets, streamPos)
		}
		b.started = true
	} else if bucket >= len(b.offsets) {
		for len(b.offsets) <= bucket {
			b.offsets = append(b.offsets, streamPos)
		}
	}
	b.currentBucket = bucket
	return nil
}

// Finish pads the table out to 2^Depth+1 slots with finalStreamPos (the
// total entry-stream length) and returns the sealed Table.
func (b *Builder) Finish(finalStreamPos uint64) *Table {
	numSlots := (1 << uint(b.depth)) + 1
	for len(b.offsets) < numSlots {
		b.offsets = append(b.offsets, finalStreamPos)
	}
	return &Table{Depth: b.depth, Offsets: b.offsets[:numSlots]}
}

// WriteTo DEFLATE-compresses the table (1 byte depth, then (2^D+1)
// big-endian uint64 offsets) and writes the compressed bytes to w,
// returning the number of compressed bytes written — the value the caller
// must then encode as the 4-byte trailer.
func (t *Table) WriteTo(w io.Writer) (uint32, error) {
	var raw bytes.Buffer
	raw.WriteByte(byte(t.Depth))
	var word [8]byte
	for _, off := range t.Offsets {
		binary.BigEndian.PutUint64(word[:], off)
		raw.Write(word[:])
	}

	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		return 0, fmt.Errorf("creating deflate writer: %w", err)
	}
	if _, err := fw.Write(raw.Bytes()); err != nil {
		return 0, fmt.Errorf("compressing table: %w", err)
	}
	if err := fw.Close(); err != nil {
		return 0, fmt.Errorf("finalizing compressed table: %w", err)
	}
	if compressed.Len() > 1<<32-1 {
		return 0, fmt.Errorf("compressed table too large: %d bytes", compressed.Len())
	}
	n, err := w.Write(compressed.Bytes())
	return uint32(n), err
}

// ReadFrom decompresses a table payload of exactly compressedLen bytes read
// from r (a DEFLATE stream as written by WriteTo), validating depth,
// completeness, and offset monotonicity.
func ReadFrom(r io.Reader, compressedLen uint32) (*Table, error) {
	fr := flate.NewReader(io.LimitReader(r, int64(compressedLen)))
	defer fr.Close()

	depthByte := make([]byte, 1)
	if _, err := io.ReadFull(fr, depthByte); err != nil {
		return nil, fmt.Errorf("reading table depth: %w", err)
	}
	depth := int(depthByte[0])
	if depth > MaxDepth {
		return nil, &InvalidDepthError{Depth: depth}
	}

	numSlots := (1 << uint(depth)) + 1
	payload := make([]byte, numSlots*8)
	if _, err := io.ReadFull(fr, payload); err != nil {
		return nil, fmt.Errorf("reading table offsets: %w", err)
	}

	// The decompressor must be exhausted by exactly the slots we expect;
	// any further byte proves the declared depth didn't match the data.
	var extra [1]byte
	if n, err := fr.Read(extra[:]); n > 0 || err == nil {
		return nil, &TooMuchTableDataError{}
	} else if err != io.EOF {
		return nil, fmt.Errorf("verifying table end: %w", err)
	}

	offsets := make([]uint64, numSlots)
	for i := range offsets {
		offsets[i] = binary.BigEndian.Uint64(payload[i*8 : i*8+8])
		if i > 0 && offsets[i] < offsets[i-1] {
			return nil, &InvalidTableOffsetsError{Index: i}
		}
	}
	return &Table{Depth: depth, Offsets: offsets}, nil
}
