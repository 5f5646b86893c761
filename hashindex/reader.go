package hashindex

import (
	"bytes"
	"fmt"
	"io"

	"github.com/stbuehler/go-hibp-index/bitops"
	"github.com/stbuehler/go-hibp-index/buckettable"
	"github.com/stbuehler/go-hibp-index/keytype"
	"github.com/stbuehler/go-hibp-index/pagedreader"
)

// trailerSize is the fixed-width length prefix at the tail of the file that
// tells a reader how many bytes of compressed bucket table precede it.
const trailerSize = 4

// Reader serves point lookups and prefix-range scans against a sealed index
// file. It keeps the bucket table fully in memory; entry-stream reads go
// through a pagedreader.PagedReader (16-page LRU over the underlying
// pagedreader.PositionalReader) rather than touching the source directly.
type Reader struct {
	source      pagedreader.PositionalReader
	closer      io.Closer
	path        string
	keyType     keytype.KeyType
	description string
	keySize     int
	payloadSize int
	table       *buckettable.Table
	entriesOff  int64
	entrySize   int
	suffixSize  int
}

// Open opens path for reading: it parses the header, loads the bucket
// table into memory, and leaves the entry stream to be read lazily through
// a paged reader on each lookup or range scan.
func Open(path string) (*Reader, error) {
	source, closer, err := pagedreader.OpenFile(path)
	if err != nil {
		return nil, &IndexOpenError{Reason: ReasonIOError, Err: err}
	}

	hdr, err := readHeader(io.NewSectionReader(source, 0, MaxHeaderSize))
	if err != nil {
		closer.Close()
		return nil, err
	}

	fileLen, err := source.FileLen()
	if err != nil {
		closer.Close()
		return nil, &IndexOpenError{Reason: ReasonIOError, Err: err}
	}
	if fileLen < hdr.byteLen+trailerSize {
		closer.Close()
		return nil, &IndexOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("file too short for header and trailer")}
	}

	var trailer [trailerSize]byte
	if _, err := source.ReadAt(trailer[:], fileLen-trailerSize); err != nil {
		closer.Close()
		return nil, &IndexOpenError{Reason: ReasonIOError, Err: fmt.Errorf("reading trailer: %w", err)}
	}
	tableLen := uint32(trailer[0])<<24 | uint32(trailer[1])<<16 | uint32(trailer[2])<<8 | uint32(trailer[3])

	tableStart := fileLen - trailerSize - int64(tableLen)
	if tableStart < hdr.byteLen {
		closer.Close()
		return nil, &IndexOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("declared table length %d overruns entry stream", tableLen)}
	}

	table, err := buckettable.ReadFrom(io.NewSectionReader(source, tableStart, int64(tableLen)), tableLen)
	if err != nil {
		closer.Close()
		return nil, &TableReadError{Reason: ReasonTableReadError, Err: err}
	}

	if table.Depth/8+1 > int(hdr.KeySize) {
		// at least one suffix byte must remain after stripping the bucket prefix
		closer.Close()
		return nil, &IndexOpenError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("table depth %d leaves no suffix byte for key size %d", table.Depth, hdr.KeySize)}
	}
	suffixSize := int(hdr.KeySize) - table.Depth/8
	entrySize := suffixSize + int(hdr.PayloadSize)
	if lastOff := table.Offsets[len(table.Offsets)-1]; int64(lastOff) != tableStart-hdr.byteLen {
		closer.Close()
		return nil, &IndexOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("table end offset %d does not match entry stream length %d", lastOff, tableStart-hdr.byteLen)}
	}

	return &Reader{
		source:      source,
		closer:      closer,
		path:        path,
		keyType:     hdr.KeyType,
		description: hdr.Description,
		keySize:     int(hdr.KeySize),
		payloadSize: int(hdr.PayloadSize),
		table:       table,
		entriesOff:  hdr.byteLen,
		entrySize:   entrySize,
		suffixSize:  suffixSize,
	}, nil
}

func (r *Reader) Close() error { return r.closer.Close() }

func (r *Reader) Path() string             { return r.path }
func (r *Reader) KeyType() keytype.KeyType { return r.keyType }
func (r *Reader) Description() string      { return r.description }
func (r *Reader) KeySize() int             { return r.keySize }
func (r *Reader) PayloadSize() int         { return r.payloadSize }
func (r *Reader) Depth() int               { return r.table.Depth }

// bucketScan opens a fresh paged reader over bucket b's byte range, seeked to
// its start, and reports how many fixed-size entries it holds. Each lookup
// or range scan gets its own 16-page LRU, the same way the original's
// IndexLookup/IndexWalk each wrap a fresh BufReader(&database, 16) around
// the shared underlying file rather than sharing one cache across callers.
func (r *Reader) bucketScan(bucket int) (*pagedreader.PagedReader, uint64, error) {
	start, end := r.table.BucketRange(bucket)
	segLen := end - start
	if r.entrySize > 0 && segLen%uint64(r.entrySize) != 0 {
		return nil, 0, &InvalidSegmentLengthError{Bucket: bucket, SegmentLen: int(segLen), EntrySize: r.entrySize}
	}

	pr, err := pagedreader.New(r.source, pagedreader.DefaultCapacity)
	if err != nil {
		return nil, 0, &LookupError{Reason: ReasonIOError, Err: err}
	}
	if _, err := pr.Seek(r.entriesOff+int64(start), io.SeekStart); err != nil {
		return nil, 0, &LookupError{Reason: ReasonIOError, Err: err}
	}

	var numEntries uint64
	if r.entrySize > 0 {
		numEntries = segLen / uint64(r.entrySize)
	}
	return pr, numEntries, nil
}

// Lookup returns the payload stored for key, or found=false if no entry
// matches.
func (r *Reader) Lookup(key []byte) (payload []byte, found bool, err error) {
	if len(key) != r.keySize {
		return nil, false, &LookupError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("key length %d != %d", len(key), r.keySize)}
	}

	depth := r.table.Depth
	bucket := int(bitops.BucketIndex(key, depth))
	pr, numEntries, err := r.bucketScan(bucket)
	if err != nil {
		return nil, false, err
	}
	if r.entrySize == 0 {
		return nil, false, nil
	}

	target := bitops.Suffix(key, depth)
	entryBuf := make([]byte, r.entrySize)
	for i := uint64(0); i < numEntries; i++ {
		if _, err := io.ReadFull(pr, entryBuf); err != nil {
			return nil, false, &LookupError{Reason: ReasonIOError, Err: err}
		}
		suffix := entryBuf[:r.suffixSize]
		cmp := bytes.Compare(suffix, target)
		if cmp == 0 {
			p := make([]byte, r.payloadSize)
			copy(p, entryBuf[r.suffixSize:])
			return p, true, nil
		}
		if cmp > 0 {
			break
		}
	}
	return nil, false, nil
}

// Entry is one (key, payload) pair produced by a prefix scan, with the
// full key reconstructed from its bucket prefix and stored suffix.
type Entry struct {
	Key     []byte
	Payload []byte
}

// RangeIter lazily yields every entry whose key begins with a requested
// prefix, one entry at a time, mirroring the original's IndexWalk: it reads
// one bucket's entries in order through a paged reader and never holds more
// than one entry buffer at a time.
type RangeIter struct {
	r            *Reader
	depth        int
	buckets      []int
	extraFilter  func(suffix []byte) int
	pr           *pagedreader.PagedReader
	remaining    uint64
	bucketPrefix []byte
}

// RangeIter starts a lazy scan over every entry whose key begins with the
// given prefixBits of prefix. prefixBits may be smaller than, equal to, or
// larger than the table's bucket depth.
func (r *Reader) RangeIter(prefix []byte, prefixBits int) *RangeIter {
	depth := r.table.Depth
	it := &RangeIter{r: r, depth: depth}

	if prefixBits <= depth {
		shift := depth - prefixBits
		val := bitops.BucketIndex(prefix, prefixBits)
		low := val << uint(shift)
		high := low + (uint32(1) << uint(shift)) - 1
		for b := int(low); b <= int(high); b++ {
			it.buckets = append(it.buckets, b)
		}
	} else {
		bucket := int(bitops.BucketIndex(prefix, depth))
		// A suffix starts at byte depth/8 with its top depth%8 bits zeroed, so
		// the requested bits end depth%8+(prefixBits-depth) bits into it.
		cmpBits := depth%8 + prefixBits - depth
		expected := bitops.Suffix(prefix, depth)
		expectedPrefix := bitops.Prefix(expected, cmpBits)
		it.buckets = []int{bucket}
		it.extraFilter = func(suffix []byte) int {
			return bytes.Compare(bitops.Prefix(suffix, cmpBits), expectedPrefix)
		}
	}
	return it
}

// Next returns the next matching entry, or entry=nil when the scan is
// exhausted. A non-nil error aborts the scan.
func (it *RangeIter) Next() (entry *Entry, err error) {
	for {
		if it.pr == nil || it.remaining == 0 {
			if len(it.buckets) == 0 {
				return nil, nil
			}
			bucket := it.buckets[0]
			it.buckets = it.buckets[1:]
			pr, n, err := it.r.bucketScan(bucket)
			if err != nil {
				return nil, err
			}
			it.pr = pr
			it.remaining = n
			it.bucketPrefix = bitops.Prefix(bucketKey(bucket, it.depth, it.r.keySize), it.depth)
			continue
		}

		entryBuf := make([]byte, it.r.entrySize)
		if _, err := io.ReadFull(it.pr, entryBuf); err != nil {
			return nil, &LookupError{Reason: ReasonIOError, Err: err}
		}
		it.remaining--

		suffix := entryBuf[:it.r.suffixSize]
		if it.extraFilter != nil {
			cmp := it.extraFilter(suffix)
			if cmp > 0 {
				// sorted order: nothing further in this bucket can match
				it.remaining = 0
				continue
			}
			if cmp < 0 {
				continue
			}
		}

		key := bitops.Unsplit(it.bucketPrefix, suffix, it.depth)
		payload := make([]byte, it.r.payloadSize)
		copy(payload, entryBuf[it.r.suffixSize:])
		return &Entry{Key: key, Payload: payload}, nil
	}
}

// Range collects every entry RangeIter would yield for the same arguments
// into a slice, for callers that don't need a streaming interface.
func (r *Reader) Range(prefix []byte, prefixBits int) ([]Entry, error) {
	it := r.RangeIter(prefix, prefixBits)
	var entries []Entry
	for {
		entry, err := it.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return entries, nil
		}
		entries = append(entries, *entry)
	}
}

// bucketKey reconstructs a dummy key whose top depth bits equal bucket's
// address, for use as the Prefix() source when turning bucket offsets back
// into a shared key prefix during a range scan.
func bucketKey(bucket, depth, keySize int) []byte {
	out := make([]byte, keySize)
	shifted := uint32(bucket) << uint(32-depth)
	out[0] = byte(shifted >> 24)
	if keySize > 1 {
		out[1] = byte(shifted >> 16)
	}
	if keySize > 2 {
		out[2] = byte(shifted >> 8)
	}
	if keySize > 3 {
		out[3] = byte(shifted)
	}
	return out
}
