// Package pagedreader provides random-access, positional reading over a
// file, plus a sequential io.ReadSeeker view backed by a bounded LRU page
// cache. Core lookup code never reads byte-at-a-time from disk; it goes
// through a PositionalReader or a PagedReader instead.
package pagedreader

import (
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/exp/mmap"
	"golang.org/x/sys/unix"
)

// PositionalReader is a random-access source that knows its own length.
// *os.File and *mmap.ReaderAt both satisfy it via the adapters below.
type PositionalReader interface {
	io.ReaderAt
	FileLen() (int64, error)
}

// fileReader adapts *os.File to PositionalReader and hints the kernel that
// access will be random, which disables readahead that would otherwise
// thrash on a multi-hundred-million-entry index.
type fileReader struct {
	f *os.File
}

// OpenFile opens path read-only as a PositionalReader backed by a regular
// file descriptor.
func OpenFile(path string) (PositionalReader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM); err != nil {
		// Advisory only; some filesystems/platforms don't support it.
		_ = err
	}
	return &fileReader{f: f}, f, nil
}

func (r *fileReader) ReadAt(buf []byte, off int64) (int, error) { return r.f.ReadAt(buf, off) }

func (r *fileReader) FileLen() (int64, error) {
	st, err := r.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// mmapReader adapts golang.org/x/exp/mmap.ReaderAt to PositionalReader.
type mmapReader struct {
	m *mmap.ReaderAt
}

// OpenMMap opens path read-only as a memory-mapped PositionalReader. This
// avoids the page cache below entirely on systems where the kernel already
// manages the mapping's residency, at the cost of reserving address space
// for the whole file.
func OpenMMap(path string) (PositionalReader, io.Closer, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap opening %s: %w", path, err)
	}
	return &mmapReader{m: m}, m, nil
}

func (r *mmapReader) ReadAt(buf []byte, off int64) (int, error) { return r.m.ReadAt(buf, off) }

func (r *mmapReader) FileLen() (int64, error) { return int64(r.m.Len()), nil }

// readAtTillEOF keeps calling ReadAt until buf is full or the source is
// exhausted, transparently retrying on short reads that aren't EOF (the
// interrupted-syscall case this library's target platforms can surface).
func readAtTillEOF(r io.ReaderAt, buf []byte, off int64) (int, error) {
	total := 0
	for len(buf) > 0 {
		n, err := r.ReadAt(buf, off)
		total += n
		buf = buf[n:]
		off += int64(n)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

const (
	// PageSize is the fixed page granularity of the LRU page cache. It is
	// a performance tuning parameter, not part of any on-disk format.
	PageSize = 8192
	// DefaultCapacity is the default number of pages kept warm, the
	// standard choice for point lookups.
	DefaultCapacity = 16
)

// PagedReader is a sequential io.ReadSeeker view over a PositionalReader,
// caching up to capacity fixed-size pages with LRU eviction.
type PagedReader struct {
	source   PositionalReader
	cache    *lru.Cache[int64, []byte]
	position int64
}

// New wraps source with a paged sequential reader. capacity <= 0 uses
// DefaultCapacity.
func New(source PositionalReader, capacity int) (*PagedReader, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[int64, []byte](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating page cache: %w", err)
	}
	return &PagedReader{source: source, cache: cache}, nil
}

func (p *PagedReader) loadPage(page int64) ([]byte, error) {
	if buf, ok := p.cache.Get(page); ok {
		return buf, nil
	}
	buf := make([]byte, PageSize)
	n, err := readAtTillEOF(p.source, buf, page*PageSize)
	if err != nil {
		return nil, err
	}
	buf = buf[:n]
	p.cache.Add(page, buf)
	return buf, nil
}

// Read implements io.Reader.
func (p *PagedReader) Read(buf []byte) (int, error) {
	page := p.position / PageSize
	pageOffset := p.position % PageSize
	data, err := p.loadPage(page)
	if err != nil {
		return 0, err
	}
	if pageOffset >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(buf, data[pageOffset:])
	p.position += int64(n)
	return n, nil
}

// ErrPositionOverflow is returned by Seek when the resulting position would
// be negative or overflow the representable range.
type ErrPositionOverflow struct{ Detail string }

func (e *ErrPositionOverflow) Error() string { return "position overflow: " + e.Detail }

// Seek implements io.Seeker, including SeekEnd which requires the source's
// FileLen.
func (p *PagedReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		if offset < 0 {
			return p.position, &ErrPositionOverflow{Detail: "negative absolute offset"}
		}
		p.position = offset
	case io.SeekCurrent:
		next := p.position + offset
		if next < 0 {
			return p.position, &ErrPositionOverflow{Detail: "relative offset before start"}
		}
		p.position = next
	case io.SeekEnd:
		length, err := p.source.FileLen()
		if err != nil {
			return p.position, err
		}
		next := length + offset
		if next < 0 {
			return p.position, &ErrPositionOverflow{Detail: "relative offset before start"}
		}
		p.position = next
	default:
		return p.position, fmt.Errorf("unknown whence %d", whence)
	}
	return p.position, nil
}

// Position reports the current read offset without performing I/O.
func (p *PagedReader) Position() int64 { return p.position }
