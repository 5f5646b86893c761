// Package hashlist implements the small standalone sidecar format used to
// distribute a shard of entries that all share one bit-prefix: a shallow
// cousin of hashindex without a bucket table, meant to be handed around on
// its own rather than queried at index-builder scale.
package hashlist

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/stbuehler/go-hibp-index/bitops"
	"github.com/stbuehler/go-hibp-index/keytype"
)

// Magic is the first line of every hash-list file.
const Magic = "hash-list-v0"

// MaxHeaderSize bounds the header: three text lines, mtime, sizes, and the
// prefix bytes.
const MaxHeaderSize = 4096

type header struct {
	KeyType     keytype.KeyType
	Description string
	Mtime       time.Time
	KeySize     uint8
	PayloadSize uint8
	PrefixBits  int
	Prefix      []byte
	byteLen     int64
}

func writeHeader(w io.Writer, kt keytype.KeyType, description string, mtime time.Time, keySize, payloadSize uint8, prefixBits int, prefix []byte) (int64, error) {
	if strings.ContainsRune(kt.Name(), '\n') || strings.ContainsRune(description, '\n') {
		return 0, &HashListCreateError{Reason: ReasonInvalidDescription, Err: fmt.Errorf("key type or description contains a newline")}
	}
	prefixBytes := (prefixBits + 7) / 8
	if len(prefix) != prefixBytes {
		return 0, &HashListCreateError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("prefix is %d bytes, want %d for %d bits", len(prefix), prefixBytes, prefixBits)}
	}

	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.WriteByte('\n')
	buf.WriteString(kt.Name())
	buf.WriteByte('\n')
	buf.WriteString(description)
	buf.WriteByte('\n')

	var mtimeBytes [8]byte
	binary.BigEndian.PutUint64(mtimeBytes[:], uint64(mtime.Unix()))
	buf.Write(mtimeBytes[:])
	buf.WriteByte(keySize)
	buf.WriteByte(payloadSize)
	buf.WriteByte(byte(prefixBits))
	buf.Write(prefix)

	if buf.Len() > MaxHeaderSize {
		return 0, &HashListCreateError{Reason: ReasonHeaderTooBig, Err: fmt.Errorf("header is %d bytes, max %d", buf.Len(), MaxHeaderSize)}
	}

	n, err := w.Write(buf.Bytes())
	if err != nil {
		return 0, &HashListCreateError{Reason: ReasonIOError, Err: err}
	}
	return int64(n), nil
}

func readHeader(r io.Reader) (*header, error) {
	br := bufio.NewReader(io.LimitReader(r, MaxHeaderSize))
	var n int64

	readLine := func() (string, error) {
		line, err := br.ReadString('\n')
		n += int64(len(line))
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(line, "\n"), nil
	}

	magic, err := readLine()
	if err != nil {
		return nil, &HashListOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("reading magic: %w", err)}
	}
	if magic != Magic {
		return nil, &HashListOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("bad magic %q", magic)}
	}

	keyTypeName, err := readLine()
	if err != nil {
		return nil, &HashListOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("reading key type: %w", err)}
	}
	kt, err := keytype.Parse(keyTypeName)
	if err != nil {
		return nil, &HashListOpenError{Reason: ReasonKeyTypeError, Err: err}
	}

	description, err := readLine()
	if err != nil {
		return nil, &HashListOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("reading description: %w", err)}
	}

	var mtimeBytes [8]byte
	if _, err := io.ReadFull(br, mtimeBytes[:]); err != nil {
		return nil, &HashListOpenError{Reason: ReasonInvalidMtime, Err: err}
	}
	n += 8
	mtimeSecs := int64(binary.BigEndian.Uint64(mtimeBytes[:]))
	if mtimeSecs < 0 {
		return nil, &HashListOpenError{Reason: ReasonInvalidMtime, Err: fmt.Errorf("negative mtime %d", mtimeSecs)}
	}

	sizes := make([]byte, 3)
	if _, err := io.ReadFull(br, sizes); err != nil {
		return nil, &HashListOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("reading sizes: %w", err)}
	}
	n += 3
	keySize, payloadSize, prefixBits := sizes[0], sizes[1], int(sizes[2])

	prefixBytes := (prefixBits + 7) / 8
	prefix := make([]byte, prefixBytes)
	if _, err := io.ReadFull(br, prefix); err != nil {
		return nil, &HashListOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("reading prefix: %w", err)}
	}
	n += int64(prefixBytes)

	if n > MaxHeaderSize {
		return nil, &HashListOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("header is %d bytes, max %d", n, MaxHeaderSize)}
	}

	return &header{
		KeyType:     kt,
		Description: description,
		Mtime:       time.Unix(mtimeSecs, 0).UTC(),
		KeySize:     keySize,
		PayloadSize: payloadSize,
		PrefixBits:  prefixBits,
		Prefix:      prefix,
		byteLen:     n,
	}, nil
}

// Writer appends (key, payload) entries, sharing one declared bit prefix,
// to a new hash-list file in a single forward pass.
type Writer struct {
	f  *os.File
	bw *bufio.Writer

	prefixBits  int
	prefix      []byte
	keySize     uint8
	payloadSize uint8
	suffixSize  int
	lastKey     []byte
}

// Create opens path for writing and emits the header. prefixBits is the
// number of leading bits every added key must share with prefix.
func Create(path string, kt keytype.KeyType, description string, keySize, payloadSize uint8, prefixBits int, prefix []byte) (*Writer, error) {
	if keySize == 0 {
		return nil, &HashListCreateError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("key size must be > 0")}
	}
	if !kt.IsZero() && kt.ByteLength() != 0 && int(keySize) != kt.ByteLength() {
		return nil, &HashListCreateError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("key type %s expects %d-byte keys, got %d", kt.Name(), kt.ByteLength(), keySize)}
	}
	prefixBytes := (prefixBits + 7) / 8
	if prefixBytes > int(keySize) {
		return nil, &HashListCreateError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("prefix of %d bits needs more bytes than key size %d provides", prefixBits, keySize)}
	}
	cleanPrefix := bitops.Prefix(prefix, prefixBits)

	f, err := os.Create(path)
	if err != nil {
		return nil, &HashListCreateError{Reason: ReasonIOError, Err: err}
	}
	if _, err := writeHeader(f, kt, description, time.Now(), keySize, payloadSize, prefixBits, cleanPrefix); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	return &Writer{
		f:           f,
		bw:          bufio.NewWriter(f),
		prefixBits:  prefixBits,
		prefix:      cleanPrefix,
		keySize:     keySize,
		payloadSize: payloadSize,
		suffixSize:  int(keySize) - prefixBits/8,
	}, nil
}

// Add appends one (key, payload) pair. key must strictly follow every
// previously added key and share the writer's declared prefix.
func (w *Writer) Add(key, payload []byte) error {
	if len(key) != int(w.keySize) {
		return &HashListCreateError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("key length %d != declared %d", len(key), w.keySize)}
	}
	if len(payload) != int(w.payloadSize) {
		return &HashListCreateError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("payload length %d != declared %d", len(payload), w.payloadSize)}
	}
	keyPrefix := bitops.Prefix(key, w.prefixBits)
	if !bytes.Equal(keyPrefix, w.prefix) {
		return &WrongPrefixError{Key: append([]byte(nil), key...), Prefix: w.prefix, Bits: w.prefixBits}
	}
	if w.lastKey != nil && bytes.Compare(key, w.lastKey) <= 0 {
		return &UnorderedEntryError{Previous: append([]byte(nil), w.lastKey...), Got: append([]byte(nil), key...)}
	}

	suffix := bitops.Suffix(key, w.prefixBits)
	if _, err := w.bw.Write(suffix); err != nil {
		return &HashListCreateError{Reason: ReasonIOError, Err: err}
	}
	if _, err := w.bw.Write(payload); err != nil {
		return &HashListCreateError{Reason: ReasonIOError, Err: err}
	}
	w.lastKey = append(w.lastKey[:0], key...)
	return nil
}

// Finish flushes, syncs, and closes the file.
func (w *Writer) Finish() error {
	if err := w.bw.Flush(); err != nil {
		return &HashListCreateError{Reason: ReasonIOError, Err: err}
	}
	if err := w.f.Sync(); err != nil {
		return &HashListCreateError{Reason: ReasonIOError, Err: err}
	}
	if err := w.f.Close(); err != nil {
		return &HashListCreateError{Reason: ReasonIOError, Err: err}
	}
	return nil
}

// Reader holds one fully-loaded hash-list file in memory: these files are
// small shards, not the multi-gigabyte indexes hashindex serves, so no
// paged or positional reading is needed.
type Reader struct {
	header  header
	entries []byte // suffix||payload records, back to back
	stride  int
}

// Open reads path fully into memory and validates its header.
func Open(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &HashListOpenError{Reason: ReasonIOError, Err: err}
	}
	hdr, err := readHeader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	entries := data[hdr.byteLen:]
	suffixSize := int(hdr.KeySize) - hdr.PrefixBits/8
	if suffixSize < 0 {
		return nil, &HashListOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("prefix of %d bits needs more bytes than key size %d provides", hdr.PrefixBits, hdr.KeySize)}
	}
	stride := suffixSize + int(hdr.PayloadSize)
	if stride > 0 && len(entries)%stride != 0 {
		return nil, &HashListOpenError{Reason: ReasonInvalidHeader, Err: fmt.Errorf("entry stream length %d not a multiple of stride %d", len(entries), stride)}
	}
	return &Reader{header: *hdr, entries: entries, stride: stride}, nil
}

func (r *Reader) KeyType() keytype.KeyType { return r.header.KeyType }
func (r *Reader) Description() string      { return r.header.Description }
func (r *Reader) Mtime() time.Time         { return r.header.Mtime }
func (r *Reader) PrefixBits() int          { return r.header.PrefixBits }
func (r *Reader) NumEntries() int {
	if r.stride == 0 {
		return 0
	}
	return len(r.entries) / r.stride
}

// Lookup scans entries in order, returning the payload for key or
// found=false if key isn't present.
func (r *Reader) Lookup(key []byte) (payload []byte, found bool, err error) {
	if len(key) != int(r.header.KeySize) {
		return nil, false, &HashListOpenError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("key length %d != %d", len(key), r.header.KeySize)}
	}
	suffixSize := r.stride - int(r.header.PayloadSize)
	target := bitops.Suffix(key, r.header.PrefixBits)
	for off := 0; off+r.stride <= len(r.entries); off += r.stride {
		suffix := r.entries[off : off+suffixSize]
		cmp := bytes.Compare(suffix, target)
		if cmp == 0 {
			p := make([]byte, r.header.PayloadSize)
			copy(p, r.entries[off+suffixSize:off+r.stride])
			return p, true, nil
		}
		if cmp > 0 {
			break
		}
	}
	return nil, false, nil
}

// Entry is one (key, payload) pair yielded by All.
type Entry struct {
	Key     []byte
	Payload []byte
}

// All reconstructs every (key, payload) pair in ascending order.
func (r *Reader) All() []Entry {
	if r.stride == 0 {
		return nil
	}
	suffixSize := r.stride - int(r.header.PayloadSize)
	n := len(r.entries) / r.stride
	out := make([]Entry, 0, n)
	for off := 0; off+r.stride <= len(r.entries); off += r.stride {
		suffix := r.entries[off : off+suffixSize]
		payload := make([]byte, r.header.PayloadSize)
		copy(payload, r.entries[off+suffixSize:off+r.stride])
		out = append(out, Entry{Key: bitops.Unsplit(r.header.Prefix, suffix, r.header.PrefixBits), Payload: payload})
	}
	return out
}
