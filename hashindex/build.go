package hashindex

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/stbuehler/go-hibp-index/bitops"
	"github.com/stbuehler/go-hibp-index/buckettable"
	"github.com/stbuehler/go-hibp-index/continuity"
	"github.com/stbuehler/go-hibp-index/keytype"
	"github.com/stbuehler/go-hibp-index/manifest"
)

// Builder writes a sealed index file in a single forward pass over
// already-sorted (key, payload) entries. Entries must be added in strictly
// increasing key order; Builder never buffers or re-sorts them.
type Builder struct {
	f  *os.File
	bw *bufio.Writer

	path        string
	keyType     keytype.KeyType
	keySize     uint8
	payloadSize uint8
	depth       int

	table    *buckettable.Builder
	streamPos uint64
	entries   uint64
	lastKey   []byte
	started   time.Time

	finished bool
}

// Create opens path for writing and emits the header. depth sets the bucket
// table's fan-out (2^depth buckets); it must satisfy
// depth/8+1 <= keySize, so at least one key byte is left after the
// whole-byte part of the bucket prefix is dropped.
func Create(path string, kt keytype.KeyType, description string, keySize, payloadSize uint8, depth int) (*Builder, error) {
	if keySize == 0 {
		return nil, &BuilderCreateError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("key size must be > 0")}
	}
	if !kt.IsZero() && kt.ByteLength() != 0 && int(keySize) != kt.ByteLength() {
		return nil, &BuilderCreateError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("key type %s expects %d-byte keys, got %d", kt.Name(), kt.ByteLength(), keySize)}
	}
	if depth < 0 || depth > buckettable.MaxDepth {
		return nil, &BuilderCreateError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("depth %d out of range [0,%d]", depth, buckettable.MaxDepth)}
	}
	if depth/8+1 > int(keySize) {
		// at least one suffix byte must remain after stripping the bucket prefix
		return nil, &BuilderCreateError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("depth %d leaves no suffix byte for key size %d", depth, keySize)}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, &BuilderCreateError{Reason: ReasonIOError, Err: err}
	}

	if _, err := writeHeader(f, kt, description, keySize, payloadSize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	tableBuilder, err := buckettable.NewBuilder(depth)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, &BuilderCreateError{Reason: ReasonInvalidDepth, Err: err}
	}

	return &Builder{
		f:           f,
		bw:          bufio.NewWriter(f),
		path:        path,
		keyType:     kt,
		keySize:     keySize,
		payloadSize: payloadSize,
		depth:       depth,
		table:       tableBuilder,
		started:     time.Now(),
	}, nil
}

// AddEntry appends one (key, payload) pair. key must strictly follow every
// previously added key (bytewise order); payload is opaque and copied
// verbatim to the entry stream.
func (b *Builder) AddEntry(key, payload []byte) error {
	if b.finished {
		return &BuilderCreateError{Reason: ReasonIOError, Err: fmt.Errorf("builder already finished")}
	}
	if len(key) != int(b.keySize) {
		return &BuilderCreateError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("key length %d != declared %d", len(key), b.keySize)}
	}
	if len(payload) != int(b.payloadSize) {
		return &BuilderCreateError{Reason: ReasonInvalidKeyLength, Err: fmt.Errorf("payload length %d != declared %d", len(payload), b.payloadSize)}
	}
	if b.lastKey != nil && bytes.Compare(key, b.lastKey) <= 0 {
		return &UnorderedEntryError{Previous: append([]byte(nil), b.lastKey...), Got: append([]byte(nil), key...)}
	}

	bucket := int(bitops.BucketIndex(key, b.depth))
	if err := b.table.Advance(bucket, b.streamPos); err != nil {
		return &BuilderCreateError{Reason: ReasonInvalidDepth, Err: err}
	}

	suffix := bitops.Suffix(key, b.depth)
	if _, err := b.bw.Write(suffix); err != nil {
		return &BuilderCreateError{Reason: ReasonIOError, Err: err}
	}
	if _, err := b.bw.Write(payload); err != nil {
		return &BuilderCreateError{Reason: ReasonIOError, Err: err}
	}

	b.streamPos += uint64(len(suffix) + len(payload))
	b.entries++
	b.lastKey = append(b.lastKey[:0], key...)
	return nil
}

// Finish seals the index: flushes pending entries, appends the compressed
// bucket table and its length trailer, syncs, and closes the file.
func (b *Builder) Finish() error {
	return b.finish(nil, "")
}

// FinishWithManifest seals the index exactly like Finish, and additionally
// writes a build manifest sidecar to manifestPath describing this build
// under indexName.
func (b *Builder) FinishWithManifest(manifestPath, indexName string) error {
	return b.finish(&manifestPath, indexName)
}

func (b *Builder) finish(manifestPath *string, indexName string) error {
	if b.finished {
		return &BuilderCreateError{Reason: ReasonIOError, Err: fmt.Errorf("builder already finished")}
	}
	b.finished = true

	table := b.table.Finish(b.streamPos)

	var tableLen uint32
	err := continuity.New().
		Thenf("flush entries", func() error { return b.bw.Flush() }).
		Thenf("write table", func() error {
			n, err := table.WriteTo(b.f)
			tableLen = n
			return err
		}).
		Thenf("write trailer", func() error {
			var trailer [4]byte
			trailer[0] = byte(tableLen >> 24)
			trailer[1] = byte(tableLen >> 16)
			trailer[2] = byte(tableLen >> 8)
			trailer[3] = byte(tableLen)
			_, err := b.f.Write(trailer[:])
			return err
		}).
		Thenf("sync", func() error { return b.f.Sync() }).
		Thenf("close", func() error { return b.f.Close() }).
		Err()
	if err != nil {
		return &BuilderCreateError{Reason: ReasonIOError, Err: err}
	}

	if manifestPath != nil {
		bm := manifest.NewBuildManifest(indexName, b.keyType.Name(), b.entries, uint8(b.depth), b.payloadSize, time.Since(b.started))
		if err := manifest.WriteFile(*manifestPath, bm); err != nil {
			return &BuilderCreateError{Reason: ReasonIOError, Err: err}
		}
	}
	return nil
}

// Entries reports how many entries have been added so far.
func (b *Builder) Entries() uint64 { return b.entries }
