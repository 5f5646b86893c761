// Package manifest encodes the small sidecar file written next to a sealed
// index by the build-index command. It carries operational metadata about a
// build (how many entries, how deep the bucket table is, how long it took)
// for fleet inventory and rebuild audits. It is never read by the index
// builder or reader themselves.
package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/google/uuid"
)

const (
	MaxNumKVs    = 255
	MaxKeySize   = 255
	MaxValueSize = 255
)

// KV is a single length-prefixed key/value pair.
type KV struct {
	Key   []byte
	Value []byte
}

func NewKV(key, value []byte) KV {
	return KV{Key: key, Value: value}
}

// Meta is a small, self-delimiting set of key/value blobs, Borsh-compatible
// on the wire (one length byte, then that many length-prefixed pairs).
type Meta struct {
	KeyVals []KV
}

func (m *Meta) Bytes() []byte {
	b, err := m.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}

func (m Meta) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if len(m.KeyVals) > MaxNumKVs {
		return nil, fmt.Errorf("number of key-value pairs %d exceeds max %d", len(m.KeyVals), MaxNumKVs)
	}
	buf.WriteByte(byte(len(m.KeyVals)))
	for i, kv := range m.KeyVals {
		if len(kv.Key) > MaxKeySize {
			return nil, fmt.Errorf("key %d size %d exceeds max %d", i, len(kv.Key), MaxKeySize)
		}
		buf.WriteByte(byte(len(kv.Key)))
		buf.Write(kv.Key)
		if len(kv.Value) > MaxValueSize {
			return nil, fmt.Errorf("value %d size %d exceeds max %d", i, len(kv.Value), MaxValueSize)
		}
		buf.WriteByte(byte(len(kv.Value)))
		buf.Write(kv.Value)
	}
	return buf.Bytes(), nil
}

type decoder interface {
	io.ByteReader
	io.Reader
}

func (m *Meta) UnmarshalWithDecoder(r decoder) error {
	numKVs, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("reading number of key-value pairs: %w", err)
	}
	for i := 0; i < int(numKVs); i++ {
		var kv KV
		keyLen, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("reading key %d length: %w", i, err)
		}
		kv.Key = make([]byte, keyLen)
		if _, err := io.ReadFull(r, kv.Key); err != nil {
			return fmt.Errorf("reading key %d: %w", i, err)
		}
		valueLen, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("reading value %d length: %w", i, err)
		}
		kv.Value = make([]byte, valueLen)
		if _, err := io.ReadFull(r, kv.Value); err != nil {
			return fmt.Errorf("reading value %d: %w", i, err)
		}
		m.KeyVals = append(m.KeyVals, kv)
	}
	return nil
}

func (m *Meta) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return m.UnmarshalWithDecoder(bin.NewBorshDecoder(b))
}

func (m *Meta) Add(key, value []byte) error {
	if len(m.KeyVals) >= MaxNumKVs {
		return fmt.Errorf("number of key-value pairs %d exceeds max %d", len(m.KeyVals), MaxNumKVs)
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("key size %d exceeds max %d", len(key), MaxKeySize)
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("value size %d exceeds max %d", len(value), MaxValueSize)
	}
	m.KeyVals = append(m.KeyVals, KV{Key: cloneBytes(key), Value: cloneBytes(value)})
	return nil
}

func cloneBytes(b []byte) []byte { return append([]byte(nil), b...) }

func (m *Meta) AddString(key []byte, value string) error { return m.Add(key, []byte(value)) }

func (m Meta) GetString(key []byte) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return string(v), true
}

func (m *Meta) AddUint64(key []byte, value uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	return m.Add(key, buf[:])
}

func (m Meta) GetUint64(key []byte) (uint64, bool) {
	v, ok := m.Get(key)
	if !ok || len(v) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v), true
}

func (m Meta) Get(key []byte) ([]byte, bool) {
	for _, kv := range m.KeyVals {
		if bytes.Equal(kv.Key, key) {
			return kv.Value, true
		}
	}
	return nil, false
}

// Well-known manifest keys.
var (
	KeyBuildID     = []byte("build-id")
	KeyIndexName   = []byte("index-name")
	KeyEntryCount  = []byte("entry-count")
	KeyDepth       = []byte("depth")
	KeyKeyType     = []byte("key-type")
	KeyPayloadSize = []byte("payload-size")
	KeyDurationMs  = []byte("duration-ms")
)

// BuildManifest is the typed view over Meta that build-index writes out.
type BuildManifest struct {
	BuildID     uuid.UUID
	IndexName   string
	EntryCount  uint64
	Depth       uint8
	KeyType     string
	PayloadSize uint8
	Duration    time.Duration
}

// NewBuildManifest stamps a fresh random build ID.
func NewBuildManifest(indexName, keyType string, entryCount uint64, depth uint8, payloadSize uint8, dur time.Duration) BuildManifest {
	return BuildManifest{
		BuildID:     uuid.New(),
		IndexName:   indexName,
		EntryCount:  entryCount,
		Depth:       depth,
		KeyType:     keyType,
		PayloadSize: payloadSize,
		Duration:    dur,
	}
}

func (bm BuildManifest) Meta() (*Meta, error) {
	m := &Meta{}
	if err := m.AddString(KeyBuildID, bm.BuildID.String()); err != nil {
		return nil, err
	}
	if err := m.AddString(KeyIndexName, bm.IndexName); err != nil {
		return nil, err
	}
	if err := m.AddUint64(KeyEntryCount, bm.EntryCount); err != nil {
		return nil, err
	}
	if err := m.AddUint64(KeyDepth, uint64(bm.Depth)); err != nil {
		return nil, err
	}
	if err := m.AddString(KeyKeyType, bm.KeyType); err != nil {
		return nil, err
	}
	if err := m.AddUint64(KeyPayloadSize, uint64(bm.PayloadSize)); err != nil {
		return nil, err
	}
	if err := m.AddUint64(KeyDurationMs, uint64(bm.Duration.Milliseconds())); err != nil {
		return nil, err
	}
	return m, nil
}

// WriteFile writes the manifest to path, overwriting it if present.
func WriteFile(path string, bm BuildManifest) error {
	m, err := bm.Meta()
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return os.WriteFile(path, m.Bytes(), 0o644)
}

// ReadFile reads back a manifest written by WriteFile.
func ReadFile(path string) (BuildManifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return BuildManifest{}, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var m Meta
	if err := m.UnmarshalBinary(b); err != nil {
		return BuildManifest{}, fmt.Errorf("decoding manifest: %w", err)
	}
	var bm BuildManifest
	if s, ok := m.GetString(KeyBuildID); ok {
		id, err := uuid.Parse(s)
		if err != nil {
			return BuildManifest{}, fmt.Errorf("invalid build id %q: %w", s, err)
		}
		bm.BuildID = id
	}
	bm.IndexName, _ = m.GetString(KeyIndexName)
	if n, ok := m.GetUint64(KeyEntryCount); ok {
		bm.EntryCount = n
	}
	if d, ok := m.GetUint64(KeyDepth); ok {
		bm.Depth = uint8(d)
	}
	bm.KeyType, _ = m.GetString(KeyKeyType)
	if p, ok := m.GetUint64(KeyPayloadSize); ok {
		bm.PayloadSize = uint8(p)
	}
	if ms, ok := m.GetUint64(KeyDurationMs); ok {
		bm.Duration = time.Duration(ms) * time.Millisecond
	}
	return bm, nil
}
