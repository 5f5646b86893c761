package hashindex

import "fmt"

// FixedBytes is the capability a typed key or payload needs: conversion to
// a byte slice. Decoding from bytes is supplied separately, as the decode
// functions passed to NewTypedReader.
type FixedBytes interface {
	Bytes() []byte
}

// TypedBuilder wraps a Builder to accept fixed-size array keys/payloads
// instead of raw byte slices, without duplicating any lookup or encoding
// logic.
type TypedBuilder[K, P FixedBytes] struct {
	b *Builder
}

// NewTypedBuilder wraps an already-created Builder.
func NewTypedBuilder[K, P FixedBytes](b *Builder) *TypedBuilder[K, P] {
	return &TypedBuilder[K, P]{b: b}
}

func (t *TypedBuilder[K, P]) AddEntry(key K, payload P) error {
	return t.b.AddEntry(key.Bytes(), payload.Bytes())
}

func (t *TypedBuilder[K, P]) Finish() error                                  { return t.b.Finish() }
func (t *TypedBuilder[K, P]) FinishWithManifest(path, indexName string) error { return t.b.FinishWithManifest(path, indexName) }

// TypedReader wraps a Reader to decode fixed-size array keys/payloads,
// validating their widths against the index header once at construction
// time instead of on every lookup.
type TypedReader[K, P FixedBytes] struct {
	r          *Reader
	decodeKey  func([]byte) (K, error)
	decodePayl func([]byte) (P, error)
}

// NewTypedReader wraps an already-open Reader, checking that its declared
// key and payload sizes match keySize/payloadSize.
func NewTypedReader[K, P FixedBytes](r *Reader, keySize, payloadSize int, decodeKey func([]byte) (K, error), decodePayload func([]byte) (P, error)) (*TypedReader[K, P], error) {
	if r.KeySize() != keySize {
		return nil, fmt.Errorf("index key size %d does not match typed width %d", r.KeySize(), keySize)
	}
	if r.PayloadSize() != payloadSize {
		return nil, fmt.Errorf("index payload size %d does not match typed width %d", r.PayloadSize(), payloadSize)
	}
	return &TypedReader[K, P]{r: r, decodeKey: decodeKey, decodePayl: decodePayload}, nil
}

func (t *TypedReader[K, P]) Lookup(key K) (payload P, found bool, err error) {
	raw, found, err := t.r.Lookup(key.Bytes())
	if err != nil || !found {
		return payload, found, err
	}
	payload, err = t.decodePayl(raw)
	return payload, true, err
}

func (t *TypedReader[K, P]) Close() error { return t.r.Close() }
