package extsort

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes one item to and from a byte stream. Length framing
// is owned by the run writer and reader, so Decode always sees exactly
// the bytes that Encode produced for one item.
//
// A Codec is a value-typed strategy; the engine holds one per sort and
// calls it from multiple goroutines, so implementations must not keep
// mutable state.
type Codec[T any] interface {
	Encode(w io.Writer, item T) error
	Decode(r io.Reader) (T, error)
}

// MsgpackCodec is the default Codec. It serializes items with
// MessagePack and handles any value msgpack can marshal.
type MsgpackCodec[T any] struct{}

func (MsgpackCodec[T]) Encode(w io.Writer, item T) error {
	return msgpack.NewEncoder(w).Encode(item)
}

func (MsgpackCodec[T]) Decode(r io.Reader) (T, error) {
	var item T
	err := msgpack.NewDecoder(r).Decode(&item)
	return item, err
}
