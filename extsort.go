// Package extsort sorts sequences that may be far larger than memory.
//
// The engine runs in two passes. The first pass chunks the input into
// bounded buffers, sorts each buffer on a pool of background workers,
// and spills every sorted run to a temporary file. The second pass is a
// lazy k-way merge over the persisted runs; it is exposed as a Stream
// that owns the working directory and deletes it on Close.
//
// Item type, ordering, serialization and the buffer policy are all
// supplied through SortOptions. The default codec is MessagePack.
//
// Example:
//
//	stream, err := extsort.Sort(src, extsort.SortOptions[string]{
//		Less: extsort.NaturalOrder[string](),
//	})
//	if err != nil { ... }
//	for stream.Scan() {
//		use(stream.Item())
//	}
//	err = stream.Close()
package extsort

import (
	"cmp"
	"os"
	"runtime"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// DefaultMemoryBudget is the per-buffer byte budget used when
// SortOptions.NewBuffer is unset.
const DefaultMemoryBudget = 64 << 20

// Source yields the items to be sorted. It is a lazy, fallible
// sequence: Scan returns false at the end of the input or on error, and
// Err reports the error, if any, afterwards.
type Source[T any] interface {
	// Scan advances to the next item.
	Scan() bool
	// Item returns the current item.
	//
	// REQUIRES: Scan() returned true.
	Item() T
	// Err returns the error that ended the scan, or nil on clean
	// exhaustion.
	Err() error
}

// SortOptions configures one Sort call. The zero value of every field
// other than Less selects a default.
type SortOptions[T any] struct {
	// Less is the ordering relation. It must be safe for concurrent use.
	// Required.
	Less func(a, b T) bool

	// Codec serializes items in run files. Defaults to MsgpackCodec.
	// It must be safe for concurrent use.
	Codec Codec[T]

	// NewBuffer returns a fresh, empty sort buffer. The buffer budget
	// bounds the size of each run; total engine memory during the
	// chunking pass grows linearly with Parallelism. Defaults to a
	// memory-bounded buffer of DefaultMemoryBudget bytes.
	NewBuffer func() Buffer[T]

	// Parallelism is the number of background sort workers. If <= 0, the
	// number of CPUs is used.
	Parallelism int

	// TmpDir is the directory under which the engine creates its working
	// directory. "" means the system default, usually /tmp.
	TmpDir string

	// Compression selects how run files are compressed on disk.
	// CompressionDefault means snappy.
	Compression Compression
}

func (o *SortOptions[T]) setDefaults() error {
	if o.Less == nil {
		return errors.E(errors.Invalid, "extsort: SortOptions.Less must be set")
	}
	if !o.Compression.valid() {
		return errors.E(errors.Invalid, "extsort: invalid Compression", int(o.Compression))
	}
	if o.Codec == nil {
		o.Codec = MsgpackCodec[T]{}
	}
	if o.NewBuffer == nil {
		o.NewBuffer = func() Buffer[T] { return NewMemoryBuffer[T](DefaultMemoryBudget, nil) }
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.NumCPU()
	}
	if o.Compression == CompressionDefault {
		o.Compression = CompressionSnappy
	}
	return nil
}

// Sort consumes src to exhaustion and returns a lazy stream that yields
// the items in ascending order under opts.Less. The stream owns a
// working directory of temporary run files; the caller must Close it,
// whether or not the stream is read to the end.
//
// An error from src, or any failure while writing runs, aborts the sort
// and removes the working directory before returning.
func Sort[T any](src Source[T], opts SortOptions[T]) (*Stream[T], error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(opts.TmpDir, "extsort")
	if err != nil {
		return nil, errors.E(err, "extsort: create working directory in", opts.TmpDir)
	}
	runs, err := newSorter(workDir, opts).run(src)
	if err != nil {
		removeWorkDir(workDir)
		return nil, err
	}
	stream, err := newStream(workDir, runs, opts)
	if err != nil {
		removeWorkDir(workDir)
		return nil, err
	}
	return stream, nil
}

// Working-directory removal is best effort; a leaked scoped directory
// is preferable to masking the error that got us here.
func removeWorkDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Error.Printf("extsort: remove working directory %v: %v", dir, err)
	}
}

// NaturalOrder returns the ascending order for types with a built-in
// one.
func NaturalOrder[T cmp.Ordered]() func(a, b T) bool {
	return func(a, b T) bool { return a < b }
}

type sliceSource[T any] struct {
	items []T
	cur   T
}

// NewSliceSource adapts an in-memory slice to the Source contract.
func NewSliceSource[T any](items []T) Source[T] {
	return &sliceSource[T]{items: items}
}

func (s *sliceSource[T]) Scan() bool {
	if len(s.items) == 0 {
		return false
	}
	s.cur = s.items[0]
	s.items = s.items[1:]
	return true
}

func (s *sliceSource[T]) Item() T { return s.cur }

func (s *sliceSource[T]) Err() error { return nil }
