package extsort

import (
	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"v.io/x/lib/vlog"
)

// mergeLeaf pairs one run reader with its pending head item. seq is the
// run's index (0,1,2..) in the list of runs handed to the merge; it
// breaks comparator ties so that, for a given list of runs, the merged
// interleaving of equal items is reproducible. The list itself is in
// the order the workers finished their runs.
type mergeLeaf[T any] struct {
	seq  int
	r    *runReader[T]
	less func(a, b T) bool
}

func (l *mergeLeaf[T]) Compare(c llrb.Comparable) int {
	o := c.(*mergeLeaf[T])
	if l.less(l.r.item, o.r.item) {
		return -1
	}
	if l.less(o.r.item, l.r.item) {
		return 1
	}
	return l.seq - o.seq
}

// Stream is the sorted output of Sort: a lazy, non-restartable k-way
// merge over the persisted runs. The tree holds one leaf per
// still-non-empty run, keyed by the run's head item, so the minimum
// leaf always carries the globally smallest pending item.
//
// The stream owns the working directory and every open run reader;
// Close releases both.
type Stream[T any] struct {
	workDir string
	readers []*runReader[T]
	tree    llrb.Tree
	cur     T
	err     error
	closed  bool
}

// newStream opens a reader for every run and primes the merge tree with
// each run's first item. Immediately-empty runs are dropped. Any open,
// read or decode failure aborts construction; the caller removes the
// working directory.
func newStream[T any](workDir string, runs []string, opts SortOptions[T]) (*Stream[T], error) {
	s := &Stream[T]{workDir: workDir, readers: make([]*runReader[T], len(runs))}
	err := traverse.Each(len(runs), func(i int) error {
		r, err := openRun(runs[i], opts.Codec, opts.Compression)
		if err != nil {
			return err
		}
		s.readers[i] = r
		return nil
	})
	if err != nil {
		s.closeReaders()
		return nil, err
	}
	for i, r := range s.readers {
		if r.scan() {
			s.tree.Insert(&mergeLeaf[T]{seq: i, r: r, less: opts.Less})
		} else if r.err != nil {
			s.closeReaders()
			return nil, r.err
		}
	}
	vlog.VI(1).Infof("extsort: merging %d runs, %d non-empty", len(runs), s.tree.Len())
	return s, nil
}

// Scan advances the stream to the next item in sort order. It returns
// false at the end of the stream, after Close, or on error; Err
// distinguishes the last case. Once Scan has returned false it keeps
// returning false.
func (s *Stream[T]) Scan() bool {
	if s.closed || s.err != nil || s.tree.Len() == 0 {
		return false
	}
	var min *mergeLeaf[T]
	s.tree.Do(func(c llrb.Comparable) bool {
		min = c.(*mergeLeaf[T])
		return true
	})
	s.tree.DeleteMin()
	s.cur = min.r.item
	if min.r.scan() {
		s.tree.Insert(min)
	} else if min.r.err != nil {
		s.err = min.r.err
		return false
	}
	return true
}

// Item returns the current item.
//
// REQUIRES: Scan() returned true.
func (s *Stream[T]) Item() T { return s.cur }

// Err returns the first error encountered while merging, or nil.
func (s *Stream[T]) Err() error { return s.err }

// Close releases all run readers and deletes the working directory. It
// is legal to Close before the stream is exhausted. Close returns the
// first error encountered while merging; teardown failures are only
// logged. Close is idempotent.
func (s *Stream[T]) Close() error {
	if s.closed {
		return s.err
	}
	s.closed = true
	s.closeReaders()
	removeWorkDir(s.workDir)
	return s.err
}

func (s *Stream[T]) closeReaders() {
	for _, r := range s.readers {
		if r == nil {
			continue
		}
		if err := r.close(); err != nil {
			log.Error.Printf("extsort: close run %v: %v", r.path, err)
		}
	}
	s.readers = nil
}
