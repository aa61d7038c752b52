package extsort

import (
	"os"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"v.io/x/lib/vlog"
)

// sorter drives the chunking pass: it fills buffers from the source and
// hands each full buffer to a pool of background workers that sort it
// and persist it as one run file. The dispatch channel is bounded by
// Parallelism, so the producer blocks once the pool is saturated and
// total live buffer memory stays proportional to Parallelism.
type sorter[T any] struct {
	opts    SortOptions[T]
	workDir string
	err     errors.Once
	wg      sync.WaitGroup
	runCh   chan []T

	mu   sync.Mutex
	runs []string // pathnames of persisted run files
}

func newSorter[T any](workDir string, opts SortOptions[T]) *sorter[T] {
	s := &sorter[T]{
		opts:    opts,
		workDir: workDir,
		runCh:   make(chan []T, opts.Parallelism),
	}
	for i := 0; i < opts.Parallelism; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for items := range s.runCh {
				if s.err.Err() != nil {
					// First failure wins; drain and discard the rest.
					continue
				}
				path := s.writeRun(items)
				if path == "" {
					continue
				}
				s.mu.Lock()
				s.runs = append(s.runs, path)
				s.mu.Unlock()
			}
		}()
	}
	return s
}

// run consumes the source to exhaustion and returns the persisted run
// files, in arbitrary order. The merge is order-insensitive.
func (s *sorter[T]) run(src Source[T]) ([]string, error) {
	buf := s.opts.NewBuffer()
	for src.Scan() {
		item := src.Item()
		if buf.Push(item) {
			continue
		}
		if s.err.Err() != nil {
			break
		}
		s.runCh <- buf.Drain()
		buf = s.opts.NewBuffer()
		if !buf.Push(item) {
			// Every Buffer must admit at least one item when empty.
			s.err.Set(errors.E(errors.Invalid, "extsort: buffer rejected an item while empty"))
			break
		}
	}
	s.err.Set(src.Err())
	if s.err.Err() == nil && !buf.Empty() {
		s.runCh <- buf.Drain()
	}
	close(s.runCh)
	s.wg.Wait()
	if err := s.err.Err(); err != nil {
		return nil, err
	}
	vlog.VI(1).Infof("extsort: chunking done, %d runs in %v", len(s.runs), s.workDir)
	return s.runs, nil
}

// writeRun sorts one drained buffer and persists it as a run file. It
// returns the path, or "" after reporting the failure through s.err.
func (s *sorter[T]) writeRun(items []T) string {
	less := s.opts.Less
	sort.Slice(items, func(i, j int) bool { return less(items[i], items[j]) })
	f, err := os.CreateTemp(s.workDir, "run")
	if err != nil {
		s.err.Set(errors.E(err, "extsort: create run file"))
		return ""
	}
	path := f.Name()
	fail := func(err error) string {
		s.err.Set(err)
		_ = f.Close()
		if err := os.Remove(path); err != nil {
			vlog.Errorf("extsort: remove partial run %v: %v", path, err)
		}
		return ""
	}
	w, err := newRunWriter(f, s.opts.Codec, s.opts.Compression)
	if err != nil {
		return fail(err)
	}
	for _, item := range items {
		if err := w.write(item); err != nil {
			return fail(err)
		}
	}
	if err := w.finish(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		return fail(errors.E(err, "extsort: close run file", path))
	}
	vlog.VI(1).Infof("extsort: wrote run %v, %d items", path, len(items))
	return path
}
