package main

// extsort sorts the lines of a text file in ascending byte order,
// spilling presorted runs to temporary files so inputs far larger than
// memory are fine.
//
// Usage: extsort [flags] <input> <output>
//
// If <input> is '-', lines are read from stdin; if <output> is '-', the
// sorted lines are written to stdout. Input and output paths go through
// grailbio/base/file, so s3:// paths work as well.

import (
	"bufio"
	"flag"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/extsort"
	"github.com/pkg/errors"
)

var (
	memoryFlag      = flag.String("memory", "256MiB", "Per-buffer memory budget, e.g. 64MiB or 1GB. Peak memory grows linearly with -parallelism")
	parallelismFlag = flag.Int("parallelism", 0, "Number of background sort workers. <= 0 means the number of CPUs")
	tmpDirFlag      = flag.String("tmpdir", "", "Directory to store temporary run files. \"\" means the system default, usually /tmp")
	noCompressFlag  = flag.Bool("no-compress-tmp-files", false, "Do not compress temporary run files with snappy")
)

const maxLine = 16 << 20

// lineSource yields the lines of a text stream.
type lineSource struct {
	name    string
	scanner *bufio.Scanner
	line    string
	err     error
}

func newLineSource(name string, in io.Reader) *lineSource {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLine)
	return &lineSource{name: name, scanner: scanner}
}

func (s *lineSource) Scan() bool {
	if s.err != nil {
		return false
	}
	if !s.scanner.Scan() {
		s.err = errors.Wrapf(s.scanner.Err(), "read %v", s.name)
		return false
	}
	s.line = s.scanner.Text()
	return true
}

func (s *lineSource) Item() string { return s.line }

func (s *lineSource) Err() error { return s.err }

// parseSize parses a human-readable byte count such as 64KiB, 1.5GB or
// a plain 1048576.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	i := len(s)
	for i > 0 && (unicode.IsLetter(rune(s[i-1])) || s[i-1] == ' ') {
		i--
	}
	num, unit := strings.TrimSpace(s[:i]), strings.ToUpper(strings.TrimSpace(s[i:]))
	mult, ok := map[string]int64{
		"": 1, "B": 1,
		"K": 1e3, "KB": 1e3, "M": 1e6, "MB": 1e6, "G": 1e9, "GB": 1e9, "T": 1e12, "TB": 1e12,
		"KIB": 1 << 10, "MIB": 1 << 20, "GIB": 1 << 30, "TIB": 1 << 40,
	}[unit]
	if !ok {
		return 0, errors.Errorf("unknown size unit %q", unit)
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse size %q", s)
	}
	n := int64(v * float64(mult))
	if n <= 0 {
		return 0, errors.Errorf("size %q must be positive", s)
	}
	return n, nil
}

// sortFile streams the lines of inPath through the external sorter into
// outPath.
func sortFile(inPath, outPath string, budget int64) (err error) {
	ctx := vcontext.Background()
	in := io.Reader(os.Stdin)
	if inPath != "-" {
		f, openErr := file.Open(ctx, inPath)
		if openErr != nil {
			return errors.Wrapf(openErr, "open %v", inPath)
		}
		defer func() {
			if e := f.Close(ctx); e != nil && err == nil {
				err = errors.Wrapf(e, "close %v", inPath)
			}
		}()
		in = f.Reader(ctx)
	}
	compression := extsort.CompressionDefault
	if *noCompressFlag {
		compression = extsort.CompressionNone
	}
	stream, err := extsort.Sort(newLineSource(inPath, in), extsort.SortOptions[string]{
		Less: extsort.NaturalOrder[string](),
		NewBuffer: func() extsort.Buffer[string] {
			return extsort.NewMemoryBuffer[string](budget, nil)
		},
		Parallelism: *parallelismFlag,
		TmpDir:      *tmpDirFlag,
		Compression: compression,
	})
	if err != nil {
		return errors.Wrapf(err, "sort %v", inPath)
	}
	defer func() {
		if e := stream.Close(); e != nil && err == nil {
			err = e
		}
	}()

	out := io.Writer(os.Stdout)
	if outPath != "-" {
		f, createErr := file.Create(ctx, outPath)
		if createErr != nil {
			return errors.Wrapf(createErr, "create %v", outPath)
		}
		defer func() {
			if e := f.Close(ctx); e != nil && err == nil {
				err = errors.Wrapf(e, "close %v", outPath)
			}
		}()
		out = f.Writer(ctx)
	}
	w := bufio.NewWriterSize(out, 1<<20)
	for stream.Scan() {
		w.WriteString(stream.Item()) // nolint: errcheck
		w.WriteByte('\n')            // nolint: errcheck
	}
	if err := stream.Err(); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "write %v", outPath)
	}
	return nil
}

func main() {
	flag.Usage = func() {
		os.Stderr.WriteString(`Usage: extsort [flags] <input> <output>

Sorts the lines of <input> in ascending byte order and writes them to
<output>, spilling presorted runs to temporary files so inputs far
larger than memory are fine. '-' means stdin or stdout.
`)
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()

	args := flag.Args()
	if len(args) != 2 {
		flag.Usage()
		os.Exit(1)
	}
	budget, err := parseSize(*memoryFlag)
	if err != nil {
		log.Fatalf("-memory %v: %v", *memoryFlag, err)
	}
	if err := sortFile(args[0], args[1], budget); err != nil {
		log.Fatalf("sort %v to %v: %v", args[0], args[1], err)
	}
}
