package extsort

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestRun persists items as one run file and returns its path.
func writeTestRun[T any](t *testing.T, dir, name string, codec Codec[T], c Compression, items []T) string {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := newRunWriter(f, codec, c)
	require.NoError(t, err)
	for _, item := range items {
		require.NoError(t, w.write(item))
	}
	require.NoError(t, w.finish())
	require.NoError(t, f.Close())
	return path
}

func readTestRun[T any](t *testing.T, path string, codec Codec[T], c Compression) []T {
	r, err := openRun(path, codec, c)
	require.NoError(t, err)
	var items []T
	for r.scan() {
		items = append(items, r.item)
	}
	require.NoError(t, r.err)
	require.NoError(t, r.close())
	return items
}

func TestRunRoundTrip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)

	codec := MsgpackCodec[string]{}
	items := []string{"", "apple", strings.Repeat("x", 1<<16), "zebra"}
	for _, c := range []Compression{
		CompressionDefault, CompressionNone, CompressionSnappy, CompressionZstd, CompressionLZ4,
	} {
		path := writeTestRun(t, tempDir, "run", codec, c, items)
		assert.Equalf(t, items, readTestRun(t, path, codec, c), "compression %d", c)
	}
}

func TestRunEmpty(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)

	codec := MsgpackCodec[int]{}
	path := writeTestRun(t, tempDir, "empty", codec, CompressionNone, nil)
	// An empty uncompressed run is a zero-byte file.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
	assert.Empty(t, readTestRun(t, path, codec, CompressionNone))

	path = writeTestRun(t, tempDir, "empty-snappy", codec, CompressionSnappy, nil)
	assert.Empty(t, readTestRun(t, path, codec, CompressionSnappy))
}

func TestRunTruncatedHeader(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)

	codec := MsgpackCodec[string]{}
	path := writeTestRun(t, tempDir, "run", codec, CompressionNone, []string{"aaaa", "bbbb"})
	info, err := os.Stat(path)
	require.NoError(t, err)
	// Chop the file inside the second frame header: each record is an
	// 8-byte header plus a 5-byte payload, so dropping the last 7 bytes
	// removes the second payload and the last 2 bytes of its header.
	require.NoError(t, os.Truncate(path, info.Size()-7))

	r, err := openRun(path, codec, CompressionNone)
	require.NoError(t, err)
	require.True(t, r.scan())
	assert.Equal(t, "aaaa", r.item)
	require.False(t, r.scan())
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "corrupt run frame")
	// The reader stays in its terminal errored state.
	require.False(t, r.scan())
	require.NoError(t, r.close())
}

func TestRunTruncatedPayload(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)

	codec := MsgpackCodec[string]{}
	path := writeTestRun(t, tempDir, "run", codec, CompressionNone,
		[]string{strings.Repeat("a", 100)})
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-10))

	r, err := openRun(path, codec, CompressionNone)
	require.NoError(t, err)
	require.False(t, r.scan())
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "truncated run payload")
	require.NoError(t, r.close())
}

func TestRunOpenMissing(t *testing.T) {
	_, err := openRun("/nonexistent/run", MsgpackCodec[int]{}, CompressionNone)
	require.Error(t, err)
}

// rawStringCodec writes string bytes as-is: the run framing alone
// delimits items, which is exactly the codec contract.
type rawStringCodec struct{}

func (rawStringCodec) Encode(w io.Writer, item string) error {
	_, err := io.WriteString(w, item)
	return err
}

func (rawStringCodec) Decode(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	return string(b), err
}

func TestRunCustomCodec(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)

	items := []string{"one", "", "three"}
	path := writeTestRun[string](t, tempDir, "run", rawStringCodec{}, CompressionNone, items)
	assert.Equal(t, items, readTestRun[string](t, path, rawStringCodec{}, CompressionNone))
}
