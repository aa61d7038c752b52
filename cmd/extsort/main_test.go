package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int64
	}{
		{"1048576", 1048576},
		{"1KB", 1000},
		{"64KiB", 64 << 10},
		{"256MiB", 256 << 20},
		{"1.5GB", 1500000000},
		{"2GiB", 2 << 30},
		{"10M", 10000000},
		{"512 MiB", 512 << 20},
		{"7b", 7},
	} {
		got, err := parseSize(tc.in)
		require.NoErrorf(t, err, "parse %q", tc.in)
		assert.Equalf(t, tc.want, got, "parse %q", tc.in)
	}
	for _, bad := range []string{"", "abc", "12XB", "-5MB", "0"} {
		_, err := parseSize(bad)
		require.Errorf(t, err, "parse %q", bad)
	}
}

func TestLineSource(t *testing.T) {
	src := newLineSource("test", strings.NewReader("b\na\nc\n"))
	var lines []string
	for src.Scan() {
		lines = append(lines, src.Item())
	}
	require.NoError(t, src.Err())
	assert.Equal(t, []string{"b", "a", "c"}, lines)
}

func TestSortFileEndToEnd(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)

	inPath := filepath.Join(tempDir, "in.txt")
	outPath := filepath.Join(tempDir, "out.txt")
	require.NoError(t, os.WriteFile(inPath,
		[]byte("pear\napple\nbanana\napple\n"), 0600))

	require.NoError(t, sortFile(inPath, outPath, 1<<20))
	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "apple\napple\nbanana\npear\n", string(out))
}

func TestSortFileEmptyInput(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)

	inPath := filepath.Join(tempDir, "in.txt")
	outPath := filepath.Join(tempDir, "out.txt")
	require.NoError(t, os.WriteFile(inPath, nil, 0600))

	require.NoError(t, sortFile(inPath, outPath, 1<<20))
	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSortFileMissingInput(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup)

	err := sortFile(filepath.Join(tempDir, "missing.txt"), filepath.Join(tempDir, "out.txt"), 1<<20)
	require.Error(t, err)
}
