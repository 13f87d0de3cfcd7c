package fs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_WritesAndReplaces(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteFileAtomic(dir, "entry", []byte("first")))
	require.NoError(t, WriteFileAtomic(dir, "entry", []byte("second")))

	data, err := os.ReadFile(filepath.Join(dir, "entry"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files should be left behind")
}

func TestWriteFileAtomic_MissingDir(t *testing.T) {
	err := WriteFileAtomic(filepath.Join(t.TempDir(), "missing"), "entry", []byte("x"))
	assert.Error(t, err)
}

func TestWriteFileAtomic_ConcurrentSameName(t *testing.T) {
	dir := t.TempDir()
	payloads := []string{strings.Repeat("a", 4096), strings.Repeat("b", 4096), strings.Repeat("c", 4096)}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			assert.NoError(t, WriteFileAtomic(dir, "entry", []byte(p)))
		}(payloads[i%len(payloads)])
	}
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(dir, "entry"))
	require.NoError(t, err)
	assert.Contains(t, payloads, string(data), "file must hold exactly one complete payload")
}

func TestRemoveTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, TempFilePrefix+"abc-1"), []byte("partial"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep"), []byte("done"), 0644))

	removed, err := RemoveTempFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(dir, "keep"))
	assert.NoError(t, err)
}

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
