package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"imagecache/pkg/utils/fs"
	"imagecache/pkg/utils/hash"
	"os"
	"path/filepath"
	"strings"
)

const diskEntryExt = ".img"

var ErrCorruptedEntry = errors.New("corrupted cache entry")

// DiskCache is the durable tier. Every key lives in its own file named after
// a digest of the key, so arbitrary URLs never touch path semantics. A file
// holds:
//
//	keyLen uint32 | key | valLen uint32 | value
//
// The stored key guards against digest collisions.
type DiskCache struct {
	dir string
}

// NewDiskCache opens a cache rooted at storagePath, creating the directory if
// needed and discarding writes that were interrupted by a crash.
func NewDiskCache(storagePath string) (*DiskCache, error) {
	if err := fs.EnsureDir(storagePath); err != nil {
		return nil, err
	}
	if _, err := fs.RemoveTempFiles(storagePath); err != nil {
		return nil, fmt.Errorf("failed to clean disk cache at %s: %w", storagePath, err)
	}
	return &DiskCache{dir: storagePath}, nil
}

func (cache *DiskCache) Dir() string {
	return cache.dir
}

func (cache *DiskCache) fileName(key string) string {
	return hash.HashString(key) + diskEntryExt
}

// Path returns the file that holds key.
func (cache *DiskCache) Path(key string) string {
	return filepath.Join(cache.dir, cache.fileName(key))
}

// Get returns the bytes stored for key. A missing file is a plain miss; any
// other failure is reported alongside the miss so callers can log it.
func (cache *DiskCache) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(cache.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	storedKey, value, err := decodeEntry(data)
	if err != nil {
		return nil, false, err
	}
	if storedKey != key {
		return nil, false, nil
	}
	return value, true, nil
}

// Set persists value atomically; concurrent writers of the same key leave
// one complete file behind.
func (cache *DiskCache) Set(key string, value []byte) error {
	return fs.WriteFileAtomic(cache.dir, cache.fileName(key), encodeEntry(key, value))
}

func (cache *DiskCache) Delete(key string) {
	os.Remove(cache.Path(key))
}

// Len counts the entries currently on disk.
func (cache *DiskCache) Len() int {
	entries, err := os.ReadDir(cache.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), diskEntryExt) && !strings.HasPrefix(entry.Name(), fs.TempFilePrefix) {
			n++
		}
	}
	return n
}

// Close is a no-op; files are complete as soon as Set returns.
func (cache *DiskCache) Close() error {
	return nil
}

func encodeEntry(key string, value []byte) []byte {
	data := make([]byte, 4+len(key)+4+len(value))
	offset := 0

	binary.BigEndian.PutUint32(data[offset:offset+4], uint32(len(key)))
	offset += 4
	copy(data[offset:offset+len(key)], key)
	offset += len(key)

	binary.BigEndian.PutUint32(data[offset:offset+4], uint32(len(value)))
	offset += 4
	copy(data[offset:], value)

	return data
}

func decodeEntry(data []byte) (string, []byte, error) {
	offset := uint64(0)
	dataLen := uint64(len(data))

	if offset+4 > dataLen {
		return "", nil, ErrCorruptedEntry
	}
	keyLen := uint64(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if offset+keyLen > dataLen {
		return "", nil, ErrCorruptedEntry
	}
	key := string(data[offset : offset+keyLen])
	offset += keyLen

	if offset+4 > dataLen {
		return "", nil, ErrCorruptedEntry
	}
	valLen := uint64(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if offset+valLen != dataLen {
		return "", nil, ErrCorruptedEntry
	}

	return key, data[offset:], nil
}
