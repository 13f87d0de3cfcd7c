package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// TempFilePrefix marks in-progress writes made by WriteFileAtomic.
const TempFilePrefix = ".tmp-"

func GetUserAppDataDir(appName string) (string, error) {
	var base string

	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData") // e.g. C:\Users\user\AppData\Roaming
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support")
	default: // Linux and others
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}

	if base == "" {
		return "", fmt.Errorf("could not determine base config path")
	}

	appDataPath := filepath.Join(base, appName)
	err := os.MkdirAll(appDataPath, 0755)
	if err != nil {
		return "", fmt.Errorf("failed to create app data dir: %w", err)
	}

	return appDataPath, nil
}

// GetUserCacheDir returns the OS cache directory for appName, e.g.
// ~/.cache/<appName> on linux or ~/Library/Caches/<appName> on darwin.
// The OS or the user may purge it at any time.
func GetUserCacheDir(appName string) (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user cache dir: %w", err)
	}

	cachePath := filepath.Join(base, appName)
	if err := os.MkdirAll(cachePath, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}

	return cachePath, nil
}

func EnsureDir(path string) error {
	err := os.MkdirAll(path, 0755)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil

}

// WriteFileAtomic writes data to dir/name so that readers either see the
// previous file or the complete new one, never a partial write.
func WriteFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, TempFilePrefix+name+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	target := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file to %q: %w", target, err)
	}

	return syncDir(dir)
}

// RemoveTempFiles deletes leftovers of interrupted WriteFileAtomic calls and
// returns how many were removed.
func RemoveTempFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), TempFilePrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
