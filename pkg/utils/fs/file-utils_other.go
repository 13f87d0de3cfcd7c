//go:build !darwin && !linux

package fs

// Directories cannot be opened for fsync here; the rename is as durable as it gets.
func syncDir(dir string) error {
	return nil
}
