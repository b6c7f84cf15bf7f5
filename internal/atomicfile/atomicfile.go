// Package atomicfile provides write-to-temp + fsync + rename durability,
// grounded on the teacher's binary self-update in cmd/wt/update.go (temp
// file next to the target, then os.Rename) and generalized here with an
// fsync before rename since these files guard process-restart recovery
// rather than a binary replaced before the next exec.
package atomicfile

import (
	"os"
	"path/filepath"
)

// Write durably replaces path's contents with data: it writes to a sibling
// temp file, fsyncs it, then renames over path. On crash, path either holds
// its old contents or its new ones — never a partial write.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
