package recordstore

import (
	"fmt"
	"os"
	"path/filepath"

	"storacore/internal/kadid"
)

// recordDir is the layout root for valid records; double-spend pairs live
// under doubleSpendDir instead. <prefix> is the first byte of the key,
// hex-encoded, bounding directory fanout the same way the teacher's
// diskLRU shards its cache directory.
const (
	recordDir      = "record_store"
	doubleSpendDir = "record_store/double_spends"
)

func prefixOf(k kadid.Key) string {
	return fmt.Sprintf("%02x", k[0])
}

func recordPath(root string, k kadid.Key) string {
	return filepath.Join(root, recordDir, prefixOf(k), k.String())
}

func doubleSpendPath(root string, k kadid.Key) string {
	return filepath.Join(root, doubleSpendDir, prefixOf(k), k.String())
}

// atomicWrite writes data to path via write-temp-then-rename with an fsync
// before the rename, so a crash mid-write never leaves a corrupt file in
// place of the previous version. Grounded in the teacher's diskLRU.put,
// extended with the fsync step the spec requires for durability.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recordstore: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("recordstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("recordstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("recordstore: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("recordstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("recordstore: rename: %w", err)
	}
	return nil
}

func readFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
