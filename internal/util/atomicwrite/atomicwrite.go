// Package atomicwrite escribe archivos de forma atómica vía tmp+rename.
// El control plane depende de esto: un registro de tenant nunca debe quedar
// escrito a medias, ni siquiera si el proceso muere en medio del write.
package atomicwrite

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// AtomicWriteFile deja data en path sin estados intermedios visibles:
// escribe a un temporal en el mismo directorio, fsync, y renombra encima.
func AtomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("atomicwrite: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicwrite: temp: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("atomicwrite: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("atomicwrite: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicwrite: close: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("atomicwrite: chmod: %w", err)
	}

	// rename es atómico en el mismo filesystem; en Windows puede fallar con
	// el destino presente, ahí se remueve y se reintenta una vez
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("atomicwrite: rename %s: %w", path, err2)
		}
	}
	committed = true
	return nil
}
