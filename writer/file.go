package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wudi/pdfshrink/ir/raw"
)

// SaveFile writes doc to path atomically: the bytes go to a temporary file in
// the same directory, which replaces path only after a successful write. On
// failure nothing is left behind and an existing file at path is untouched.
func SaveFile(ctx context.Context, w Writer, doc *raw.Document, path string, cfg Config) (int64, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	n, err := w.Write(ctx, doc, tmp, cfg)
	if err != nil {
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return 0, fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("rename to %s: %w", path, err)
	}
	committed = true
	return n, nil
}
