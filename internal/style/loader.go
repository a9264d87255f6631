package style

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Ext is the extension of style files. The file name without it is the
// style name.
const Ext = ".toml"

// LoadDirs registers every style file found directly inside dirs, in order.
// A style defined in a later directory replaces one of the same name from an
// earlier directory, so bundled directories go first and user directories
// last. Missing directories are skipped. Errors for individual files are
// joined and returned after every file has been tried.
func LoadDirs(r *Registry, dirs ...string) (int, error) {
	var (
		loaded int
		errs   []error
	)
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				r.logger.Debug("style directory missing", "dir", dir)
				continue
			}
			errs = append(errs, fmt.Errorf("read style directory %s: %w", dir, err))
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
				continue
			}
			if err := LoadFile(r, filepath.Join(dir, e.Name())); err != nil {
				errs = append(errs, err)
				continue
			}
			loaded++
		}
	}
	r.logger.Info("styles loaded", "dirs", len(dirs), "files", loaded, "failed", len(errs))
	return loaded, errors.Join(errs...)
}

// LoadFile registers one style file under its base name.
func LoadFile(r *Registry, path string) error {
	name := strings.TrimSuffix(filepath.Base(path), Ext)
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read style %s: %w", path, err)
	}
	if err := r.register(name, raw, path); err != nil {
		return fmt.Errorf("load style %s: %w", path, err)
	}
	return nil
}
