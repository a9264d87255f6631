// Package home manages the atlas home directory layout.
//
// The home directory holds the user's configuration and, unless configured
// otherwise, the default map root and user style directory.
//
// Layout:
//
//	<root>/
//	  atlas.yaml     (configuration)
//	  .env           (optional environment overrides)
//	  maps/          (default map data root)
//	  styles/        (user styles, override bundled ones by name)
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents an atlas home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/atlas
//   - macOS:   ~/Library/Application Support/atlas
//   - Windows: %APPDATA%/atlas
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "atlas")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the path of the configuration file.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "atlas.yaml")
}

// EnvPath returns the path of the optional dotenv file.
func (d Dir) EnvPath() string {
	return filepath.Join(d.root, ".env")
}

// MapsDir returns the default map data root.
func (d Dir) MapsDir() string {
	return filepath.Join(d.root, "maps")
}

// StylesDir returns the user style directory.
func (d Dir) StylesDir() string {
	return filepath.Join(d.root, "styles")
}

// EnsureExists creates the home directory and its maps and styles
// subdirectories if they don't exist.
func (d Dir) EnsureExists() error {
	for _, dir := range []string{d.root, d.MapsDir(), d.StylesDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create home directory %s: %w", dir, err)
		}
	}
	return nil
}
