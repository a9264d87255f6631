// Package source models a single map data container on disk together with
// the metadata parsed from its header.
//
// A Source is built and loaded by its owner (the collection) and is never
// modified after it has been handed to readers: re-reading a changed file
// produces a new Source via Reload.
package source

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"atlas/internal/geo"
	"atlas/internal/mapfile"
)

var (
	// ErrUnreadableSource means the container could not be read from storage.
	ErrUnreadableSource = errors.New("unreadable source")
	// ErrCorruptSource means the container was read but its content is not a
	// valid map data file.
	ErrCorruptSource = errors.New("corrupt source")
)

// State is the outcome of the last load.
type State int

const (
	StateUnloaded State = iota
	StateValid
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Fingerprint identifies one version of a file on disk without reading it.
type Fingerprint struct {
	Size    int64
	ModTime time.Time
}

// FingerprintOf extracts the fingerprint from a stat result.
func FingerprintOf(fi fs.FileInfo) Fingerprint {
	return Fingerprint{Size: fi.Size(), ModTime: fi.ModTime()}
}

// Equal compares two fingerprints.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Size == o.Size && f.ModTime.Equal(o.ModTime)
}

// Options control how much of a container Load reads.
type Options struct {
	// Verify streams the payload and checks its digest. Without it only
	// the header and metadata are read.
	Verify bool
}

// Source is one map data container.
type Source struct {
	path        string
	opts        Options
	state       State
	err         error
	info        mapfile.Info
	fingerprint Fingerprint
	loadedAt    time.Time
}

// New returns an unloaded source for path. The path is made absolute and
// cleaned so it can serve as the source's identity.
func New(path string, opts Options) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrUnreadableSource)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadableSource, path, err)
	}
	return &Source{path: abs, opts: opts}, nil
}

// Load reads the container's header and metadata and moves the source to
// StateValid or StateInvalid. The returned error wraps ErrUnreadableSource or
// ErrCorruptSource and is also kept on the source.
//
// Load must not be called on a source that other goroutines can see.
func (s *Source) Load() error {
	s.loadedAt = time.Now()
	info, st, err := mapfile.ReadInfoFile(s.path)
	if st != nil {
		s.fingerprint = FingerprintOf(st)
	}
	if err == nil && s.opts.Verify {
		_, err = mapfile.Verify(s.path)
	}
	if err != nil {
		s.state = StateInvalid
		s.info = mapfile.Info{}
		s.err = classify(s.path, err)
		return s.err
	}
	s.state = StateValid
	s.info = info
	s.err = nil
	return nil
}

// Reload returns a freshly loaded copy of s. The receiver is left untouched.
func (s *Source) Reload() (*Source, error) {
	n := &Source{path: s.path, opts: s.opts}
	err := n.Load()
	return n, err
}

func classify(path string, err error) error {
	if errors.Is(err, mapfile.ErrMalformed) {
		return fmt.Errorf("%w: %s: %w", ErrCorruptSource, path, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnreadableSource, path, err)
}

// Path returns the absolute path identifying the source.
func (s *Source) Path() string { return s.path }

// State returns the outcome of the last load.
func (s *Source) State() State { return s.state }

// Err returns the last load error, nil when valid.
func (s *Source) Err() error { return s.err }

// Valid reports whether the last load succeeded.
func (s *Source) Valid() bool { return s.state == StateValid }

// IsValid reports whether the last load succeeded and the file on disk still
// matches what was loaded. It stats the file.
func (s *Source) IsValid() bool {
	if !s.Valid() {
		return false
	}
	stale, err := s.Stale()
	return err == nil && !stale
}

// Stale reports whether the backing file changed (or vanished) since load.
func (s *Source) Stale() (bool, error) {
	st, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, err
	}
	return !FingerprintOf(st).Equal(s.fingerprint), nil
}

// Fingerprint returns the size and modification time seen at load.
func (s *Source) Fingerprint() Fingerprint { return s.fingerprint }

// LoadedAt returns when Load last ran.
func (s *Source) LoadedAt() time.Time { return s.loadedAt }

// Name returns the dataset name recorded in the container.
func (s *Source) Name() string { return s.info.Meta.Name }

// FormatVersion returns the container format version.
func (s *Source) FormatVersion() byte { return s.info.Header.Version }

// DataVersion returns the dataset version recorded in the container.
func (s *Source) DataVersion() uint32 { return s.info.Meta.DataVersion }

// Digest returns the payload digest recorded in the container.
func (s *Source) Digest() uint64 { return s.info.Meta.Digest }

// Created returns the build time recorded in the container.
func (s *Source) Created() time.Time {
	if s.state != StateValid {
		return time.Time{}
	}
	return s.info.CreatedAt()
}

// Compressed reports whether the payload is zstd-compressed.
func (s *Source) Compressed() bool { return s.info.Compressed() }

// PayloadSize returns the stored payload size in bytes.
func (s *Source) PayloadSize() int64 { return s.info.Meta.PayloadSize }

// Region returns a copy of the covered extents. Empty for invalid sources.
func (s *Source) Region() geo.Region { return s.info.Region.Clone() }

// Covers reports whether the source is valid and intersects q.
func (s *Source) Covers(q geo.Region) bool {
	return s.Valid() && s.info.Region.Intersects(q)
}

// SameContent reports whether o describes the same loaded content as s:
// same state, digest, versions, name and extents. Fingerprints are ignored,
// so touching a file without changing it is not a content change.
func (s *Source) SameContent(o *Source) bool {
	if s.path != o.path || s.state != o.state {
		return false
	}
	if s.state == StateInvalid {
		return errorText(s.err) == errorText(o.err)
	}
	return s.info.Meta.Digest == o.info.Meta.Digest &&
		s.info.Meta.DataVersion == o.info.Meta.DataVersion &&
		s.info.Meta.Name == o.info.Meta.Name &&
		s.info.Header == o.info.Header &&
		s.info.Region.Equal(o.info.Region)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Open returns the decoded payload. Only valid sources can be opened.
func (s *Source) Open() (io.ReadCloser, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %s is %s", ErrUnreadableSource, s.path, s.state)
	}
	rc, _, err := mapfile.OpenPayload(s.path)
	if err != nil {
		return nil, classify(s.path, err)
	}
	return rc, nil
}

// Verify streams the payload and compares it with the recorded digest.
func (s *Source) Verify() error {
	if _, err := mapfile.Verify(s.path); err != nil {
		return classify(s.path, err)
	}
	return nil
}
