// Package mapfile reads and writes the atlas map data container.
//
// Layout:
//
//	offset 0   format header: 'a' 'm' <version> <flags>
//	offset 4   uint32 LE metadata length N
//	offset 8   msgpack metadata (N bytes)
//	offset 8+N payload (Meta.PayloadSize bytes, zstd if FlagCompressed)
//
// The metadata carries everything an index needs (name, data version,
// extents, payload digest) so it can be read without touching the payload.
package mapfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"atlas/internal/format"
	"atlas/internal/geo"
)

const (
	// Version is the container version written and accepted.
	Version = 0x01

	metaLenBytes = 4
	preambleSize = format.HeaderSize + metaLenBytes

	// maxMetaSize bounds the metadata block so a corrupt length cannot make
	// us allocate arbitrary memory.
	maxMetaSize = 1 << 20
)

// ErrMalformed wraps every failure caused by file content rather than I/O.
var ErrMalformed = errors.New("malformed map file")

// ErrDigestMismatch is returned by Verify when the payload does not hash to
// the recorded digest.
var ErrDigestMismatch = errors.New("payload digest mismatch")

// Meta is the msgpack-encoded metadata block.
type Meta struct {
	Name        string       `msgpack:"name"`
	DataVersion uint32       `msgpack:"data_version"`
	Created     int64        `msgpack:"created"`
	Digest      uint64       `msgpack:"digest"`
	PayloadSize int64        `msgpack:"payload_size"`
	Extents     [][4]float64 `msgpack:"extents"`
}

// Info is the decoded preamble of a container.
type Info struct {
	Header        format.Header
	Meta          Meta
	Region        geo.Region
	PayloadOffset int64
}

// Compressed reports whether the payload is zstd-compressed.
func (i Info) Compressed() bool { return i.Header.Flags&format.FlagCompressed != 0 }

// CreatedAt returns Meta.Created as a time.
func (i Info) CreatedAt() time.Time { return time.Unix(i.Meta.Created, 0) }

// Size returns the total container size implied by the preamble.
func (i Info) Size() int64 { return i.PayloadOffset + i.Meta.PayloadSize }

// WriteOptions describe a container to encode.
type WriteOptions struct {
	Name        string
	DataVersion uint32
	Region      geo.Region
	Compress    bool
	Created     time.Time
}

// Encode builds a complete container around payload.
func Encode(payload []byte, opts WriteOptions) ([]byte, error) {
	if err := opts.Region.Validate(); err != nil {
		return nil, err
	}

	var flags byte
	stored := payload
	if opts.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		stored = enc.EncodeAll(payload, nil)
		_ = enc.Close()
		flags |= format.FlagCompressed
	}

	created := opts.Created
	if created.IsZero() {
		created = time.Now()
	}
	meta := Meta{
		Name:        opts.Name,
		DataVersion: opts.DataVersion,
		Created:     created.Unix(),
		Digest:      xxhash.Sum64(stored),
		PayloadSize: int64(len(stored)),
		Extents:     make([][4]float64, len(opts.Region)),
	}
	for i, b := range opts.Region {
		meta.Extents[i] = b.Array()
	}
	metaBytes, err := msgpack.Marshal(&meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	buf := make([]byte, preambleSize, preambleSize+len(metaBytes)+len(stored))
	format.Header{Type: format.TypeMapData, Version: Version, Flags: flags}.EncodeInto(buf)
	binary.LittleEndian.PutUint32(buf[format.HeaderSize:], uint32(len(metaBytes))) //nolint:gosec // bounded by msgpack of a small struct
	buf = append(buf, metaBytes...)
	buf = append(buf, stored...)
	return buf, nil
}

// WriteFile encodes payload and atomically writes it to path via a temp file
// in the same directory.
func WriteFile(path string, payload []byte, opts WriteOptions) error {
	data, err := Encode(payload, opts)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mapfile-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// ReadInfo decodes the header and metadata from r, leaving r positioned at
// the start of the payload.
func ReadInfo(r io.Reader) (Info, error) {
	var pre [preambleSize]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Info{}, fmt.Errorf("%w: %w", ErrMalformed, format.ErrHeaderTooSmall)
		}
		return Info{}, err
	}
	h, err := format.DecodeAndValidate(pre[:format.HeaderSize], format.TypeMapData, Version)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	n := binary.LittleEndian.Uint32(pre[format.HeaderSize:])
	if n == 0 || n > maxMetaSize {
		return Info{}, fmt.Errorf("%w: metadata length %d out of range", ErrMalformed, n)
	}
	metaBytes := make([]byte, n)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Info{}, fmt.Errorf("%w: truncated metadata", ErrMalformed)
		}
		return Info{}, err
	}

	var meta Meta
	if err := msgpack.Unmarshal(metaBytes, &meta); err != nil {
		return Info{}, fmt.Errorf("%w: decode metadata: %v", ErrMalformed, err)
	}
	if meta.PayloadSize < 0 {
		return Info{}, fmt.Errorf("%w: negative payload size", ErrMalformed)
	}
	region := make(geo.Region, len(meta.Extents))
	for i, e := range meta.Extents {
		region[i] = geo.FromArray(e)
	}
	if err := region.Validate(); err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return Info{
		Header:        h,
		Meta:          meta,
		Region:        region,
		PayloadOffset: int64(preambleSize) + int64(n),
	}, nil
}

// ReadInfoFile reads the preamble of the container at path and checks that
// the file is exactly as long as the preamble says.
func ReadInfoFile(path string) (Info, os.FileInfo, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Info{}, nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return Info{}, nil, err
	}
	info, err := ReadInfo(f)
	if err != nil {
		return Info{}, st, err
	}
	if info.Size() != st.Size() {
		return Info{}, st, fmt.Errorf("%w: file is %d bytes, header describes %d", ErrMalformed, st.Size(), info.Size())
	}
	return info, st, nil
}

// Verify streams the stored payload of the container at path and compares it
// against the recorded digest.
func Verify(path string) (Info, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := ReadInfo(f)
	if err != nil {
		return Info{}, err
	}
	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Info{}, err
	}
	if n != info.Meta.PayloadSize {
		return Info{}, fmt.Errorf("%w: payload is %d bytes, header describes %d", ErrMalformed, n, info.Meta.PayloadSize)
	}
	if got := h.Sum64(); got != info.Meta.Digest {
		return Info{}, fmt.Errorf("%w: %w: got %016x, want %016x", ErrMalformed, ErrDigestMismatch, got, info.Meta.Digest)
	}
	return info, nil
}

// OpenPayload returns a reader over the decoded payload of the container at
// path. Compressed payloads are decompressed while reading.
func OpenPayload(path string) (io.ReadCloser, Info, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, Info{}, err
	}
	info, err := ReadInfo(f)
	if err != nil {
		_ = f.Close()
		return nil, Info{}, err
	}
	section := io.NewSectionReader(f, info.PayloadOffset, info.Meta.PayloadSize)
	if !info.Compressed() {
		return &payloadReader{Reader: section, file: f}, info, nil
	}
	dec, err := zstd.NewReader(section)
	if err != nil {
		_ = f.Close()
		return nil, Info{}, fmt.Errorf("%w: open zstd payload: %v", ErrMalformed, err)
	}
	return &payloadReader{Reader: dec, file: f, dec: dec}, info, nil
}

// ReadPayload is OpenPayload followed by reading everything.
func ReadPayload(path string) ([]byte, error) {
	rc, _, err := OpenPayload(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type payloadReader struct {
	io.Reader
	file *os.File
	dec  *zstd.Decoder
}

func (p *payloadReader) Close() error {
	if p.dec != nil {
		p.dec.Close()
	}
	return p.file.Close()
}
