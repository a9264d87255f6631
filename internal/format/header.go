// Package format provides the common header shared by atlas binary files.
package format

import "errors"

// Header layout (4 bytes):
//
//	signature (1 byte, 'a' = 0x61)
//	type      (1 byte, identifies the file kind)
//	version   (1 byte)
//	flags     (1 byte, meaning depends on type)
//
// Type codes:
//
//	'm' = map data container
const (
	Signature  = 'a'
	HeaderSize = 4

	TypeMapData = 'm'

	// Flag bits for map data containers.
	FlagCompressed = 0x01 // payload is a zstd stream
)

var (
	ErrHeaderTooSmall    = errors.New("header too small")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrVersionMismatch   = errors.New("version mismatch")
)

// Header represents the common 4-byte header.
type Header struct {
	Type    byte
	Version byte
	Flags   byte
}

// Encode returns the header bytes.
func (h Header) Encode() [HeaderSize]byte {
	return [HeaderSize]byte{Signature, h.Type, h.Version, h.Flags}
}

// EncodeInto writes the header at the start of buf and returns HeaderSize.
func (h Header) EncodeInto(buf []byte) int {
	buf[0] = Signature
	buf[1] = h.Type
	buf[2] = h.Version
	buf[3] = h.Flags
	return HeaderSize
}

// HasSignature reports whether buf starts with the atlas signature byte
// followed by the given type. Used to sniff files with unknown extensions.
func HasSignature(buf []byte, typ byte) bool {
	return len(buf) >= 2 && buf[0] == Signature && buf[1] == typ
}

// Decode reads a header from buf.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrHeaderTooSmall
	}
	if buf[0] != Signature {
		return Header{}, ErrSignatureMismatch
	}
	return Header{
		Type:    buf[1],
		Version: buf[2],
		Flags:   buf[3],
	}, nil
}

// DecodeAndValidate reads a header and checks its type and version.
func DecodeAndValidate(buf []byte, expectedType, expectedVersion byte) (Header, error) {
	h, err := Decode(buf)
	if err != nil {
		return Header{}, err
	}
	if h.Type != expectedType {
		return Header{}, ErrTypeMismatch
	}
	if h.Version != expectedVersion {
		return Header{}, ErrVersionMismatch
	}
	return h, nil
}
