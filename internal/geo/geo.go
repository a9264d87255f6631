// Package geo defines the planar extents map data is indexed by.
//
// Coordinates are degrees with X as longitude and Y as latitude, but nothing
// here depends on that: boxes are axis-aligned rectangles, closed on all
// sides, so boxes that only share an edge or a corner intersect.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidBox is returned for boxes with NaN/Inf coordinates or Min > Max.
var ErrInvalidBox = errors.New("invalid box")

// Box is an axis-aligned rectangle.
type Box struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// NewBox returns the box spanning the two corners in any order.
func NewBox(x1, y1, x2, y2 float64) Box {
	return Box{
		MinX: math.Min(x1, x2), MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2), MaxY: math.Max(y1, y2),
	}
}

// Validate checks that all coordinates are finite and Min <= Max.
func (b Box) Validate() error {
	for _, v := range [...]float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate in %s", ErrInvalidBox, b)
		}
	}
	if b.MinX > b.MaxX || b.MinY > b.MaxY {
		return fmt.Errorf("%w: min exceeds max in %s", ErrInvalidBox, b)
	}
	return nil
}

// Intersects reports whether b and o share at least one point.
func (b Box) Intersects(o Box) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX &&
		b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// Contains reports whether the point lies inside b or on its edge.
func (b Box) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Union returns the smallest box covering b and o.
func (b Box) Union(o Box) Box {
	return Box{
		MinX: math.Min(b.MinX, o.MinX), MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX), MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Min returns the lower corner in the form the spatial index expects.
func (b Box) Min() [2]float64 { return [2]float64{b.MinX, b.MinY} }

// Max returns the upper corner in the form the spatial index expects.
func (b Box) Max() [2]float64 { return [2]float64{b.MaxX, b.MaxY} }

// Array returns the box as [minX, minY, maxX, maxY].
func (b Box) Array() [4]float64 { return [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY} }

// FromArray is the inverse of Array.
func FromArray(a [4]float64) Box { return Box{MinX: a[0], MinY: a[1], MaxX: a[2], MaxY: a[3]} }

func (b Box) String() string {
	return fmt.Sprintf("[%g,%g]-[%g,%g]", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// ParseBox parses "minX,minY,maxX,maxY".
func ParseBox(s string) (Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Box{}, fmt.Errorf("%w: want minX,minY,maxX,maxY, got %q", ErrInvalidBox, s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Box{}, fmt.Errorf("%w: %q: %v", ErrInvalidBox, p, err)
		}
		v[i] = f
	}
	b := FromArray(v)
	if err := b.Validate(); err != nil {
		return Box{}, err
	}
	return b, nil
}

// Region is a set of boxes, possibly disjoint. A point or box is in the
// region if it is in any of them.
type Region []Box

// Validate checks that the region is non-empty and every box is valid.
func (r Region) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("%w: empty region", ErrInvalidBox)
	}
	for _, b := range r {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Intersects reports whether any box of r intersects any box of o.
func (r Region) Intersects(o Region) bool {
	for _, a := range r {
		for _, b := range o {
			if a.Intersects(b) {
				return true
			}
		}
	}
	return false
}

// Bounds returns the box covering the whole region. It returns the zero Box
// for an empty region.
func (r Region) Bounds() Box {
	if len(r) == 0 {
		return Box{}
	}
	out := r[0]
	for _, b := range r[1:] {
		out = out.Union(b)
	}
	return out
}

// Equal reports whether both regions hold the same boxes in the same order.
func (r Region) Equal(o Region) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if r[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not share storage with r.
func (r Region) Clone() Region {
	if r == nil {
		return nil
	}
	out := make(Region, len(r))
	copy(out, r)
	return out
}

func (r Region) String() string {
	parts := make([]string, len(r))
	for i, b := range r {
		parts[i] = b.String()
	}
	return strings.Join(parts, " ")
}
