package app

import (
	"fmt"
	"strings"
)

// Mode is how the map view follows the device position.
type Mode int

const (
	// ModeFree leaves the view where the user put it.
	ModeFree Mode = iota
	// ModePositionTrack keeps the current position on screen.
	ModePositionTrack
	// ModeFollow keeps the position centered and rotates with the heading.
	ModeFollow
)

var modeNames = [...]string{
	ModeFree:          "free",
	ModePositionTrack: "position-track",
	ModeFollow:        "follow",
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool { return m >= ModeFree && m <= ModeFollow }

func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode maps a mode name to a Mode. Matching ignores case, and
// underscores are accepted in place of hyphens.
func ParseMode(s string) (Mode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for i, name := range modeNames {
		if norm == name {
			return Mode(i), nil
		}
	}
	return ModeFree, fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, s)
}
