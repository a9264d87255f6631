package style

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Definition is one registered style as written by its author.
type Definition struct {
	Name        string
	Parent      string
	Description string
	// Rules are the style's own rules, nested tables flattened to
	// dot-separated keys.
	Rules map[string]string
	Raw   []byte
	// Origin is the file the definition was loaded from, empty when it was
	// registered directly.
	Origin string
}

func (d *Definition) clone() Definition {
	c := *d
	c.Rules = maps.Clone(d.Rules)
	c.Raw = slices.Clone(d.Raw)
	return c
}

type styleFile struct {
	Parent      string         `toml:"parent"`
	Description string         `toml:"description"`
	Rules       map[string]any `toml:"rules"`
}

// Parse decodes TOML style content:
//
//	parent = "base"
//	description = "night variant"
//
//	[rules]
//	width = 2
//
//	[rules.road]
//	color = "grey"   # key "road.color"
func Parse(name string, raw []byte) (*Definition, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty style name", ErrInvalidArgument)
	}
	var f styleFile
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: parse style %q: %w", ErrInvalidArgument, name, err)
	}
	if f.Parent == name {
		return nil, fmt.Errorf("%w: style %q is its own parent", ErrCyclicStyle, name)
	}
	rules := make(map[string]string)
	flatten("", f.Rules, rules)
	return &Definition{
		Name:        name,
		Parent:      f.Parent,
		Description: f.Description,
		Rules:       rules,
		Raw:         slices.Clone(raw),
	}, nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(key, sub, out)
			continue
		}
		out[key] = stringify(v)
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}
