package config

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DmNote-App/DmNote/internal/notebuf"
)

const DefaultOpacity = 80

// Track is one key lane.
type Track struct {
	Key          string  `yaml:"key"`
	X            float64 `yaml:"x"`
	Width        float64 `yaml:"width"`
	BottomY      float64 `yaml:"bottomY"`
	NoteColor    Color   `yaml:"noteColor"`
	NoteOpacity  int     `yaml:"noteOpacity"` // percent
	BorderRadius float64 `yaml:"borderRadius"`
	// Layer overrides the draw order; by default it is the track's position.
	Layer *int `yaml:"layer,omitempty"`
}

// UnmarshalYAML applies per-track defaults before decoding.
func (t *Track) UnmarshalYAML(value *yaml.Node) error {
	type plain Track
	p := plain{NoteColor: Solid("#FFFFFF"), NoteOpacity: DefaultOpacity}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*t = Track(p)
	return nil
}

func (t Track) normalize() Track {
	if t.NoteColor.Top == "" {
		t.NoteColor = Solid("#FFFFFF")
	}
	if t.NoteColor.Bottom == "" {
		t.NoteColor.Bottom = t.NoteColor.Top
	}
	if t.NoteOpacity < 0 {
		t.NoteOpacity = 0
	}
	if t.NoteOpacity > 100 {
		t.NoteOpacity = 100
	}
	return t
}

// Layout converts the track at position i into buffer geometry.
func (t Track) Layout(i int) notebuf.TrackLayout {
	layer := i
	if t.Layer != nil {
		layer = *t.Layer
	}
	alpha := float32(t.NoteOpacity) / 100
	return notebuf.TrackLayout{
		X:           float32(t.X),
		Width:       float32(t.Width),
		BottomY:     float32(t.BottomY),
		ColorTop:    withAlpha(ParseHex(t.NoteColor.Top), alpha),
		ColorBottom: withAlpha(ParseHex(t.NoteColor.Bottom), alpha),
		Radius:      float32(t.BorderRadius),
		Index:       layer,
	}
}

// Layouts maps every track key to its buffer geometry.
func Layouts(tracks []Track) map[string]notebuf.TrackLayout {
	out := make(map[string]notebuf.TrackLayout, len(tracks))
	for i, t := range tracks {
		out[t.Key] = t.Layout(i)
	}
	return out
}

// Color is a solid color or a vertical gradient. In YAML a solid color is a
// plain "#RRGGBB" string and a gradient is {type: gradient, top, bottom}.
type Color struct {
	Top    string
	Bottom string
}

func Solid(hex string) Color { return Color{Top: hex, Bottom: hex} }

func (c Color) Gradient() bool { return c.Top != c.Bottom }

func (c *Color) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*c = Solid(value.Value)
		return nil
	}
	var g struct {
		Type   string `yaml:"type"`
		Top    string `yaml:"top"`
		Bottom string `yaml:"bottom"`
	}
	if err := value.Decode(&g); err != nil {
		return err
	}
	if g.Type != "" && g.Type != "gradient" {
		*c = Solid("#FFFFFF")
		return nil
	}
	*c = Color{Top: g.Top, Bottom: g.Bottom}
	return nil
}

func (c Color) MarshalYAML() (interface{}, error) {
	if !c.Gradient() {
		return c.Top, nil
	}
	return map[string]string{"type": "gradient", "top": c.Top, "bottom": c.Bottom}, nil
}

// ParseHex reads the first six hex digits after '#'. Anything it cannot read
// is white.
func ParseHex(s string) notebuf.RGBA {
	white := notebuf.RGBA{1, 1, 1, 1}
	if !strings.HasPrefix(s, "#") || len(s) < 7 {
		return white
	}
	v, err := strconv.ParseUint(s[1:7], 16, 32)
	if err != nil {
		return white
	}
	return notebuf.RGBA{
		float32((v>>16)&0xFF) / 255,
		float32((v>>8)&0xFF) / 255,
		float32(v&0xFF) / 255,
		1,
	}
}

func withAlpha(c notebuf.RGBA, a float32) notebuf.RGBA {
	c[3] = a
	return c
}
