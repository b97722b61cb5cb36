// Package config holds the visualizer settings and track definitions, loaded
// from YAML. Every value here is read-only input to the note engine.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSpeed                = 180.0
	DefaultTrackHeight          = 150.0
	DefaultShortNoteThresholdMs = 50.0
	DefaultShortNoteMinLengthPx = 25.0
	DefaultCapacity             = 2048
	DefaultFPS                  = 60
)

type FadePosition string

const (
	FadeAuto   FadePosition = "auto"
	FadeTop    FadePosition = "top"
	FadeBottom FadePosition = "bottom"
)

// NoteSettings control note timing and travel.
type NoteSettings struct {
	Speed                float64      `yaml:"speed"`       // px/s
	TrackHeight          float64      `yaml:"trackHeight"` // px
	Reverse              bool         `yaml:"reverse"`
	FadePosition         FadePosition `yaml:"fadePosition"`
	DelayedNoteEnabled   bool         `yaml:"delayedNoteEnabled"`
	ShortNoteThresholdMs float64      `yaml:"shortNoteThresholdMs"`
	ShortNoteMinLengthPx float64      `yaml:"shortNoteMinLengthPx"`
}

func DefaultNoteSettings() NoteSettings {
	return NoteSettings{
		Speed:                DefaultSpeed,
		TrackHeight:          DefaultTrackHeight,
		FadePosition:         FadeAuto,
		ShortNoteThresholdMs: DefaultShortNoteThresholdMs,
		ShortNoteMinLengthPx: DefaultShortNoteMinLengthPx,
	}
}

// Normalize replaces values the engine cannot work with.
func (s NoteSettings) Normalize() NoteSettings {
	if s.Speed <= 0 {
		s.Speed = DefaultSpeed
	}
	if s.TrackHeight <= 0 {
		s.TrackHeight = DefaultTrackHeight
	}
	switch s.FadePosition {
	case FadeAuto, FadeTop, FadeBottom:
	default:
		s.FadePosition = FadeAuto
	}
	if s.ShortNoteThresholdMs < 0 {
		s.ShortNoteThresholdMs = 0
	}
	if s.ShortNoteMinLengthPx < 0 {
		s.ShortNoteMinLengthPx = 0
	}
	return s
}

type MIDIConfig struct {
	Preferred []string `yaml:"preferred"`
	Excluded  []string `yaml:"excluded"`
	// Keys maps pitch names ("C4") to track keys. Empty passes pitch names
	// through as track keys.
	Keys map[string]string `yaml:"keys,omitempty"`
}

type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
	// Keys maps keypad index to track key.
	Keys []string `yaml:"keys"`
}

type InputConfig struct {
	Mode   string       `yaml:"mode"`
	MIDI   MIDIConfig   `yaml:"midi"`
	Serial SerialConfig `yaml:"serial"`
}

type RenderConfig struct {
	FPS          int     `yaml:"fps"`
	ScreenHeight float64 `yaml:"screenHeight"`
	CellWidthPx  float64 `yaml:"cellWidthPx"`
	CellHeightPx float64 `yaml:"cellHeightPx"`
}

type Config struct {
	NoteEffect bool         `yaml:"noteEffect"`
	Capacity   int          `yaml:"capacity"`
	Notes      NoteSettings `yaml:"notes"`
	Tracks     []Track      `yaml:"tracks"`
	Input      InputConfig  `yaml:"input"`
	Render     RenderConfig `yaml:"render"`
}

// Default is a 4-key layout on D F J K.
func Default() Config {
	keys := []string{"KeyD", "KeyF", "KeyJ", "KeyK"}
	tracks := make([]Track, len(keys))
	for i, k := range keys {
		tracks[i] = Track{
			Key:         k,
			X:           float64(20 + i*52),
			Width:       48,
			BottomY:     320,
			NoteColor:   Solid("#FFFFFF"),
			NoteOpacity: DefaultOpacity,
		}
	}
	return Config{
		NoteEffect: true,
		Capacity:   DefaultCapacity,
		Notes:      DefaultNoteSettings(),
		Tracks:     tracks,
		Input: InputConfig{
			Mode: "4key",
			MIDI: MIDIConfig{
				Preferred: []string{"Launchkey", "Novation"},
				Excluded:  []string{"Midi Through", "Through Port", "Dummy"},
			},
			Serial: SerialConfig{
				Device: "/dev/ttyACM0",
				Baud:   500000,
				Keys:   keys,
			},
		},
		Render: RenderConfig{
			FPS:          DefaultFPS,
			ScreenHeight: 360,
			CellWidthPx:  8,
			CellHeightPx: 16,
		},
	}
}

// Normalize fills in values the rest of the module relies on.
func (c Config) Normalize() Config {
	c.Notes = c.Notes.Normalize()
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Render.FPS <= 0 {
		c.Render.FPS = DefaultFPS
	}
	if c.Render.CellWidthPx <= 0 {
		c.Render.CellWidthPx = 8
	}
	if c.Render.CellHeightPx <= 0 {
		c.Render.CellHeightPx = 16
	}
	for i := range c.Tracks {
		c.Tracks[i] = c.Tracks[i].normalize()
	}
	return c
}

// Validate rejects configurations that cannot be mapped to tracks.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Tracks))
	var errs []error
	for i, t := range c.Tracks {
		if t.Key == "" {
			errs = append(errs, fmt.Errorf("tracks[%d]: key is required", i))
			continue
		}
		if seen[t.Key] {
			errs = append(errs, fmt.Errorf("tracks[%d]: duplicate key %q", i, t.Key))
		}
		seen[t.Key] = true
		if t.Width < 0 {
			errs = append(errs, fmt.Errorf("tracks[%d]: negative width", i))
		}
	}
	return errors.Join(errs...)
}

// Parse decodes YAML on top of Default, then normalizes and validates.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	// sequences in the file replace the default lists entirely
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal encodes c as YAML.
func Marshal(c Config) ([]byte, error) {
	return yaml.Marshal(c)
}
