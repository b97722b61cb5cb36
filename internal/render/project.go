// Package render consumes the note buffer: it projects slots to rectangles
// the way the GPU vertex stage does, and drives a presenter once per frame
// while notes are live.
package render

import (
	"sort"

	"golang.org/x/exp/constraints"

	"github.com/DmNote-App/DmNote/internal/config"
	"github.com/DmNote-App/DmNote/internal/notebuf"
)

// FadeZone is the height in px over which notes fade out at the track edge.
const FadeZone = 50.0

// Params are the per-frame uniforms.
type Params struct {
	Now          float64
	Speed        float64 // px/s
	TrackHeight  float64
	Reverse      bool
	FadePosition config.FadePosition
}

// ParamsFor builds frame params from note settings.
func ParamsFor(now float64, s config.NoteSettings) Params {
	return Params{
		Now:          now,
		Speed:        s.Speed,
		TrackHeight:  s.TrackHeight,
		Reverse:      s.Reverse,
		FadePosition: s.FadePosition,
	}
}

// Rect is one visible note in canvas space (y grows downwards).
type Rect struct {
	Slot        int
	X, Width    float64
	Top, Bottom float64
	TrackTop    float64
	TrackBottom float64
	ColorTop    notebuf.RGBA
	ColorBottom notebuf.RGBA
	Radius      float64
	Layer       int
	Growing     bool
}

func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Project places slot s on its track at p.Now. A growing note extends from
// the judgement line (track bottom, or track top when reversed); a finished
// note keeps its length and travels away from it. The result is clipped to
// the track; ok is false for empty slots and notes that left the track.
func Project(s notebuf.Slot, p Params) (Rect, bool) {
	if s.Empty() {
		return Rect{}, false
	}
	start, end := float64(s.Start), float64(s.End)
	bottomY := float64(s.TrackBottomY)
	topY := bottomY - p.TrackHeight
	growing := s.Growing()

	span := end - start
	if growing {
		span = p.Now - start
	}
	length := clamp(span*p.Speed/1000, 0, p.TrackHeight)

	var noteTop, noteBottom float64
	switch {
	case growing && !p.Reverse:
		noteBottom = bottomY
		noteTop = bottomY - length
	case growing:
		noteTop = topY
		noteBottom = topY + length
	case !p.Reverse:
		travel := (p.Now - end) * p.Speed / 1000
		noteBottom = bottomY - travel
		noteTop = noteBottom - length
	default:
		travel := (p.Now - end) * p.Speed / 1000
		noteTop = topY + travel
		noteBottom = noteTop + length
	}

	noteTop = max(noteTop, topY)
	noteBottom = min(noteBottom, bottomY)
	if noteBottom <= topY || noteBottom < 0 || noteTop >= bottomY {
		return Rect{}, false
	}

	return Rect{
		X:           float64(s.TrackX),
		Width:       float64(s.Width),
		Top:         noteTop,
		Bottom:      noteBottom,
		TrackTop:    topY,
		TrackBottom: bottomY,
		ColorTop:    s.ColorTop,
		ColorBottom: s.ColorBottom,
		Radius:      float64(s.Radius),
		Layer:       int(s.TrackIndex),
		Growing:     growing,
	}, true
}

// Frame projects every occupied slot of buf, ordered by layer then slot.
func Frame(buf *notebuf.Buffer, p Params) []Rect {
	var out []Rect
	for i := 0; i < buf.HighWater(); i++ {
		r, ok := Project(buf.Slot(i), p)
		if !ok {
			continue
		}
		r.Slot = i
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out
}

// FadeAlpha is the opacity multiplier at canvas row y of a track spanning
// [top, bottom]. Notes fade over FadeZone px at the far edge of the track:
// the top normally, the bottom when the track is reversed. FadeTop and
// FadeBottom force the edge.
func FadeAlpha(y, top, bottom float64, reverse bool, pos config.FadePosition) float64 {
	height := max(bottom-top, 0.0001)
	rel := clamp((y-top)/height, 0, 1)

	invert := reverse
	switch pos {
	case config.FadeTop:
		invert = false
	case config.FadeBottom:
		invert = true
	}
	if invert {
		rel = 1 - rel
	}

	ratio := FadeZone / height
	if rel < ratio {
		return clamp(rel/ratio, 0, 1)
	}
	return 1
}

// ColorAt mixes the gradient of r at canvas row y. The gradient spans the
// whole track, not just the note.
func ColorAt(r Rect, y float64) notebuf.RGBA {
	t := float32(clamp((y-r.TrackTop)/max(r.TrackBottom-r.TrackTop, 0.0001), 0, 1))
	var c notebuf.RGBA
	for i := range c {
		c[i] = r.ColorTop[i]*(1-t) + r.ColorBottom[i]*t
	}
	return c
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
