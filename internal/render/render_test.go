package render

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/DmNote-App/DmNote/internal/config"
	"github.com/DmNote-App/DmNote/internal/eventloop"
	"github.com/DmNote-App/DmNote/internal/logging"
	"github.com/DmNote-App/DmNote/internal/notebuf"
	"github.com/DmNote-App/DmNote/internal/notes"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func slot(start, end float32) notebuf.Slot {
	return notebuf.Slot{Start: start, End: end, TrackX: 10, Width: 40, TrackBottomY: 300, TrackIndex: 2}
}

func params(now float64, reverse bool) Params {
	return Params{Now: now, Speed: 1000, TrackHeight: 150, Reverse: reverse}
}

func TestProject(t *testing.T) {
	cases := []struct {
		name        string
		slot        notebuf.Slot
		p           Params
		top, bottom float64
		growing     bool
	}{
		{"growing", slot(1, 0), params(101, false), 200, 300, true},
		{"growing capped at track height", slot(1, 0), params(1001, false), 150, 300, true},
		{"growing reversed", slot(1, 0), params(101, true), 150, 250, true},
		{"travelling", slot(1, 51), params(151, false), 150, 200, false},
		{"travelling reversed", slot(1, 51), params(151, true), 250, 300, false},
		{"clipped at track top", slot(1, 101), params(181, false), 150, 220, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r, ok := Project(c.slot, c.p)
			require.True(t, ok)
			assert.Equal(t, c.top, r.Top)
			assert.Equal(t, c.bottom, r.Bottom)
			assert.Equal(t, c.growing, r.Growing)
			assert.Equal(t, 10.0, r.X)
			assert.Equal(t, 40.0, r.Width)
			assert.Equal(t, 150.0, r.TrackTop)
			assert.Equal(t, 2, r.Layer)
		})
	}
}

func TestProjectHidden(t *testing.T) {
	_, ok := Project(slot(0, 0), params(100, false))
	assert.False(t, ok, "empty slot")

	_, ok = Project(slot(1, 51), params(1000, false))
	assert.False(t, ok, "scrolled off")

	_, ok = Project(slot(1, 51), params(1000, true))
	assert.False(t, ok, "scrolled off reversed")
}

func TestFadeAlpha(t *testing.T) {
	assert.Equal(t, 0.5, FadeAlpha(25, 0, 200, false, config.FadeAuto))
	assert.Equal(t, 1.0, FadeAlpha(100, 0, 200, false, config.FadeAuto))
	assert.Equal(t, 1.0, FadeAlpha(175, 0, 200, false, config.FadeAuto))

	// auto follows reverse
	assert.Equal(t, 0.5, FadeAlpha(175, 0, 200, true, config.FadeAuto))
	assert.Equal(t, 1.0, FadeAlpha(25, 0, 200, true, config.FadeAuto))

	// explicit positions ignore reverse
	assert.Equal(t, 0.5, FadeAlpha(25, 0, 200, true, config.FadeTop))
	assert.Equal(t, 0.5, FadeAlpha(175, 0, 200, false, config.FadeBottom))
	assert.Equal(t, 1.0, FadeAlpha(25, 0, 200, false, config.FadeBottom))

	assert.Equal(t, 0.0, FadeAlpha(-10, 0, 200, false, config.FadeAuto))
}

func TestColorAtSpansTrack(t *testing.T) {
	r := Rect{TrackTop: 0, TrackBottom: 100, ColorTop: notebuf.RGBA{0, 0, 0, 1}, ColorBottom: notebuf.RGBA{1, 1, 1, 1}}
	assert.Equal(t, notebuf.RGBA{0, 0, 0, 1}, ColorAt(r, 0))
	assert.Equal(t, notebuf.RGBA{0.5, 0.5, 0.5, 1}, ColorAt(r, 50))
	assert.Equal(t, notebuf.RGBA{1, 1, 1, 1}, ColorAt(r, 500))
}

func TestFrameOrdersByLayer(t *testing.T) {
	buf := notebuf.New(8, logging.Discard())
	buf.UpdateTrackLayouts(map[string]notebuf.TrackLayout{
		"A": {X: 0, Width: 10, BottomY: 300, Index: 5},
		"B": {X: 20, Width: 10, BottomY: 300, Index: 1},
	})
	buf.Allocate("A", "a1", 1)
	buf.Allocate("B", "b1", 1)
	buf.Allocate("A", "a2", 1)
	buf.Release("a2")

	rects := Frame(buf, params(50, false))
	require.Len(t, rects, 2)
	assert.Equal(t, 1, rects[0].Slot)
	assert.Equal(t, 0, rects[1].Slot)
}

type recorder struct{ frames []FrameState }

func (r *recorder) Present(f FrameState) { r.frames = append(r.frames, f) }

func (r *recorder) last() FrameState { return r.frames[len(r.frames)-1] }

func newEngine() (*eventloop.Loop, *notes.System) {
	loop := eventloop.New(eventloop.NewManualClock(), logging.Discard())
	sys := notes.New(loop, notes.Options{
		Settings: config.DefaultNoteSettings(),
		Layouts:  config.Layouts(config.Default().Tracks),
		Logger:   logging.Discard(),
	})
	return loop, sys
}

func TestAnimatorRunsOnlyWhileNotesLive(t *testing.T) {
	assert := assert.New(t)
	loop, sys := newEngine()
	rec := &recorder{}
	a := NewAnimator(loop, sys, rec, 50, logging.Discard())
	defer a.Close()

	assert.False(a.Running())
	assert.Equal(0, loop.Pending())

	sys.HandleKeyDown("KeyD")
	assert.True(a.Running())
	loop.Advance(0)
	require.Len(t, rec.frames, 1)
	assert.True(rec.frames[0].Dirty)
	assert.Equal(1, rec.frames[0].ActiveCount)
	assert.Empty(rec.frames[0].Rects, "zero-length note is not drawn")

	loop.Advance(100)
	assert.Len(rec.frames, 6)
	assert.False(rec.last().Dirty)
	assert.Len(rec.last().Rects, 1)

	sys.HandleKeyUp("KeyD")
	loop.Advance(5000)

	assert.False(a.Running())
	assert.Equal(0, loop.Pending())
	assert.Equal(0, rec.last().ActiveCount)
	assert.Empty(rec.last().Rects)

	frames := a.Frames()
	loop.Advance(5000)
	assert.Equal(frames, a.Frames(), "no frames while idle")
}

func TestAnimatorStopsOnClear(t *testing.T) {
	loop, sys := newEngine()
	rec := &recorder{}
	a := NewAnimator(loop, sys, rec, 60, logging.Discard())
	defer a.Close()

	sys.HandleKeyDown("KeyF")
	loop.Advance(50)
	require.True(t, a.Running())

	sys.SetEnabled(false)
	assert.False(t, a.Running())
	assert.Equal(t, 0, loop.Pending())
	assert.Empty(t, rec.last().Rects)
}

func TestAnimatorIgnoresUndrawnNotes(t *testing.T) {
	loop, sys := newEngine()
	a := NewAnimator(loop, sys, &recorder{}, 60, logging.Discard())
	defer a.Close()

	sys.HandleKeyDown("Space")
	assert.False(t, a.Running())
}

func TestRasterize(t *testing.T) {
	g := Grid{Cols: 4, Rows: 4, CellW: 10, CellH: 10}
	red := notebuf.RGBA{1, 0, 0, 1}
	f := FrameState{Rects: []Rect{{
		X: 10, Width: 20, Top: 10, Bottom: 30,
		TrackTop: -1000, TrackBottom: 40,
		ColorTop: red, ColorBottom: red,
	}}}

	cells := g.Rasterize(f)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			inside := r >= 1 && r <= 2 && c >= 1 && c <= 2
			if inside {
				assert.Equal(t, Cell{Ch: '█', Color: "#FF0000"}, cells[r][c], "%d,%d", r, c)
			} else {
				assert.Equal(t, Cell{Ch: ' '}, cells[r][c], "%d,%d", r, c)
			}
		}
	}
}

func TestShadeAndHex(t *testing.T) {
	assert.Equal(t, '█', shade(0.9))
	assert.Equal(t, '▓', shade(0.6))
	assert.Equal(t, '▒', shade(0.3))
	assert.Equal(t, '░', shade(0.1))
	assert.Equal(t, ' ', shade(0.01))
	assert.Equal(t, "#FF0080", hexColor(notebuf.RGBA{1, 0, 0.5, 1}))
}

func TestGridFor(t *testing.T) {
	cfg := config.Default()
	g := GridFor(cfg.Render, cfg.Tracks)
	assert.Equal(t, 29, g.Cols)
	assert.Equal(t, 22, g.Rows)
}

func TestTerminalModel(t *testing.T) {
	cfg := config.Default()
	term := NewTerminal(cfg.Render, cfg.Tracks)
	term.Present(FrameState{ActiveCount: 3, Version: 9})

	m := model{
		grid:   GridFor(cfg.Render, cfg.Tracks),
		tracks: cfg.Tracks,
		latest: &term.latest,
		styles: make(map[string]lipgloss.Style),
	}
	next, cmd := m.Update(tickMsg{})
	assert.NotNil(t, cmd)
	assert.Contains(t, next.View(), "notes 3")
	assert.Contains(t, next.View(), "v9")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
