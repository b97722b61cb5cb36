package render

import (
	"log/slog"

	"github.com/DmNote-App/DmNote/internal/config"
	"github.com/DmNote-App/DmNote/internal/eventloop"
	"github.com/DmNote-App/DmNote/internal/logging"
	"github.com/DmNote-App/DmNote/internal/notebuf"
	"github.com/DmNote-App/DmNote/internal/notes"
)

const frameTimerKey = "frame"

// Source is the part of the note engine a renderer reads.
type Source interface {
	Buffer() *notebuf.Buffer
	Settings() config.NoteSettings
	Subscribe(fn func(notes.Event)) (unsubscribe func())
}

// FrameState is everything a presenter needs to draw one frame.
type FrameState struct {
	Seq         uint64
	Params      Params
	Version     uint64
	Dirty       bool // buffer changed since the previous frame
	ActiveCount int
	Rects       []Rect
}

type Presenter interface {
	Present(FrameState)
}

type PresenterFunc func(FrameState)

func (f PresenterFunc) Present(s FrameState) { f(s) }

// Animator keeps a frame task on the loop only while the buffer holds live
// slots. It must be used from the loop goroutine.
type Animator struct {
	src         Source
	out         Presenter
	timers      *eventloop.Registry
	interval    float64
	running     bool
	seq         uint64
	lastVersion uint64
	unsubscribe func()
	logger      *slog.Logger
}

func NewAnimator(sched eventloop.Scheduler, src Source, out Presenter, fps int, logger *slog.Logger) *Animator {
	if fps <= 0 {
		fps = config.DefaultFPS
	}
	a := &Animator{
		src:      src,
		out:      out,
		timers:   eventloop.NewRegistry(sched),
		interval: 1000 / float64(fps),
		logger:   logging.OrDefault(logger),
	}
	a.unsubscribe = src.Subscribe(a.onEvent)
	return a
}

func (a *Animator) onEvent(e notes.Event) {
	switch e.Type {
	case notes.EventClear:
		a.stop()
		a.present()
	case notes.EventAdd, notes.EventFinalize:
		if e.Slot >= 0 {
			a.start()
		}
	}
}

func (a *Animator) start() {
	if a.running {
		return
	}
	a.running = true
	a.logger.Debug("render: animation started")
	a.timers.Schedule(frameTimerKey, a.timers.Now(), a.frame)
}

func (a *Animator) stop() {
	if !a.running {
		return
	}
	a.timers.Cancel(frameTimerKey)
	a.running = false
	a.logger.Debug("render: animation stopped", "frames", a.seq)
}

func (a *Animator) frame() {
	a.present()
	if a.src.Buffer().ActiveCount() == 0 {
		a.running = false
		a.logger.Debug("render: idle, animation stopped", "frames", a.seq)
		return
	}
	a.timers.Schedule(frameTimerKey, a.timers.Now()+a.interval, a.frame)
}

func (a *Animator) present() {
	buf := a.src.Buffer()
	p := ParamsFor(a.timers.Now(), a.src.Settings())
	a.seq++
	v := buf.Version()
	st := FrameState{
		Seq:         a.seq,
		Params:      p,
		Version:     v,
		Dirty:       v != a.lastVersion,
		ActiveCount: buf.ActiveCount(),
		Rects:       Frame(buf, p),
	}
	a.lastVersion = v
	a.out.Present(st)
}

// Running reports whether a frame task is planned.
func (a *Animator) Running() bool { return a.running }

// Frames is the number of frames presented so far.
func (a *Animator) Frames() uint64 { return a.seq }

// Close cancels the frame task and stops listening.
func (a *Animator) Close() {
	a.stop()
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

// LogPresenter reports frames that changed the buffer at debug level.
type LogPresenter struct {
	Logger *slog.Logger
}

func (l LogPresenter) Present(f FrameState) {
	if !f.Dirty {
		return
	}
	logging.OrDefault(l.Logger).Debug("render: frame",
		"seq", f.Seq,
		"version", f.Version,
		"active", f.ActiveCount,
		"visible", len(f.Rects))
}
