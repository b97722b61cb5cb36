// Package notes turns key edges into note spans. A System owns the slot
// buffer, the lifecycle store and every timer that mutates them, and it must
// only be driven from the event loop goroutine.
package notes

import (
	"log/slog"
	"math"

	"github.com/DmNote-App/DmNote/internal/bus"
	"github.com/DmNote-App/DmNote/internal/cleanup"
	"github.com/DmNote-App/DmNote/internal/config"
	"github.com/DmNote-App/DmNote/internal/eventloop"
	"github.com/DmNote-App/DmNote/internal/logging"
	"github.com/DmNote-App/DmNote/internal/notebuf"
	"github.com/DmNote-App/DmNote/internal/notestore"
)

type Options struct {
	Capacity int
	Settings config.NoteSettings
	Layouts  map[string]notebuf.TrackLayout
	// Disabled starts the system with the note effect off.
	Disabled bool
	Logger   *slog.Logger
}

type System struct {
	timers   *eventloop.Registry
	buf      *notebuf.Buffer
	store    *notestore.Store
	cleanup  *cleanup.Scheduler
	events   bus.Bus[Event]
	presses  map[string]*press
	settings config.NoteSettings
	enabled  bool
	closed   bool
	logger   *slog.Logger
}

func New(sched eventloop.Scheduler, opts Options) *System {
	logger := logging.OrDefault(opts.Logger)
	s := &System{
		timers:   eventloop.NewRegistry(sched),
		buf:      notebuf.New(opts.Capacity, logger),
		store:    notestore.New(),
		presses:  make(map[string]*press),
		settings: opts.Settings.Normalize(),
		enabled:  !opts.Disabled,
		logger:   logger,
	}
	s.cleanup = cleanup.New(s.timers, s.travelMs, s.sweep, logger)
	if opts.Layouts != nil {
		s.buf.UpdateTrackLayouts(opts.Layouts)
	}
	return s
}

// Subscribe registers fn for every note event.
func (s *System) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

// HandleKeyDown starts a press on key. It is ignored while the effect is off
// and while key still has any press in flight, including one whose note is
// waiting for a deferred finalize.
func (s *System) HandleKeyDown(key string) bool {
	if !s.enabled {
		return false
	}
	if _, busy := s.presses[key]; busy {
		s.logger.Debug("notes: key-down ignored, press in flight", "key", key)
		return false
	}

	now := s.timers.Now()
	p := &press{key: key, down: now}
	s.presses[key] = p

	if s.settings.DelayedNoteEnabled && s.settings.ShortNoteThresholdMs > 0 {
		p.delay = s.settings.ShortNoteThresholdMs
		s.timers.Schedule(startTimerKey(key), now+p.delay, func() { s.startDelayed(p) })
		return true
	}

	p.start = now
	p.noteID = s.createNote(key, now)
	p.created = true
	return true
}

// HandleKeyUp releases the press on key. The note is finalized now, or later
// when it has not yet reached its minimum length or has not been created.
func (s *System) HandleKeyUp(key string) bool {
	if !s.enabled {
		return false
	}
	p, ok := s.presses[key]
	if !ok || p.released {
		return false
	}
	p.released = true
	p.release = s.timers.Now()

	if !p.created {
		p.releasedBeforeStart = true
		return true
	}
	s.scheduleFinalize(p, false)
	return true
}

func (s *System) startDelayed(p *press) {
	if s.presses[p.key] != p {
		return
	}
	p.start = p.down + p.delay
	p.noteID = s.createNote(p.key, p.start)
	p.created = true
	if p.released {
		s.scheduleFinalize(p, p.releasedBeforeStart)
		p.releasedBeforeStart = false
	}
}

// MinDurationMs is the shortest span a note is drawn with, derived from the
// minimum length in px at the current speed.
func (s *System) MinDurationMs() float64 {
	px, speed := s.settings.ShortNoteMinLengthPx, s.settings.Speed
	if px <= 0 || speed <= 0 {
		return 0
	}
	return math.Round(px * 1000 / speed)
}

func (s *System) scheduleFinalize(p *press, forceMin bool) {
	minMs := s.MinDurationMs()
	hold := math.Max(0, p.release-math.Min(p.release, p.start))
	d := minMs
	if !forceMin {
		d = math.Max(minMs, hold)
	}
	target := p.start + math.Max(d, 1)

	if target <= s.timers.Now() {
		s.finalizePress(p, target)
		return
	}
	s.timers.Schedule(finalizeTimerKey(p.noteID), target, func() { s.finalizePress(p, target) })
}

func (s *System) finalizePress(p *press, end float64) {
	s.finalizeNote(p.key, p.noteID, end)
	if s.presses[p.key] == p {
		delete(s.presses, p.key)
	}
}

func (s *System) createNote(key string, start float64) string {
	n := s.store.Create(key, start)
	slot := s.buf.Allocate(key, n.ID, start)
	s.events.Notify(Event{
		Type:        EventAdd,
		Note:        *n,
		Slot:        slot,
		ActiveCount: s.buf.ActiveCount(),
		Version:     s.buf.Version(),
	})
	return n.ID
}

func (s *System) finalizeNote(key, id string, end float64) {
	if !s.store.Finalize(key, id, end) {
		return
	}
	slot := s.buf.Finalize(id, end)
	n, _ := s.store.Get(id)
	s.events.Notify(Event{
		Type:        EventFinalize,
		Note:        n,
		Slot:        slot,
		ActiveCount: s.buf.ActiveCount(),
		Version:     s.buf.Version(),
	})
	s.cleanup.Request(end)
}

func (s *System) travelMs() float64 {
	return cleanup.TravelMs(s.settings.TrackHeight, s.settings.Speed)
}

func (s *System) sweep(now float64) (float64, bool) {
	travel := s.travelMs()
	removed := s.store.RemoveExpired(now, travel)
	if len(removed) > 0 {
		for _, id := range removed {
			s.buf.Release(id)
		}
		s.logger.Debug("notes: retired", "count", len(removed), "live", s.store.Len())
		s.events.Notify(Event{
			Type:        EventCleanup,
			Slot:        -1,
			IDs:         removed,
			ActiveCount: s.buf.ActiveCount(),
			Version:     s.buf.Version(),
		})
	}
	return s.store.NextExpiry(travel)
}

// SetEnabled turns the note effect on or off. Turning it off cancels every
// timer, drops every note and slot, and emits one clear event.
func (s *System) SetEnabled(on bool) {
	if s.closed || on == s.enabled {
		return
	}
	s.enabled = on
	if on {
		s.logger.Info("notes: effect enabled")
		return
	}
	cancelled, dropped := s.reset()
	s.logger.Info("notes: effect disabled", "timers", cancelled, "notes", dropped)
	s.events.Notify(Event{Type: EventClear, Slot: -1, Version: s.buf.Version()})
}

func (s *System) Enabled() bool { return s.enabled }

// Close tears the system down without emitting events. Later input is
// ignored.
func (s *System) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.enabled = false
	cancelled, dropped := s.reset()
	s.logger.Debug("notes: closed", "timers", cancelled, "notes", dropped)
}

func (s *System) reset() (timers, notes int) {
	timers = s.timers.Len()
	if timers > 0 {
		s.logger.Debug("notes: cancelling timers", "keys", s.timers.Keys())
	}
	s.cleanup.Cancel()
	s.timers.CancelAll()
	clear(s.presses)
	notes = len(s.store.Reset())
	s.buf.Clear()
	return timers, notes
}

// UpdateSettings applies to every computation made after the call. Notes
// already finalized keep their end time.
func (s *System) UpdateSettings(settings config.NoteSettings) {
	s.settings = settings.Normalize()
	s.logger.Debug("notes: settings updated",
		"speed", s.settings.Speed,
		"trackHeight", s.settings.TrackHeight,
		"delayed", s.settings.DelayedNoteEnabled,
		"minDurationMs", s.MinDurationMs())
}

func (s *System) Settings() config.NoteSettings { return s.settings }

// UpdateTrackLayouts replaces the geometry used for notes created later.
func (s *System) UpdateTrackLayouts(layouts map[string]notebuf.TrackLayout) {
	s.buf.UpdateTrackLayouts(layouts)
}

// Buffer exposes the slot array to renderers. Callers must treat it as
// read-only.
func (s *System) Buffer() *notebuf.Buffer { return s.buf }

// Notes returns every live note, grouped by key in creation order.
func (s *System) Notes() []notestore.Note {
	var out []notestore.Note
	for _, k := range s.store.Keys() {
		out = append(out, s.store.Notes(k)...)
	}
	return out
}

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Enabled     bool    `json:"enabled"`
	Notes       int     `json:"notes"`
	Presses     int     `json:"presses"`
	Timers      int     `json:"timers"`
	ActiveSlots int     `json:"activeSlots"`
	HighWater   int     `json:"highWater"`
	Capacity    int     `json:"capacity"`
	Version     uint64  `json:"version"`
	Sweeps      int     `json:"sweeps"`
	NextCleanup float64 `json:"nextCleanup,omitempty"`
}

func (s *System) Stats() Stats {
	st := Stats{
		Enabled:     s.enabled,
		Notes:       s.store.Len(),
		Presses:     len(s.presses),
		Timers:      s.timers.Len(),
		ActiveSlots: s.buf.ActiveCount(),
		HighWater:   s.buf.HighWater(),
		Capacity:    s.buf.Capacity(),
		Version:     s.buf.Version(),
		Sweeps:      s.cleanup.Sweeps(),
	}
	if at, ok := s.cleanup.Pending(); ok {
		st.NextCleanup = at
	}
	return st
}
