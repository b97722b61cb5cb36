// Package cleanup retires finalized notes without polling: one timer is kept
// for the earliest instant any finalized note will have left the track.
package cleanup

import (
	"log/slog"

	"github.com/DmNote-App/DmNote/internal/eventloop"
	"github.com/DmNote-App/DmNote/internal/logging"
)

// Margin is how far past the track top, in px, a note travels before it is
// retired.
const Margin = 200.0

const timerKey = "cleanup"

// TravelMs is how long a finalized note takes to scroll fully off a track.
func TravelMs(trackHeight, speed float64) float64 {
	return (trackHeight + Margin) * 1000 / speed
}

// Sweeper removes every note expired at now and reports the next instant a
// remaining note expires.
type Sweeper func(now float64) (next float64, ok bool)

// Scheduler owns the single cleanup timer.
type Scheduler struct {
	timers *eventloop.Registry
	travel func() float64
	sweep  Sweeper
	next   float64
	sweeps int
	logger *slog.Logger
}

// New builds a scheduler. travel returns the current scroll-off duration and
// is read on every request so setting changes apply to later notes.
func New(timers *eventloop.Registry, travel func() float64, sweep Sweeper, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		timers: timers,
		travel: travel,
		sweep:  sweep,
		logger: logging.OrDefault(logger),
	}
}

// Request accounts for a note finalized at end. The pending timer is only
// replaced when this note expires strictly earlier; otherwise the global
// sweep of the pending timer picks it up.
func (s *Scheduler) Request(end float64) {
	s.requestAt(end + s.travel())
}

func (s *Scheduler) requestAt(at float64) {
	if s.timers.Has(timerKey) && at >= s.next {
		return
	}
	s.timers.Schedule(timerKey, at, s.fire)
	s.next = at
	s.logger.Debug("cleanup: timer armed", "at", at, "in_ms", at-s.timers.Now())
}

func (s *Scheduler) fire() {
	s.sweeps++
	next, ok := s.sweep(s.timers.Now())
	if ok {
		s.requestAt(next)
	}
}

// Cancel drops the pending timer.
func (s *Scheduler) Cancel() {
	s.timers.Cancel(timerKey)
}

// Pending reports when the next sweep is due.
func (s *Scheduler) Pending() (float64, bool) {
	return s.next, s.timers.Has(timerKey)
}

// Sweeps is the number of sweeps run so far.
func (s *Scheduler) Sweeps() int { return s.sweeps }
