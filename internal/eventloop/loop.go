// Package eventloop runs every piece of note state on one goroutine.
//
// Work reaches the loop in two ways: timers planned with At/After, kept in a
// min-heap and flushed once due, and closures posted from other goroutines.
// Nothing that touches loop-owned state may run anywhere else.
package eventloop

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DmNote-App/DmNote/internal/logging"
)

const postBuffer = 1024

// ErrStopped is returned by Call once Run has returned.
var ErrStopped = errors.New("eventloop: stopped")

// Scheduler is the timer surface the note engine depends on.
type Scheduler interface {
	Now() float64
	At(at float64, fn func()) TaskID
	Cancel(id TaskID) bool
}

// Loop is a cooperative single-threaded executor. At, After, Cancel,
// RunDue and Advance must only be called from the loop goroutine (or, when
// Run is not in use, from the single goroutine driving the loop by hand).
type Loop struct {
	clock  Clock
	queue  taskQueue
	byID   map[TaskID]*plannedTask
	nextID TaskID
	seq    uint64
	posts  chan func()
	done   chan struct{}
	stop   sync.Once
	logger *slog.Logger
}

func New(clock Clock, logger *slog.Logger) *Loop {
	if clock == nil {
		clock = NewMonotonicClock()
	}
	return &Loop{
		clock:  clock,
		byID:   make(map[TaskID]*plannedTask),
		posts:  make(chan func(), postBuffer),
		done:   make(chan struct{}),
		logger: logging.OrDefault(logger),
	}
}

func (l *Loop) Now() float64 { return l.clock.Now() }

// At plans fn to run once the clock reaches at.
func (l *Loop) At(at float64, fn func()) TaskID {
	l.nextID++
	l.seq++
	t := &plannedTask{at: at, seq: l.seq, id: l.nextID, fn: fn}
	heap.Push(&l.queue, t)
	l.byID[t.id] = t
	l.logger.Debug("loop: task planned", "id", t.id, "delay_ms", at-l.Now())
	return t.id
}

// After plans fn to run delayMs from now.
func (l *Loop) After(delayMs float64, fn func()) TaskID {
	return l.At(l.Now()+delayMs, fn)
}

// Cancel removes a planned task. It reports false if the task already ran
// or was cancelled.
func (l *Loop) Cancel(id TaskID) bool {
	t, ok := l.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&l.queue, t.index)
	delete(l.byID, id)
	return true
}

// Pending is the number of planned tasks.
func (l *Loop) Pending() int { return len(l.queue) }

// NextDue reports when the earliest planned task is due.
func (l *Loop) NextDue() (float64, bool) {
	if len(l.queue) == 0 {
		return 0, false
	}
	return l.queue[0].at, true
}

// RunDue runs every task whose due time has passed, including tasks planned
// by those tasks for an instant that has already passed.
func (l *Loop) RunDue() int {
	ran := 0
	for len(l.queue) > 0 && l.queue[0].at <= l.Now() {
		l.runTask(l.popTask())
		ran++
	}
	if ran > 0 {
		l.logger.Debug("loop: flushed tasks", "count", ran, "remaining", len(l.queue))
	}
	return ran
}

// Post hands fn to the loop goroutine. Safe from any goroutine. It reports
// false, dropping fn, once Run has returned.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.posts <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.posts <- func() { defer close(finished); fn() }:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain runs posted closures without blocking.
func (l *Loop) Drain() int {
	n := 0
	for {
		select {
		case fn := <-l.posts:
			l.runTask(&plannedTask{fn: fn})
			n++
		default:
			return n
		}
	}
}

// Run executes posted closures and due timers until ctx is done. Later
// Posts are dropped and Calls fail with ErrStopped.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	defer l.stop.Do(func() { close(l.done) })

	l.logger.Debug("loop: running")
	for {
		l.RunDue()

		wait := time.Hour
		if due, ok := l.NextDue(); ok {
			wait = Duration(due - l.Now())
			if wait < 0 {
				wait = 0
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			l.logger.Debug("loop: stopped", "pending", len(l.queue))
			return ctx.Err()
		case fn := <-l.posts:
			l.runTask(&plannedTask{fn: fn})
		case <-timer.C:
		}
	}
}

type settable interface {
	Set(t float64)
}

// AdvanceTo moves a manual clock forward to target, running every task due
// on the way at its own due instant. Posted closures are drained first.
func (l *Loop) AdvanceTo(target float64) int {
	clk, ok := l.clock.(settable)
	if !ok {
		panic(fmt.Sprintf("eventloop: AdvanceTo needs a settable clock, have %T", l.clock))
	}
	ran := l.Drain()
	for len(l.queue) > 0 && l.queue[0].at <= target {
		t := l.popTask()
		clk.Set(t.at)
		l.runTask(t)
		ran++
	}
	clk.Set(target)
	return ran
}

// Advance is AdvanceTo(Now()+ms).
func (l *Loop) Advance(ms float64) int {
	return l.AdvanceTo(l.Now() + ms)
}

func (l *Loop) popTask() *plannedTask {
	t := heap.Pop(&l.queue).(*plannedTask)
	delete(l.byID, t.id)
	return t
}

func (l *Loop) runTask(t *plannedTask) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: task panicked", "id", t.id, "panic", r)
		}
	}()
	t.fn()
}
