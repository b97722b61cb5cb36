// Package input turns raw device traffic into key edge events. Sources run on
// their own goroutines and hand events to a callback; the callback is
// expected to forward them to the event loop.
package input

import "fmt"

type Edge uint8

const (
	Down Edge = iota + 1
	Up
)

func (e Edge) String() string {
	switch e {
	case Down:
		return "down"
	case Up:
		return "up"
	}
	return fmt.Sprintf("Edge(%d)", uint8(e))
}

// Event is one key edge. Mode is the logical key layout the source was in,
// empty when the source does not know.
type Event struct {
	Key  string
	Edge Edge
	Mode string
}

func (e Event) String() string {
	if e.Mode == "" {
		return fmt.Sprintf("%s %s", e.Key, e.Edge)
	}
	return fmt.Sprintf("%s %s @%s", e.Key, e.Edge, e.Mode)
}

// Handler receives events from a source.
type Handler func(Event)
