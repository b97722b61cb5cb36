// Package notebuf is the fixed-capacity instance buffer the renderer uploads
// as-is. Slot indexes are decoupled from note identity: a LIFO stack of freed
// indexes is reused before the watermark advances, so allocation and release
// are O(1) and the buffer never grows.
package notebuf

import (
	"log/slog"

	"github.com/DmNote-App/DmNote/internal/logging"
)

const DefaultCapacity = 2048

// Per-slot layout of Data(). A slot whose start field is 0 is empty.
const (
	FieldStart        = 0
	FieldEnd          = 1 // 0 while the note is still growing
	FieldTrackX       = 2
	FieldWidth        = 3
	FieldTrackBottomY = 4
	FieldColorTop     = 5 // 4 channels
	FieldColorBottom  = 9 // 4 channels
	FieldRadius       = 13
	FieldTrackIndex   = 14

	Stride = 15
)

// RGBA channels in 0..1.
type RGBA [4]float32

// TrackLayout is the geometry and paint of one track, copied into every slot
// allocated for that track.
type TrackLayout struct {
	X           float32
	Width       float32
	BottomY     float32
	ColorTop    RGBA
	ColorBottom RGBA
	Radius      float32
	Index       int
}

// Slot is a decoded copy of one buffer entry.
type Slot struct {
	Start        float32
	End          float32
	TrackX       float32
	Width        float32
	TrackBottomY float32
	ColorTop     RGBA
	ColorBottom  RGBA
	Radius       float32
	TrackIndex   float32
}

func (s Slot) Empty() bool   { return s.Start == 0 }
func (s Slot) Growing() bool { return s.Start != 0 && s.End == 0 }

// Buffer owns the slot array. It is not safe for concurrent use.
type Buffer struct {
	capacity    int
	data        []float32
	index       map[string]int
	free        []int
	nextIndex   int
	activeCount int
	version     uint64
	layouts     map[string]TrackLayout
	logger      *slog.Logger
}

func New(capacity int, logger *slog.Logger) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		data:     make([]float32, capacity*Stride),
		index:    make(map[string]int),
		free:     make([]int, 0, capacity),
		layouts:  make(map[string]TrackLayout),
		logger:   logging.OrDefault(logger),
	}
}

// Allocate reserves a slot for noteID on trackKey and writes its initial
// fields. It returns -1 when the buffer is full or the track has no layout;
// the caller keeps tracking the note without a visual.
func (b *Buffer) Allocate(trackKey, noteID string, start float64) int {
	if i, ok := b.index[noteID]; ok {
		return i
	}
	layout, ok := b.layouts[trackKey]
	if !ok {
		b.logger.Debug("notebuf: no layout for track, note not drawn", "track", trackKey, "note", noteID)
		return -1
	}

	var i int
	if n := len(b.free); n > 0 {
		i = b.free[n-1]
		b.free = b.free[:n-1]
	} else if b.nextIndex < b.capacity {
		i = b.nextIndex
		b.nextIndex++
	} else {
		b.logger.Warn("notebuf: capacity exhausted, note not drawn", "capacity", b.capacity, "note", noteID)
		return -1
	}

	base := i * Stride
	d := b.data[base : base+Stride]
	d[FieldStart] = float32(start)
	d[FieldEnd] = 0
	d[FieldTrackX] = layout.X
	d[FieldWidth] = layout.Width
	d[FieldTrackBottomY] = layout.BottomY
	copy(d[FieldColorTop:FieldColorTop+4], layout.ColorTop[:])
	copy(d[FieldColorBottom:FieldColorBottom+4], layout.ColorBottom[:])
	d[FieldRadius] = layout.Radius
	d[FieldTrackIndex] = float32(layout.Index)

	b.index[noteID] = i
	b.activeCount++
	b.version++
	return i
}

// Finalize writes the end time of noteID's slot. It returns -1 when the note
// never got a slot.
func (b *Buffer) Finalize(noteID string, end float64) int {
	i, ok := b.index[noteID]
	if !ok {
		return -1
	}
	b.data[i*Stride+FieldEnd] = float32(end)
	b.version++
	return i
}

// Release marks noteID's slot empty and returns its index to the free
// stack. Unknown ids are ignored.
func (b *Buffer) Release(noteID string) {
	i, ok := b.index[noteID]
	if !ok {
		return
	}
	base := i * Stride
	b.data[base+FieldStart] = 0
	b.data[base+FieldEnd] = 0
	delete(b.index, noteID)
	b.free = append(b.free, i)
	b.activeCount--
	b.version++
}

// Clear forgets every allocation. Only the start/end fields below the old
// watermark are zeroed; the remaining fields are rewritten on allocation.
func (b *Buffer) Clear() {
	for i := 0; i < b.nextIndex; i++ {
		b.data[i*Stride+FieldStart] = 0
		b.data[i*Stride+FieldEnd] = 0
	}
	clear(b.index)
	b.free = b.free[:0]
	b.nextIndex = 0
	b.activeCount = 0
	b.version++
}

// UpdateTrackLayouts replaces the track geometry used by later allocations.
// Slots already written keep their data.
func (b *Buffer) UpdateTrackLayouts(layouts map[string]TrackLayout) {
	next := make(map[string]TrackLayout, len(layouts))
	for k, v := range layouts {
		next[k] = v
	}
	b.layouts = next
	b.logger.Debug("notebuf: track layouts updated", "tracks", len(next))
}

// Layout returns the current layout of trackKey.
func (b *Buffer) Layout(trackKey string) (TrackLayout, bool) {
	l, ok := b.layouts[trackKey]
	return l, ok
}

// SlotOf returns the slot index owned by noteID, or -1.
func (b *Buffer) SlotOf(noteID string) int {
	if i, ok := b.index[noteID]; ok {
		return i
	}
	return -1
}

// Slot decodes entry i.
func (b *Buffer) Slot(i int) Slot {
	d := b.data[i*Stride : i*Stride+Stride]
	s := Slot{
		Start:        d[FieldStart],
		End:          d[FieldEnd],
		TrackX:       d[FieldTrackX],
		Width:        d[FieldWidth],
		TrackBottomY: d[FieldTrackBottomY],
		Radius:       d[FieldRadius],
		TrackIndex:   d[FieldTrackIndex],
	}
	copy(s.ColorTop[:], d[FieldColorTop:FieldColorTop+4])
	copy(s.ColorBottom[:], d[FieldColorBottom:FieldColorBottom+4])
	return s
}

// Data is the raw instance array, Capacity()*Stride floats. Consumers read it
// and must not write it.
func (b *Buffer) Data() []float32 { return b.data }

func (b *Buffer) Capacity() int { return b.capacity }

// ActiveCount is the number of occupied slots.
func (b *Buffer) ActiveCount() int { return b.activeCount }

// HighWater is one past the highest index handed out since the last Clear;
// drawing [0, HighWater) covers every occupied slot.
func (b *Buffer) HighWater() int { return b.nextIndex }

// Version increases on every state change and lets consumers skip uploads
// when nothing moved.
func (b *Buffer) Version() uint64 { return b.version }

// FreeCount is the number of released indexes waiting for reuse.
func (b *Buffer) FreeCount() int { return len(b.free) }
