package notebuf

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DmNote-App/DmNote/internal/logging"
)

func newBuffer(capacity int) *Buffer {
	b := New(capacity, logging.Discard())
	b.UpdateTrackLayouts(map[string]TrackLayout{
		"KeyD": {X: 10, Width: 40, BottomY: 300, ColorTop: RGBA{1, 0, 0, 0.8}, ColorBottom: RGBA{0, 0, 1, 0.8}, Radius: 4, Index: 0},
		"KeyF": {X: 60, Width: 40, BottomY: 300, ColorTop: RGBA{1, 1, 1, 1}, ColorBottom: RGBA{1, 1, 1, 1}, Index: 1},
	})
	return b
}

func TestAllocateWritesTrackFields(t *testing.T) {
	assert := assert.New(t)
	b := newBuffer(4)

	i := b.Allocate("KeyD", "KeyD_100", 100)
	assert.Equal(0, i)

	s := b.Slot(i)
	assert.Equal(float32(100), s.Start)
	assert.True(s.Growing())
	assert.Equal(float32(10), s.TrackX)
	assert.Equal(float32(40), s.Width)
	assert.Equal(float32(300), s.TrackBottomY)
	assert.Equal(RGBA{1, 0, 0, 0.8}, s.ColorTop)
	assert.Equal(RGBA{0, 0, 1, 0.8}, s.ColorBottom)
	assert.Equal(float32(4), s.Radius)
	assert.Equal(float32(0), s.TrackIndex)

	assert.Equal(1, b.ActiveCount())
	assert.Equal(1, b.HighWater())
	assert.Equal(uint64(1), b.Version())
	assert.Len(b.Data(), 4*Stride)
}

func TestAllocateSameNoteTwiceKeepsSlot(t *testing.T) {
	b := newBuffer(4)
	first := b.Allocate("KeyD", "n1", 10)
	assert.Equal(t, first, b.Allocate("KeyD", "n1", 10))
	assert.Equal(t, 1, b.ActiveCount())
}

func TestAllocateUnknownTrack(t *testing.T) {
	b := newBuffer(4)
	assert.Equal(t, -1, b.Allocate("KeyZ", "n1", 10))
	assert.Equal(t, 0, b.ActiveCount())
	assert.Equal(t, uint64(0), b.Version())
}

func TestCapacityNeverExceeded(t *testing.T) {
	assert := assert.New(t)
	b := newBuffer(2)

	assert.Equal(0, b.Allocate("KeyD", "a", 1))
	assert.Equal(1, b.Allocate("KeyF", "b", 2))
	assert.Equal(-1, b.Allocate("KeyD", "c", 3))
	assert.Equal(2, b.ActiveCount())
	assert.Equal(2, b.HighWater())

	// the dropped note is safe to finalize and release
	assert.Equal(-1, b.Finalize("c", 10))
	b.Release("c")
	assert.Equal(2, b.ActiveCount())
}

func TestReleaseThenAllocateReusesIndex(t *testing.T) {
	assert := assert.New(t)
	b := newBuffer(8)

	b.Allocate("KeyD", "a", 1)
	mid := b.Allocate("KeyD", "b", 2)
	b.Allocate("KeyD", "c", 3)

	b.Release("b")
	assert.True(b.Slot(mid).Empty())
	assert.Equal(1, b.FreeCount())

	assert.Equal(mid, b.Allocate("KeyF", "d", 4))
	assert.Equal(3, b.HighWater())
	assert.Equal(0, b.FreeCount())
}

func TestReleaseIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	b := newBuffer(4)
	b.Allocate("KeyD", "a", 1)
	b.Release("a")
	v := b.Version()

	b.Release("a")
	b.Release("never")
	assert.Equal(v, b.Version())
	assert.Equal(0, b.ActiveCount())
	assert.Equal(1, b.FreeCount())
}

func TestFinalizeWritesEnd(t *testing.T) {
	assert := assert.New(t)
	b := newBuffer(4)
	i := b.Allocate("KeyD", "a", 100)

	assert.Equal(i, b.Finalize("a", 250))
	s := b.Slot(i)
	assert.Equal(float32(250), s.End)
	assert.False(s.Growing())
	assert.Equal(i, b.SlotOf("a"))
	assert.Equal(-1, b.SlotOf("b"))
}

func TestClearResetsBookkeeping(t *testing.T) {
	assert := assert.New(t)
	b := newBuffer(4)
	for n := 0; n < 3; n++ {
		b.Allocate("KeyD", fmt.Sprintf("n%d", n), float64(n+1))
	}
	b.Release("n1")
	v := b.Version()

	b.Clear()
	assert.Equal(0, b.ActiveCount())
	assert.Equal(0, b.HighWater())
	assert.Equal(0, b.FreeCount())
	assert.Greater(b.Version(), v)
	for i := 0; i < 3; i++ {
		assert.True(b.Slot(i).Empty())
	}
	assert.Equal(-1, b.SlotOf("n0"))
	assert.Equal(0, b.Allocate("KeyF", "fresh", 9))
}

func TestUpdateTrackLayoutsLeavesSlotsAlone(t *testing.T) {
	assert := assert.New(t)
	b := newBuffer(4)
	i := b.Allocate("KeyD", "a", 1)

	b.UpdateTrackLayouts(map[string]TrackLayout{"KeyD": {X: 500, Width: 10, BottomY: 50}})
	assert.Equal(float32(10), b.Slot(i).TrackX)

	j := b.Allocate("KeyD", "b", 2)
	assert.Equal(float32(500), b.Slot(j).TrackX)

	_, ok := b.Layout("KeyF")
	assert.False(ok)
}

func TestSlotsOwnedByOneNote(t *testing.T) {
	b := newBuffer(16)
	owners := map[int]string{}
	for n := 0; n < 10; n++ {
		id := fmt.Sprintf("n%d", n)
		owners[b.Allocate("KeyD", id, float64(n+1))] = id
		if n%3 == 0 {
			b.Release(id)
			for i, o := range owners {
				if o == id {
					delete(owners, i)
				}
			}
		}
	}
	for i, id := range owners {
		assert.Equal(t, i, b.SlotOf(id))
	}
	assert.Equal(t, len(owners), b.ActiveCount())
}
