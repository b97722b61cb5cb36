package notes

import "github.com/DmNote-App/DmNote/internal/notestore"

type EventType string

const (
	EventAdd      EventType = "add"
	EventFinalize EventType = "finalize"
	EventCleanup  EventType = "cleanup"
	EventClear    EventType = "clear"
)

// Event tells the renderer what changed. Note is set for add and finalize,
// IDs for cleanup. Slot is -1 when the note has no visual.
type Event struct {
	Type        EventType
	Note        notestore.Note
	Slot        int
	IDs         []string
	ActiveCount int
	Version     uint64
}
