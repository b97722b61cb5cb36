package input

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/DmNote-App/DmNote/internal/logging"
)

const midiRescanInterval = 1000 * time.Millisecond

// MIDIOptions pick which device the watcher connects to. Patterns match
// case-insensitively anywhere in the port name.
type MIDIOptions struct {
	Preferred []string
	Excluded  []string
	// Mode tags every emitted event.
	Mode string
}

type midiDriver interface {
	Ins() ([]drivers.In, error)
	Close() error
}

// MIDIWatcher keeps a connection to the preferred MIDI input and turns note
// on/off into key edges named by pitch ("C4", "F#3"). It handles hot-plug
// and hot-unplug; when the device is lost every held key is released.
//
// The handler runs on the driver's listener goroutine.
type MIDIWatcher struct {
	mu           sync.Mutex
	drv          midiDriver
	inPort       drivers.In
	stopFn       func()
	connected    bool
	selectedName string
	lastRescanAt time.Time

	// heldMu is the only lock the listener callback takes. Ports are never
	// stopped while holding it.
	heldMu sync.Mutex
	held   map[uint8]bool

	opts   MIDIOptions
	handle Handler
	logger *slog.Logger
}

// NewMIDIWatcher initialises the rtmidi driver. Call Close when done.
func NewMIDIWatcher(opts MIDIOptions, handle Handler, logger *slog.Logger) (*MIDIWatcher, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	return newMIDIWatcher(drv, opts, handle, logger), nil
}

func newMIDIWatcher(drv midiDriver, opts MIDIOptions, handle Handler, logger *slog.Logger) *MIDIWatcher {
	return &MIDIWatcher{
		drv:    drv,
		held:   make(map[uint8]bool),
		opts:   opts,
		handle: handle,
		logger: logging.OrDefault(logger),
	}
}

// Run ticks the watcher until ctx is done.
func (m *MIDIWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(midiRescanInterval)
	defer ticker.Stop()
	m.Tick()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Close shuts down the active connection and the driver, then releases
// held keys.
func (m *MIDIWatcher) Close() {
	m.mu.Lock()
	detach := m.detachLocked()
	drv := m.drv
	m.drv = nil
	m.mu.Unlock()

	detach()
	if drv != nil {
		_ = drv.Close()
	}
	m.emitReleases(m.takeHeld())
}

// Tick scans for devices, auto-connects to a preferred one, and detects
// disappearances. Scans closer together than the rescan interval are
// skipped.
func (m *MIDIWatcher) Tick() {
	m.mu.Lock()
	lost := m.tickLocked()
	m.mu.Unlock()
	if lost != nil {
		lost()
		m.emitReleases(m.takeHeld())
	}
}

// tickLocked returns a detach func when the connected device went away.
func (m *MIDIWatcher) tickLocked() (detach func()) {
	if m.drv == nil {
		return nil
	}
	now := time.Now()
	if !m.lastRescanAt.IsZero() && now.Sub(m.lastRescanAt) < midiRescanInterval {
		return nil
	}
	m.lastRescanAt = now

	inputs := m.listInputs()

	if m.connected {
		for _, n := range inputs {
			if n == m.selectedName {
				return nil
			}
		}
		m.logger.Warn("midi: device disappeared", "device", m.selectedName)
		m.lastRescanAt = time.Time{}
		return m.detachLocked()
	}

	cand, ok := pickPreferred(inputs, m.opts.Preferred)
	if !ok {
		return nil
	}
	if err := m.openByName(cand); err != nil {
		m.logger.Error("midi: connect failed", "device", cand, "err", err)
	}
	return nil
}

func (m *MIDIWatcher) listInputs() []string {
	ins, err := m.drv.Ins()
	if err != nil {
		m.logger.Error("midi: list inputs failed", "err", err)
		return nil
	}
	all := make([]string, 0, len(ins))
	for _, in := range ins {
		all = append(all, in.String())
	}
	names := filterInputs(all, m.opts.Excluded)
	m.logger.Debug("midi: inputs found", "count", len(names), "devices", strings.Join(names, ", "))
	return names
}

func filterInputs(names, excluded []string) []string {
	var out []string
	for _, name := range names {
		skip := false
		for _, pat := range excluded {
			if containsCI(name, pat) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, name)
		}
	}
	return out
}

// pickPreferred returns the first input matching a preferred pattern, in
// pattern order. With no match, a lone input is taken.
func pickPreferred(inputs, preferred []string) (string, bool) {
	for _, pat := range preferred {
		for _, name := range inputs {
			if containsCI(name, pat) {
				return name, true
			}
		}
	}
	if len(inputs) == 1 {
		return inputs[0], true
	}
	return "", false
}

// detachLocked forgets the current connection and returns the func that
// stops and closes it. The driver may wait for an in-flight callback while
// stopping, so the returned func must run without m.mu held.
func (m *MIDIWatcher) detachLocked() func() {
	stop, port := m.stopFn, m.inPort
	m.stopFn = nil
	m.inPort = nil
	m.connected = false
	m.selectedName = ""
	return func() {
		if stop != nil {
			stop()
		}
		if port != nil {
			_ = port.Close()
		}
	}
}

func (m *MIDIWatcher) openByName(name string) error {
	ins, err := m.drv.Ins()
	if err != nil {
		return err
	}
	var found drivers.In
	for _, in := range ins {
		if in.String() == name {
			found = in
			break
		}
	}
	if found == nil {
		return fmt.Errorf("input %q not found", name)
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}

	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		m.onMessage(msg)
	}, midi.HandleError(func(listenErr error) {
		m.logger.Warn("midi: listener error", "device", name, "err", listenErr)
		// stopping the port must not run on the listener goroutine
		go m.dropConnection(name)
	}))
	if err != nil {
		_ = found.Close()
		return fmt.Errorf("listen %q: %w", name, err)
	}

	m.inPort = found
	m.stopFn = stop
	m.connected = true
	m.selectedName = name
	m.logger.Info("midi: connected", "device", name)
	return nil
}

func (m *MIDIWatcher) dropConnection(name string) {
	m.mu.Lock()
	if !m.connected || m.selectedName != name {
		m.mu.Unlock()
		return
	}
	m.lastRescanAt = time.Time{}
	detach := m.detachLocked()
	m.mu.Unlock()

	detach()
	m.emitReleases(m.takeHeld())
}

func (m *MIDIWatcher) onMessage(msg midi.Message) {
	var ch, key, vel uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		m.logger.Debug("midi: note on", "ch", ch, "key", key, "vel", vel)
		m.heldMu.Lock()
		m.held[key] = true
		m.heldMu.Unlock()
		m.handle(Event{Key: PitchName(int(key)), Edge: Down, Mode: m.opts.Mode})
	case msg.GetNoteEnd(&ch, &key):
		m.logger.Debug("midi: note off", "ch", ch, "key", key)
		m.heldMu.Lock()
		wasHeld := m.held[key]
		delete(m.held, key)
		m.heldMu.Unlock()
		if wasHeld {
			m.handle(Event{Key: PitchName(int(key)), Edge: Up, Mode: m.opts.Mode})
		}
	default:
		m.logger.Debug("midi: unhandled message", "msg", msg.String())
	}
}

// takeHeld empties the held set and returns it in pitch order.
func (m *MIDIWatcher) takeHeld() []uint8 {
	m.heldMu.Lock()
	defer m.heldMu.Unlock()
	if len(m.held) == 0 {
		return nil
	}
	out := make([]uint8, 0, len(m.held))
	for k := range m.held {
		out = append(out, k)
	}
	clear(m.held)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *MIDIWatcher) emitReleases(pitches []uint8) {
	if len(pitches) == 0 {
		return
	}
	m.logger.Warn("midi: releasing held keys", "count", len(pitches))
	for _, p := range pitches {
		m.handle(Event{Key: PitchName(int(p)), Edge: Up, Mode: m.opts.Mode})
	}
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// PitchName spells a MIDI note number with octave, middle C being C4.
func PitchName(pitch int) string {
	if pitch < 0 {
		return fmt.Sprintf("?%d", pitch)
	}
	return fmt.Sprintf("%s%d", noteNames[pitch%12], (pitch/12)-1)
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
