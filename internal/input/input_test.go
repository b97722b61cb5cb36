package input

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/DmNote-App/DmNote/internal/logging"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		in   string
		want Event
	}{
		{"D:KeyA", Event{Key: "KeyA", Edge: Down}},
		{"U:KeyA", Event{Key: "KeyA", Edge: Up}},
		{"d:Space@8key", Event{Key: "Space", Edge: Down, Mode: "8key"}},
		{"  U:Digit1 @ 4key \r", Event{Key: "Digit1", Edge: Up, Mode: "4key"}},
	}
	for _, c := range cases {
		got, err := ParseLine(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	for _, bad := range []string{"", "KeyA", "X:KeyA", "D:", "D:@4key"} {
		_, err := ParseLine(bad)
		assert.ErrorIs(t, err, ErrBadLine, bad)
	}
}

func TestReadLinesSkipsNoise(t *testing.T) {
	src := "# hook v1\nD:KeyA\n\ngarbage\nU:KeyA@4key\n"
	var got []Event
	err := ReadLines(context.Background(), strings.NewReader(src), func(e Event) { got = append(got, e) }, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, []Event{
		{Key: "KeyA", Edge: Down},
		{Key: "KeyA", Edge: Up, Mode: "4key"},
	}, got)
}

func TestReadLinesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadLines(ctx, strings.NewReader("D:KeyA\n"), func(Event) { t.Fatal("unexpected event") }, logging.Discard())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyMap(t *testing.T) {
	var pass KeyMap
	e, ok := pass.Map(Event{Key: "C4", Edge: Down})
	assert.True(t, ok)
	assert.Equal(t, "C4", e.Key)

	m := KeyMap{"C4": "KeyD", "D4": "KeyF"}
	e, ok = m.Map(Event{Key: "D4", Edge: Up})
	assert.True(t, ok)
	assert.Equal(t, Event{Key: "KeyF", Edge: Up}, e)
	_, ok = m.Map(Event{Key: "E4"})
	assert.False(t, ok)

	var got []string
	h := m.Filter(func(e Event) { got = append(got, e.Key) })
	h(Event{Key: "C4"})
	h(Event{Key: "B9"})
	assert.Equal(t, []string{"KeyD"}, got)
}

func TestIndexMap(t *testing.T) {
	m := IndexMap{"KeyD", "", "KeyJ"}
	k, ok := m.Key(2)
	assert.True(t, ok)
	assert.Equal(t, "KeyJ", k)
	for _, i := range []int{-1, 1, 3} {
		_, ok := m.Key(i)
		assert.False(t, ok, i)
	}
}

func TestKeyFrameEncode(t *testing.T) {
	got := KeyFrame{Index: 2, Pressed: true}.Encode()
	// cks = 0x03 ^ 0x20 ^ 0x02 ^ 0x01
	assert.Equal(t, []byte{0xAA, 0x55, 0x03, 0x20, 0x02, 0x01, 0x20}, got)
}

func TestDecoderSplitReads(t *testing.T) {
	var wire []byte
	frames := []KeyFrame{{0, true}, {1, true}, {0, false}, {1, false}}
	for _, f := range frames {
		wire = append(wire, f.Encode()...)
	}

	var d Decoder
	var got []KeyFrame
	for _, b := range wire {
		got = append(got, d.Feed([]byte{b})...)
	}
	assert.Equal(t, frames, got)
	assert.Equal(t, 0, d.Buffered())
}

func TestDecoderResyncsAfterCorruption(t *testing.T) {
	var errs []error
	d := Decoder{OnError: func(err error) { errs = append(errs, err) }}

	bad := KeyFrame{Index: 3, Pressed: true}.Encode()
	bad[len(bad)-1] ^= 0xFF
	good := KeyFrame{Index: 4, Pressed: true}.Encode()

	wire := append([]byte{0x00, 0x13, 0xAA}, bad...)
	wire = append(wire, good...)

	got := d.Feed(wire)
	assert.Equal(t, []KeyFrame{{Index: 4, Pressed: true}}, got)
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[0], ErrChecksum)
}

func TestDecoderSkipsOtherCommands(t *testing.T) {
	var errs []error
	d := Decoder{OnError: func(err error) { errs = append(errs, err) }}

	// a well-formed frame for command 0x10 with a one-byte payload
	other := []byte{0xAA, 0x55, 0x02, 0x10, 0x07, 0x02 ^ 0x10 ^ 0x07}
	wire := append(other, KeyFrame{Index: 1}.Encode()...)

	assert.Equal(t, []KeyFrame{{Index: 1}}, d.Feed(wire))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnknownCmd)
}

func TestDecoderRejectsHugeLength(t *testing.T) {
	var errs []error
	d := Decoder{OnError: func(err error) { errs = append(errs, err) }}
	wire := append([]byte{0xAA, 0x55, 0xFF}, KeyFrame{Index: 5, Pressed: true}.Encode()...)
	assert.Equal(t, []KeyFrame{{Index: 5, Pressed: true}}, d.Feed(wire))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrFrameLen)
}

type fakePort struct {
	r      io.Reader
	closed bool
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *fakePort) Close() error               { p.closed = true; return nil }

func TestSerialSourceRun(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(KeyFrame{Index: 0, Pressed: true}.Encode())
	wire.Write(KeyFrame{Index: 9, Pressed: true}.Encode())
	wire.Write(KeyFrame{Index: 0, Pressed: false}.Encode())

	port := &fakePort{r: &wire}
	src := NewSerialSource(port, []string{"KeyD", "KeyF"}, logging.Discard())

	var got []Event
	err := src.Run(context.Background(), func(e Event) { got = append(got, e) })
	require.NoError(t, err)
	assert.Equal(t, []Event{{Key: "KeyD", Edge: Down}, {Key: "KeyD", Edge: Up}}, got)

	require.NoError(t, src.Close())
	assert.True(t, port.closed)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }

func TestSerialSourceReadError(t *testing.T) {
	src := NewSerialSource(&fakePort{r: failingReader{}}, nil, logging.Discard())
	err := src.Run(context.Background(), func(Event) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")
}

func TestPitchName(t *testing.T) {
	assert.Equal(t, "C4", PitchName(60))
	assert.Equal(t, "A0", PitchName(21))
	assert.Equal(t, "F#3", PitchName(54))
	assert.Equal(t, "C-1", PitchName(0))
	assert.Equal(t, "?-3", PitchName(-3))
}

func TestPickPreferred(t *testing.T) {
	inputs := filterInputs(
		[]string{"Midi Through Port-0", "USB MIDI Keyboard", "Launchkey Mini MK3"},
		[]string{"Midi Through", "Dummy"},
	)
	assert.Equal(t, []string{"USB MIDI Keyboard", "Launchkey Mini MK3"}, inputs)

	name, ok := pickPreferred(inputs, []string{"launchkey"})
	assert.True(t, ok)
	assert.Equal(t, "Launchkey Mini MK3", name)

	_, ok = pickPreferred(inputs, []string{"Roland"})
	assert.False(t, ok)

	name, ok = pickPreferred([]string{"USB MIDI Keyboard"}, nil)
	assert.True(t, ok)
	assert.Equal(t, "USB MIDI Keyboard", name)
}

func TestMIDIMessagesBecomeEdges(t *testing.T) {
	var got []Event
	m := newMIDIWatcher(nil, MIDIOptions{Mode: "piano"}, func(e Event) { got = append(got, e) }, logging.Discard())

	m.onMessage(midi.NoteOn(0, 60, 100))
	m.onMessage(midi.NoteOn(0, 64, 90))
	m.onMessage(midi.NoteOff(0, 60))
	m.onMessage(midi.NoteOff(0, 72)) // never pressed
	m.onMessage(midi.ControlChange(0, 64, 127))

	assert.Equal(t, []Event{
		{Key: "C4", Edge: Down, Mode: "piano"},
		{Key: "E4", Edge: Down, Mode: "piano"},
		{Key: "C4", Edge: Up, Mode: "piano"},
	}, got)

	// losing the device releases what is still held
	got = nil
	m.Close()
	assert.Equal(t, []Event{{Key: "E4", Edge: Up, Mode: "piano"}}, got)
}

// joiningIn delivers one more message while stopping and waits for it, the
// way rtmidi joins its callback thread on close.
type joiningIn struct {
	name   string
	open   bool
	closed bool
	onMsg  func([]byte, int32)
}

func (p *joiningIn) Open() error             { p.open = true; return nil }
func (p *joiningIn) Close() error            { p.open = false; p.closed = true; return nil }
func (p *joiningIn) IsOpen() bool            { return p.open }
func (p *joiningIn) Number() int             { return 0 }
func (p *joiningIn) String() string          { return p.name }
func (p *joiningIn) Underlying() interface{} { return nil }

func (p *joiningIn) Listen(onMsg func([]byte, int32), _ drivers.ListenConfig) (func(), error) {
	p.onMsg = onMsg
	return func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			p.onMsg([]byte{0x90, 67, 100}, 0)
		}()
		<-done
	}, nil
}

type fakeDriver struct {
	mu  sync.Mutex
	ins []drivers.In
}

func (d *fakeDriver) Ins() ([]drivers.In, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]drivers.In(nil), d.ins...), nil
}

func (d *fakeDriver) Close() error { return nil }

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func within(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked on an in-flight midi callback")
	}
}

func TestMIDICloseWithCallbackInFlight(t *testing.T) {
	port := &joiningIn{name: "USB MIDI Keyboard"}
	drv := &fakeDriver{ins: []drivers.In{port}}
	var log eventLog
	m := newMIDIWatcher(drv, MIDIOptions{}, log.handle, logging.Discard())

	m.Tick()
	require.True(t, m.connected)
	require.NotNil(t, port.onMsg)

	within(t, m.Close)

	assert.True(t, port.closed)
	assert.False(t, m.connected)
	assert.Equal(t, []Event{
		{Key: "G4", Edge: Down},
		{Key: "G4", Edge: Up},
	}, log.snapshot())
}

func TestMIDIUnplugWithCallbackInFlight(t *testing.T) {
	port := &joiningIn{name: "USB MIDI Keyboard"}
	drv := &fakeDriver{ins: []drivers.In{port}}
	var log eventLog
	m := newMIDIWatcher(drv, MIDIOptions{}, log.handle, logging.Discard())
	defer m.Close()

	m.Tick()
	require.True(t, m.connected)

	drv.mu.Lock()
	drv.ins = nil
	drv.mu.Unlock()
	m.lastRescanAt = time.Time{}

	within(t, m.Tick)

	assert.False(t, m.connected)
	assert.True(t, port.closed)
	assert.Equal(t, []Event{
		{Key: "G4", Edge: Down},
		{Key: "G4", Edge: Up},
	}, log.snapshot())
}

func TestEdgeString(t *testing.T) {
	assert.Equal(t, "down", Down.String())
	assert.Equal(t, "up", Up.String())
	assert.Equal(t, "Edge(9)", Edge(9).String())
	assert.Equal(t, "KeyA down @4key", Event{Key: "KeyA", Edge: Down, Mode: "4key"}.String())
}
