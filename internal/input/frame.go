package input

import (
	"errors"
	"fmt"
)

const (
	SOF0        = 0xAA
	SOF1        = 0x55
	CmdKeyState = 0x20

	// maxFrameLen bounds LEN so a corrupt length byte cannot stall the
	// decoder waiting for bytes that will never come.
	maxFrameLen = 32
)

var (
	ErrChecksum   = errors.New("frame: checksum mismatch")
	ErrFrameLen   = errors.New("frame: bad length")
	ErrUnknownCmd = errors.New("frame: unknown command")
)

// KeyFrame reports one keypad button changing state.
type KeyFrame struct {
	Index   byte
	Pressed bool
}

// Encode builds the on-wire representation:
//
//	[SOF0][SOF1][LEN][CMD][index][state][CKS]
//
// LEN counts CMD and the payload; CKS is the XOR of LEN, CMD and the payload.
func (f KeyFrame) Encode() []byte {
	var state byte
	if f.Pressed {
		state = 1
	}
	payload := []byte{f.Index, state}
	length := byte(len(payload) + 1)
	cks := length ^ CmdKeyState
	for _, b := range payload {
		cks ^= b
	}
	out := []byte{SOF0, SOF1, length, CmdKeyState}
	out = append(out, payload...)
	return append(out, cks)
}

// Decoder reassembles key frames from an unaligned byte stream. After a bad
// frame it drops one byte and hunts for the next start-of-frame marker.
type Decoder struct {
	buf []byte
	// OnError, when set, sees every frame the decoder rejects.
	OnError func(error)
}

// Feed appends p and returns every complete key frame now available.
func (d *Decoder) Feed(p []byte) []KeyFrame {
	d.buf = append(d.buf, p...)
	var out []KeyFrame
	for {
		start := d.syncIndex()
		if start < 0 {
			// keep a trailing SOF0 that may pair with the next read
			if n := len(d.buf); n > 0 && d.buf[n-1] == SOF0 {
				d.buf = d.buf[n-1:]
			} else {
				d.buf = d.buf[:0]
			}
			return out
		}
		d.buf = d.buf[start:]
		if len(d.buf) < 3 {
			return out
		}

		length := int(d.buf[2])
		if length < 1 || length > maxFrameLen {
			d.reject(fmt.Errorf("%w: %d", ErrFrameLen, length))
			continue
		}
		total := 3 + length + 1
		if len(d.buf) < total {
			return out
		}

		frame := d.buf[:total]
		cks := byte(0)
		for _, b := range frame[2 : total-1] {
			cks ^= b
		}
		if cks != frame[total-1] {
			d.reject(fmt.Errorf("%w: want %#02x got %#02x", ErrChecksum, cks, frame[total-1]))
			continue
		}

		cmd := frame[3]
		if cmd != CmdKeyState || length != 3 {
			if d.OnError != nil {
				d.OnError(fmt.Errorf("%w: %#02x len %d", ErrUnknownCmd, cmd, length))
			}
			d.buf = d.buf[total:]
			continue
		}
		out = append(out, KeyFrame{Index: frame[4], Pressed: frame[5] != 0})
		d.buf = d.buf[total:]
	}
}

// Buffered is the number of bytes held waiting for the rest of a frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

func (d *Decoder) syncIndex() int {
	for i := 0; i+1 < len(d.buf); i++ {
		if d.buf[i] == SOF0 && d.buf[i+1] == SOF1 {
			return i
		}
	}
	return -1
}

// reject drops the first byte so the search restarts past the bad marker.
func (d *Decoder) reject(err error) {
	if d.OnError != nil {
		d.OnError(err)
	}
	d.buf = d.buf[1:]
}
