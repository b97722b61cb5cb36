package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"github.com/DmNote-App/DmNote/internal/logging"
)

const serialReadTimeout = 100 * time.Millisecond

// SerialSource reads key frames from a keypad on a serial port.
type SerialSource struct {
	port   io.ReadCloser
	keys   IndexMap
	dec    Decoder
	logger *slog.Logger
}

// OpenSerial opens the named serial device at the given baud rate. keys maps
// keypad button index to track key.
func OpenSerial(device string, baud int, keys []string, logger *slog.Logger) (*SerialSource, error) {
	logger = logging.OrDefault(logger)
	p, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	// bounded reads let Run notice cancellation
	if err := p.SetReadTimeout(serialReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial %s read timeout: %w", device, err)
	}
	logger.Info("serial: port opened", "device", device, "baud", baud, "keys", len(keys))
	return NewSerialSource(p, keys, logger), nil
}

// NewSerialSource reads frames from an already open port.
func NewSerialSource(port io.ReadCloser, keys []string, logger *slog.Logger) *SerialSource {
	s := &SerialSource{port: port, keys: IndexMap(keys), logger: logging.OrDefault(logger)}
	s.dec.OnError = func(err error) {
		s.logger.Warn("serial: frame dropped", "err", err)
	}
	return s
}

// Ports lists serial devices present on the system.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// Run reads until ctx is done, the port reaches EOF, or a read fails.
func (s *SerialSource) Run(ctx context.Context, handle Handler) error {
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.port.Read(buf)
		if n > 0 {
			for _, f := range s.dec.Feed(buf[:n]) {
				s.dispatch(f, handle)
			}
		}
		if errors.Is(err, io.EOF) {
			s.logger.Info("serial: port closed by peer")
			return nil
		}
		if err != nil {
			return fmt.Errorf("serial read: %w", err)
		}
	}
}

func (s *SerialSource) dispatch(f KeyFrame, handle Handler) {
	key, ok := s.keys.Key(int(f.Index))
	if !ok {
		s.logger.Debug("serial: unmapped button", "index", f.Index)
		return
	}
	e := Event{Key: key, Edge: Up}
	if f.Pressed {
		e.Edge = Down
	}
	s.logger.Debug("serial: edge", "key", key, "edge", e.Edge.String())
	handle(e)
}

// Close closes the underlying serial port.
func (s *SerialSource) Close() error {
	s.logger.Info("serial: closing port")
	return s.port.Close()
}
