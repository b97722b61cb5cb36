package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/DmNote-App/DmNote/internal/logging"
)

// ErrBadLine is returned by ParseLine for anything that is not an edge.
var ErrBadLine = errors.New("input: malformed line")

// ParseLine reads one line of the keyboard hook protocol:
//
//	D:<key>[@<mode>]
//	U:<key>[@<mode>]
func ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	edge, rest, ok := strings.Cut(line, ":")
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrBadLine, line)
	}

	var e Event
	switch strings.ToUpper(edge) {
	case "D":
		e.Edge = Down
	case "U":
		e.Edge = Up
	default:
		return Event{}, fmt.Errorf("%w: unknown edge %q", ErrBadLine, edge)
	}

	e.Key, e.Mode, _ = strings.Cut(rest, "@")
	e.Key = strings.TrimSpace(e.Key)
	e.Mode = strings.TrimSpace(e.Mode)
	if e.Key == "" {
		return Event{}, fmt.Errorf("%w: empty key", ErrBadLine)
	}
	return e, nil
}

// ReadLines parses r line by line until EOF or ctx is done. Malformed lines
// are logged and skipped. Blank lines and lines starting with '#' are
// ignored.
func ReadLines(ctx context.Context, r io.Reader, handle Handler, logger *slog.Logger) error {
	logger = logging.OrDefault(logger)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		e, err := ParseLine(text)
		if err != nil {
			logger.Warn("input: skipping line", "line", lineNo, "err", err)
			continue
		}
		logger.Debug("input: edge", "key", e.Key, "edge", e.Edge.String(), "mode", e.Mode)
		handle(e)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
