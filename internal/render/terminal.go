package render

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/DmNote-App/DmNote/internal/config"
	"github.com/DmNote-App/DmNote/internal/notebuf"
)

var (
	statusStyle = lipgloss.NewStyle().Faint(true)
	laneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#303030"))
)

// Cell is one character of the terminal canvas. Color is empty for
// background cells.
type Cell struct {
	Ch    rune
	Color string
}

// Grid maps canvas px onto terminal cells.
type Grid struct {
	Cols, Rows   int
	CellW, CellH float64
}

// GridFor sizes a grid to cover the screen height and every track.
func GridFor(cfg config.RenderConfig, tracks []config.Track) Grid {
	right := 0.0
	for _, t := range tracks {
		right = max(right, t.X+t.Width)
	}
	return Grid{
		Cols:  int(right/cfg.CellWidthPx) + 1,
		Rows:  max(int(cfg.ScreenHeight/cfg.CellHeightPx), 1),
		CellW: cfg.CellWidthPx,
		CellH: cfg.CellHeightPx,
	}
}

// Rasterize draws rects onto the grid. A cell is covered when its centre
// lies inside the note; its glyph shade follows the faded alpha.
func (g Grid) Rasterize(f FrameState) [][]Cell {
	cells := make([][]Cell, g.Rows)
	for r := range cells {
		cells[r] = make([]Cell, g.Cols)
		for c := range cells[r] {
			cells[r][c] = Cell{Ch: ' '}
		}
	}
	for _, rect := range f.Rects {
		for r := 0; r < g.Rows; r++ {
			y := (float64(r) + 0.5) * g.CellH
			if y < rect.Top || y >= rect.Bottom {
				continue
			}
			color := ColorAt(rect, y)
			alpha := float64(color[3]) * FadeAlpha(y, rect.TrackTop, rect.TrackBottom, f.Params.Reverse, f.Params.FadePosition)
			ch := shade(alpha)
			if ch == ' ' {
				continue
			}
			for c := 0; c < g.Cols; c++ {
				x := (float64(c) + 0.5) * g.CellW
				if x < rect.X || x >= rect.X+rect.Width {
					continue
				}
				cells[r][c] = Cell{Ch: ch, Color: hexColor(color)}
			}
		}
	}
	return cells
}

func shade(alpha float64) rune {
	switch {
	case alpha >= 0.75:
		return '█'
	case alpha >= 0.5:
		return '▓'
	case alpha >= 0.25:
		return '▒'
	case alpha > 0.05:
		return '░'
	}
	return ' '
}

func hexColor(c notebuf.RGBA) string {
	b := func(v float32) int { return int(clamp(v, 0, 1)*255 + 0.5) }
	return fmt.Sprintf("#%02X%02X%02X", b(c[0]), b(c[1]), b(c[2]))
}

// Terminal presents frames in a bubbletea program. Present only stores the
// latest frame; the program picks it up on its own tick, so the event loop
// never waits on the terminal.
type Terminal struct {
	prog   *tea.Program
	latest atomic.Pointer[FrameState]
}

func NewTerminal(cfg config.RenderConfig, tracks []config.Track, opts ...tea.ProgramOption) *Terminal {
	t := &Terminal{}
	fps := cfg.FPS
	if fps <= 0 {
		fps = config.DefaultFPS
	}
	m := model{
		grid:   GridFor(cfg, tracks),
		tracks: tracks,
		every:  time.Second / time.Duration(fps),
		latest: &t.latest,
		styles: make(map[string]lipgloss.Style),
	}
	t.prog = tea.NewProgram(m, opts...)
	return t
}

func (t *Terminal) Present(f FrameState) { t.latest.Store(&f) }

// Run blocks until the user quits or Quit is called.
func (t *Terminal) Run() error {
	if _, err := t.prog.Run(); err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	return nil
}

type tickMsg time.Time

type model struct {
	grid   Grid
	tracks []config.Track
	every  time.Duration
	latest *atomic.Pointer[FrameState]
	frame  *FrameState
	styles map[string]lipgloss.Style
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd { return m.tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		m.frame = m.latest.Load()
		return m, m.tick()
	}
	return m, nil
}

func (m model) View() string {
	var f FrameState
	if m.frame != nil {
		f = *m.frame
	}
	cells := m.grid.Rasterize(f)
	lanes := m.laneColumns()

	var sb strings.Builder
	for _, row := range cells {
		for c, cell := range row {
			switch {
			case cell.Color != "":
				sb.WriteString(m.style(cell.Color).Render(string(cell.Ch)))
			case lanes[c]:
				sb.WriteString(laneStyle.Render("│"))
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(statusStyle.Render(fmt.Sprintf("notes %d  visible %d  v%d  (q to quit)",
		f.ActiveCount, len(f.Rects), f.Version)))
	return sb.String()
}

// laneColumns marks the cell column at each track's left edge.
func (m model) laneColumns() []bool {
	lanes := make([]bool, m.grid.Cols)
	for _, t := range m.tracks {
		c := int(t.X / m.grid.CellW)
		if c >= 0 && c < len(lanes) {
			lanes[c] = true
		}
	}
	return lanes
}

func (m model) style(color string) lipgloss.Style {
	s, ok := m.styles[color]
	if !ok {
		s = lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		m.styles[color] = s
	}
	return s
}
