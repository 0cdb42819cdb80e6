package terminal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"pkt.systems/pipetail/schema"
)

// StateMsg tells the model the stream state changed.
type StateMsg schema.StreamState

// RefreshMsg asks the model to redraw.
type RefreshMsg struct{}

// changeMsg is delivered by waitForChange; handling it re-arms the wait.
type changeMsg struct{}

// chromeRows is the status bar plus the help or search line.
const chromeRows = 2

const wheelRows = 3

var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Background(lipgloss.Color("236"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	endedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	copiedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	matchStyle  = lipgloss.NewStyle().Reverse(true)
	selectStyle = lipgloss.NewStyle().Background(lipgloss.Color("238"))
	targetStyle = lipgloss.NewStyle().Bold(true)
)

// Model is a bubbletea model over a Terminal.
type Model struct {
	term      *Terminal
	target    string
	keys      KeyMap
	help      help.Model
	input     textinput.Model
	searching bool
	lastTerm  string
	state     schema.StreamState
	stateOf   func() schema.StreamState
	width     int
	height    int
	selecting bool
	selFrom   int
	selTo     int
}

// NewModel returns a Model showing term for target.
func NewModel(term *Terminal, target string) Model {
	input := textinput.New()
	input.Prompt = "/"
	input.Placeholder = "search"
	return Model{
		term:   term,
		target: target,
		keys:   DefaultKeyMap(),
		help:   help.New(),
		input:  input,
		state:  schema.StateIdle,
	}
}

// WithStateSource makes the model read the stream state from fn whenever
// the terminal signals a change.
func (m Model) WithStateSource(fn func() schema.StreamState) Model {
	m.stateOf = fn
	if fn != nil {
		m.state = fn()
	}
	return m
}

func (m Model) pullState() Model {
	if m.stateOf != nil {
		m.state = m.stateOf()
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.waitForChange()
}

// waitForChange blocks in a command goroutine until the terminal changes,
// so batch delivery never waits on the event loop.
func (m Model) waitForChange() tea.Cmd {
	term := m.term
	return func() tea.Msg {
		select {
		case <-term.Changes():
			return changeMsg{}
		case <-term.Done():
			return nil
		}
	}
}

func (m Model) viewportRows() int {
	rows := m.height - chromeRows
	if rows < 1 {
		rows = 1
	}
	return rows
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.term.Resize(msg.Width, m.viewportRows())
		return m, nil
	case StateMsg:
		m.state = schema.StreamState(msg)
		return m, nil
	case RefreshMsg:
		m = m.pullState()
		return m, nil
	case changeMsg:
		m = m.pullState()
		return m, m.waitForChange()
	case tea.MouseMsg:
		return m.updateMouse(msg), nil
	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.searching = false
		m.input.Blur()
		m.lastTerm = m.input.Value()
		m.term.Search(m.lastTerm, Forward)
		return m, nil
	case tea.KeyEsc:
		m.searching = false
		m.input.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	page := m.viewportRows()
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.term.ScrollBy(1)
	case key.Matches(msg, m.keys.Down):
		m.term.ScrollBy(-1)
	case key.Matches(msg, m.keys.PageUp):
		m.term.ScrollBy(page)
	case key.Matches(msg, m.keys.PageDown):
		m.term.ScrollBy(-page)
	case key.Matches(msg, m.keys.Top):
		m.term.ScrollToTop()
	case key.Matches(msg, m.keys.Bottom):
		m.term.ScrollToBottom()
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		m.input.SetValue("")
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Next):
		m.term.Search(m.lastTerm, Forward)
	case key.Matches(msg, m.keys.Prev):
		m.term.Search(m.lastTerm, Backward)
	case key.Matches(msg, m.keys.Copy):
		m.term.Select(0, page-1)
	}
	return m, nil
}

func (m Model) updateMouse(msg tea.MouseMsg) Model {
	switch {
	case msg.Button == tea.MouseButtonWheelUp:
		m.term.ScrollBy(wheelRows)
	case msg.Button == tea.MouseButtonWheelDown:
		m.term.ScrollBy(-wheelRows)
	case msg.Button == tea.MouseButtonLeft && msg.Action == tea.MouseActionPress:
		m.selecting = true
		m.selFrom, m.selTo = msg.Y, msg.Y
	case msg.Action == tea.MouseActionMotion && m.selecting:
		m.selTo = msg.Y
	case msg.Action == tea.MouseActionRelease && m.selecting:
		m.selecting = false
		m.selTo = msg.Y
		m.term.Select(m.selFrom, m.selTo)
	}
	return m
}

// View implements tea.Model.
func (m Model) View() string {
	view := m.term.View()
	rows := m.viewportRows()
	lo, hi := m.selFrom, m.selTo
	if lo > hi {
		lo, hi = hi, lo
	}
	var b strings.Builder
	for i := 0; i < rows; i++ {
		if i < len(view.Rows) {
			row := view.Rows[i]
			switch {
			case m.selecting && i >= lo && i <= hi:
				row = selectStyle.Render(ansi.Strip(row))
			case i == view.MatchRow:
				row = matchStyle.Render(ansi.Strip(row))
			}
			b.WriteString(row)
		}
		b.WriteByte('\n')
	}
	b.WriteString(m.statusLine(view))
	b.WriteByte('\n')
	if m.searching {
		b.WriteString(m.input.View())
	} else {
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}

func (m Model) statusLine(view View) string {
	state := m.state.String()
	switch m.state {
	case schema.StateFailed:
		state = failedStyle.Render(schema.ErrRetryExhausted.Error())
	case schema.StateEnded:
		state = endedStyle.Render("ended")
	}
	parts := []string{targetStyle.Render(m.target), state, fmt.Sprintf("%d lines", view.TotalLines)}
	if !view.AtBottom {
		parts = append(parts, "scrolled")
	}
	if view.HasMatch {
		parts = append(parts, fmt.Sprintf("match %q at #%d", view.Match.Term, view.Match.Seq))
	}
	if view.Copied {
		parts = append(parts, copiedStyle.Render("copied"))
	}
	line := " " + strings.Join(parts, "  ")
	return statusStyle.Width(m.width).Render(ansi.Truncate(line, m.width, "…"))
}
