package termplayer

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	tickInterval = 250 * time.Millisecond
	seekStep     = 5.0
	barWidth     = 40
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	trackStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("84"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type tickMsg time.Time

// PeerCountMsg updates the member counter; the peer layer sends it via
// Program.Send.
type PeerCountMsg int

// StatusMsg replaces the status line.
type StatusMsg string

// Model is the bubbletea shell around a Playhead. Key presses drive the
// playhead; remote controls reach the same playhead through the sync
// controller, so the view needs no special remote handling.
type Model struct {
	roomKey  string
	playhead *Playhead

	peers  int
	status string
}

func NewModel(roomKey string, playhead *Playhead) Model {
	return Model{
		roomKey:  roomKey,
		playhead: playhead,
		status:   "connecting...",
	}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tick()
	case PeerCountMsg:
		m.peers = int(msg)
		return m, nil
	case StatusMsg:
		m.status = string(msg)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case " ":
			if m.playhead.Paused() {
				_ = m.playhead.Play()
			} else {
				_ = m.playhead.Pause()
			}
		case "left":
			_ = m.playhead.Seek(m.playhead.CurrentTime() - seekStep)
		case "right":
			_ = m.playhead.Seek(m.playhead.CurrentTime() + seekStep)
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("groupplay") + "  " + timeStyle.Render(m.roomKey) + "\n\n")

	pos := m.playhead.CurrentTime()
	dur := m.playhead.Duration()

	filled := 0
	if dur > 0 {
		filled = int(pos / dur * barWidth)
		if filled > barWidth {
			filled = barWidth
		}
	}
	bar := barStyle.Render(strings.Repeat("█", filled)) +
		trackStyle.Render(strings.Repeat("─", barWidth-filled))

	state := "▶"
	if m.playhead.Paused() {
		state = "⏸"
	}
	b.WriteString(fmt.Sprintf("  %s %s %s\n", state, bar,
		timeStyle.Render(formatTime(pos)+" / "+formatTime(dur))))

	b.WriteString("\n" + statusStyle.Render(fmt.Sprintf("%d peer(s) connected", m.peers)))
	if m.status != "" {
		b.WriteString(statusStyle.Render("  ·  " + m.status))
	}
	b.WriteString("\n\n" + helpStyle.Render("space play/pause · ←/→ seek 5s · q quit") + "\n")

	return b.String()
}

func formatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
