package viewer

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Jxke/soundsight/internal/caption"
	"github.com/Jxke/soundsight/internal/protocol"
)

// CaptionMsg carries one received frame payload into the model.
type CaptionMsg struct {
	Message  protocol.CaptionMessage
	Received time.Time
}

// NewCaptionMsg decodes a frame payload.
func NewCaptionMsg(payload string, received time.Time) CaptionMsg {
	return CaptionMsg{Message: protocol.ParseCaption(payload), Received: received}
}

// StatusMsg reports the connection state of the transport client.
type StatusMsg struct {
	Connected bool
}

type statusTickMsg time.Time

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231"))
	onlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	speechStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	soundStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// Model is the bubbletea model of the caption viewer.
type Model struct {
	address   string
	maxLines  int
	captions  []CaptionMsg
	total     int
	connected bool
	status    func() bool
	width     int
	height    int
}

// New creates a viewer showing at most maxLines captions. status, when not
// nil, is polled for the connection indicator.
func New(address string, maxLines int, status func() bool) Model {
	if maxLines < 1 {
		maxLines = 10
	}
	return Model{address: address, maxLines: maxLines, status: status}
}

func statusTick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

// Init starts status polling.
func (m Model) Init() tea.Cmd {
	if m.status == nil {
		return nil
	}
	return statusTick()
}

// Update handles keys, window changes, captions and status.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "c":
			m.captions = nil
		}

	case statusTickMsg:
		if m.status != nil {
			m.connected = m.status()
		}
		return m, statusTick()

	case StatusMsg:
		m.connected = msg.Connected

	case CaptionMsg:
		m.total++
		m.captions = append(m.captions, msg)
		if len(m.captions) > m.maxLines {
			m.captions = m.captions[len(m.captions)-m.maxLines:]
		}
	}
	return m, nil
}

// View renders the header and the most recent captions, newest last.
func (m Model) View() string {
	var b strings.Builder

	state := offStyle.Render("○ disconnected")
	if m.connected {
		state = onlineStyle.Render("● connected")
	}
	fmt.Fprintf(&b, "%s  %s  %s\n", titleStyle.Render("SoundSight"), metaStyle.Render(m.address), state)
	b.WriteString(metaStyle.Render(fmt.Sprintf("%d captions received", m.total)))
	b.WriteString("\n\n")

	if len(m.captions) == 0 {
		b.WriteString(metaStyle.Render("Waiting for captions..."))
		b.WriteString("\n")
	}

	for _, c := range m.captions {
		b.WriteString(renderCaption(c, m.width))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(metaStyle.Render("q quit · c clear"))
	return b.String()
}

func renderCaption(c CaptionMsg, width int) string {
	msg := c.Message

	at := msg.Time()
	if at.IsZero() {
		at = c.Received
	}
	meta := at.Local().Format("15:04:05")
	if msg.Mode != "" {
		meta += fmt.Sprintf(" dir %d %.2f", msg.Direction, msg.Confidence)
	}

	style := speechStyle
	if msg.Mode == caption.ModeSound {
		style = soundStyle
	}

	if width > 0 {
		style = style.Width(max(width-len(meta)-2, 20))
	}

	return metaStyle.Render(meta) + "  " + style.Render(msg.Text)
}
