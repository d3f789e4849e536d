package agents

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	voiceroom "github.com/bt-bridge/voice-room"
	"github.com/bt-bridge/voice-room/transcript"
)

const (
	interimCursor = "▋"
	placeholder   = "Your conversation will appear here... start speaking!"
)

// Renderer formats session state and transcript messages for a terminal.
type Renderer struct {
	agentName string
	agent     lipgloss.Style
	user      lipgloss.Style
	meta      lipgloss.Style
	interim   lipgloss.Style
	failure   lipgloss.Style
}

func NewRenderer(r *lipgloss.Renderer, agentName string) *Renderer {
	if agentName == "" {
		agentName = "Agent"
	}
	return &Renderer{
		agentName: agentName,
		agent:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		user:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		meta:      r.NewStyle().Faint(true),
		interim:   r.NewStyle().Italic(true).Faint(true),
		failure:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

func (r *Renderer) Placeholder() string {
	return r.meta.Render(placeholder)
}

// Message renders one transcript line, e.g. "[12:04] You: hello".
func (r *Renderer) Message(m transcript.Message) string {
	var b strings.Builder
	b.WriteString(r.meta.Render("[" + m.Timestamp.Local().Format("15:04") + "]"))
	b.WriteByte(' ')
	if m.Speaker == transcript.SpeakerAgent {
		b.WriteString(r.agent.Render(r.agentName + ":"))
	} else {
		b.WriteString(r.user.Render("You:"))
	}
	b.WriteByte(' ')
	if m.IsFinal {
		b.WriteString(m.Text)
	} else {
		b.WriteString(r.interim.Render(m.Text + " " + interimCursor))
	}
	return b.String()
}

// Lines renders a whole projection, or the placeholder when it is empty.
func (r *Renderer) Lines(p transcript.Projection) []string {
	if len(p) == 0 {
		return []string{r.Placeholder()}
	}
	out := make([]string, len(p))
	for i, m := range p {
		out[i] = r.Message(m)
	}
	return out
}

// Status renders the connection and turn line shown above the transcript.
func (r *Renderer) Status(s voiceroom.State) string {
	switch s.Connection {
	case voiceroom.ConnectionConnecting:
		return "🔄 " + voiceroom.TurnConnecting.Describe()
	case voiceroom.ConnectionConnected:
		return "🟢 " + s.AgentTurn.Describe()
	}
	if s.Error != "" {
		return "🔴 " + r.failure.Render(s.Error)
	}
	return "⚪ " + voiceroom.TurnIdle.Describe()
}
