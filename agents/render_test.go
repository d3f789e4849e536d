package agents

import (
	"bytes"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"

	voiceroom "github.com/bt-bridge/voice-room"
	"github.com/bt-bridge/voice-room/transcript"
)

// plainRenderer writes to a non-terminal, so styles render as plain text.
func plainRenderer(agentName string) *Renderer {
	return NewRenderer(lipgloss.NewRenderer(new(bytes.Buffer)), agentName)
}

func TestRendererMessage(t *testing.T) {
	r := plainRenderer("Rosa")
	at := time.Date(2025, 10, 4, 12, 4, 0, 0, time.Local)

	assert.Equal(t, "[12:04] Rosa: Hola", r.Message(transcript.Message{
		Speaker: transcript.SpeakerAgent, Text: "Hola", Timestamp: at, IsFinal: true,
	}))
	assert.Equal(t, "[12:04] You: I think ▋", r.Message(transcript.Message{
		Speaker: transcript.SpeakerUser, Text: "I think", Timestamp: at,
	}))
}

func TestRendererLinesPlaceholder(t *testing.T) {
	r := plainRenderer("")
	assert.Equal(t, []string{placeholder}, r.Lines(nil))

	lines := r.Lines(transcript.Projection{
		{Speaker: transcript.SpeakerAgent, Text: "a", IsFinal: true},
		{Speaker: transcript.SpeakerUser, Text: "b", IsFinal: true},
	})
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Agent: a")
	assert.Contains(t, lines[1], "You: b")
}

func TestRendererStatus(t *testing.T) {
	r := plainRenderer("Rosa")
	tests := []struct {
		state voiceroom.State
		want  string
	}{
		{state: voiceroom.State{}, want: "⚪ Ready"},
		{state: voiceroom.State{Error: "server misconfigured"}, want: "🔴 server misconfigured"},
		{state: voiceroom.State{Connection: voiceroom.ConnectionConnecting}, want: "🔄 Connecting to agent..."},
		{state: voiceroom.State{Connection: voiceroom.ConnectionConnected, AgentTurn: voiceroom.TurnThinking}, want: "🟢 Agent is thinking..."},
		{state: voiceroom.State{Connection: voiceroom.ConnectionConnected}, want: "🟢 Ready"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Status(tt.state))
		})
	}
}
