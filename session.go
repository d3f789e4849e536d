package voiceroom

import "fmt"

type ConnectionState int

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// AgentTurn is the agent's conversational phase while a session is connected.
type AgentTurn int

const (
	TurnIdle AgentTurn = iota
	TurnConnecting
	TurnListening
	TurnThinking
	TurnSpeaking
)

func (t AgentTurn) String() string {
	switch t {
	case TurnIdle:
		return "idle"
	case TurnConnecting:
		return "connecting"
	case TurnListening:
		return "listening"
	case TurnThinking:
		return "thinking"
	case TurnSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Describe is the status line shown for the turn.
func (t AgentTurn) Describe() string {
	switch t {
	case TurnListening:
		return "Agent is listening..."
	case TurnThinking:
		return "Agent is thinking..."
	case TurnSpeaking:
		return "Agent is speaking..."
	case TurnConnecting:
		return "Connecting to agent..."
	default:
		return "Ready"
	}
}

func ParseAgentTurn(v string) (AgentTurn, error) {
	switch v {
	case "idle":
		return TurnIdle, nil
	case "connecting":
		return TurnConnecting, nil
	case "listening":
		return TurnListening, nil
	case "thinking":
		return TurnThinking, nil
	case "speaking":
		return TurnSpeaking, nil
	}
	return TurnIdle, fmt.Errorf("unknown agent turn %q", v)
}

// State is a snapshot of one voice session. The Machine owns the live value;
// everyone else receives copies.
type State struct {
	Connection ConnectionState `yaml:"connection"`
	AgentTurn  AgentTurn       `yaml:"agentTurn"`
	RoomID     string          `yaml:"roomId,omitempty"`
	Identity   string          `yaml:"identity,omitempty"`
	Token      string          `yaml:"-"`
	ServerURL  string          `yaml:"serverUrl,omitempty"`
	Error      string          `yaml:"error,omitempty"`
	// Generation increases on every Start; results tagged with an older
	// generation are stale.
	Generation uint64 `yaml:"generation"`
}

func (s State) Active() bool {
	return s.Connection != ConnectionDisconnected
}
