// Package viewer pushes the live session state and transcript to browsers
// over websockets.
package viewer

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	voiceroom "github.com/bt-bridge/voice-room"
	"github.com/bt-bridge/voice-room/metrics"
	"github.com/bt-bridge/voice-room/shared"
	"github.com/bt-bridge/voice-room/transcript"
)

const (
	FrameTypeState      = "state"
	FrameTypeTranscript = "transcript"
)

type StateFrame struct {
	Type       string `json:"type"`
	Connection string `json:"connection"`
	AgentTurn  string `json:"agentTurn"`
	Status     string `json:"status"`
	Room       string `json:"room,omitempty"`
	Identity   string `json:"identity,omitempty"`
	Error      string `json:"error,omitempty"`
}

type TranscriptFrame struct {
	Type     string               `json:"type"`
	Messages []transcript.Message `json:"messages"`
}

type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	// SendBuffer is how many frames may queue per viewer before it is
	// dropped as too slow.
	SendBuffer int
}

const minSendBuffer = 2

var DefaultConfig = Config{
	WriteTimeout: 5 * time.Second,
	PingInterval: 20 * time.Second,
	SendBuffer:   32,
}

type viewer struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (v *viewer) stop() {
	v.once.Do(func() { close(v.send) })
}

// Hub is a voiceroom.ProjectionSink and Machine listener that fans every
// update out to attached viewers. New viewers first receive the latest state
// and transcript.
type Hub struct {
	logger   shared.LoggerAdapter
	metrics  *metrics.Metrics
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	state   []byte
	script  []byte
}

var _ voiceroom.ProjectionSink = (*Hub)(nil)

func NewHub(logger shared.LoggerAdapter, cfg Config) (*Hub, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig.SendBuffer
	}
	// Room for the state and transcript replay.
	cfg.SendBuffer = max(cfg.SendBuffer, minSendBuffer)
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig.PingInterval
	}
	return &Hub{
		logger:  logger,
		metrics: metrics.DefaultMetrics,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		viewers: make(map[*viewer]struct{}),
	}, nil
}

func (h *Hub) Publish(p transcript.Projection) {
	msgs := []transcript.Message(p)
	if msgs == nil {
		msgs = []transcript.Message{}
	}
	b, err := sonic.Marshal(TranscriptFrame{Type: FrameTypeTranscript, Messages: msgs})
	if err != nil {
		h.logger.Error("marshaling transcript frame", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.script = b
	h.broadcast(b)
}

func (h *Hub) OnState(s voiceroom.State) {
	b, err := sonic.Marshal(StateFrame{
		Type:       FrameTypeState,
		Connection: s.Connection.String(),
		AgentTurn:  s.AgentTurn.String(),
		Status:     status(s),
		Room:       s.RoomID,
		Identity:   s.Identity,
		Error:      s.Error,
	})
	if err != nil {
		h.logger.Error("marshaling state frame", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = b
	h.broadcast(b)
}

func status(s voiceroom.State) string {
	switch s.Connection {
	case voiceroom.ConnectionConnecting:
		return voiceroom.TurnConnecting.Describe()
	case voiceroom.ConnectionConnected:
		return s.AgentTurn.Describe()
	}
	return voiceroom.TurnIdle.Describe()
}

// broadcast must be called with h.mu held.
func (h *Hub) broadcast(b []byte) {
	for v := range h.viewers {
		select {
		case v.send <- b:
		default:
			h.logger.Warn("dropping slow viewer", zap.String("remote", v.conn.RemoteAddr().String()))
			h.remove(v)
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(v *viewer) {
	if _, ok := h.viewers[v]; !ok {
		return
	}
	delete(h.viewers, v)
	v.stop()
	h.metrics.ViewersConnected.Dec()
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// ServeHTTP upgrades the request and streams frames until the viewer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	v := &viewer{conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}

	h.mu.Lock()
	for _, b := range [][]byte{h.state, h.script} {
		if b == nil {
			continue
		}
		select {
		case v.send <- b:
		default:
			h.logger.Warn("replay exceeds send buffer", zap.Int("sendBuffer", h.cfg.SendBuffer))
		}
	}
	h.viewers[v] = struct{}{}
	h.metrics.ViewersConnected.Inc()
	h.mu.Unlock()
	h.logger.Debug("viewer attached", zap.String("remote", conn.RemoteAddr().String()))

	go h.read(v)
	h.write(v)
}

// read discards inbound frames and detaches the viewer when it goes away.
func (h *Hub) read(v *viewer) {
	defer func() {
		h.mu.Lock()
		h.remove(v)
		h.mu.Unlock()
	}()
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) write(v *viewer) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ping.Stop()
		_ = v.conn.Close()
	}()
	for {
		select {
		case b, ok := <-v.send:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if !ok {
				_ = v.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			if err := v.conn.SetWriteDeadline(deadline); err != nil {
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := v.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// Close detaches every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		h.remove(v)
	}
}
