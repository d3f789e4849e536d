package voiceroom

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bt-bridge/voice-room/metrics"
	"github.com/bt-bridge/voice-room/shared"
	"github.com/bt-bridge/voice-room/tools"
	"github.com/bt-bridge/voice-room/transcript"
)

// TokenSource obtains a signed grant for identity to join room.
type TokenSource interface {
	Token(ctx context.Context, room, identity string) (string, error)
}

// SessionParams is what a media session needs to join the provider room.
type SessionParams struct {
	ServerURL string
	Room      string
	Identity  string
	Token     string
}

// MediaSession is an open connection to the provider room.
type MediaSession interface {
	Close() error
}

// MediaOpener connects a media session. The session reports provider
// events to sink for as long as it is open; ctx is cancelled when the
// session ends.
type MediaOpener interface {
	Open(ctx context.Context, params SessionParams, sink ProviderSink) (MediaSession, error)
}

// ProviderSink receives events raised by the session provider.
type ProviderSink interface {
	Connected()
	Disconnected(err error)
	Turn(turn AgentTurn)
	Transcription(speaker transcript.Speaker, segs []transcript.Segment)
}

// TranscriptionHandler consumes segments routed from the provider.
type TranscriptionHandler interface {
	HandleTranscription(speaker transcript.Speaker, segs []transcript.Segment)
}

// Listener observes every state transition. It runs synchronously while the
// Machine is locked and must not call back into the Machine.
type Listener func(State)

type MachineOption func(*Machine)

func WithMediaOpener(opener MediaOpener) MachineOption {
	return func(m *Machine) {
		m.opener = opener
	}
}

func WithServerURL(serverURL string) MachineOption {
	return func(m *Machine) {
		m.serverURL = serverURL
	}
}

func WithTranscriptionHandler(h TranscriptionHandler) MachineOption {
	return func(m *Machine) {
		m.transcripts = h
	}
}

// WithNaming sets the prefixes used for generated room ids and identities.
func WithNaming(roomPrefix, identityPrefix string) MachineOption {
	return func(m *Machine) {
		m.newRoomID = func() string { return tools.NewRoomID(roomPrefix, time.Now()) }
		m.newIdentity = func() string { return tools.NewIdentity(identityPrefix) }
	}
}

// WithIDs replaces room id and identity generation outright.
func WithIDs(room, identity func() string) MachineOption {
	return func(m *Machine) {
		m.newRoomID = room
		m.newIdentity = identity
	}
}

func WithMetrics(mt *metrics.Metrics) MachineOption {
	return func(m *Machine) {
		m.metrics = mt
	}
}

// Machine owns the lifecycle of one voice session at a time. All handlers
// are serialized; a result that arrives after the session it belongs to has
// ended or restarted is dropped.
type Machine struct {
	logger      shared.LoggerAdapter
	tokens      TokenSource
	opener      MediaOpener
	transcripts TranscriptionHandler
	metrics     *metrics.Metrics
	serverURL   string
	newRoomID   func() string
	newIdentity func() string

	mu        sync.Mutex
	state     State
	gen       uint64
	media     MediaSession
	cancel    context.CancelFunc
	listeners []Listener

	pending sync.WaitGroup
}

func NewMachine(logger shared.LoggerAdapter, tokens TokenSource, opts ...MachineOption) (*Machine, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if tokens == nil {
		return nil, shared.ErrNoTokenSource
	}
	m := &Machine{
		logger:  logger,
		tokens:  tokens,
		metrics: metrics.DefaultMetrics,
	}
	WithNaming("voice", "guest")(m)
	for _, opt := range opts {
		opt(m)
	}
	m.state = State{Connection: ConnectionDisconnected, AgentTurn: TurnIdle}
	m.gauge(ConnectionDisconnected)
	return m, nil
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers l and immediately calls it with the current state.
func (m *Machine) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
	l(m.state)
}

// Wait blocks until every authorization and media open started so far has
// resolved.
func (m *Machine) Wait() {
	m.pending.Wait()
}

// Start begins a new session: it generates a room id and identity, enters
// connecting and requests a grant in the background. Starting while a
// session is connecting or connected is rejected and changes nothing.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Connection != ConnectionDisconnected {
		return shared.ErrSessionAlreadyRunning
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	params := SessionParams{
		ServerURL: m.serverURL,
		Room:      m.newRoomID(),
		Identity:  m.newIdentity(),
	}
	m.transition(State{
		Connection: ConnectionConnecting,
		AgentTurn:  TurnIdle,
		RoomID:     params.Room,
		Identity:   params.Identity,
		ServerURL:  params.ServerURL,
		Generation: gen,
	})
	m.metrics.SessionsStarted.Inc()
	m.logger.Info("session starting",
		zap.Uint64("generation", gen),
		zap.String("room", params.Room),
		zap.String("identity", params.Identity),
	)

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		token, err := m.tokens.Token(ctx, params.Room, params.Identity)
		params.Token = token
		m.authorized(ctx, gen, params, err)
	}()
	return nil
}

// End stops the current session. Ending a disconnected session does nothing.
func (m *Machine) End() {
	m.mu.Lock()
	media := m.stop("user", nil)
	m.mu.Unlock()
	closeMedia(m.logger, media)
}

func (m *Machine) authorized(ctx context.Context, gen uint64, params SessionParams, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state.Connection != ConnectionConnecting {
		m.mu.Unlock()
		m.metrics.StaleGrantResult.Inc()
		m.logger.Debug("dropping stale grant result",
			zap.Uint64("generation", gen),
			zap.Bool("failed", err != nil),
		)
		return
	}
	if err != nil {
		m.logger.Error("authorization failed", err, zap.Uint64("generation", gen))
		m.stop(shared.KindOf(err).String(), err)
		m.mu.Unlock()
		return
	}
	next := m.state
	next.Connection = ConnectionConnected
	next.Token = params.Token
	m.transition(next)
	m.logger.Info("session connected", zap.Uint64("generation", gen), zap.String("room", params.Room))
	opener := m.opener
	m.mu.Unlock()

	if opener == nil {
		return
	}
	media, err := opener.Open(ctx, params, &providerSink{m: m, gen: gen})

	m.mu.Lock()
	if gen != m.gen || m.state.Connection != ConnectionConnected {
		m.mu.Unlock()
		closeMedia(m.logger, media)
		return
	}
	if err != nil {
		m.logger.Error("opening media session failed", err, zap.Uint64("generation", gen))
		m.stop(shared.KindTransportFailure.String(), shared.TransportFailure("opening media session", err))
		m.mu.Unlock()
		closeMedia(m.logger, media)
		return
	}
	m.media = media
	m.mu.Unlock()
}

// stop moves to disconnected and invalidates everything in flight. It
// returns the media session the caller must close after unlocking.
func (m *Machine) stop(reason string, cause error) MediaSession {
	if m.state.Connection == ConnectionDisconnected {
		return nil
	}
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	media := m.media
	m.media = nil
	next := State{
		Connection: ConnectionDisconnected,
		AgentTurn:  TurnIdle,
		Generation: m.state.Generation,
	}
	if cause != nil {
		next.Error = shared.UserMessage(cause)
	}
	m.transition(next)
	m.metrics.SessionsEnded.WithLabelValues(reason).Inc()
	m.logger.Info("session ended", zap.String("reason", reason), zap.String("error", next.Error))
	return media
}

func (m *Machine) transition(next State) {
	prev := m.state.Connection
	m.state = next
	if prev != next.Connection {
		m.gauge(next.Connection)
	}
	for _, l := range m.listeners {
		l(next)
	}
}

func (m *Machine) gauge(current ConnectionState) {
	for _, s := range []ConnectionState{ConnectionDisconnected, ConnectionConnecting, ConnectionConnected} {
		v := 0.0
		if s == current {
			v = 1
		}
		m.metrics.SessionState.WithLabelValues(s.String()).Set(v)
	}
}

// live reports whether gen is the connected session. Callers hold m.mu.
func (m *Machine) live(gen uint64) bool {
	return gen == m.gen && m.state.Connection == ConnectionConnected
}

func closeMedia(logger shared.LoggerAdapter, media MediaSession) {
	if media == nil {
		return
	}
	if err := media.Close(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("closing media session failed", zap.Error(err))
	}
}

// providerSink tags provider events with the generation that opened the
// media session.
type providerSink struct {
	m   *Machine
	gen uint64
}

func (s *providerSink) Connected() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if !s.m.live(s.gen) {
		return
	}
	s.m.logger.Debug("provider connected", zap.Uint64("generation", s.gen))
}

func (s *providerSink) Disconnected(err error) {
	s.m.mu.Lock()
	if !s.m.live(s.gen) {
		s.m.mu.Unlock()
		return
	}
	reason := "provider"
	if err != nil {
		err = shared.TransportFailure("provider disconnected", err)
		reason = shared.KindTransportFailure.String()
	}
	media := s.m.stop(reason, err)
	s.m.mu.Unlock()
	closeMedia(s.m.logger, media)
}

func (s *providerSink) Turn(turn AgentTurn) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if !s.m.live(s.gen) || s.m.state.AgentTurn == turn {
		return
	}
	next := s.m.state
	next.AgentTurn = turn
	s.m.transition(next)
	s.m.metrics.AgentTurns.WithLabelValues(turn.String()).Inc()
}

func (s *providerSink) Transcription(speaker transcript.Speaker, segs []transcript.Segment) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if !s.m.live(s.gen) || s.m.transcripts == nil {
		return
	}
	s.m.transcripts.HandleTranscription(speaker, segs)
}
