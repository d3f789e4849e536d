package voiceroom

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/bt-bridge/voice-room/metrics"
	"github.com/bt-bridge/voice-room/shared"
	"github.com/bt-bridge/voice-room/transcript"
)

// ProjectionSink receives every new projection of the transcript. The
// slice is shared between sinks and must not be modified.
type ProjectionSink interface {
	Publish(p transcript.Projection)
}

type ProjectionFunc func(p transcript.Projection)

func (f ProjectionFunc) Publish(p transcript.Projection) { f(p) }

// Conversation keeps the transcript of the current session and pushes a
// fresh projection to its sinks after every change. Its store is cleared
// whenever a new session starts connecting.
type Conversation struct {
	logger  shared.LoggerAdapter
	metrics *metrics.Metrics

	mu    sync.Mutex
	store *transcript.Store
	gen   uint64
	last  transcript.Projection
	sinks []ProjectionSink
}

func NewConversation(logger shared.LoggerAdapter, opts ...transcript.Option) (*Conversation, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &Conversation{
		logger:  logger,
		metrics: metrics.DefaultMetrics,
		store:   transcript.NewStore(opts...),
		last:    transcript.Projection{},
	}, nil
}

// AddSink registers s and sends it the current projection.
func (c *Conversation) AddSink(s ProjectionSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, s)
	s.Publish(c.last)
}

// Bind resets the conversation on every new session of m. Transcription
// reaches it through WithTranscriptionHandler.
func (c *Conversation) Bind(m *Machine) {
	m.Subscribe(c.OnState)
}

// OnState is a Machine listener.
func (c *Conversation) OnState(s State) {
	if s.Connection != ConnectionConnecting {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Generation == c.gen {
		return
	}
	c.gen = s.Generation
	c.store.Reset()
	c.logger.Debug("transcript reset", zap.Uint64("generation", s.Generation))
	c.publish()
}

func (c *Conversation) HandleTranscription(speaker transcript.Speaker, segs []transcript.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	applied := c.store.ApplyAll(speaker, segs)
	if applied < len(segs) {
		c.logger.Warn("dropped invalid transcript segments",
			zap.String("speaker", string(speaker)),
			zap.Int("dropped", len(segs)-applied),
		)
	}
	for _, seg := range segs {
		if seg.ID == "" {
			continue
		}
		c.metrics.SegmentsApplied.WithLabelValues(string(speaker), strconv.FormatBool(seg.Final)).Inc()
	}
	if applied > 0 {
		c.publish()
	}
}

// Projection returns the most recently published projection.
func (c *Conversation) Projection() transcript.Projection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Conversation) Messages() []transcript.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Messages()
}

func (c *Conversation) publish() {
	c.last = c.store.Project()
	c.metrics.ProjectionSize.Set(float64(len(c.last)))
	for _, s := range c.sinks {
		s.Publish(c.last)
	}
}
