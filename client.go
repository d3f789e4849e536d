package voiceroom

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bt-bridge/voice-room/shared"
	"github.com/bt-bridge/voice-room/tools"
	"github.com/bt-bridge/voice-room/transcript"
)

type TrackRemoteHandler func(track *webrtc.TrackRemote)
type TrackLocalHandler func(track *webrtc.TrackLocalStaticSample)

// DataChannelLabel is the label of the provider event channel.
const DataChannelLabel = "events"

// Client is one WebRTC media session with the room provider. Signaling is a
// single WHIP-style exchange: the SDP offer is POSTed to the provider with
// the grant as bearer token and the answer comes back in the body.
type Client struct {
	logger shared.LoggerAdapter
	params SessionParams
	sink   ProviderSink

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	running bool

	audioL   *webrtc.TrackLocalStaticSample
	audioTLH TrackLocalHandler  // track.Kind() == webrtc.RTPCodecTypeAudio
	audioTRH TrackRemoteHandler // track.Kind() == webrtc.RTPCodecTypeAudio

	state     webrtc.PeerConnectionState
	connected bool

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func NewClient(ctx context.Context, logger shared.LoggerAdapter, params SessionParams, sink ProviderSink) (c *Client, err error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if sink == nil {
		return nil, shared.ErrNoEventHandler
	}
	if params.ServerURL == "" || params.Token == "" {
		return nil, shared.ErrNoConfig
	}
	ctx, cancel := context.WithCancelCause(ctx)
	c = &Client{
		logger: logger.With(zap.String("room", params.Room), zap.String("identity", params.Identity)),
		params: params,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}

	c.pc, err = webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		cancel(err)
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.mu.Lock()
		if err := c.respectCtx(); err != nil {
			c.mu.Unlock()
			return
		}
		c.logger.Trace(
			"peer connection state changed",
			zap.String("prev", c.state.String()),
			zap.String("new", state.String()),
		)
		c.state = state
		var lost error
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if c.connected {
				c.logger.Warn("peer connection state is connected (More than once)")
				c.mu.Unlock()
				return
			}
			c.connected = true
			if c.audioTLH != nil {
				go c.audioTLH(c.audioL)
			}
			c.mu.Unlock()
			c.sink.Connected()
			return
		case webrtc.PeerConnectionStateDisconnected:
			lost = errors.New("peer connection state is disconnected")
		case webrtc.PeerConnectionStateFailed:
			lost = errors.New("peer connection state is failed")
		case webrtc.PeerConnectionStateClosed:
			lost = errors.New("peer connection state is closed")
		default:
			c.mu.Unlock()
			return
		}
		c.cancel(lost)
		c.mu.Unlock()
		// The sink closes this client, which must not happen on pion's
		// callback goroutine.
		go c.sink.Disconnected(lost)
	})

	c.dc, err = c.pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		cancel(err)
		_ = c.pc.Close()
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	c.dc.OnOpen(c.onOpen)
	c.dc.OnMessage(c.onMessage)
	return c, nil
}

func (c *Client) respectCtx() error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}
	return nil
}

func (c *Client) RegisterTrackLocalHandler(handler TrackLocalHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrSessionAlreadyRunning
	}
	if c.audioTLH != nil || c.audioL != nil {
		return shared.ErrTLHandlerAlreadySet
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var err error
	c.audioL, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio",
		c.params.Identity,
	)
	if err != nil {
		return fmt.Errorf("creating local audio track: %w", err)
	}
	if _, err = c.pc.AddTrack(c.audioL); err != nil {
		return fmt.Errorf("adding audio track to peer connection: %w", err)
	}
	c.audioTLH = handler
	return nil
}

func (c *Client) RegisterTrackRemoteHandler(handler TrackRemoteHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrSessionAlreadyRunning
	}
	if c.audioTRH != nil {
		return shared.ErrTRHandlerAlreadySet
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	c.audioTRH = handler
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			go c.audioTRH(track)
		}
	})
	return nil
}

// Start negotiates the session. It returns once the provider has answered;
// connectivity is reported to the sink as it happens.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrSessionAlreadyRunning
	}
	if c.pc == nil || c.dc == nil {
		return shared.ErrClientNotInitialized
	}
	if c.audioL == nil {
		// Still receive the agent's voice without a microphone.
		if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("adding audio transceiver: %w", err)
		}
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.cancel(fmt.Errorf("creating offer: %w", err))
		return fmt.Errorf("creating offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err = c.pc.SetLocalDescription(offer); err != nil {
		c.cancel(fmt.Errorf("setting local description: %w", err))
		return fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gathered:
	case <-c.ctx.Done():
		return fmt.Errorf("gathering candidates: %w", context.Cause(c.ctx))
	}
	answer, err := c.signal(c.pc.LocalDescription().SDP)
	if err != nil {
		c.cancel(fmt.Errorf("signaling: %w", err))
		return fmt.Errorf("signaling: %w", err)
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		c.cancel(fmt.Errorf("setting remote description: %w", err))
		return fmt.Errorf("setting remote description: %w", err)
	}
	c.running = true
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel(errors.New("client closed"))
	}
	c.running = false
	if c.pc == nil {
		return nil
	}
	err := c.pc.Close()
	c.pc = nil
	if err != nil {
		return fmt.Errorf("closing peer connection: %w", err)
	}
	return nil
}

// WHIPEndpoint derives the signaling URL from the provider's server URL;
// websocket schemes map onto their HTTP counterparts.
func WHIPEndpoint(serverURL, room string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parsing server URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "wss", "https":
		u.Scheme = "https"
	case "ws", "http":
		u.Scheme = "http"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u = u.JoinPath("rtc", "whip")
	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) signal(offer string) (string, error) {
	endpoint, err := WHIPEndpoint(c.params.ServerURL, c.params.Room)
	if err != nil {
		return "", err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}
	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+c.params.Token)
	req.Header.SetContentType("application/sdp")
	req.SetBodyString(offer)

	errC := make(chan error, 1)
	go func() {
		errC <- fasthttp.Do(req, resp)
	}()
	select {
	case <-c.ctx.Done():
		go func() {
			<-errC
			release()
		}()
		return "", c.ctx.Err()
	case err := <-errC:
		defer release()
		if err != nil {
			return "", fmt.Errorf("performing HTTP request: %w", err)
		}
	}
	if resp.StatusCode() != fasthttp.StatusCreated {
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	return string(resp.Body()), nil
}

func (c *Client) onOpen() {
	ev := &Event{
		EventId: tools.NewEventID(),
		Type:    EventTypeClientReady,
		Param:   &EventParamClientReady{Identity: c.params.Identity, Room: c.params.Room},
	}
	if err := c.Send(ev); err != nil {
		c.logger.Error("sending ready event", err)
		return
	}
	c.logger.Info("data channel opened and ready event sent")
}

// Send writes a client event on the data channel. Provider events are
// refused.
func (c *Client) Send(ev *Event) error {
	if !ev.IsClientEvent() {
		return fmt.Errorf("%w: %s", shared.ErrNotClientEvent, ev.Type)
	}
	if c.dc == nil {
		return shared.ErrSessionNotRunning
	}
	b, err := ev.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return c.dc.SendText(string(b))
}

func (c *Client) onMessage(msg webrtc.DataChannelMessage) {
	if !msg.IsString {
		c.logger.Warn("received non-string message on data channel")
		return
	}
	event := new(Event)
	if err := event.UnmarshalJSON(msg.Data); err != nil {
		c.logger.Error(
			"can not unmarshal event",
			err,
			zap.ByteString("data", msg.Data),
		)
		return
	}
	c.logger.Debug(
		"received event",
		zap.String("type", string(event.Type)),
		zap.String("event_id", event.EventId),
	)
	Dispatch(event, c.params.Identity, c.sink, c.logger)
}

// Dispatch routes a provider event to sink. Transcription from localIdentity
// is the user's; every other participant is the agent.
func Dispatch(ev *Event, localIdentity string, sink ProviderSink, logger shared.LoggerAdapter) {
	switch p := ev.Param.(type) {
	case *EventParamAgentStateChanged:
		sink.Turn(p.State)
	case *EventParamTranscriptionReceived:
		speaker := transcript.SpeakerAgent
		if p.ParticipantIdentity == localIdentity {
			speaker = transcript.SpeakerUser
		}
		segs := make([]transcript.Segment, 0, len(p.Segments))
		for _, s := range p.Segments {
			segs = append(segs, transcript.Segment{
				ID:      transcript.ScopedID(speaker, s.Id),
				Speaker: speaker,
				Text:    s.Text,
				Final:   s.Final,
			})
		}
		sink.Transcription(speaker, segs)
	case *EventParamRoomClosed:
		logger.Info("room closed by provider", zap.String("reason", p.Reason))
		sink.Disconnected(nil)
	case *EventParamError:
		logger.Warn("provider error", zap.String("code", p.Code), zap.String("message", p.Message))
		sink.Disconnected(fmt.Errorf("provider error %s: %s", p.Code, p.Message))
	default:
		logger.Debug("ignoring event", zap.String("type", string(ev.Type)))
	}
}

// WebRTCOpener opens Client media sessions. Configure, when set, runs
// before negotiation to attach local and remote track handlers.
type WebRTCOpener struct {
	Logger    shared.LoggerAdapter
	Configure func(ctx context.Context, c *Client) error
}

func (o WebRTCOpener) Open(ctx context.Context, params SessionParams, sink ProviderSink) (MediaSession, error) {
	if o.Logger == nil {
		return nil, shared.ErrNoLogger
	}
	c, err := NewClient(ctx, o.Logger, params, sink)
	if err != nil {
		return nil, err
	}
	if o.Configure != nil {
		if err := o.Configure(c.ctx, c); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	if err := c.Start(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
