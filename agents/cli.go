package agents

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-yaml"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	voiceroom "github.com/bt-bridge/voice-room"
	"github.com/bt-bridge/voice-room/shared"
	"github.com/bt-bridge/voice-room/tools/audio"
	"github.com/bt-bridge/voice-room/transcript"
	"github.com/bt-bridge/voice-room/viewer"
)

type CLIConfig struct {
	TokenURL       string        `yaml:"tokenUrl"`
	ServerURL      string        `yaml:"serverUrl"`
	TokenTimeout   time.Duration `yaml:"tokenTimeout"`
	RoomPrefix     string        `yaml:"roomPrefix"`
	IdentityPrefix string        `yaml:"identityPrefix"`
	AgentName      string        `yaml:"agentName"`
	// Mute joins without a microphone; the agent is still heard.
	Mute     bool                 `yaml:"mute"`
	Playback audio.PlaybackConfig `yaml:"playback"`
}

// CLIAgent runs one voice session from the terminal: microphone in, speaker
// out, status and transcript printed as they change.
type CLIAgent struct {
	logger   shared.LoggerAdapter
	printer  *shared.Printer
	renderer *Renderer
	machine  *voiceroom.Machine
	conv     *voiceroom.Conversation
	mic      *audio.Microphone
	feed     *feed

	mu     sync.Mutex
	status string
	active bool
	done   chan struct{}
	once   sync.Once
}

func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg CLIConfig,
	printer *shared.Printer,
	hub *viewer.Hub,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	a.logger = logger
	a.printer = printer
	a.renderer = NewRenderer(lipgloss.NewRenderer(os.Stdout), cfg.AgentName)
	a.feed = newFeed()
	a.done = make(chan struct{})
	a.logger.Info("spawning CLI agent")
	if err := a.printer.Writeln("🤖 Spawning CLI agent...\n", 0); err != nil {
		a.logger.Error("printing spawning message", err)
	}

	if err := a.printer.Writeln("📋 Session Config\n", 0); err != nil {
		a.logger.Error("printing session config message", err)
	}
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		a.logger.Error("marshaling session config to yaml", err)
		return err
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing session config", err)
		return err
	}

	if !cfg.Mute {
		if err := a.printer.Writeln("\n🎤 Accessing microphone...", 0); err != nil {
			a.logger.Error("printing microphone access message", err)
		}
		a.mic, err = audio.OpenMicrophone()
		if err != nil {
			a.logger.Error("getting microphone stream", err)
			if err := a.printer.Writeln("❌ Unable to access microphone. Please ensure that your microphone is connected and that you have granted permission to access it.\n", 0); err != nil {
				a.logger.Error("printing microphone access failure message", err)
			}
			return err
		}
		if err := a.printer.Writeln("✅ Microphone access granted.\n", 0); err != nil {
			a.logger.Error("printing microphone access success message", err)
		}
	}

	tokens, err := voiceroom.NewHTTPTokenSource(a.logger, cfg.TokenURL, cfg.TokenTimeout)
	if err != nil {
		a.logger.Error("creating token source", err)
		return err
	}
	a.conv, err = voiceroom.NewConversation(a.logger.With(zap.String("component", "conversation")))
	if err != nil {
		return err
	}
	a.machine, err = voiceroom.NewMachine(
		a.logger.With(zap.String("component", "machine")),
		tokens,
		voiceroom.WithServerURL(cfg.ServerURL),
		voiceroom.WithNaming(cfg.RoomPrefix, cfg.IdentityPrefix),
		voiceroom.WithTranscriptionHandler(a.conv),
		voiceroom.WithMediaOpener(voiceroom.WebRTCOpener{
			Logger: a.logger.With(zap.String("component", "client")),
			Configure: func(ctx context.Context, c *voiceroom.Client) error {
				return a.configureMedia(ctx, c, cfg.Playback)
			},
		}),
	)
	if err != nil {
		a.logger.Error("creating session machine", err)
		return err
	}
	a.conv.Bind(a.machine)
	a.conv.AddSink(voiceroom.ProjectionFunc(a.render))
	a.machine.Subscribe(a.onState)
	if hub != nil {
		a.machine.Subscribe(hub.OnState)
		a.conv.AddSink(hub)
	}

	if err := a.machine.Start(ctx); err != nil {
		a.logger.Error("starting session", err)
		return err
	}
	return nil
}

func (a *CLIAgent) configureMedia(ctx context.Context, c *voiceroom.Client, playback audio.PlaybackConfig) error {
	err := c.RegisterTrackRemoteHandler(func(track *webrtc.TrackRemote) {
		a.logger.Info(
			"received remote track",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType),
		)
		audio.PlayRemote(ctx, a.logger, track, playback)
	})
	if err != nil {
		a.logger.Error("registering track remote handler", err)
		return err
	}
	if a.mic == nil {
		return nil
	}
	err = c.RegisterTrackLocalHandler(func(track *webrtc.TrackLocalStaticSample) {
		audio.StreamMicrophone(ctx, a.logger, track, a.mic)
	})
	if err != nil {
		a.logger.Error("registering track local handler", err)
		return err
	}
	return nil
}

func (a *CLIAgent) onState(s voiceroom.State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.Connection == voiceroom.ConnectionConnecting {
		a.feed.reset()
	}
	if line := a.renderer.Status(s); line != a.status {
		a.status = line
		if err := a.printer.Writeln(line, 0); err != nil {
			a.logger.Error("printing status", err)
		}
	}
	if s.Active() {
		a.active = true
		return
	}
	if a.active {
		a.once.Do(func() { close(a.done) })
	}
}

func (a *CLIAgent) render(p transcript.Projection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(p) == 0 {
		if err := a.printer.Writeln(a.renderer.Placeholder(), 1); err != nil {
			a.logger.Error("printing placeholder", err)
		}
		return
	}
	msgs := a.feed.next(p)
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = a.renderer.Message(m)
	}
	if err := a.printer.WriteBlock(lines, 1); err != nil {
		a.logger.Error("printing transcript", err)
	}
}

// Done is closed when the session ends for any reason.
func (a *CLIAgent) Done() <-chan struct{} {
	return a.done
}

func (a *CLIAgent) State() voiceroom.State {
	return a.machine.State()
}

// Transcript returns every message of the current session.
func (a *CLIAgent) Transcript() []transcript.Message {
	return a.conv.Messages()
}

func (a *CLIAgent) Close() error {
	if a.machine != nil {
		a.machine.End()
		a.machine.Wait()
	}
	if a.mic != nil {
		if err := a.mic.Close(); err != nil {
			return err
		}
	}
	return nil
}
