// Package audio bridges the local microphone and speakers to the media
// tracks of a voice session.
package audio

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hraban/opus"
	"github.com/pion/mediadevices"
	opusenc "github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"

	"github.com/bt-bridge/voice-room/shared"
	"github.com/bt-bridge/voice-room/tools"
)

var ErrNoMicrophoneTrack = errors.New("no audio track found in microphone stream")

// Microphone is an opened capture device encoding to Opus.
type Microphone struct {
	Track   mediadevices.Track
	Latency time.Duration
}

func (m *Microphone) Close() error {
	return m.Track.Close()
}

// OpenMicrophone opens the default capture device at 48kHz mono.
func OpenMicrophone() (*Microphone, error) {
	params, err := opusenc.NewParams()
	if err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&params),
		),
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, ErrNoMicrophoneTrack
	}
	return &Microphone{Track: tracks[0], Latency: time.Duration(params.Latency)}, nil
}

// StreamMicrophone publishes encoded microphone frames on track until ctx
// is done or the microphone ends.
func StreamMicrophone(ctx context.Context, logger shared.LoggerAdapter, track *webrtc.TrackLocalStaticSample, mic *Microphone) {
	reader, err := mic.Track.NewEncodedReader(track.Codec().MimeType)
	if err != nil {
		logger.Error("creating media track reader", err)
		return
	}
	defer reader.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		buf, release, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			logger.Error("reading from media track", err)
			continue
		}
		if buf.Samples == 0 {
			release()
			continue
		}
		err = track.WriteSample(media.Sample{
			Data:     buf.Data,
			Duration: mic.Latency,
		})
		release()
		if err != nil {
			logger.Error("failed to write sample to track", err)
		}
	}
}

type PlaybackConfig struct {
	// BufferMs is the output device buffer.
	BufferMs int `yaml:"bufferMs"`
	// RingSeconds bounds how much decoded audio may queue before the oldest
	// is dropped.
	RingSeconds int `yaml:"ringSeconds"`
}

var DefaultPlayback = PlaybackConfig{BufferMs: 100, RingSeconds: 2}

// PlayRemote decodes the agent's Opus track and plays it on the default
// output device until ctx is done or the track ends.
func PlayRemote(ctx context.Context, logger shared.LoggerAdapter, track *webrtc.TrackRemote, cfg PlaybackConfig) {
	var (
		codec      = track.Codec()
		sampleRate = int(codec.ClockRate)
		channels   = int(codec.Channels)
	)
	logger.Info("playing remote audio",
		zap.String("codec", codec.MimeType),
		zap.Int("sampleRate", sampleRate),
		zap.Int("channels", channels),
	)
	decoder, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		logger.Error("creating Opus decoder", err)
		return
	}
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(cfg.BufferMs) * time.Millisecond,
	})
	if err != nil {
		logger.Error("creating audio output context", err)
		return
	}
	ring := tools.NewRingBuffer(cfg.RingSeconds * sampleRate * channels * 2)
	defer ring.Close()
	pcm := make([]int16, tools.FrameSamples(time.Duration(cfg.BufferMs)*time.Millisecond, sampleRate, channels))

	<-ready
	player := otoCtx.NewPlayer(ring)
	player.Play()
	defer func() { _ = player.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		rtp, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error("reading RTP packet", err)
			}
			return
		}
		if len(rtp.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(rtp.Payload, pcm)
		if err != nil {
			logger.Error("decoding Opus", err)
			continue
		}
		if dropped := ring.Write(tools.PCM16LE(pcm[:n*channels])); dropped > 0 {
			logger.Warn("audio buffer dropped data", zap.Int("droppedBytes", dropped))
		}
	}
}
