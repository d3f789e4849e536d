package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameSamples(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		rate     int
		channels int
		expected int
	}{
		{
			name:     "Basic stereo at 48kHz for 120ms",
			duration: 120 * time.Millisecond,
			rate:     48000,
			channels: 2,
			expected: 11520, // 0.12s * 48000 * 2 = 11520
		},
		{
			name:     "Mono at 44.1kHz for 1s",
			duration: time.Second,
			rate:     44100,
			channels: 1,
			expected: 44100,
		},
		{
			name:     "Stereo at 48kHz for 20ms",
			duration: 20 * time.Millisecond,
			rate:     48000,
			channels: 2,
			expected: 1920, // 0.02s * 48000 * 2 = 1920
		},
		{
			name:     "Zero duration",
			duration: 0,
			rate:     48000,
			channels: 2,
			expected: 0,
		},
		{
			name:     "Zero channels",
			duration: time.Second,
			rate:     48000,
			channels: 0,
			expected: 0,
		},
		{
			name:     "Zero rate",
			duration: time.Second,
			rate:     0,
			channels: 2,
			expected: 0,
		},
		{
			name:     "Large values",
			duration: 10 * time.Second,
			rate:     96000,
			channels: 4,
			expected: 3840000, // 10s * 96000 * 4 = 3,840,000
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FrameSamples(tt.duration, tt.rate, tt.channels)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestPCM16LE(t *testing.T) {
	got := PCM16LE([]int16{0, 1, -1, 0x1234})
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x00, 0xff, 0xff, 0x34, 0x12}, got)
	assert.Empty(t, PCM16LE(nil))
}

func TestNewRoomID(t *testing.T) {
	at := time.Date(2025, 10, 4, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "voice-1759579200000", NewRoomID("voice", at))
}

func TestNewIdentity(t *testing.T) {
	a := NewIdentity("guest")
	b := NewIdentity("guest")
	require.Len(t, a, len("guest-")+8)
	assert.Regexp(t, `^guest-[0-9a-f]{8}$`, a)
	assert.NotEqual(t, a, b)
}

func TestNewEventID(t *testing.T) {
	assert.Regexp(t, `^evt_[0-9a-f]{32}$`, NewEventID())
}
