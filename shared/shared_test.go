package shared

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferHook struct {
	sb     strings.Builder
	closed bool
}

func (b *bufferHook) WriteString(s string) (int, error) {
	return b.sb.WriteString(s)
}

func (b *bufferHook) Close() error {
	b.closed = true
	return nil
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
		message  string
	}{
		{
			name:     "invalid request keeps its message",
			err:      InvalidRequest(`missing "room"`),
			sentinel: ErrInvalidRequest,
			kind:     KindInvalidRequest,
			message:  `missing "room"`,
		},
		{
			name:     "misconfigured hides details",
			err:      Misconfigured("missing LIVEKIT_API_SECRET"),
			sentinel: ErrMisconfigured,
			kind:     KindMisconfigured,
			message:  "server misconfigured",
		},
		{
			name:     "authorization failure",
			err:      AuthorizationFailure("signing token", errors.New("boom")),
			sentinel: ErrAuthorizationFailure,
			kind:     KindAuthorizationFailure,
			message:  "connection failed",
		},
		{
			name:     "wrapped transport failure",
			err:      fmt.Errorf("opening media: %w", TransportFailure("dial", errors.New("refused"))),
			sentinel: ErrTransportFailure,
			kind:     KindTransportFailure,
			message:  "connection failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.message, UserMessage(tt.err))
		})
	}
}

func TestErrorKindsDoNotCrossMatch(t *testing.T) {
	err := InvalidRequest("bad")
	assert.NotErrorIs(t, err, ErrMisconfigured)
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "connection failed", UserMessage(errors.New("plain")))
	assert.Empty(t, UserMessage(nil))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("refused")
	err := TransportFailure("dial", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transport_failure")
	assert.Contains(t, err.Error(), "refused")
}

func TestGetenv(t *testing.T) {
	t.Setenv("VOICEROOM_TEST_STRING", "hello")
	t.Setenv("VOICEROOM_TEST_DURATION", "15m")
	t.Setenv("VOICEROOM_TEST_BAD_INT", "x")

	s, err := Getenv(GetenvString, "VOICEROOM_TEST_STRING", true, "")
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	d, err := Getenv(GetenvDuration, "VOICEROOM_TEST_DURATION", false, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	def, err := Getenv(GetenvBool, "VOICEROOM_TEST_UNSET", false, true)
	require.NoError(t, err)
	assert.True(t, def)

	_, err = Getenv(GetenvString, "VOICEROOM_TEST_UNSET", true, "")
	assert.ErrorIs(t, err, ErrMissingEnv)

	_, err = Getenv(GetenvInt, "VOICEROOM_TEST_BAD_INT", false, 0)
	assert.Error(t, err)
}

func TestPrinterIndentsEveryLine(t *testing.T) {
	hook := &bufferHook{}
	p, err := NewPrinter("│  ", hook)
	require.NoError(t, err)

	require.NoError(t, p.Writeln("one\ntwo", 1))
	require.NoError(t, p.WriteBlock([]string{"a", "b"}, 0))
	assert.Equal(t, "│  one\n│  two\na\nb\n", hook.sb.String())

	require.NoError(t, p.Close())
	assert.True(t, hook.closed)
}

func TestNewPrinterRejectsMissingHooks(t *testing.T) {
	_, err := NewPrinter("  ")
	assert.Error(t, err)

	_, err = NewPrinter("  ", nil)
	assert.Error(t, err)
}
