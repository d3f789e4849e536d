package voiceroom

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bt-bridge/voice-room/shared"
	"github.com/bt-bridge/voice-room/transcript"
)

type projections struct {
	mu  sync.Mutex
	all []transcript.Projection
}

func (p *projections) Publish(proj transcript.Projection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.all = append(p.all, proj)
}

func (p *projections) last() transcript.Projection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.all[len(p.all)-1]
}

func ticking() transcript.Option {
	epoch := time.Date(2025, 10, 4, 12, 0, 0, 0, time.UTC)
	n := 0
	return transcript.WithClock(func() time.Time {
		n++
		return epoch.Add(time.Duration(n) * time.Second)
	})
}

func TestConversationPublishesProjection(t *testing.T) {
	conv, err := NewConversation(shared.NewNopLogger(), ticking())
	require.NoError(t, err)
	sink := new(projections)
	conv.AddSink(sink)
	assert.Empty(t, sink.last(), "a new sink gets the current projection")

	conv.HandleTranscription(transcript.SpeakerUser, []transcript.Segment{
		{ID: "user-1", Text: "Hola"},
	})
	conv.HandleTranscription(transcript.SpeakerUser, []transcript.Segment{
		{ID: "user-1", Text: "Hola Rosa", Final: true},
	})
	conv.HandleTranscription(transcript.SpeakerAgent, []transcript.Segment{
		{ID: "agent-1", Text: "Hi"},
	})

	p := sink.last()
	require.Len(t, p, 2)
	assert.Equal(t, "Hola Rosa", p[0].Text)
	assert.Equal(t, transcript.SpeakerUser, p[0].Speaker)
	assert.True(t, p[0].IsFinal)
	assert.Equal(t, transcript.SpeakerAgent, p[1].Speaker)
	assert.Equal(t, p, conv.Projection())
	assert.Len(t, sink.all, 4)
}

func TestConversationSkipsPublishWhenNothingApplied(t *testing.T) {
	conv, err := NewConversation(shared.NewNopLogger())
	require.NoError(t, err)
	sink := new(projections)
	conv.AddSink(sink)

	conv.HandleTranscription(transcript.SpeakerAgent, []transcript.Segment{{ID: "", Text: "x"}})
	assert.Len(t, sink.all, 1)
	assert.Empty(t, conv.Messages())
}

func TestConversationResetsOnNewSession(t *testing.T) {
	tokens := newGatedTokens()
	opener := new(fakeOpener)
	conv, err := NewConversation(shared.NewNopLogger(), ticking())
	require.NoError(t, err)
	m, _ := newTestMachine(t, tokens, WithMediaOpener(opener), WithTranscriptionHandler(conv))
	conv.Bind(m)
	sink := new(projections)
	conv.AddSink(sink)

	require.NoError(t, m.Start(context.Background()))
	tokens.next(t).reply <- tokenResult{token: "a"}
	m.Wait()
	opener.sink(t, 0).Transcription(transcript.SpeakerAgent, []transcript.Segment{
		{ID: "agent-1", Speaker: transcript.SpeakerAgent, Text: "Hello", Final: true},
	})
	assert.Len(t, conv.Projection(), 1)

	m.End()
	assert.Len(t, conv.Projection(), 1, "the transcript outlives its session")

	require.NoError(t, m.Start(context.Background()))
	assert.Empty(t, conv.Projection())
	assert.Empty(t, sink.last())
	assert.Empty(t, conv.Messages())
	tokens.next(t).reply <- tokenResult{token: "b"}
}
