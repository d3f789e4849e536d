package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 10, 4, 12, 0, 0, 0, time.UTC)

// stepClock returns epoch, epoch+1s, epoch+2s, ... on successive calls.
func stepClock() func() time.Time {
	n := 0
	return func() time.Time {
		t := epoch.Add(time.Duration(n) * time.Second)
		n++
		return t
	}
}

// fixedClock returns the queued instants in order and repeats the last one.
func fixedClock(instants ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := instants[i]
		if i < len(instants)-1 {
			i++
		}
		return t
	}
}

func apply(t *testing.T, s *Store, segs ...Segment) {
	t.Helper()
	for _, seg := range segs {
		_, err := s.Apply(seg)
		require.NoError(t, err)
	}
}

func ids(p Projection) []string {
	out := make([]string, len(p))
	for i, m := range p {
		out[i] = m.ID
	}
	return out
}

func TestInterimThenFinalSameID(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	apply(t, s,
		Segment{ID: "u1", Speaker: SpeakerUser, Text: "Hola", Final: false},
		Segment{ID: "u1", Speaker: SpeakerUser, Text: "Hola Rosa", Final: true},
	)

	p := s.Project()
	require.Len(t, p, 1)
	assert.Equal(t, "Hola Rosa", p[0].Text)
	assert.True(t, p[0].IsFinal)
}

func TestLatestInterimPerSpeakerWins(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	apply(t, s,
		Segment{ID: "a1", Speaker: SpeakerAgent, Text: "Hmm", Final: false},
		Segment{ID: "a2", Speaker: SpeakerAgent, Text: "Hmm, let me think", Final: false},
	)

	assert.Equal(t, []string{"a2"}, ids(s.Project()))
	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("a1")
	assert.True(t, ok, "superseded interim stays in the store")
}

func TestFinalsOrderedByTimestamp(t *testing.T) {
	agentAt := epoch.Add(10 * time.Second)
	userAt := epoch.Add(5 * time.Second)
	s := NewStore(WithClock(fixedClock(agentAt, userAt)))
	apply(t, s,
		Segment{ID: "a", Speaker: SpeakerAgent, Text: "later", Final: true},
		Segment{ID: "u", Speaker: SpeakerUser, Text: "earlier", Final: true},
	)

	p := s.Project()
	assert.Equal(t, []string{"u", "a"}, ids(p))
	assert.Equal(t, userAt, p[0].Timestamp)
	assert.Equal(t, agentAt, p[1].Timestamp)
}

func TestUpsertPreservesTimestampAndID(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	first, err := s.Apply(Segment{ID: "x", Speaker: SpeakerAgent, Text: "one"})
	require.NoError(t, err)
	apply(t, s, Segment{ID: "y", Speaker: SpeakerUser, Text: "other"})
	second, err := s.Apply(Segment{ID: "x", Speaker: SpeakerAgent, Text: "one two", Final: true})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Equal(t, "x", second.ID)
	got, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, "one two", got.Text)
	assert.True(t, got.IsFinal)
}

func TestProjectIsIdempotent(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	apply(t, s,
		Segment{ID: "a1", Speaker: SpeakerAgent, Text: "hi", Final: true},
		Segment{ID: "u1", Speaker: SpeakerUser, Text: "hel"},
		Segment{ID: "a2", Speaker: SpeakerAgent, Text: "so"},
		Segment{ID: "u1", Speaker: SpeakerUser, Text: "hello"},
	)

	first := s.Project()
	second := s.Project()
	assert.Equal(t, first, second)
}

func TestProjectReturnsFreshSlice(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	apply(t, s, Segment{ID: "a1", Speaker: SpeakerAgent, Text: "hi", Final: true})

	p := s.Project()
	p[0].Text = "mutated"
	assert.Equal(t, "hi", s.Project()[0].Text)

	apply(t, s, Segment{ID: "a2", Speaker: SpeakerAgent, Text: "more", Final: true})
	assert.Len(t, p, 1, "earlier projections are not affected by later applies")
}

func TestInterimSingularityAcrossSpeakers(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	apply(t, s,
		Segment{ID: "a1", Speaker: SpeakerAgent, Text: "a"},
		Segment{ID: "u1", Speaker: SpeakerUser, Text: "b"},
		Segment{ID: "a2", Speaker: SpeakerAgent, Text: "c"},
		Segment{ID: "u2", Speaker: SpeakerUser, Text: "d"},
		Segment{ID: "a3", Speaker: SpeakerAgent, Text: "e"},
	)

	p := s.Project()
	assert.Equal(t, 1, p.InterimCount(SpeakerAgent))
	assert.Equal(t, 1, p.InterimCount(SpeakerUser))
	assert.Equal(t, []string{"u2", "a3"}, ids(p))
}

func TestFinalSurvivesLaterInterimFromSameSpeaker(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	apply(t, s,
		Segment{ID: "u1", Speaker: SpeakerUser, Text: "done", Final: true},
		Segment{ID: "u2", Speaker: SpeakerUser, Text: "next"},
	)

	p := s.Project()
	require.Len(t, p, 2)
	assert.Equal(t, Message{ID: "u1", Speaker: SpeakerUser, Text: "done", Timestamp: epoch, IsFinal: true}, p[0])
	assert.Equal(t, "u2", p[1].ID)
	assert.False(t, p[1].IsFinal)
}

func TestRecentlyUpdatedInterimKeepsItsPosition(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	apply(t, s,
		Segment{ID: "u1", Speaker: SpeakerUser, Text: "I"},
		Segment{ID: "a1", Speaker: SpeakerAgent, Text: "Well"},
		Segment{ID: "u1", Speaker: SpeakerUser, Text: "I think"},
	)

	assert.Equal(t, []string{"u1", "a1"}, ids(s.Project()))
}

func TestUpdatedOlderInterimBecomesLatest(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	apply(t, s,
		Segment{ID: "a1", Speaker: SpeakerAgent, Text: "Hmm"},
		Segment{ID: "a2", Speaker: SpeakerAgent, Text: "Let"},
		Segment{ID: "a1", Speaker: SpeakerAgent, Text: "Hmm, yes"},
	)

	p := s.Project()
	require.Len(t, p, 1)
	assert.Equal(t, "a1", p[0].ID)
	assert.Equal(t, "Hmm, yes", p[0].Text)
}

func TestEqualTimestampsKeepInsertionOrder(t *testing.T) {
	s := NewStore(WithClock(func() time.Time { return epoch }))
	apply(t, s,
		Segment{ID: "c", Speaker: SpeakerAgent, Text: "1", Final: true},
		Segment{ID: "a", Speaker: SpeakerUser, Text: "2", Final: true},
		Segment{ID: "b", Speaker: SpeakerAgent, Text: "3", Final: true},
		Segment{ID: "d", Speaker: SpeakerUser, Text: "4"},
	)

	assert.Equal(t, []string{"c", "a", "b", "d"}, ids(s.Project()))
}

func TestEmptyStoreProjectsNothing(t *testing.T) {
	s := NewStore()
	assert.Empty(t, s.Project())
	assert.Equal(t, 0, s.Len())
}

func TestApplyRejectsInvalidSegments(t *testing.T) {
	s := NewStore()
	_, err := s.Apply(Segment{Speaker: SpeakerUser, Text: "x"})
	assert.ErrorIs(t, err, ErrEmptySegmentID)

	_, err = s.Apply(Segment{ID: "1", Speaker: "narrator", Text: "x"})
	assert.ErrorIs(t, err, ErrUnknownSpeaker)
	assert.Equal(t, 0, s.Len())
}

func TestApplyAllTagsSpeakerAndSkipsInvalid(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	n := s.ApplyAll(SpeakerUser, []Segment{
		{ID: ScopedID(SpeakerUser, "1"), Text: "a"},
		{ID: "", Text: "dropped"},
		{ID: ScopedID(SpeakerUser, "2"), Text: "b", Final: true},
	})

	assert.Equal(t, 2, n)
	for _, m := range s.Messages() {
		assert.Equal(t, SpeakerUser, m.Speaker)
	}
	assert.Equal(t, []string{"user-1", "user-2"}, ids(s.Project()))
}

func TestStoreNeverShrinks(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	segs := []Segment{
		{ID: "a1", Speaker: SpeakerAgent, Text: "a"},
		{ID: "a1", Speaker: SpeakerAgent, Text: "ab"},
		{ID: "u1", Speaker: SpeakerUser, Text: "x", Final: true},
		{ID: "a2", Speaker: SpeakerAgent, Text: "c"},
		{ID: "u1", Speaker: SpeakerUser, Text: "xy", Final: true},
	}
	prev := 0
	for _, seg := range segs {
		apply(t, s, seg)
		assert.GreaterOrEqual(t, s.Len(), prev)
		prev = s.Len()
	}
	assert.Equal(t, 3, s.Len())
}

func TestReset(t *testing.T) {
	s := NewStore(WithClock(stepClock()))
	apply(t, s, Segment{ID: "a1", Speaker: SpeakerAgent, Text: "a", Final: true})
	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Project())
	_, ok := s.Get("a1")
	assert.False(t, ok)
}

func TestParseSpeaker(t *testing.T) {
	sp, err := ParseSpeaker("agent")
	require.NoError(t, err)
	assert.Equal(t, SpeakerAgent, sp)

	_, err = ParseSpeaker("bot")
	assert.ErrorIs(t, err, ErrUnknownSpeaker)
}
