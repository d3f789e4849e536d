package transcript

import (
	"cmp"
	"slices"
	"time"
)

type entry struct {
	msg Message
	// seq is the insertion position; it breaks timestamp ties.
	seq uint64
	// touched increases on every insert or update and decides which interim
	// message is the latest for its speaker.
	touched uint64
}

type Option func(*Store)

// WithClock overrides the time source used to stamp new messages.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// Store holds every message observed in a session, keyed by id.
// It is not safe for concurrent use; the owning session serializes access.
type Store struct {
	clock   func() time.Time
	entries []*entry
	index   map[string]*entry
	ticks   uint64
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		clock: time.Now,
		index: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply upserts seg. An existing message keeps its ID and Timestamp and takes
// seg's Text and finality; otherwise a new message stamped with the store
// clock is appended.
func (s *Store) Apply(seg Segment) (Message, error) {
	if seg.ID == "" {
		return Message{}, ErrEmptySegmentID
	}
	if !seg.Speaker.Valid() {
		return Message{}, ErrUnknownSpeaker
	}
	s.ticks++
	if e, ok := s.index[seg.ID]; ok {
		e.msg.Text = seg.Text
		e.msg.IsFinal = seg.Final
		e.touched = s.ticks
		return e.msg, nil
	}
	e := &entry{
		msg: Message{
			ID:        seg.ID,
			Speaker:   seg.Speaker,
			Text:      seg.Text,
			Timestamp: s.clock(),
			IsFinal:   seg.Final,
		},
		seq:     uint64(len(s.entries)),
		touched: s.ticks,
	}
	s.entries = append(s.entries, e)
	s.index[seg.ID] = e
	return e.msg, nil
}

// ApplyAll applies segs in order, tagging each with speaker. Segments that
// fail validation are skipped; the number applied is returned.
func (s *Store) ApplyAll(speaker Speaker, segs []Segment) int {
	n := 0
	for _, seg := range segs {
		seg.Speaker = speaker
		if _, err := s.Apply(seg); err == nil {
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	return len(s.entries)
}

func (s *Store) Get(id string) (Message, bool) {
	e, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return e.msg, true
}

// Messages returns every stored message in insertion order.
func (s *Store) Messages() []Message {
	out := make([]Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}

// Reset drops all messages. Only a new session may call this; within a
// session the store only grows.
func (s *Store) Reset() {
	s.entries = nil
	s.index = make(map[string]*entry)
	s.ticks = 0
}

// Project computes the displayed sequence. It reads the store only and
// returns a fresh slice on every call.
func (s *Store) Project() Projection {
	latest := make(map[Speaker]*entry, 2)
	picked := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.msg.IsFinal {
			picked = append(picked, e)
			continue
		}
		if cur, ok := latest[e.msg.Speaker]; !ok || e.touched > cur.touched {
			latest[e.msg.Speaker] = e
		}
	}
	for _, e := range latest {
		picked = append(picked, e)
	}

	slices.SortFunc(picked, func(a, b *entry) int {
		if c := a.msg.Timestamp.Compare(b.msg.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	out := make(Projection, len(picked))
	for i, e := range picked {
		out[i] = e.msg
	}
	return out
}
