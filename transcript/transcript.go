// Package transcript consolidates streamed speech-recognition segments from
// the two sides of a voice conversation into a display-ready transcript.
//
// A Store is an append/update-only keyed container: segments are upserted by
// id and never removed. Project derives the displayed sequence from the
// store without mutating it: every final message, plus at most one interim
// message per speaker, ordered by first-observation time.
package transcript

import (
	"errors"
	"fmt"
	"time"
)

type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerUser  Speaker = "user"
)

func (s Speaker) Valid() bool {
	return s == SpeakerAgent || s == SpeakerUser
}

func ParseSpeaker(v string) (Speaker, error) {
	s := Speaker(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSpeaker, v)
	}
	return s, nil
}

var (
	ErrEmptySegmentID = errors.New("segment id is empty")
	ErrUnknownSpeaker = errors.New("unknown speaker")
)

// Segment is one unit of streamed recognition output. Later segments with the
// same ID supersede earlier ones.
type Segment struct {
	ID      string  `json:"id"`
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Final   bool    `json:"final"`
}

// Message is the stored, display-ready form of a segment. Timestamp is set
// when the ID is first observed and never changes afterwards.
type Message struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsFinal   bool      `json:"isFinal"`
}

// Projection is the ordered sequence shown to the user.
type Projection []Message

// InterimCount returns the number of non-final messages for speaker.
func (p Projection) InterimCount(speaker Speaker) int {
	n := 0
	for _, m := range p {
		if m.Speaker == speaker && !m.IsFinal {
			n++
		}
	}
	return n
}

// ScopedID namespaces a provider segment id by speaker so agent and user ids
// can never collide in one store.
func ScopedID(speaker Speaker, id string) string {
	return string(speaker) + "-" + id
}
