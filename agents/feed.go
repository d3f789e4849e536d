package agents

import "github.com/bt-bridge/voice-room/transcript"

// feed turns successive projections into the append-only lines a terminal
// can show: each final message once, and an interim message whenever its
// text changes.
type feed struct {
	finals   map[string]bool
	interims map[string]string
}

func newFeed() *feed {
	return &feed{finals: map[string]bool{}, interims: map[string]string{}}
}

func (f *feed) next(p transcript.Projection) []transcript.Message {
	var out []transcript.Message
	for _, m := range p {
		if m.IsFinal {
			if f.finals[m.ID] {
				continue
			}
			f.finals[m.ID] = true
			delete(f.interims, m.ID)
			out = append(out, m)
			continue
		}
		if f.interims[m.ID] == m.Text {
			continue
		}
		f.interims[m.ID] = m.Text
		out = append(out, m)
	}
	return out
}

func (f *feed) reset() {
	clear(f.finals)
	clear(f.interims)
}
