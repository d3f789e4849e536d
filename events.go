package voiceroom

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

type EventType string

// Server event types
const (
	EventTypeError                 EventType = "error"
	EventTypeAgentStateChanged     EventType = "agent.state_changed"
	EventTypeTranscriptionReceived EventType = "transcription.received"
	EventTypeRoomClosed            EventType = "room.closed"
)

// Client event types
const (
	EventTypeClientReady EventType = "client.ready"
)

// Event is one message on the session's data channel. On the wire the
// param fields sit next to "event_id" and "type" in a flat object.
type Event struct {
	EventId string
	Type    EventType
	Param   EventParam
}

func (e *Event) IsClientEvent() bool {
	return e.Type == EventTypeClientReady
}

func (e *Event) flatten() (map[string]any, error) {
	if e.EventId == "" {
		return nil, errors.New("EventId is empty")
	}
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	if e.Param == nil {
		return nil, errors.New("Param is nil")
	}
	resp := map[string]any{}
	for k, v := range e.Param.Json() {
		resp[k] = v
	}
	resp["event_id"] = e.EventId
	resp["type"] = string(e.Type)
	return resp, nil
}

func (e *Event) unflatten(raw map[string]any) error {
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	} else {
		return errors.New("missing event_id")
	}
	if v, ok := raw["type"].(string); ok {
		e.Type = EventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	param, err := newParam(e.Type)
	if err != nil {
		return err
	}
	e.Param = param
	return e.Param.New(raw)
}

func newParam(t EventType) (EventParam, error) {
	switch t {
	case EventTypeError:
		return new(EventParamError), nil
	case EventTypeAgentStateChanged:
		return new(EventParamAgentStateChanged), nil
	case EventTypeTranscriptionReceived:
		return new(EventParamTranscriptionReceived), nil
	case EventTypeRoomClosed:
		return new(EventParamRoomClosed), nil
	case EventTypeClientReady:
		return new(EventParamClientReady), nil
	}
	return nil, fmt.Errorf("unknown event type: %s", t)
}

func (e *Event) MarshalYAML() ([]byte, error) {
	resp, err := e.flatten()
	if err != nil {
		return nil, err
	}
	return yaml.MarshalWithOptions(resp, yaml.UseJSONMarshaler())
}

func (e *Event) UnmarshalYAML(data []byte) error {
	var raw map[string]any
	if err := yaml.UnmarshalWithOptions(data, &raw, yaml.UseJSONUnmarshaler()); err != nil {
		return err
	}
	return e.unflatten(raw)
}

func (e *Event) MarshalJSON() ([]byte, error) {
	resp, err := e.flatten()
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(resp)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	return e.unflatten(raw)
}

type EventParam interface {
	New(map[string]any) error
	Json() map[string]any
}

// error
type EventParamError struct {
	Code    string
	Message string
}

func (p *EventParamError) New(m map[string]any) error {
	if errObj, ok := m["error"].(map[string]any); ok {
		m = errObj
	}
	if v, ok := m["code"].(string); ok {
		p.Code = v
	} else {
		return errors.New("missing code")
	}
	if v, ok := m["message"].(string); ok {
		p.Message = v
	} else {
		return errors.New("missing message")
	}
	return nil
}

func (p *EventParamError) Json() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":    p.Code,
			"message": p.Message,
		},
	}
}

// agent.state_changed
type EventParamAgentStateChanged struct {
	State AgentTurn
}

func (p *EventParamAgentStateChanged) New(m map[string]any) error {
	v, ok := m["state"].(string)
	if !ok {
		return errors.New("missing state")
	}
	turn, err := ParseAgentTurn(v)
	if err != nil {
		return err
	}
	p.State = turn
	return nil
}

func (p *EventParamAgentStateChanged) Json() map[string]any {
	return map[string]any{
		"state": p.State.String(),
	}
}

// WireSegment is a transcription segment as the provider sends it, before a
// speaker is attributed.
type WireSegment struct {
	Id    string
	Text  string
	Final bool
}

// transcription.received
type EventParamTranscriptionReceived struct {
	// ParticipantIdentity is who spoke. It equals the local identity for the
	// user's own speech.
	ParticipantIdentity string
	Segments            []WireSegment
}

func (p *EventParamTranscriptionReceived) New(m map[string]any) error {
	if v, ok := m["participant_identity"].(string); ok {
		p.ParticipantIdentity = v
	} else {
		return errors.New("missing participant_identity")
	}
	list, ok := m["segments"].([]any)
	if !ok {
		return errors.New("missing segments")
	}
	p.Segments = make([]WireSegment, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("segments[%d] is not an object", i)
		}
		var seg WireSegment
		if v, ok := obj["id"].(string); ok {
			seg.Id = v
		} else {
			return fmt.Errorf("missing segments[%d].id", i)
		}
		if v, ok := obj["text"].(string); ok {
			seg.Text = v
		} else {
			return fmt.Errorf("missing segments[%d].text", i)
		}
		if v, ok := obj["final"].(bool); ok {
			seg.Final = v
		}
		p.Segments = append(p.Segments, seg)
	}
	return nil
}

func (p *EventParamTranscriptionReceived) Json() map[string]any {
	segs := make([]any, len(p.Segments))
	for i, s := range p.Segments {
		segs[i] = map[string]any{
			"id":    s.Id,
			"text":  s.Text,
			"final": s.Final,
		}
	}
	return map[string]any{
		"participant_identity": p.ParticipantIdentity,
		"segments":             segs,
	}
}

// room.closed
type EventParamRoomClosed struct {
	Reason string
}

func (p *EventParamRoomClosed) New(m map[string]any) error {
	if v, ok := m["reason"].(string); ok {
		p.Reason = v
	}
	return nil
}

func (p *EventParamRoomClosed) Json() map[string]any {
	resp := map[string]any{}
	if p.Reason != "" {
		resp["reason"] = p.Reason
	}
	return resp
}

// client.ready
type EventParamClientReady struct {
	Identity string
	Room     string
}

func (p *EventParamClientReady) New(m map[string]any) error {
	if v, ok := m["identity"].(string); ok {
		p.Identity = v
	} else {
		return errors.New("missing identity")
	}
	if v, ok := m["room"].(string); ok {
		p.Room = v
	} else {
		return errors.New("missing room")
	}
	return nil
}

func (p *EventParamClientReady) Json() map[string]any {
	return map[string]any{
		"identity": p.Identity,
		"room":     p.Room,
	}
}
