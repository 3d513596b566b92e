package collab

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/stacklok/notes-collab-server/internal/validators"
)

// Inbound event names.
const (
	EventJoinNote       = "join-note"
	EventLeaveNote      = "leave-note"
	EventNoteChange     = "note-change"
	EventCursorPosition = "cursor-position"
)

// Outbound event names. Content and cursor broadcasts reuse the inbound names.
const (
	EventActiveUsers = "active-users"
	EventUserJoined  = "user-joined"
	EventUserLeft    = "user-left"
	EventError       = "error"
)

// Participant is the identity a connection presents to the other members of a room.
type Participant struct {
	UserID      string `json:"userId" yaml:"userId"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	Email       string `json:"email" yaml:"email"`
}

// CursorPos is an editor caret and optional selection length, in characters.
type CursorPos struct {
	Offset          int `json:"offset"`
	SelectionLength int `json:"selectionLength,omitempty"`
}

// InboundEvent is one of JoinNote, LeaveNote, NoteChange or CursorPosition.
type InboundEvent interface {
	EventName() string
	Note() string
	inbound()
}

// JoinNote asks to become present in a note's room.
type JoinNote struct {
	NoteID string `json:"noteId"`
}

// LeaveNote withdraws presence from a note's room.
type LeaveNote struct {
	NoteID string `json:"noteId"`
}

// NoteChange carries a full content snapshot written by the sender.
type NoteChange struct {
	NoteID    string    `json:"noteId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CursorPosition reports where the sender's caret is.
type CursorPosition struct {
	NoteID   string    `json:"noteId"`
	Position CursorPos `json:"position"`
}

func (JoinNote) EventName() string       { return EventJoinNote }
func (LeaveNote) EventName() string      { return EventLeaveNote }
func (NoteChange) EventName() string     { return EventNoteChange }
func (CursorPosition) EventName() string { return EventCursorPosition }

func (e JoinNote) Note() string       { return e.NoteID }
func (e LeaveNote) Note() string      { return e.NoteID }
func (e NoteChange) Note() string     { return e.NoteID }
func (e CursorPosition) Note() string { return e.NoteID }

func (JoinNote) inbound()       {}
func (LeaveNote) inbound()      {}
func (NoteChange) inbound()     {}
func (CursorPosition) inbound() {}

// OutboundEvent is one of ActiveUsers, UserJoined, UserLeft, NoteChanged,
// CursorMoved or ErrorEvent.
type OutboundEvent interface {
	EventName() string
	payload() any
}

// ActiveUsers lists who was already present when the recipient joined.
type ActiveUsers struct {
	Participants []Participant
}

// UserJoined announces a new participant to the rest of the room.
type UserJoined struct {
	Participant Participant
}

// UserLeft announces that a participant is no longer present.
type UserLeft struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// NoteChanged relays another participant's content snapshot.
type NoteChanged struct {
	Content     string    `json:"content"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Timestamp   time.Time `json:"timestamp"`
}

// CursorMoved relays another participant's caret.
type CursorMoved struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Position    CursorPos `json:"position"`
}

// ErrorEvent tells a single connection that its request was refused.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ActiveUsers) EventName() string { return EventActiveUsers }
func (UserJoined) EventName() string  { return EventUserJoined }
func (UserLeft) EventName() string    { return EventUserLeft }
func (NoteChanged) EventName() string { return EventNoteChange }
func (CursorMoved) EventName() string { return EventCursorPosition }
func (ErrorEvent) EventName() string  { return EventError }

func (e ActiveUsers) payload() any {
	if e.Participants == nil {
		return []Participant{}
	}
	return e.Participants
}
func (e UserJoined) payload() any  { return e.Participant }
func (e UserLeft) payload() any    { return e }
func (e NoteChanged) payload() any { return e }
func (e CursorMoved) payload() any { return e }
func (e ErrorEvent) payload() any  { return e }

// Envelope is the wire frame: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeEvent renders an outbound event as a wire frame.
func EncodeEvent(ev OutboundEvent) ([]byte, error) {
	data, err := json.Marshal(ev.payload())
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", ev.EventName(), err)
	}
	return json.Marshal(Envelope{Event: ev.EventName(), Data: data})
}

const inboundSchemaURL = "https://notes-collab.stacklok.dev/schemas/inbound-event.json"

const inboundSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event", "data"],
  "properties": {
    "event": {"enum": ["join-note", "leave-note", "note-change", "cursor-position"]},
    "data": {"type": "object"}
  },
  "allOf": [
    {
      "if": {"properties": {"event": {"enum": ["join-note", "leave-note"]}}},
      "then": {"properties": {"data": {"$ref": "#/$defs/noteRef"}}}
    },
    {
      "if": {"properties": {"event": {"const": "note-change"}}},
      "then": {"properties": {"data": {"$ref": "#/$defs/noteChange"}}}
    },
    {
      "if": {"properties": {"event": {"const": "cursor-position"}}},
      "then": {"properties": {"data": {"$ref": "#/$defs/cursorPosition"}}}
    }
  ],
  "$defs": {
    "noteId": {"type": "string", "minLength": 1, "maxLength": 128},
    "noteRef": {
      "type": "object",
      "required": ["noteId"],
      "properties": {"noteId": {"$ref": "#/$defs/noteId"}}
    },
    "noteChange": {
      "type": "object",
      "required": ["noteId", "content", "timestamp"],
      "properties": {
        "noteId": {"$ref": "#/$defs/noteId"},
        "content": {"type": "string"},
        "timestamp": {"type": "string"}
      }
    },
    "cursorPosition": {
      "type": "object",
      "required": ["noteId", "position"],
      "properties": {
        "noteId": {"$ref": "#/$defs/noteId"},
        "position": {
          "type": "object",
          "required": ["offset"],
          "properties": {
            "offset": {"type": "integer", "minimum": 0},
            "selectionLength": {"type": "integer", "minimum": 0}
          }
        }
      }
    }
  }
}`

var inboundValidator = mustCompileInboundSchema()

func mustCompileInboundSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(inboundSchema))
	if err != nil {
		panic(fmt.Sprintf("inbound event schema is not valid JSON: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(inboundSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("failed to register inbound event schema: %v", err))
	}
	schema, err := compiler.Compile(inboundSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("failed to compile inbound event schema: %v", err))
	}
	return schema
}

// DecodeEvent validates a wire frame against the inbound schema and decodes
// it into its concrete event type. Every error wraps ErrMalformedEvent.
func DecodeEvent(frame []byte) (InboundEvent, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if err := inboundValidator.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	var ev InboundEvent
	switch env.Event {
	case EventJoinNote:
		var e JoinNote
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case EventLeaveNote:
		var e LeaveNote
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case EventNoteChange:
		var e NoteChange
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case EventCursorPosition:
		var e CursorPosition
		err = json.Unmarshal(env.Data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, env.Event, err)
	}

	noteID, err := validators.ValidateNoteID(ev.Note())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return withNoteID(ev, noteID), nil
}

func withNoteID(ev InboundEvent, noteID string) InboundEvent {
	switch e := ev.(type) {
	case JoinNote:
		e.NoteID = noteID
		return e
	case LeaveNote:
		e.NoteID = noteID
		return e
	case NoteChange:
		e.NoteID = noteID
		return e
	case CursorPosition:
		e.NoteID = noteID
		return e
	}
	return ev
}
