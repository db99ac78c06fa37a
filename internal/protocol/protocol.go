// Package protocol defines the messages exchanged with the capture surface.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// CommandType is the closed set of controller -> surface commands.
type CommandType string

const (
	CommandStartListening CommandType = "START_LISTENING"
	CommandStopListening  CommandType = "STOP_LISTENING"
	CommandPing           CommandType = "PING"
	CommandAcknowledge    CommandType = "ACKNOWLEDGE"
)

// EventType is the closed set of surface -> controller events.
type EventType string

const (
	EventReady           EventType = "READY"
	EventTranscriptReady EventType = "TRANSCRIPT_READY"
	EventSpeechError     EventType = "SPEECH_ERROR"
	EventPong            EventType = "PONG"
	EventActivity        EventType = "ACTIVITY"
	EventSpeechStarted   EventType = "SPEECH_STARTED"
	EventSpeechEnded     EventType = "SPEECH_ENDED"
)

// Handshake message types.
const (
	TypeAuth        = "AUTH"
	TypeAuthSuccess = "AUTH_SUCCESS"
	TypeAuthFailed  = "AUTH_FAILED"
)

// Command is sent to the addressed peer.
type Command struct {
	Type      CommandType `json:"type"`
	Timestamp float64     `json:"timestamp"`
	Nonce     string      `json:"nonce,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Event is received from a peer.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp float64   `json:"timestamp"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	Nonce     string    `json:"nonce,omitempty"`
}

// Auth is the first frame a peer must send.
type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthReply answers an Auth frame. It never carries anything beyond the verdict.
type AuthReply struct {
	Type string `json:"type"`
}

// UnknownMessageTypeError reports a frame whose type is outside the closed set.
type UnknownMessageTypeError struct {
	Type string
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// Timestamp converts t into epoch seconds with sub-second precision.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// NewCommand stamps a command with the current time.
func NewCommand(kind CommandType) Command {
	return Command{Type: kind, Timestamp: Timestamp(time.Now())}
}

// EncodeCommand validates and marshals a command.
func EncodeCommand(cmd Command) ([]byte, error) {
	switch cmd.Type {
	case CommandStartListening, CommandStopListening, CommandPing, CommandAcknowledge:
	default:
		return nil, &UnknownMessageTypeError{Type: string(cmd.Type)}
	}
	return json.Marshal(cmd)
}

// DecodeEvent parses a frame from an authenticated peer. The type is checked before the
// body is decoded, so frames outside the closed set are never unmarshalled.
func DecodeEvent(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return Event{}, errors.New("decode event: invalid json")
	}

	switch kind := EventType(gjson.GetBytes(data, "type").String()); kind {
	case EventReady, EventTranscriptReady, EventSpeechError, EventPong,
		EventActivity, EventSpeechStarted, EventSpeechEnded:
	default:
		return Event{}, &UnknownMessageTypeError{Type: string(kind)}
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}

// DecodeAuth parses the handshake frame. Any other type is rejected.
func DecodeAuth(data []byte) (Auth, error) {
	var auth Auth
	if err := json.Unmarshal(data, &auth); err != nil {
		return Auth{}, fmt.Errorf("decode auth: %w", err)
	}
	if auth.Type != TypeAuth {
		return Auth{}, &UnknownMessageTypeError{Type: auth.Type}
	}
	return auth, nil
}

// EncodeAuthReply marshals a handshake verdict.
func EncodeAuthReply(ok bool) []byte {
	reply := AuthReply{Type: TypeAuthFailed}
	if ok {
		reply.Type = TypeAuthSuccess
	}
	data, _ := json.Marshal(reply)
	return data
}

// IsActivity reports whether the event counts as application-level liveness.
func (e Event) IsActivity() bool {
	return e.Type != EventPong
}
