// Package protocol converts between the line-oriented wire form and Envelope.
//
// One envelope is exactly one JSON object on one line. The same three keys are
// used in both directions: inbound playerId names the sender, outbound
// playerId names the recipient (or TargetAll).
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire keys. eventName avoids the word "event", which is reserved on the
// JavaScript side of the channel.
const (
	KeyPlayerID  = "playerId"
	KeyEventName = "eventName"
	KeyPayload   = "payload"

	// legacyKeyPlayerID is still sent by older Node bridges.
	legacyKeyPlayerID = "playerID"
)

// TargetAll addresses every connected client.
const TargetAll = "all"

var (
	ErrMalformed    = errors.New("malformed message")
	ErrMissingField = errors.New("missing field")
)

// Error describes why a line could not be decoded or an envelope encoded.
// It matches ErrMalformed or ErrMissingField with errors.Is.
type Error struct {
	Kind  error
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Envelope is the in-memory form of one message.
//
// A nil Payload means the key was absent on the wire; an empty map means it
// was present but empty. Encode writes both as {}.
type Envelope struct {
	PlayerID  string
	EventName string
	Payload   map[string]any
}

// HasPayload reports whether the payload key was present on the wire.
func (e Envelope) HasPayload() bool {
	return e.Payload != nil
}

type wireEnvelope struct {
	PlayerID  string         `json:"playerId"`
	EventName string         `json:"eventName"`
	Payload   map[string]any `json:"payload"`
}

// Decode parses one line. Surrounding whitespace, including the trailing
// newline, is ignored.
func Decode(line []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Envelope{}, &Error{Kind: ErrMalformed, Err: errors.New("empty line")}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Envelope{}, &Error{Kind: ErrMalformed, Err: err}
	}
	if raw == nil {
		return Envelope{}, &Error{Kind: ErrMalformed, Err: errors.New("not an object")}
	}

	idKey := KeyPlayerID
	if _, ok := raw[idKey]; !ok {
		if _, legacy := raw[legacyKeyPlayerID]; legacy {
			idKey = legacyKeyPlayerID
		}
	}
	playerID, err := stringField(raw, idKey)
	if err != nil {
		return Envelope{}, err
	}
	eventName, err := stringField(raw, KeyEventName)
	if err != nil {
		return Envelope{}, err
	}
	if eventName == "" {
		return Envelope{}, &Error{Kind: ErrMissingField, Field: KeyEventName}
	}

	env := Envelope{PlayerID: playerID, EventName: eventName}
	if rawPayload, ok := raw[KeyPayload]; ok && !isNull(rawPayload) {
		var payload map[string]any
		if err := json.Unmarshal(rawPayload, &payload); err != nil {
			return Envelope{}, &Error{Kind: ErrMalformed, Field: KeyPayload, Err: err}
		}
		env.Payload = payload
	}
	return env, nil
}

// DecodeInbound decodes a line received from a client. The sender must name
// a player: an empty id or TargetAll is rejected.
func DecodeInbound(line []byte) (Envelope, error) {
	env, err := Decode(line)
	if err != nil {
		return Envelope{}, err
	}
	switch env.PlayerID {
	case "":
		return Envelope{}, &Error{Kind: ErrMissingField, Field: KeyPlayerID}
	case TargetAll:
		return Envelope{}, &Error{Kind: ErrMalformed, Field: KeyPlayerID, Err: fmt.Errorf("%q is reserved for broadcast", TargetAll)}
	}
	return env, nil
}

func stringField(raw map[string]json.RawMessage, key string) (string, error) {
	value, ok := raw[key]
	if !ok || isNull(value) {
		return "", &Error{Kind: ErrMissingField, Field: key}
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", &Error{Kind: ErrMalformed, Field: key, Err: err}
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Encode renders env as a single line without the trailing newline. Strings
// are always double-quoted and line breaks inside values are escaped, so the
// result is safe on a newline-delimited channel.
func Encode(env Envelope) ([]byte, error) {
	if env.EventName == "" {
		return nil, &Error{Kind: ErrMissingField, Field: KeyEventName}
	}
	payload := env.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(wireEnvelope{
		PlayerID:  env.PlayerID,
		EventName: env.EventName,
		Payload:   payload,
	}); err != nil {
		return nil, &Error{Kind: ErrMalformed, Field: KeyPayload, Err: fmt.Errorf("encode %s: %w", env.EventName, err)}
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
