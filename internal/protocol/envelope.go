// Package protocol defines the envelope codec: the structured, typed unit
// of application-level communication carried inside each decrypted frame.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope type values. Clients send only TypeCommand; everything else
// flows server to client.
const (
	TypeNotification = "notification"
	TypeUserList     = "user_list"
	TypeRoomList     = "room_list"
	TypeJoinSuccess  = "join_success"
	TypeWhisper      = "whisper"
	TypeMessage      = "message"
	TypeCommand      = "command"
)

// ErrMalformedEnvelope reports payload bytes that are not a structurally
// valid envelope: invalid JSON, a missing type field, or a content value
// of the wrong shape.
var ErrMalformedEnvelope = errors.New("protocol: malformed envelope")

// Envelope is one application-level chat message. The wire content field
// is a plain string for most types and an ordered string array for
// user_list and room_list envelopes; the two representations map onto
// Content and List respectively, with the unused one left zero. Sender
// and Recipient are optional and omitted from the wire when empty.
// Envelopes are immutable once constructed.
type Envelope struct {
	Type      string
	Content   string
	List      []string
	Sender    string
	Recipient string
}

// IsList reports whether t carries its content as an ordered sequence of
// strings rather than a single string.
func IsList(t string) bool {
	return t == TypeUserList || t == TypeRoomList
}

// wireEnvelope is the JSON shape of an envelope. Content is a string or
// an array of strings depending on the envelope type.
type wireEnvelope struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
}

// Encode serializes e to its JSON wire form. Encoding is deterministic
// for a given envelope.
func Encode(e Envelope) ([]byte, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("%w: empty type", ErrMalformedEnvelope)
	}

	var content json.RawMessage
	var err error
	if IsList(e.Type) {
		list := e.List
		if list == nil {
			list = []string{}
		}
		content, err = json.Marshal(list)
	} else {
		content, err = json.Marshal(e.Content)
	}
	if err != nil {
		return nil, fmt.Errorf("encode envelope content: %w", err)
	}

	encoded, err := json.Marshal(wireEnvelope{
		Type:      e.Type,
		Content:   content,
		Sender:    e.Sender,
		Recipient: e.Recipient,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return encoded, nil
}

// Decode parses payload into an Envelope. Unknown type values are not an
// error here; the dispatcher decides how to react to them. Missing type
// or structurally invalid bytes produce ErrMalformedEnvelope.
func Decode(payload []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if wire.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type field", ErrMalformedEnvelope)
	}

	e := Envelope{
		Type:      wire.Type,
		Sender:    wire.Sender,
		Recipient: wire.Recipient,
	}
	if len(wire.Content) == 0 {
		return e, nil
	}

	if IsList(wire.Type) {
		if err := json.Unmarshal(wire.Content, &e.List); err != nil {
			return Envelope{}, fmt.Errorf("%w: %s content is not a string array: %v", ErrMalformedEnvelope, wire.Type, err)
		}
	} else {
		if err := json.Unmarshal(wire.Content, &e.Content); err != nil {
			return Envelope{}, fmt.Errorf("%w: content is not a string: %v", ErrMalformedEnvelope, err)
		}
	}
	return e, nil
}
