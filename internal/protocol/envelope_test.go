package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

// TestEnvelopeRoundTrip verifies that every envelope shape survives an
// encode/decode cycle field for field.
func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		envelope Envelope
	}{
		{"notification", Envelope{Type: TypeNotification, Content: "alice joined #general"}},
		{"message", Envelope{Type: TypeMessage, Sender: "alice", Content: "hello world"}},
		{"whisper", Envelope{Type: TypeWhisper, Sender: "alice", Recipient: "bob", Content: "psst"}},
		{"join_success", Envelope{Type: TypeJoinSuccess, Content: "#dev"}},
		{"command", Envelope{Type: TypeCommand, Content: "/join #dev"}},
		{"user_list", Envelope{Type: TypeUserList, List: []string{"alice", "bob"}}},
		{"room_list", Envelope{Type: TypeRoomList, List: []string{"#general", "#dev"}}},
		{"empty user_list", Envelope{Type: TypeUserList, List: []string{}}},
		{"content with spaces and slashes", Envelope{Type: TypeMessage, Sender: "a", Content: "not /a command here"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.envelope)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded.Type != tc.envelope.Type ||
				decoded.Content != tc.envelope.Content ||
				decoded.Sender != tc.envelope.Sender ||
				decoded.Recipient != tc.envelope.Recipient {
				t.Errorf("Round trip mismatch: got %+v, want %+v", decoded, tc.envelope)
			}
			if IsList(tc.envelope.Type) && !reflect.DeepEqual(decoded.List, append([]string{}, tc.envelope.List...)) {
				t.Errorf("List mismatch: got %v, want %v", decoded.List, tc.envelope.List)
			}
		})
	}
}

// TestEncodeOmitsAbsentOptionalFields verifies that sender and recipient
// only appear on the wire when set.
func TestEncodeOmitsAbsentOptionalFields(t *testing.T) {
	encoded, err := Encode(Envelope{Type: TypeNotification, Content: "hi"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if bytes.Contains(encoded, []byte("sender")) {
		t.Errorf("Encoded envelope should omit absent sender: %s", encoded)
	}
	if bytes.Contains(encoded, []byte("recipient")) {
		t.Errorf("Encoded envelope should omit absent recipient: %s", encoded)
	}
}

// TestEncodeRequiresType verifies that an envelope without a type cannot
// be encoded.
func TestEncodeRequiresType(t *testing.T) {
	if _, err := Encode(Envelope{Content: "no type"}); !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("Expected ErrMalformedEnvelope, got %v", err)
	}
}

// TestDecodeMalformed verifies the malformed-payload taxonomy: invalid
// JSON, a missing type field, and a content value of the wrong shape all
// report ErrMalformedEnvelope.
func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `this is not json`},
		{"json array", `[1, 2, 3]`},
		{"missing type", `{"content": "orphaned"}`},
		{"empty type", `{"type": "", "content": "x"}`},
		{"user_list with string content", `{"type": "user_list", "content": "alice"}`},
		{"message with array content", `{"type": "message", "content": ["a", "b"]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.payload)); !errors.Is(err, ErrMalformedEnvelope) {
				t.Errorf("Expected ErrMalformedEnvelope for %q, got %v", tc.payload, err)
			}
		})
	}
}

// TestDecodeUnknownTypeIsNotAnError verifies that unrecognized type
// values decode successfully; the dispatcher decides how to react.
func TestDecodeUnknownTypeIsNotAnError(t *testing.T) {
	decoded, err := Decode([]byte(`{"type": "future_feature", "content": "payload"}`))
	if err != nil {
		t.Fatalf("Unknown type should decode, got error: %v", err)
	}
	if decoded.Type != "future_feature" || decoded.Content != "payload" {
		t.Errorf("Unexpected decode result: %+v", decoded)
	}
}

// TestDecodeMissingContent verifies that an absent content field decodes
// to the zero value rather than failing.
func TestDecodeMissingContent(t *testing.T) {
	decoded, err := Decode([]byte(`{"type": "notification"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Content != "" {
		t.Errorf("Expected empty content, got %q", decoded.Content)
	}
}
