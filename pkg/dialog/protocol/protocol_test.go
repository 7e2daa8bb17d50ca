package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  *Message
	}{
		{
			name: "json gzip with event",
			msg:  NewEventFrame(EventStartSession, "", map[string]any{"k": "v", "n": float64(3)}),
		},
		{
			name: "json no compression",
			msg: &Message{
				Version:       Version,
				HeaderWords:   HeaderWords,
				Kind:          KindClientFullRequest,
				Flags:         FlagWithEvent,
				Serialization: SerializationJSON,
				Compression:   CompressionNone,
				EventID:       EventChatTextQuery,
				Object:        map[string]any{"content": "hello"},
			},
		},
		{
			name: "raw audio frame",
			msg:  NewAudioFrame("", []byte{0x00, 0x01, 0x02, 0xFF}),
		},
		{
			name: "server response with session id",
			msg: &Message{
				Version:       Version,
				HeaderWords:   HeaderWords,
				Kind:          KindServerFullResponse,
				Flags:         FlagWithEvent,
				Serialization: SerializationJSON,
				Compression:   CompressionGzip,
				EventID:       EventSessionStarted,
				SessionID:     "conn-abc",
				Object:        map[string]any{"dialog_id": "d1"},
			},
		},
		{
			name: "positive sequence",
			msg: &Message{
				Version:       Version,
				HeaderWords:   HeaderWords,
				Kind:          KindServerFullResponse,
				Flags:         FlagPosSequence | FlagWithEvent,
				Serialization: SerializationJSON,
				Compression:   CompressionNone,
				Sequence:      42,
				EventID:       EventChatResponse,
				SessionID:     "conn-abc",
				Object:        map[string]any{"content": "hi"},
			},
		},
		{
			name: "negative sequence",
			msg: &Message{
				Version:       Version,
				HeaderWords:   HeaderWords,
				Kind:          KindServerFullResponse,
				Flags:         FlagNegSequence,
				Serialization: SerializationJSON,
				Compression:   CompressionNone,
				Sequence:      -7,
				SessionID:     "s",
				Object:        map[string]any{},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Kind != tc.msg.Kind {
				t.Errorf("kind = %v, want %v", got.Kind, tc.msg.Kind)
			}
			if got.Flags != tc.msg.Flags {
				t.Errorf("flags = %#x, want %#x", got.Flags, tc.msg.Flags)
			}
			if tc.msg.HasSequence() && got.Sequence != tc.msg.Sequence {
				t.Errorf("sequence = %d, want %d", got.Sequence, tc.msg.Sequence)
			}
			if tc.msg.HasEvent() && got.EventID != tc.msg.EventID {
				t.Errorf("event id = %d, want %d", got.EventID, tc.msg.EventID)
			}
			// On decode the session id is only read back for server kinds.
			if tc.msg.Kind == KindServerFullResponse || tc.msg.Kind == KindServerAck {
				if got.SessionID != tc.msg.SessionID {
					t.Errorf("session id = %q, want %q", got.SessionID, tc.msg.SessionID)
				}
			}
			if tc.msg.Object != nil && !reflect.DeepEqual(got.Object, tc.msg.Object) {
				t.Errorf("object = %#v, want %#v", got.Object, tc.msg.Object)
			}
			if tc.msg.Payload != nil && !bytes.Equal(got.Payload, tc.msg.Payload) {
				t.Errorf("payload = %v, want %v", got.Payload, tc.msg.Payload)
			}
		})
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	for _, data := range [][]byte{nil, {}, {0x11}, {0x11, 0x14, 0x10}} {
		if _, err := Decode(data); err == nil {
			t.Fatalf("Decode(%v): expected error", data)
		} else {
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode(%v): error type %T, want *DecodeError", data, err)
			}
		}
	}
}

func TestDecodeTruncatedConditionalFields(t *testing.T) {
	// Event flag set but no event id bytes follow.
	data := []byte{Version<<4 | HeaderWords, byte(KindServerFullResponse)<<4 | FlagWithEvent, SerializationJSON << 4, 0x00, 0x00, 0x00}
	if _, err := Decode(data); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestDecodeExtensionHeaderSkipped(t *testing.T) {
	msg := NewEventFrame(EventStartConnection, "", map[string]any{})
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Splice one 4-byte extension word after the fixed header and bump the
	// header-words nibble.
	data := make([]byte, 0, len(encoded)+4)
	data = append(data, encoded[0]&0xF0|0x02)
	data = append(data, encoded[1:4]...)
	data = append(data, 0xDE, 0xAD, 0xBE, 0xEF)
	data = append(data, encoded[4:]...)

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.EventID != EventStartConnection {
		t.Errorf("event id = %d, want %d", got.EventID, EventStartConnection)
	}
}

func TestDecodeMalformedJSONDegradesToString(t *testing.T) {
	msg := &Message{
		Version:       Version,
		HeaderWords:   HeaderWords,
		Kind:          KindServerFullResponse,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionNone,
		EventID:       EventChatResponse,
		SessionID:     "s",
		Payload:       []byte("not json at all"),
	}
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Object != nil {
		t.Errorf("object = %#v, want nil", got.Object)
	}
	if got.StringPayload != "not json at all" {
		t.Errorf("string payload = %q", got.StringPayload)
	}
}

func TestDecodeGzipFallbackOnRawBytes(t *testing.T) {
	// Compression bit says gzip but the body is plain JSON; the decoder
	// must fall back instead of failing.
	msg := &Message{
		Version:       Version,
		HeaderWords:   HeaderWords,
		Kind:          KindServerFullResponse,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
		EventID:       EventSessionStarted,
		SessionID:     "s",
	}
	data, err := Encode(&Message{
		Version: msg.Version, HeaderWords: msg.HeaderWords, Kind: msg.Kind,
		Flags: msg.Flags, Serialization: msg.Serialization, Compression: CompressionNone,
		EventID: msg.EventID, SessionID: msg.SessionID,
		Object: map[string]any{"dialog_id": "d9"},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Flip the compression nibble to gzip without compressing the body.
	data[2] = SerializationJSON<<4 | CompressionGzip

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ObjectString("dialog_id") != "d9" {
		t.Errorf("dialog_id = %q, want %q", got.ObjectString("dialog_id"), "d9")
	}
}

func TestDecodeServerAckPayloadIsOpaque(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03}
	msg := &Message{
		Version:       Version,
		HeaderWords:   HeaderWords,
		Kind:          KindServerAck,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON, // ignored for acks
		Compression:   CompressionNone,
		EventID:       EventTTSResponse,
		SessionID:     "s",
		Payload:       audio,
	}
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got.Payload, audio) {
		t.Errorf("payload = %v, want %v", got.Payload, audio)
	}
	if got.Object != nil {
		t.Errorf("object should be nil for ack frames, got %#v", got.Object)
	}
}

func TestDecodeServerErrorSkipsStatusCode(t *testing.T) {
	// Error frames are only ever decoded, so build one by hand: header,
	// int32 status code, then the length-prefixed JSON body.
	body := []byte(`{"error":"bad things"}`)
	var buf bytes.Buffer
	buf.Write([]byte{Version<<4 | HeaderWords, byte(KindServerError) << 4, SerializationJSON << 4, 0x00})
	var code [4]byte
	binary.BigEndian.PutUint32(code[:], 45000001)
	buf.Write(code[:])
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(body)))
	buf.Write(n[:])
	buf.Write(body)

	got, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != KindServerError {
		t.Errorf("kind = %v", got.Kind)
	}
	if got.ObjectString("error") != "bad things" {
		t.Errorf("error field = %q", got.ObjectString("error"))
	}
}

func TestDecodeZeroLengthSessionID(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{Version<<4 | HeaderWords, byte(KindServerAck) << 4, 0x00, 0x00})
	buf.Write([]byte{0, 0, 0, 0}) // session id length 0 means absent
	buf.Write([]byte{0, 0, 0, 2, 0xAA, 0xBB})

	got, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SessionID != "" {
		t.Errorf("session id = %q, want empty", got.SessionID)
	}
	if !bytes.Equal(got.Payload, []byte{0xAA, 0xBB}) {
		t.Errorf("payload = %v", got.Payload)
	}
}

func TestDecodeMissingPayloadSection(t *testing.T) {
	// A frame may legally end right after the conditional fields.
	data := []byte{Version<<4 | HeaderWords, byte(KindClientFullRequest) << 4, SerializationJSON << 4, 0x00}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Object != nil || got.Payload != nil {
		t.Errorf("expected empty message, got object=%v payload=%v", got.Object, got.Payload)
	}
}

func TestDecodeSafeNeverFails(t *testing.T) {
	for _, data := range [][]byte{nil, {0x11}, {0x11, byte(KindServerError) << 4, 0x10, 0x00}} {
		if m := DecodeSafe(data); m != nil {
			t.Errorf("DecodeSafe(%v) = %+v, want nil", data, m)
		}
	}
	valid, err := Encode(NewEventFrame(EventSayHello, "", map[string]any{"content": "hi"}))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if m := DecodeSafe(valid); m == nil {
		t.Fatal("DecodeSafe rejected a valid frame")
	}
}

func TestEncodeEmptyPayloadWritesEmptyObject(t *testing.T) {
	data, err := Encode(&Message{
		Version:       Version,
		HeaderWords:   HeaderWords,
		Kind:          KindClientFullRequest,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionNone,
		EventID:       EventFinishConnection,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Object) != 0 || got.Object == nil {
		t.Errorf("object = %#v, want {}", got.Object)
	}
}

func TestNewTextQueryFrame(t *testing.T) {
	m := NewTextQueryFrame("conn-1", "hello", "q1")
	if m.EventID != EventChatTextQuery {
		t.Errorf("event id = %d", m.EventID)
	}
	if m.Object["content"] != "hello" || m.Object["question_id"] != "q1" {
		t.Errorf("object = %#v", m.Object)
	}
	m = NewTextQueryFrame("conn-1", "hello", "")
	if _, ok := m.Object["question_id"]; ok {
		t.Error("question_id should be omitted when empty")
	}
}

func TestEventName(t *testing.T) {
	if got := EventName(EventChatEnded); got != "chat_ended" {
		t.Errorf("EventName(559) = %q", got)
	}
	if got := EventName(12345); got != "unknown(12345)" {
		t.Errorf("EventName(12345) = %q", got)
	}
}
