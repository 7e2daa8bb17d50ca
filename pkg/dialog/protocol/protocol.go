// Package protocol implements the binary framing used by the realtime
// dialogue service: a 4-byte bit-packed header followed by optional
// sequence/event fields, an optional length-prefixed session id, and a
// length-prefixed payload that may be gzip-compressed JSON or raw bytes.
package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Header byte 0 defaults. HeaderWords counts 4-byte words including the
// fixed header itself, so 1 means no extension words follow.
const (
	Version     = 0x01
	HeaderWords = 0x01
)

// MessageKind occupies the high nibble of header byte 1.
type MessageKind byte

const (
	KindClientFullRequest  MessageKind = 0x01
	KindClientAudioOnly    MessageKind = 0x02
	KindServerFullResponse MessageKind = 0x09
	KindServerAck          MessageKind = 0x0B
	KindServerError        MessageKind = 0x0F
)

func (k MessageKind) String() string {
	switch k {
	case KindClientFullRequest:
		return "client_full_request"
	case KindClientAudioOnly:
		return "client_audio_only"
	case KindServerFullResponse:
		return "server_full_response"
	case KindServerAck:
		return "server_ack"
	case KindServerError:
		return "server_error"
	default:
		return fmt.Sprintf("unknown_kind_0x%02X", byte(k))
	}
}

// Flags occupy the low nibble of header byte 1. The low two bits signal a
// sequence field; bit 2 signals an event id field.
const (
	FlagPosSequence  byte = 0x01
	FlagNegSequence  byte = 0x02
	FlagWithEvent    byte = 0x04
	flagSequenceMask byte = 0x03
)

// Serialization and compression share header byte 2.
const (
	SerializationRaw  byte = 0x00
	SerializationJSON byte = 0x01

	CompressionNone byte = 0x00
	CompressionGzip byte = 0x01
)

// Message is one decoded or to-be-encoded frame. Exactly one of Object and
// Payload is meaningful: Object holds a structured JSON payload, Payload
// holds opaque bytes (audio, or a JSON body that failed to parse — see
// StringPayload).
type Message struct {
	Version       byte
	HeaderWords   byte
	Kind          MessageKind
	Flags         byte
	Serialization byte
	Compression   byte

	// Sequence is meaningful iff Flags&0x03 != 0.
	Sequence int32
	// EventID is meaningful iff Flags&FlagWithEvent != 0.
	EventID int32

	SessionID string

	Object  map[string]any
	Payload []byte
	// StringPayload is set instead of Object when a JSON body could not be
	// parsed; the frame is still delivered.
	StringPayload string
}

// HasEvent reports whether the event-id field is present on the wire.
func (m *Message) HasEvent() bool { return m.Flags&FlagWithEvent != 0 }

// HasSequence reports whether the sequence field is present on the wire.
func (m *Message) HasSequence() bool { return m.Flags&flagSequenceMask != 0 }

// ObjectString returns a string-ish field from the structured payload, or ""
// when absent.
func (m *Message) ObjectString(key string) string {
	if m.Object == nil {
		return ""
	}
	switch v := m.Object[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ObjectInt returns an integer field from the structured payload, or 0 when
// absent or not numeric. JSON numbers decode as float64.
func (m *Message) ObjectInt(key string) int {
	if m.Object == nil {
		return 0
	}
	switch v := m.Object[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// ObjectBool returns a boolean field from the structured payload.
func (m *Message) ObjectBool(key string) bool {
	if m.Object == nil {
		return false
	}
	v, _ := m.Object[key].(bool)
	return v
}

// ObjectSlice returns an array field from the structured payload, or nil.
func (m *Message) ObjectSlice(key string) []any {
	if m.Object == nil {
		return nil
	}
	v, _ := m.Object[key].([]any)
	return v
}

type EncodeError struct {
	Message string
	Err     error
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encode: %s: %v", e.Message, e.Err)
	}
	return "encode: " + e.Message
}

func (e *EncodeError) Unwrap() error { return e.Err }

type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Message, e.Err)
	}
	return "decode: " + e.Message
}

func (e *DecodeError) Unwrap() error { return e.Err }

func framing(message string) *DecodeError {
	return &DecodeError{Message: message}
}

// Encode serializes a frame. Field order on the wire: fixed header, optional
// sequence, optional event id, optional session id (length-prefixed; written
// whenever SessionID is non-empty), payload length, payload. A frame with
// neither Object nor Payload set encodes an empty JSON object body.
func Encode(m *Message) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(m.Version<<4 | m.HeaderWords&0x0F)
	buf.WriteByte(byte(m.Kind)<<4 | m.Flags&0x0F)
	buf.WriteByte(m.Serialization<<4 | m.Compression&0x0F)
	buf.WriteByte(0x00)

	if m.HasSequence() {
		writeInt32(&buf, m.Sequence)
	}
	if m.HasEvent() {
		writeInt32(&buf, m.EventID)
	}
	if m.SessionID != "" {
		id := []byte(m.SessionID)
		writeInt32(&buf, int32(len(id)))
		buf.Write(id)
	}

	payload, err := encodePayload(m)
	if err != nil {
		return nil, err
	}
	writeInt32(&buf, int32(len(payload)))
	buf.Write(payload)

	return buf.Bytes(), nil
}

func encodePayload(m *Message) ([]byte, error) {
	var payload []byte
	switch {
	case m.Payload != nil:
		payload = m.Payload
	case m.Object != nil:
		b, err := json.Marshal(m.Object)
		if err != nil {
			return nil, &EncodeError{Message: "marshal payload", Err: err}
		}
		payload = b
	default:
		payload = []byte("{}")
	}

	if m.Compression == CompressionGzip && m.Serialization == SerializationJSON && len(payload) > 0 {
		compressed, err := gzipCompress(payload)
		if err != nil {
			return nil, &EncodeError{Message: "gzip payload", Err: err}
		}
		payload = compressed
	}
	return payload, nil
}

// Decode parses a frame. Framing violations (truncated header, truncated
// conditional fields, truncated payload) fail with *DecodeError. Payload-body
// problems never fail the frame: a gzip payload that does not decompress is
// kept as-is, and a JSON body that does not parse is surfaced via
// StringPayload.
func Decode(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, framing("header too short")
	}

	m := &Message{
		Version:       data[0] >> 4,
		HeaderWords:   data[0] & 0x0F,
		Kind:          MessageKind(data[1] >> 4),
		Flags:         data[1] & 0x0F,
		Serialization: data[2] >> 4,
		Compression:   data[2] & 0x0F,
	}
	r := data[4:]

	if m.HeaderWords > 1 {
		ext := int(m.HeaderWords-1) * 4
		if len(r) < ext {
			return nil, framing("extension header truncated")
		}
		r = r[ext:]
	}

	var err error
	if m.HasSequence() {
		if m.Sequence, r, err = readInt32(r, "sequence"); err != nil {
			return nil, err
		}
	}
	if m.HasEvent() {
		if m.EventID, r, err = readInt32(r, "event id"); err != nil {
			return nil, err
		}
	}

	// Only server frames carry a session id; a zero length means absent.
	if m.Kind == KindServerFullResponse || m.Kind == KindServerAck {
		if m.SessionID, r, err = readSessionID(r); err != nil {
			return nil, err
		}
	}

	// Error frames carry a status code before the payload; the payload body
	// repeats it, so the field is discarded here.
	if m.Kind == KindServerError {
		if _, r, err = readInt32(r, "error code"); err != nil {
			return nil, err
		}
	}

	if len(r) >= 4 {
		n := int32(binary.BigEndian.Uint32(r))
		r = r[4:]
		if n > 0 {
			if len(r) < int(n) {
				return nil, framing(fmt.Sprintf("payload truncated: want %d bytes, have %d", n, len(r)))
			}
			decodePayload(m, r[:n])
		}
	}

	return m, nil
}

// DecodeSafe is Decode for an inbound stream: any framing error yields nil so
// one malformed frame cannot tear down the connection.
func DecodeSafe(data []byte) *Message {
	m, err := Decode(data)
	if err != nil {
		return nil
	}
	return m
}

func decodePayload(m *Message, body []byte) {
	decoded := body
	if m.Compression == CompressionGzip {
		// The server does not always compress even when the header says
		// gzip; fall back to the raw bytes.
		if plain, err := gzipDecompress(body); err == nil {
			decoded = plain
		}
	}

	if m.Kind == KindServerAck {
		// Ack frames carry audio regardless of the serialization bits.
		m.Payload = decoded
		return
	}
	if m.Serialization == SerializationJSON {
		var obj map[string]any
		if err := json.Unmarshal(decoded, &obj); err != nil {
			m.StringPayload = string(decoded)
			return
		}
		m.Object = obj
		return
	}
	m.Payload = decoded
}

func readInt32(r []byte, field string) (int32, []byte, error) {
	if len(r) < 4 {
		return 0, nil, framing(field + " truncated")
	}
	return int32(binary.BigEndian.Uint32(r)), r[4:], nil
}

func readSessionID(r []byte) (string, []byte, error) {
	n, r, err := readInt32(r, "session id length")
	if err != nil {
		return "", nil, err
	}
	if n <= 0 {
		return "", r, nil
	}
	if len(r) < int(n) {
		return "", nil, framing("session id truncated")
	}
	return string(r[:n]), r[n:], nil
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
