package client

import "time"

// Event is a low-level client event delivered to the registered handler.
// Events are delivered synchronously from the read loop and timer goroutines,
// in the order the corresponding frames arrived on the connection.
type Event interface {
	clientEventType() string
}

// ConnectedEvent fires when the transport is open, before the
// connection-level handshake completes.
type ConnectedEvent struct{}

func (ConnectedEvent) clientEventType() string { return "connected" }

// ConnectionStartedEvent fires when the server acknowledges the
// connection-level handshake.
type ConnectionStartedEvent struct{}

func (ConnectionStartedEvent) clientEventType() string { return "connection_started" }

type DisconnectedEvent struct {
	Code   int
	Reason string
}

func (DisconnectedEvent) clientEventType() string { return "disconnected" }

type ErrorEvent struct{ Err error }

func (ErrorEvent) clientEventType() string { return "error" }

type SessionStartedEvent struct{ DialogID string }

func (SessionStartedEvent) clientEventType() string { return "session_started" }

type SessionFinishedEvent struct{}

func (SessionFinishedEvent) clientEventType() string { return "session_finished" }

type SessionFailedEvent struct{ Error string }

func (SessionFailedEvent) clientEventType() string { return "session_failed" }

// SpeechStartedEvent fires when ASR detects the user has started speaking.
type SpeechStartedEvent struct{ QuestionID string }

func (SpeechStartedEvent) clientEventType() string { return "speech_started" }

type ASRResultEvent struct {
	Text    string
	Interim bool
}

func (ASRResultEvent) clientEventType() string { return "asr_result" }

type SpeechEndedEvent struct{}

func (SpeechEndedEvent) clientEventType() string { return "speech_ended" }

type TTSSentenceStartEvent struct {
	Text       string
	TTSType    string
	QuestionID string
	ReplyID    string
}

func (TTSSentenceStartEvent) clientEventType() string { return "tts_sentence_start" }

type TTSSentenceEndEvent struct {
	QuestionID string
	ReplyID    string
}

func (TTSSentenceEndEvent) clientEventType() string { return "tts_sentence_end" }

type TTSEndedEvent struct {
	QuestionID string
	ReplyID    string
}

func (TTSEndedEvent) clientEventType() string { return "tts_ended" }

// AudioDataEvent carries one chunk of synthesized speech from an ack frame.
type AudioDataEvent struct {
	Data      []byte
	SessionID string
}

func (AudioDataEvent) clientEventType() string { return "audio_data" }

type ChatResponseEvent struct {
	Text       string
	QuestionID string
	ReplyID    string
}

func (ChatResponseEvent) clientEventType() string { return "chat_response" }

type ChatEndedEvent struct {
	QuestionID string
	ReplyID    string
}

func (ChatEndedEvent) clientEventType() string { return "chat_ended" }

type DialogErrorEvent struct {
	StatusCode int
	Message    string
}

func (DialogErrorEvent) clientEventType() string { return "dialog_error" }

type ReconnectingEvent struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}

func (ReconnectingEvent) clientEventType() string { return "reconnecting" }

// ReconnectedEvent fires after a successful reconnect; Attempts is the number
// of attempts that were needed.
type ReconnectedEvent struct{ Attempts int }

func (ReconnectedEvent) clientEventType() string { return "reconnected" }

// ReconnectFailedEvent is terminal: no further reconnect is attempted until a
// manual Reconnect call.
type ReconnectFailedEvent struct{ Attempts int }

func (ReconnectFailedEvent) clientEventType() string { return "reconnect_failed" }

// ConnectionTimeoutEvent is emitted by the health probe before it forces a
// reconnect, for either an idle connection or an unanswered request.
type ConnectionTimeoutEvent struct {
	Pending   int
	SinceSend time.Duration
	SinceRecv time.Duration
}

func (ConnectionTimeoutEvent) clientEventType() string { return "connection_timeout" }
