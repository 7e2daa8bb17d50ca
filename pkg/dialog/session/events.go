package session

// EventType tags a session event.
type EventType string

const (
	// Connection lifecycle.
	EventConnectionStarted EventType = "connection_started"
	EventDisconnected      EventType = "disconnected"
	EventError             EventType = "error"
	EventReconnecting      EventType = "reconnecting"
	EventReconnected       EventType = "reconnected"
	EventReconnectFailed   EventType = "reconnect_failed"
	EventConnectionTimeout EventType = "connection_timeout"

	// Session lifecycle.
	EventSessionStarted  EventType = "session_started"
	EventSessionFinished EventType = "session_finished"
	EventSessionFailed   EventType = "session_failed"

	// Recognition.
	EventUserSpeechStarted EventType = "user_speech_started"
	EventASRResult         EventType = "asr_result"
	EventUserSpeechEnded   EventType = "user_speech_ended"

	// Synthesis.
	EventTTSSentenceStart EventType = "tts_sentence_start"
	EventTTSSentenceEnd   EventType = "tts_sentence_end"
	EventTTSEnded         EventType = "tts_ended"
	EventAudioData        EventType = "audio_data"

	// Chat.
	EventChatResponse EventType = "chat_response"
	EventChatEnded    EventType = "chat_ended"

	EventDialogError EventType = "dialog_error"
)

// Event is the single observable unit a session publishes. Fields are
// populated per type; the struct serializes directly onto the client-facing
// websocket, so unused fields are omitted.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`

	DialogID   string `json:"dialogId,omitempty"`
	QuestionID string `json:"questionId,omitempty"`
	ReplyID    string `json:"replyId,omitempty"`
	Text       string `json:"text,omitempty"`
	TTSType    string `json:"ttsType,omitempty"`
	AudioData  []byte `json:"-"`
	Interim    bool   `json:"isInterim,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`

	CloseCode   int    `json:"closeCode,omitempty"`
	CloseReason string `json:"closeReason,omitempty"`

	// Reconnect progress.
	Attempt     int   `json:"attempt,omitempty"`
	MaxAttempts int   `json:"maxAttempts,omitempty"`
	DelayMS     int64 `json:"delayMs,omitempty"`

	// Health-probe findings on a connection timeout.
	Pending     int   `json:"pending,omitempty"`
	SinceSendMS int64 `json:"lastSendAgoMs,omitempty"`
	SinceRecvMS int64 `json:"lastRecvAgoMs,omitempty"`
}
