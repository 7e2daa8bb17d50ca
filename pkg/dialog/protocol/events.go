package protocol

import "fmt"

// Client-originated event ids.
const (
	EventStartConnection  int32 = 1
	EventFinishConnection int32 = 2
	EventStartSession     int32 = 100
	EventFinishSession    int32 = 102
	EventTaskRequest      int32 = 200
	EventSayHello         int32 = 300
	EventChatTTSText      int32 = 500
	EventChatTextQuery    int32 = 501
	EventChatRAGText      int32 = 502

	EventConversationCreate   int32 = 560
	EventConversationUpdate   int32 = 561
	EventConversationRetrieve int32 = 562
	EventConversationDelete   int32 = 563
)

// Server-originated event ids.
const (
	EventConnectionStarted int32 = 50
	EventSessionStarted    int32 = 150
	EventSessionFinished   int32 = 152
	EventSessionFailed     int32 = 153
	EventUsageResponse     int32 = 154
	EventTTSSentenceStart  int32 = 350
	EventTTSSentenceEnd    int32 = 351
	EventTTSResponse       int32 = 352
	EventTTSEnded          int32 = 359
	EventASRInfo           int32 = 450
	EventASRResponse       int32 = 451
	EventASREnded          int32 = 459
	EventChatResponse      int32 = 550
	EventChatTextConfirmed int32 = 553
	EventChatEnded         int32 = 559

	EventConversationCreated   int32 = 567
	EventConversationUpdated   int32 = 568
	EventConversationRetrieved int32 = 569
	EventConversationDeleted   int32 = 571

	EventDialogError int32 = 599
)

var eventNames = map[int32]string{
	EventStartConnection:       "start_connection",
	EventFinishConnection:      "finish_connection",
	EventStartSession:          "start_session",
	EventFinishSession:         "finish_session",
	EventTaskRequest:           "task_request",
	EventSayHello:              "say_hello",
	EventChatTTSText:           "chat_tts_text",
	EventChatTextQuery:         "chat_text_query",
	EventChatRAGText:           "chat_rag_text",
	EventConversationCreate:    "conversation_create",
	EventConversationUpdate:    "conversation_update",
	EventConversationRetrieve:  "conversation_retrieve",
	EventConversationDelete:    "conversation_delete",
	EventConnectionStarted:     "connection_started",
	EventSessionStarted:        "session_started",
	EventSessionFinished:       "session_finished",
	EventSessionFailed:         "session_failed",
	EventUsageResponse:         "usage_response",
	EventTTSSentenceStart:      "tts_sentence_start",
	EventTTSSentenceEnd:        "tts_sentence_end",
	EventTTSResponse:           "tts_response",
	EventTTSEnded:              "tts_ended",
	EventASRInfo:               "asr_info",
	EventASRResponse:           "asr_response",
	EventASREnded:              "asr_ended",
	EventChatResponse:          "chat_response",
	EventChatTextConfirmed:     "chat_text_query_confirmed",
	EventChatEnded:             "chat_ended",
	EventConversationCreated:   "conversation_created",
	EventConversationUpdated:   "conversation_updated",
	EventConversationRetrieved: "conversation_retrieved",
	EventConversationDeleted:   "conversation_deleted",
	EventDialogError:           "dialog_error",
}

// EventName returns a stable lowercase name for an event id, for logs.
func EventName(id int32) string {
	if name, ok := eventNames[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", id)
}

// NewEventFrame builds the standard client control frame: full request,
// JSON serialization, gzip compression, event id set. A nil object encodes
// as {}.
func NewEventFrame(eventID int32, sessionID string, object map[string]any) *Message {
	return &Message{
		Version:       Version,
		HeaderWords:   HeaderWords,
		Kind:          KindClientFullRequest,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
		EventID:       eventID,
		SessionID:     sessionID,
		Object:        object,
	}
}

// NewAudioFrame builds a raw audio-only frame carrying one task-request
// chunk.
func NewAudioFrame(sessionID string, audio []byte) *Message {
	return &Message{
		Version:       Version,
		HeaderWords:   HeaderWords,
		Kind:          KindClientAudioOnly,
		Flags:         FlagWithEvent,
		Serialization: SerializationRaw,
		Compression:   CompressionNone,
		EventID:       EventTaskRequest,
		SessionID:     sessionID,
		Payload:       audio,
	}
}

// NewTextQueryFrame builds a chat text query. The question id is optional
// and omitted when empty.
func NewTextQueryFrame(sessionID, text, questionID string) *Message {
	object := map[string]any{"content": text}
	if questionID != "" {
		object["question_id"] = questionID
	}
	return NewEventFrame(EventChatTextQuery, sessionID, object)
}
