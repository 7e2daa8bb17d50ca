// Package session layers dialogue-session semantics over the low-level
// dialog client: a small state machine, listener fan-out of typed events,
// and transparent session resume when the underlying connection drops and
// comes back.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/voicebridge/pkg/dialog/client"
)

// State is the session lifecycle position.
type State string

const (
	StateCreated         State = "created"
	StateConnecting      State = "connecting"
	StateConnected       State = "connected"
	StateSessionStarting State = "session_starting"
	StateSessionActive   State = "session_active"
	StateSessionEnding   State = "session_ending"
	StateDisconnected    State = "disconnected"
	StateError           State = "error"
)

// IsTerminal reports whether the session has stopped doing work.
func (s State) IsTerminal() bool {
	return s == StateDisconnected || s == StateError
}

// InvalidStateError is returned when an operation is not legal in the
// session's current state.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("session operation %q not allowed in state %q", e.Op, e.State)
}

// dialogClient is the slice of the dialog client a session drives.
type dialogClient interface {
	OnEvent(func(client.Event))
	Connect()
	Reconnect()
	Disconnect()
	Shutdown()
	SendStartSession(config map[string]any) error
	SendFinishSession() error
	SendAudio(audio []byte) error
	SendTextQuery(text, questionID string) error
	IsConnected() bool
	IsConnectionStarted() bool
}

// Snapshot is a point-in-time copy of the session's observable state.
type Snapshot struct {
	ID                string    `json:"sessionId"`
	State             State     `json:"state"`
	DialogID          string    `json:"dialogId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	LastActiveAt      time.Time `json:"lastActiveAt"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	Connected         bool      `json:"connected"`
	ConnectionStarted bool      `json:"connectionStarted"`
}

// Session binds one caller-visible dialogue to one upstream client.
type Session struct {
	id     string
	client dialogClient
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	config       *Config
	dialogID     string
	createdAt    time.Time
	lastActiveAt time.Time
	errorMessage string
	// resume is set when a drop interrupts an in-flight session; the next
	// connection handshake redrives start-session with the saved config and
	// dialog id.
	resume bool

	listenerMu   sync.Mutex
	listeners    map[int]func(Event)
	nextListener int

	now func() time.Time
}

// New creates a session with its own upstream client built from opts.
func New(opts client.Options) *Session {
	return newWithClient(client.New(opts), opts.Logger)
}

func newWithClient(c dialogClient, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	s := &Session{
		id:        id,
		client:    c,
		logger:    logger.With("component", "voice_session", "session_id", id),
		state:     StateCreated,
		listeners: make(map[int]func(Event)),
		now:       time.Now,
	}
	s.createdAt = s.now()
	s.lastActiveAt = s.createdAt
	c.OnEvent(s.handleClientEvent)
	return s
}

// ID returns the locally minted session identifier.
func (s *Session) ID() string { return s.id }

// Subscribe registers a listener for session events and returns its
// unsubscribe function. Listeners are invoked synchronously in publish
// order; a panicking listener is isolated and logged.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerMu.Unlock()
	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Session) publish(e Event) {
	e.SessionID = s.id
	s.listenerMu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("session event listener panicked", "panic", r, "event", e.Type)
				}
			}()
			fn(e)
		}()
	}
}

// Connect opens the upstream connection. Legal from created and
// disconnected; elsewhere it is a logged no-op.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.state != StateCreated && s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		s.logger.Warn("connect ignored", "state", state)
		return
	}
	s.state = StateConnecting
	s.lastActiveAt = s.now()
	s.mu.Unlock()
	s.client.Connect()
}

// Start opens the dialogue with the given configuration. Requires the
// connection handshake to have completed.
func (s *Session) Start(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s.mu.Lock()
	if s.state != StateConnected {
		err := &InvalidStateError{Op: "start", State: s.state}
		s.mu.Unlock()
		return err
	}
	s.state = StateSessionStarting
	s.config = cfg
	s.lastActiveAt = s.now()
	payload := cfg.startPayload(s.dialogID)
	s.mu.Unlock()

	if err := s.client.SendStartSession(payload); err != nil {
		s.mu.Lock()
		s.state = StateConnected
		s.mu.Unlock()
		return err
	}
	return nil
}

// End requests a graceful session close. Legal only while active; elsewhere
// it is a logged no-op.
func (s *Session) End() error {
	s.mu.Lock()
	if s.state != StateSessionActive {
		state := s.state
		s.mu.Unlock()
		s.logger.Warn("end ignored", "state", state)
		return nil
	}
	s.state = StateSessionEnding
	s.resume = false
	s.lastActiveAt = s.now()
	s.mu.Unlock()
	return s.client.SendFinishSession()
}

// Disconnect tears down the upstream connection without waiting for a
// graceful session close.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.resume = false
	s.mu.Unlock()
	s.client.Disconnect()
}

// Shutdown releases the session permanently.
func (s *Session) Shutdown() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.resume = false
	s.mu.Unlock()
	s.client.Shutdown()
}

// SendAudio forwards one chunk of caller audio. Audio outside an active
// session is dropped, not an error: the stream is continuous and a chunk
// racing a state change is expected.
func (s *Session) SendAudio(audio []byte) error {
	s.mu.Lock()
	if s.state != StateSessionActive {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("audio dropped", "state", state, "size", len(audio))
		return nil
	}
	s.lastActiveAt = s.now()
	s.mu.Unlock()

	err := s.client.SendAudio(audio)
	if errors.Is(err, client.ErrNotConnected) {
		// The transport died under the active session. Audio is continuous
		// and best-effort, so surface the loss as a state change and an
		// error event rather than failing every chunk.
		s.mu.Lock()
		if s.state == StateSessionStarting || s.state == StateSessionActive {
			s.resume = s.config != nil
		}
		s.state = StateDisconnected
		s.mu.Unlock()
		s.publish(Event{Type: EventError, Error: err.Error()})
		return nil
	}
	return err
}

// SendText submits a text question into the active session.
func (s *Session) SendText(text, questionID string) error {
	s.mu.Lock()
	if s.state != StateSessionActive {
		err := &InvalidStateError{Op: "send_text", State: s.state}
		s.mu.Unlock()
		return err
	}
	s.lastActiveAt = s.now()
	s.mu.Unlock()
	return s.client.SendTextQuery(text, questionID)
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:                s.id,
		State:             s.state,
		DialogID:          s.dialogID,
		CreatedAt:         s.createdAt,
		LastActiveAt:      s.lastActiveAt,
		ErrorMessage:      s.errorMessage,
		Connected:         s.client.IsConnected(),
		ConnectionStarted: s.client.IsConnectionStarted(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DialogID returns the server-assigned dialogue id, if known.
func (s *Session) DialogID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialogID
}

// LastActiveAt returns the time of the last send or received event.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

func (s *Session) handleClientEvent(e client.Event) {
	s.mu.Lock()
	s.lastActiveAt = s.now()
	s.mu.Unlock()

	switch ev := e.(type) {
	case client.ConnectedEvent:
		s.logger.Info("upstream connected")

	case client.ConnectionStartedEvent:
		s.mu.Lock()
		s.state = StateConnected
		resume := s.resume && s.config != nil
		s.resume = false
		var payload map[string]any
		if resume {
			s.state = StateSessionStarting
			payload = s.config.startPayload(s.dialogID)
		}
		s.mu.Unlock()
		s.publish(Event{Type: EventConnectionStarted})
		if resume {
			s.logger.Info("resuming interrupted session", "dialog_id", s.DialogID())
			if err := s.client.SendStartSession(payload); err != nil {
				s.logger.Error("session resume failed", "error", err)
				s.mu.Lock()
				s.state = StateConnected
				s.mu.Unlock()
				s.publish(Event{Type: EventSessionFailed, Error: err.Error()})
			}
		}

	case client.SessionStartedEvent:
		s.mu.Lock()
		s.dialogID = ev.DialogID
		s.state = StateSessionActive
		s.mu.Unlock()
		s.publish(Event{Type: EventSessionStarted, DialogID: ev.DialogID})

	case client.SessionFinishedEvent:
		s.mu.Lock()
		s.state = StateConnected
		s.mu.Unlock()
		s.publish(Event{Type: EventSessionFinished})

	case client.SessionFailedEvent:
		s.mu.Lock()
		s.state = StateError
		s.errorMessage = ev.Error
		s.mu.Unlock()
		s.publish(Event{Type: EventSessionFailed, Error: ev.Error})

	case client.DisconnectedEvent:
		s.mu.Lock()
		// An interrupted session is resumed on the next handshake; a
		// deliberate close is not.
		if s.state == StateSessionStarting || s.state == StateSessionActive {
			s.resume = s.config != nil
		}
		s.state = StateDisconnected
		s.mu.Unlock()
		s.publish(Event{Type: EventDisconnected, CloseCode: ev.Code, CloseReason: ev.Reason})

	case client.ErrorEvent:
		s.mu.Lock()
		s.errorMessage = ev.Err.Error()
		s.mu.Unlock()
		s.publish(Event{Type: EventError, Error: ev.Err.Error()})

	case client.ReconnectingEvent:
		s.mu.Lock()
		s.state = StateConnecting
		s.mu.Unlock()
		s.publish(Event{
			Type: EventReconnecting, Attempt: ev.Attempt,
			MaxAttempts: ev.MaxAttempts, DelayMS: ev.Delay.Milliseconds(),
		})

	case client.ReconnectedEvent:
		s.publish(Event{Type: EventReconnected, Attempt: ev.Attempts})

	case client.ReconnectFailedEvent:
		s.mu.Lock()
		s.state = StateError
		s.errorMessage = "reconnect attempts exhausted"
		s.mu.Unlock()
		s.publish(Event{Type: EventReconnectFailed, Attempt: ev.Attempts, Error: "reconnect attempts exhausted"})

	case client.ConnectionTimeoutEvent:
		s.logger.Warn("upstream connection timed out", "pending", ev.Pending, "since_recv", ev.SinceRecv)
		s.publish(Event{
			Type:        EventConnectionTimeout,
			Pending:     ev.Pending,
			SinceSendMS: ev.SinceSend.Milliseconds(),
			SinceRecvMS: ev.SinceRecv.Milliseconds(),
		})

	case client.SpeechStartedEvent:
		s.publish(Event{Type: EventUserSpeechStarted, QuestionID: ev.QuestionID})

	case client.ASRResultEvent:
		s.publish(Event{Type: EventASRResult, Text: ev.Text, Interim: ev.Interim})

	case client.SpeechEndedEvent:
		s.publish(Event{Type: EventUserSpeechEnded})

	case client.TTSSentenceStartEvent:
		s.publish(Event{
			Type: EventTTSSentenceStart, Text: ev.Text, TTSType: ev.TTSType,
			QuestionID: ev.QuestionID, ReplyID: ev.ReplyID,
		})

	case client.TTSSentenceEndEvent:
		s.publish(Event{Type: EventTTSSentenceEnd, QuestionID: ev.QuestionID, ReplyID: ev.ReplyID})

	case client.TTSEndedEvent:
		s.publish(Event{Type: EventTTSEnded, QuestionID: ev.QuestionID, ReplyID: ev.ReplyID})

	case client.AudioDataEvent:
		s.publish(Event{Type: EventAudioData, AudioData: ev.Data})

	case client.ChatResponseEvent:
		s.publish(Event{Type: EventChatResponse, Text: ev.Text, QuestionID: ev.QuestionID, ReplyID: ev.ReplyID})

	case client.ChatEndedEvent:
		s.publish(Event{Type: EventChatEnded, QuestionID: ev.QuestionID, ReplyID: ev.ReplyID})

	case client.DialogErrorEvent:
		s.publish(Event{Type: EventDialogError, StatusCode: ev.StatusCode, Error: ev.Message})
	}
}
