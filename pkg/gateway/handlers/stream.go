package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/voicebridge/pkg/dialog/session"
	"github.com/vango-go/voicebridge/pkg/dialog/sessions"
	"github.com/vango-go/voicebridge/pkg/gateway/config"
	"github.com/vango-go/voicebridge/pkg/gateway/metrics"
	"github.com/vango-go/voicebridge/pkg/gateway/mw"
)

// clientMessage is the JSON shape accepted on the relay websocket. Binary
// frames are treated as raw audio and skip this envelope entirely.
type clientMessage struct {
	Type string `json:"type"` // audio | text | control

	// type=audio
	Data string `json:"data,omitempty"` // base64 pcm

	// type=text
	Text       string `json:"text,omitempty"`
	QuestionID string `json:"questionId,omitempty"`

	// type=control
	Action string          `json:"action,omitempty"` // start | end | disconnect
	Config *sessionRequest `json:"config,omitempty"`
}

// StreamHandler relays a client websocket onto one dialog session: inbound
// audio/text/control messages feed the session, published session events are
// written back out.
type StreamHandler struct {
	Config   config.Config
	Registry *sessions.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	var (
		s   *session.Session
		err error
	)
	if id := strings.TrimSpace(r.URL.Query().Get("sessionId")); id != "" {
		s, err = h.Registry.Get(id)
		if err != nil {
			writeAPIError(w, reqID, err)
			return
		}
	} else {
		s, err = h.Registry.Create()
		if err != nil {
			writeAPIError(w, reqID, err)
			return
		}
		if h.Metrics != nil {
			h.Metrics.SessionsCreated.Inc()
			h.Metrics.SessionsActive.Set(float64(h.Registry.Count()))
		}
		s.Connect()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.RelayMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.RelayMaxMessageBytes)
	}

	relay := &relayConn{
		conn:         conn,
		writeTimeout: h.Config.RelayWriteTimeout,
	}

	unsubscribe := s.Subscribe(func(e session.Event) {
		h.countEvent(e)
		if e.Type == session.EventAudioData {
			if err := relay.writeBinary(e.AudioData); err == nil && h.Metrics != nil {
				h.Metrics.AudioBytesOut.Add(float64(len(e.AudioData)))
				h.Metrics.RelayMessagesOut.WithLabelValues("binary").Inc()
			}
			return
		}
		if err := relay.writeJSON(e); err == nil && h.Metrics != nil {
			h.Metrics.RelayMessagesOut.WithLabelValues("json").Inc()
		}
	})
	defer unsubscribe()

	// Tell the client which session it is attached to before any events flow.
	snap := s.Snapshot()
	_ = relay.writeJSON(map[string]any{
		"type":      "ready",
		"sessionId": snap.ID,
		"state":     snap.State,
	})

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && h.Logger != nil {
				h.Logger.Warn("relay closed unexpectedly", "session_id", s.ID(), "request_id", reqID, "error", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if h.Metrics != nil {
				h.Metrics.RelayMessagesIn.WithLabelValues("binary").Inc()
				h.Metrics.AudioBytesIn.Add(float64(len(payload)))
			}
			if err := s.SendAudio(payload); err != nil {
				h.relayError(relay, s.ID(), err)
			}
		case websocket.TextMessage:
			h.handleClientMessage(relay, s, payload)
		}
	}
}

func (h StreamHandler) handleClientMessage(relay *relayConn, s *session.Session, payload []byte) {
	var msg clientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.relayErrorMessage(relay, s.ID(), "invalid json message")
		return
	}
	if h.Metrics != nil {
		h.Metrics.RelayMessagesIn.WithLabelValues(msg.Type).Inc()
	}

	switch msg.Type {
	case "audio":
		audio, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			h.relayErrorMessage(relay, s.ID(), "invalid base64 audio data")
			return
		}
		if h.Metrics != nil {
			h.Metrics.AudioBytesIn.Add(float64(len(audio)))
		}
		if err := s.SendAudio(audio); err != nil {
			h.relayError(relay, s.ID(), err)
		}
	case "text":
		if strings.TrimSpace(msg.Text) == "" {
			h.relayErrorMessage(relay, s.ID(), "text is required")
			return
		}
		if err := s.SendText(msg.Text, msg.QuestionID); err != nil {
			h.relayError(relay, s.ID(), err)
		}
	case "control":
		h.handleControl(relay, s, msg)
	default:
		h.relayErrorMessage(relay, s.ID(), "unknown message type: "+msg.Type)
	}
}

func (h StreamHandler) handleControl(relay *relayConn, s *session.Session, msg clientMessage) {
	switch msg.Action {
	case "start":
		cfg := msg.Config.mergeInto(h.Config.DefaultSessionConfig())
		if err := s.Start(cfg); err != nil {
			h.relayError(relay, s.ID(), err)
		}
	case "end":
		if err := s.End(); err != nil {
			h.relayError(relay, s.ID(), err)
		}
	case "disconnect":
		s.Disconnect()
	default:
		h.relayErrorMessage(relay, s.ID(), "unknown control action: "+msg.Action)
	}
}

func (h StreamHandler) countEvent(e session.Event) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.SessionEvents.WithLabelValues(string(e.Type)).Inc()
	switch e.Type {
	case session.EventReconnecting:
		h.Metrics.ReconnectsTotal.Inc()
	case session.EventDialogError, session.EventError:
		h.Metrics.UpstreamErrors.Inc()
	}
}

func (h StreamHandler) relayError(relay *relayConn, sessionID string, err error) {
	h.relayErrorMessage(relay, sessionID, err.Error())
}

func (h StreamHandler) relayErrorMessage(relay *relayConn, sessionID, msg string) {
	_ = relay.writeJSON(session.Event{
		Type:      session.EventError,
		SessionID: sessionID,
		Error:     msg,
	})
}

// relayConn serializes writes to the client websocket; events arrive from
// the session's publish goroutine while errors are written from the read
// loop.
type relayConn struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *relayConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDeadline()
	return c.conn.WriteJSON(v)
}

func (c *relayConn) writeBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDeadline()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *relayConn) setDeadline() {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}
