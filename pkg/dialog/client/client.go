// Package client maintains one resilient websocket connection to the remote
// realtime-dialogue service: it frames outbound operations with the binary
// protocol, decodes inbound frames into typed events, probes connection
// health, and reconnects with bounded exponential backoff.
package client

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/voicebridge/pkg/dialog/protocol"
)

var (
	// ErrNotConnected is returned when an operation needs an open transport.
	ErrNotConnected = errors.New("dialog client is not connected")
	// ErrConnectionNotStarted is returned when the transport is open but the
	// server has not acknowledged the connection handshake yet.
	ErrConnectionNotStarted = errors.New("dialog connection handshake not completed")
)

const (
	defaultInitialReconnectDelay = 1 * time.Second
	defaultMaxReconnectDelay     = 30 * time.Second
	defaultMaxReconnectAttempts  = 5
	defaultHealthCheckInterval   = 10 * time.Second
	// Set below the remote service's own receive timeout so we reconnect
	// before the server cuts an idle connection.
	defaultIdleTimeout      = 90 * time.Second
	defaultRequestTimeout   = 30 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
)

// Options configures a Client. Zero durations and counts fall back to the
// defaults above.
type Options struct {
	URL string

	// Static identity headers forwarded verbatim on every dial.
	AppID      string
	AccessKey  string
	ResourceID string
	AppKey     string

	DisableAutoReconnect  bool
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	MaxReconnectAttempts  int

	HealthCheckInterval time.Duration
	IdleTimeout         time.Duration
	RequestTimeout      time.Duration
	HandshakeTimeout    time.Duration

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.InitialReconnectDelay <= 0 {
		o.InitialReconnectDelay = defaultInitialReconnectDelay
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = defaultHealthCheckInterval
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client owns one connection-attempt lifecycle to the remote service.
// All public methods are safe for concurrent use; none block beyond issuing
// the send. Results arrive through the registered event handler.
type Client struct {
	opts   Options
	logger *slog.Logger

	// handler receives every event; set once via OnEvent before Connect.
	handler func(Event)

	mu             sync.Mutex // conn, timers, ids, generation
	conn           *websocket.Conn
	reconnectTimer *time.Timer
	healthStop     chan struct{}
	gen            uint64
	connID         string
	dialogID       string

	writeMu sync.Mutex

	connected         atomic.Bool
	connectionStarted atomic.Bool
	reconnecting      atomic.Bool
	manualDisconnect  atomic.Bool
	closed            atomic.Bool
	reconnectAttempts atomic.Int32
	pendingRequests   atomic.Int32
	lastSendMilli     atomic.Int64
	lastRecvMilli     atomic.Int64

	// test seams
	dialFn func(url string, header http.Header) (*websocket.Conn, error)
	now    func() time.Time
}

// New builds a Client. The caller must register a handler with OnEvent
// before calling Connect.
func New(opts Options) *Client {
	opts.applyDefaults()
	c := &Client{
		opts:   opts,
		logger: opts.Logger.With("component", "dialog_client"),
		now:    time.Now,
	}
	c.dialFn = func(url string, header http.Header) (*websocket.Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
		conn, resp, err := dialer.Dial(url, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return conn, err
	}
	return c
}

// OnEvent registers the single event observer. Must be called before
// Connect; later calls replace the handler but do not synchronize with
// in-flight deliveries.
func (c *Client) OnEvent(handler func(Event)) {
	c.handler = handler
}

// Connect opens the transport asynchronously. Connection results are
// reported via events, not a return value.
func (c *Client) Connect() {
	c.manualDisconnect.Store(false)
	c.startConnect(false)
}

// Reconnect is the caller-forced manual reconnect: it clears the
// manual-disconnect flag and the attempt counter even after a terminal
// reconnect failure.
func (c *Client) Reconnect() {
	if c.connected.Load() {
		c.logger.Warn("reconnect requested but already connected")
		return
	}
	c.manualDisconnect.Store(false)
	c.reconnectAttempts.Store(0)
	c.startConnect(true)
}

func (c *Client) startConnect(isReconnect bool) {
	if c.closed.Load() {
		c.logger.Warn("connect requested after shutdown")
		return
	}
	if c.connected.Load() {
		c.logger.Warn("connect requested but already connected")
		return
	}
	// A fired reconnect timer must not override a Disconnect that raced it;
	// only a caller Connect or Reconnect clears the flag.
	if isReconnect && c.manualDisconnect.Load() {
		return
	}

	c.mu.Lock()
	// A reconnect keeps the physical-connection id so the server can
	// correlate the episode; a fresh connect mints a new one.
	if !isReconnect || c.connID == "" {
		c.connID = uuid.NewString()
	}
	c.gen++
	gen := c.gen
	connID := c.connID
	c.mu.Unlock()

	go c.dial(gen, connID, isReconnect)
}

func (c *Client) dial(gen uint64, connID string, isReconnect bool) {
	header := http.Header{}
	header.Set("X-Api-App-ID", c.opts.AppID)
	header.Set("X-Api-Access-Key", c.opts.AccessKey)
	header.Set("X-Api-Resource-Id", c.opts.ResourceID)
	header.Set("X-Api-App-Key", c.opts.AppKey)
	header.Set("X-Api-Connect-Id", connID)

	c.logger.Info("dialing dialog service",
		"url", c.opts.URL, "connect_id", connID, "reconnect", isReconnect)

	conn, err := c.dialFn(c.opts.URL, header)
	if err != nil {
		c.logger.Error("websocket dial failed", "error", err)
		c.emit(ErrorEvent{Err: err})
		if !c.manualDisconnect.Load() {
			c.scheduleReconnect()
		}
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.manualDisconnect.Load() || c.closed.Load() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.connected.Store(true)
	c.lastRecvMilli.Store(c.now().UnixMilli())
	c.pendingRequests.Store(0)
	c.startHealthCheck()

	if attempts := c.reconnectAttempts.Swap(0); attempts > 0 {
		c.logger.Info("reconnected", "attempts", attempts)
		c.emit(ReconnectedEvent{Attempts: int(attempts)})
	}
	c.emit(ConnectedEvent{})

	if err := c.SendStartConnection(); err != nil {
		c.logger.Error("send start-connection failed", "error", err)
		c.emit(ErrorEvent{Err: err})
	}

	go c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, conn, err)
			return
		}
		c.lastRecvMilli.Store(c.now().UnixMilli())

		m := protocol.DecodeSafe(data)
		if m == nil {
			c.logger.Warn("dropping malformed frame", "size", len(data))
			continue
		}
		c.dispatch(m)
	}
}

func (c *Client) handleClose(gen uint64, conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.gen != gen {
		// A newer connection superseded this one; its teardown is not ours
		// to report.
		c.mu.Unlock()
		return
	}
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	c.connected.Store(false)
	c.connectionStarted.Store(false)
	c.stopHealthCheck()

	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
		reason = closeErr.Text
	}
	c.logger.Info("connection closed", "code", code, "reason", reason)
	c.emit(DisconnectedEvent{Code: code, Reason: reason})

	if code != websocket.CloseNormalClosure && !c.manualDisconnect.Load() {
		c.scheduleReconnect()
	}
}

// Disconnect suppresses auto-reconnect, cancels pending timers, sends a
// best-effort finish-connection frame and closes the transport. Idempotent.
func (c *Client) Disconnect() {
	c.manualDisconnect.Store(true)
	c.cancelReconnect()
	c.stopHealthCheck()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		if data, err := protocol.Encode(protocol.NewEventFrame(protocol.EventFinishConnection, "", nil)); err == nil {
			c.writeMu.Lock()
			_ = conn.WriteMessage(websocket.BinaryMessage, data)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			c.writeMu.Unlock()
		}
		_ = conn.Close()
	}

	c.connected.Store(false)
	c.connectionStarted.Store(false)
	c.reconnectAttempts.Store(0)
	c.pendingRequests.Store(0)
}

// Shutdown disconnects and releases all background timers. Terminal: the
// client must not be used afterwards.
func (c *Client) Shutdown() {
	c.closed.Store(true)
	c.Disconnect()
}

func (c *Client) cancelReconnect() {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()
	c.reconnecting.Store(false)
}

func (c *Client) scheduleReconnect() {
	if c.opts.DisableAutoReconnect || c.manualDisconnect.Load() || c.closed.Load() {
		return
	}
	if c.reconnecting.Swap(true) {
		// One reconnect in flight at a time.
		return
	}

	attempts := int(c.reconnectAttempts.Add(1))
	if attempts > c.opts.MaxReconnectAttempts {
		c.logger.Error("reconnect attempts exhausted", "max_attempts", c.opts.MaxReconnectAttempts)
		c.reconnecting.Store(false)
		c.emit(ReconnectFailedEvent{Attempts: c.opts.MaxReconnectAttempts})
		return
	}

	delay := backoffDelay(c.opts.InitialReconnectDelay, c.opts.MaxReconnectDelay, attempts)
	c.logger.Info("scheduling reconnect",
		"attempt", attempts, "max_attempts", c.opts.MaxReconnectAttempts, "delay", delay)
	c.emit(ReconnectingEvent{Attempt: attempts, MaxAttempts: c.opts.MaxReconnectAttempts, Delay: delay})

	c.mu.Lock()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.reconnecting.Store(false)
		c.startConnect(true)
	})
	c.mu.Unlock()
}

func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	d := initial << (attempt - 1)
	if d <= 0 || d > max {
		return max
	}
	return d
}

func (c *Client) startHealthCheck() {
	c.stopHealthCheck()
	stop := make(chan struct{})
	c.mu.Lock()
	c.healthStop = stop
	c.mu.Unlock()

	interval := c.opts.HealthCheckInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.checkHealth()
			}
		}
	}()
}

func (c *Client) stopHealthCheck() {
	c.mu.Lock()
	if c.healthStop != nil {
		close(c.healthStop)
		c.healthStop = nil
	}
	c.mu.Unlock()
}

func (c *Client) checkHealth() {
	if !c.connected.Load() || c.manualDisconnect.Load() {
		return
	}

	now := c.now().UnixMilli()
	lastRecv := c.lastRecvMilli.Load()
	lastSend := c.lastSendMilli.Load()
	pending := int(c.pendingRequests.Load())

	var sinceRecv, sinceSend time.Duration
	if lastRecv > 0 {
		sinceRecv = time.Duration(now-lastRecv) * time.Millisecond
	}
	if lastSend > 0 {
		sinceSend = time.Duration(now-lastSend) * time.Millisecond
	}

	// Prolonged silence means the connection is dead or about to be cut by
	// the server; reconnect before that happens.
	if lastRecv > 0 && sinceRecv > c.opts.IdleTimeout {
		c.logger.Warn("connection idle past threshold", "since_recv", sinceRecv, "pending", pending)
		c.emit(ConnectionTimeoutEvent{Pending: pending, SinceSend: sinceSend, SinceRecv: sinceRecv})
		if !c.opts.DisableAutoReconnect && !c.manualDisconnect.Load() {
			c.connected.Store(false)
			c.connectionStarted.Store(false)
			c.pendingRequests.Store(0)
			c.closeCurrentConn("idle timeout reconnect")
			c.scheduleReconnect()
		}
		return
	}

	// A request with no answer past the timeout points at a silent
	// disconnect that never surfaced as a close.
	if pending > 0 && lastSend > 0 && sinceSend > c.opts.RequestTimeout {
		c.logger.Error("request unanswered past timeout",
			"pending", pending, "since_send", sinceSend, "since_recv", sinceRecv)
		c.emit(ConnectionTimeoutEvent{Pending: pending, SinceSend: sinceSend, SinceRecv: sinceRecv})
		if !c.opts.DisableAutoReconnect && !c.manualDisconnect.Load() {
			c.connected.Store(false)
			c.connectionStarted.Store(false)
			c.pendingRequests.Store(0)
			c.scheduleReconnect()
		}
		return
	}

	c.logger.Debug("health check",
		"connected", c.connected.Load(),
		"started", c.connectionStarted.Load(),
		"pending", pending,
		"since_recv", sinceRecv)
}

func (c *Client) closeCurrentConn(reason string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(2*time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
}

// SendStartConnection sends the connection-level handshake frame.
func (c *Client) SendStartConnection() error {
	return c.sendFrame(protocol.NewEventFrame(protocol.EventStartConnection, "", nil), false)
}

// SendFinishConnection requests a graceful connection teardown.
func (c *Client) SendFinishConnection() error {
	return c.sendFrame(protocol.NewEventFrame(protocol.EventFinishConnection, "", nil), false)
}

// SendStartSession opens (or resumes) a dialogue session with the given
// configuration payload.
func (c *Client) SendStartSession(config map[string]any) error {
	return c.sendFrame(protocol.NewEventFrame(protocol.EventStartSession, c.ConnectionID(), config), false)
}

// SendFinishSession ends the active dialogue session.
func (c *Client) SendFinishSession() error {
	return c.sendFrame(protocol.NewEventFrame(protocol.EventFinishSession, c.ConnectionID(), nil), false)
}

// SendAudio streams one chunk of caller audio.
func (c *Client) SendAudio(audio []byte) error {
	return c.sendFrame(protocol.NewAudioFrame(c.ConnectionID(), audio), false)
}

// SendTextQuery submits a text question. The query is tracked as a pending
// request until the matching chat-ended event arrives.
func (c *Client) SendTextQuery(text, questionID string) error {
	if !c.connected.Load() {
		if !c.opts.DisableAutoReconnect && !c.manualDisconnect.Load() {
			c.scheduleReconnect()
		}
		return ErrNotConnected
	}
	if !c.connectionStarted.Load() {
		return ErrConnectionNotStarted
	}
	return c.sendFrame(protocol.NewTextQueryFrame(c.ConnectionID(), text, questionID), true)
}

func (c *Client) sendFrame(m *protocol.Message, track bool) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}

	c.lastSendMilli.Store(c.now().UnixMilli())
	if track {
		c.pendingRequests.Add(1)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		if track {
			c.pendingRequests.Add(-1)
		}
		c.connected.Store(false)
		c.connectionStarted.Store(false)
		c.logger.Error("websocket write failed", "error", err)
		c.emit(ErrorEvent{Err: err})
		return err
	}
	return nil
}

func (c *Client) dispatch(m *protocol.Message) {
	// Ack frames carry synthesized audio regardless of any event id.
	if m.Kind == protocol.KindServerAck && len(m.Payload) > 0 {
		c.emit(AudioDataEvent{Data: m.Payload, SessionID: m.SessionID})
		return
	}
	if !m.HasEvent() {
		return
	}

	switch m.EventID {
	case protocol.EventConnectionStarted:
		c.connectionStarted.Store(true)
		c.logger.Info("connection started")
		c.emit(ConnectionStartedEvent{})

	case protocol.EventSessionStarted:
		dialogID := m.ObjectString("dialog_id")
		c.mu.Lock()
		c.dialogID = dialogID
		c.mu.Unlock()
		c.logger.Info("session started", "dialog_id", dialogID)
		c.emit(SessionStartedEvent{DialogID: dialogID})

	case protocol.EventSessionFinished:
		c.logger.Info("session finished")
		c.emit(SessionFinishedEvent{})

	case protocol.EventSessionFailed:
		errText := m.ObjectString("error")
		if errText == "" {
			errText = "unknown error"
		}
		c.logger.Error("session failed", "error", errText)
		c.emit(SessionFailedEvent{Error: errText})

	case protocol.EventUsageResponse:
		c.logger.Info("usage response", "payload", m.Object)

	case protocol.EventASRInfo:
		c.emit(SpeechStartedEvent{QuestionID: m.ObjectString("question_id")})

	case protocol.EventASRResponse:
		results := m.ObjectSlice("results")
		if len(results) == 0 {
			return
		}
		first, ok := results[0].(map[string]any)
		if !ok {
			return
		}
		text, _ := first["text"].(string)
		interim, _ := first["is_interim"].(bool)
		c.emit(ASRResultEvent{Text: text, Interim: interim})

	case protocol.EventASREnded:
		c.emit(SpeechEndedEvent{})

	case protocol.EventTTSSentenceStart:
		c.emit(TTSSentenceStartEvent{
			Text:       m.ObjectString("text"),
			TTSType:    m.ObjectString("tts_type"),
			QuestionID: m.ObjectString("question_id"),
			ReplyID:    m.ObjectString("reply_id"),
		})

	case protocol.EventTTSSentenceEnd:
		c.emit(TTSSentenceEndEvent{
			QuestionID: m.ObjectString("question_id"),
			ReplyID:    m.ObjectString("reply_id"),
		})

	case protocol.EventTTSResponse:
		// Audio arrives on ack frames; the JSON variant carries nothing
		// actionable.

	case protocol.EventTTSEnded:
		c.emit(TTSEndedEvent{
			QuestionID: m.ObjectString("question_id"),
			ReplyID:    m.ObjectString("reply_id"),
		})

	case protocol.EventChatResponse:
		c.emit(ChatResponseEvent{
			Text:       m.ObjectString("content"),
			QuestionID: m.ObjectString("question_id"),
			ReplyID:    m.ObjectString("reply_id"),
		})

	case protocol.EventChatTextConfirmed:
		c.logger.Debug("text query confirmed", "question_id", m.ObjectString("question_id"))

	case protocol.EventChatEnded:
		// Floored decrement: an unmatched chat-ended must not drive the
		// counter negative.
		if c.pendingRequests.Add(-1) < 0 {
			c.pendingRequests.Store(0)
		}
		c.emit(ChatEndedEvent{
			QuestionID: m.ObjectString("question_id"),
			ReplyID:    m.ObjectString("reply_id"),
		})

	case protocol.EventDialogError:
		c.logger.Error("dialog error",
			"status_code", m.ObjectInt("status_code"), "message", m.ObjectString("message"))
		c.emit(DialogErrorEvent{
			StatusCode: m.ObjectInt("status_code"),
			Message:    m.ObjectString("message"),
		})

	default:
		c.logger.Debug("unhandled event",
			"event_id", m.EventID, "event", protocol.EventName(m.EventID))
	}
}

func (c *Client) emit(e Event) {
	if h := c.handler; h != nil {
		h(e)
	}
}

// IsConnected reports whether the transport is open.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// IsConnectionStarted reports whether the server acknowledged the handshake.
func (c *Client) IsConnectionStarted() bool { return c.connectionStarted.Load() }

// IsReconnecting reports whether a reconnect is scheduled or in flight.
func (c *Client) IsReconnecting() bool { return c.reconnecting.Load() }

// ReconnectAttempts returns the current consecutive attempt count.
func (c *Client) ReconnectAttempts() int { return int(c.reconnectAttempts.Load()) }

// PendingRequests returns the advisory count of unanswered tracked requests.
func (c *Client) PendingRequests() int { return int(c.pendingRequests.Load()) }

// ConnectionID returns the physical-connection correlation id, stable across
// reconnects of the same episode.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// DialogID returns the server-assigned dialogue id, if one has been learned.
func (c *Client) DialogID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialogID
}
