package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/serenelabs/voicelink/audio"
)

// Status is the instantaneous connection state of a Client.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

const (
	// maxReconnectAttempts bounds automatic reconnection. After this many
	// consecutive failures the client stops retrying and the caller decides
	// what to do next.
	maxReconnectAttempts = 5

	// defaultRetryBaseDelay is multiplied by the attempt number for linear
	// backoff between reconnection attempts.
	defaultRetryBaseDelay = time.Second

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from the peer. Sized for audio chunks.
	maxMessageSize = 512 * 1024
)

var (
	// ErrClientClosed is returned by operations on a client after Disconnect.
	ErrClientClosed = errors.New("stream client is closed")

	// ErrTransport is delivered to OnError for transport-level failures. The
	// underlying error is logged but not propagated; transient transport
	// detail is not part of the callback contract.
	ErrTransport = errors.New("voice stream transport error")
)

// Callbacks is the event surface a caller registers up front. All callbacks
// are optional. They are invoked from the client's own goroutines and must
// not block for long; a blocking callback stalls inbound dispatch.
type Callbacks struct {
	OnConnect    func()
	OnDisconnect func()
	OnError      func(error)
	OnMessage    func(ChatMessage)
	OnEmotion    func([]EmotionScore)
	OnAudio      func([]byte)

	// OnDiscard observes inbound payloads that were dropped: malformed JSON
	// or unrecognized frame types. The stream itself stays alive.
	OnDiscard func(reason string)
}

// Config configures a streaming session client.
type Config struct {
	// Endpoint is the remote WebSocket URL, for example
	// "wss://api.serenelabs.io/v1/chat".
	Endpoint string

	// ConfigID selects the remote voice/personality configuration.
	ConfigID string

	// AccessToken is the short-lived credential for this session. The remote
	// service requires both as query parameters.
	AccessToken string

	// RetryBaseDelay overrides the linear-backoff base delay. Zero means the
	// 1-second default.
	RetryBaseDelay time.Duration

	// Dialer overrides the WebSocket dialer. Nil means the default dialer.
	Dialer *websocket.Dialer

	Logger *zap.Logger
}

// Validate checks the configuration for a usable endpoint.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("endpoint scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.ConfigID == "" {
		return fmt.Errorf("config ID is required")
	}
	return nil
}

// Client manages one logical real-time voice conversation over a WebSocket:
// connection lifecycle with bounded linear-backoff reconnection, an outbound
// queue for text sent while disconnected, the audio-capture send path, and
// inbound dispatch to the registered callbacks.
//
// Text sent while disconnected queues and drains FIFO exactly once on the
// next successful connect. Audio frames captured while disconnected are
// dropped, never queued, so sustained disconnection cannot grow memory with
// raw audio.
type Client struct {
	config    Config
	callbacks Callbacks
	dialer    *websocket.Dialer
	baseDelay time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	status   Status
	draining bool
	attempts int
	closed   bool
	queue    []userMessage

	writeMu sync.Mutex

	captureMu sync.Mutex
	capture   audio.Source

	discardMu sync.Mutex
	discarded int
}

// NewClient creates a client. No connection is opened until Connect.
func NewClient(config Config, callbacks Callbacks) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	baseDelay := config.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = defaultRetryBaseDelay
	}

	return &Client{
		config:    config,
		callbacks: callbacks,
		dialer:    dialer,
		baseDelay: baseDelay,
		logger:    logger,
		status:    StatusDisconnected,
	}, nil
}

// Connect opens the session. On success it invokes OnConnect, then drains
// queued text messages in submission order before any later send goes out.
// On failure it reports via OnError and schedules an automatic retry, up to
// the reconnection ceiling.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("connect while %s", c.status)
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.endpointURL(), nil)
	if err != nil {
		c.logger.Warn("WebSocket dial failed", zap.Error(err))
		c.mu.Lock()
		c.status = StatusDisconnected
		c.mu.Unlock()
		c.reportError()
		c.scheduleReconnect(ctx)
		return fmt.Errorf("dial voice stream: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	if c.closed {
		// Disconnect raced the dial; drop the fresh connection.
		c.status = StatusDisconnected
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.status = StatusConnected
	c.draining = true
	c.attempts = 0
	c.mu.Unlock()

	if c.callbacks.OnConnect != nil {
		c.callbacks.OnConnect()
	}
	c.drainQueue(conn)

	go c.readLoop(ctx, conn)
	return nil
}

// drainQueue sends queued messages FIFO until the queue is empty, then
// releases the draining gate. SendText keeps appending to the queue while
// the gate is up, so drain order covers messages submitted mid-drain too
// and nothing interleaves ahead of older messages.
func (c *Client) drainQueue(conn *websocket.Conn) {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := c.writeJSON(conn, msg); err != nil {
			c.logger.Warn("Failed to drain queued message", zap.Error(err))
			// The read loop observes the broken connection and handles
			// reconnection; the message is gone, matching at-most-once
			// delivery for drained sends.
		}
	}
}

// SendText submits a text turn. When connected it is sent immediately;
// otherwise it queues for the next successful connect.
func (c *Client) SendText(content string) error {
	msg := userMessage{
		Type:      frameTypeUserMessage,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.status != StatusConnected || c.draining {
		c.queue = append(c.queue, msg)
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	return c.writeJSON(conn, msg)
}

// SendAudio submits one frame of 16-bit PCM samples. Frames are only sent
// while connected; a frame arriving while disconnected is dropped.
func (c *Client) SendAudio(samples []int16) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.status != StatusConnected || c.draining {
		c.mu.Unlock()
		c.logger.Debug("Dropping audio frame while disconnected",
			zap.Int("samples", len(samples)))
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	return c.writeJSON(conn, audioInput{
		Type:      frameTypeAudioInput,
		Data:      samples,
		Timestamp: time.Now().UnixMilli(),
	})
}

// StartCapture begins streaming microphone audio into the session: each
// captured frame is PCM-encoded and sent, subject to the drop-while-
// disconnected rule. The source's failure (no device, permission denied)
// is returned to the caller.
func (c *Client) StartCapture(source audio.Source) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if c.capture != nil {
		return fmt.Errorf("audio capture already active")
	}

	err := source.Start(func(frame []float32) {
		_ = c.SendAudio(audio.EncodePCM16(frame))
	})
	if err != nil {
		return fmt.Errorf("start audio capture: %w", err)
	}

	c.capture = source
	return nil
}

// StopCapture releases the capture source. Idempotent; safe when capture
// was never started.
func (c *Client) StopCapture() {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if c.capture == nil {
		return
	}
	if err := c.capture.Stop(); err != nil {
		c.logger.Warn("Failed to stop audio capture", zap.Error(err))
	}
	c.capture = nil
}

// Disconnect ends the session: capture stops, the transport closes, and the
// reconnect budget is exhausted so no pending retry can establish a new
// session. The client is terminal after this call.
func (c *Client) Disconnect() {
	c.StopCapture()

	c.mu.Lock()
	c.closed = true
	c.attempts = maxReconnectAttempts
	conn := c.conn
	c.conn = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

// Status returns the point-in-time connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Discarded reports how many inbound payloads have been dropped as malformed
// or unrecognized since the client was created.
func (c *Client) Discarded() int {
	c.discardMu.Lock()
	defer c.discardMu.Unlock()
	return c.discarded
}

// readLoop dispatches inbound frames until the connection breaks, then
// runs the disconnect/reconnect transition.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}
		c.dispatch(data)
	}
	_ = conn.Close()

	c.mu.Lock()
	stale := c.conn != conn
	if !stale {
		c.conn = nil
		c.status = StatusDisconnected
	}
	c.mu.Unlock()
	if stale {
		// A newer connection owns the client; nothing to transition.
		return
	}

	if c.callbacks.OnDisconnect != nil {
		c.callbacks.OnDisconnect()
	}
	c.scheduleReconnect(ctx)
}

// scheduleReconnect arms a linear-backoff retry unless the attempt budget is
// spent. Disconnect spends the budget, so retries armed earlier fall through
// the closed check in reconnect.
func (c *Client) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.attempts >= maxReconnectAttempts {
		exhausted := !c.closed
		c.mu.Unlock()
		if exhausted {
			c.logger.Warn("Reconnection budget exhausted",
				zap.Int("attempts", maxReconnectAttempts))
		}
		return
	}
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	delay := c.baseDelay * time.Duration(attempt)
	c.logger.Info("Scheduling reconnection",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	time.AfterFunc(delay, func() {
		c.reconnect(ctx)
	})
}

// reconnect is the timer-fired connect path. Unlike Connect it stays silent
// when the client has been closed in the meantime.
func (c *Client) reconnect(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.status != StatusDisconnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.Connect(ctx); err != nil && !errors.Is(err, ErrClientClosed) {
		c.logger.Warn("Reconnection attempt failed", zap.Error(err))
	}
}

// dispatch classifies one inbound payload and invokes the matching
// callbacks. Malformed payloads and unknown frame types are counted,
// logged, and dropped; a bad message never terminates the stream.
func (c *Client) dispatch(data []byte) {
	event, err := parseInbound(data, time.Now())
	if err != nil {
		c.discard(err.Error())
		return
	}

	switch event.Type {
	case frameTypeUserMessage, frameTypeAssistantMessage:
		if c.callbacks.OnMessage != nil {
			c.callbacks.OnMessage(*event.Chat)
		}
		if len(event.Chat.Emotions) > 0 && c.callbacks.OnEmotion != nil {
			c.callbacks.OnEmotion(event.Chat.Emotions)
		}
	case frameTypeAudioOutput:
		if c.callbacks.OnAudio != nil {
			c.callbacks.OnAudio(event.Audio)
		}
	default:
		c.discard(fmt.Sprintf("unknown frame type %q", event.Type))
	}
}

func (c *Client) discard(reason string) {
	c.discardMu.Lock()
	c.discarded++
	c.discardMu.Unlock()

	c.logger.Warn("Discarding inbound payload", zap.String("reason", reason))
	if c.callbacks.OnDiscard != nil {
		c.callbacks.OnDiscard(reason)
	}
}

func (c *Client) reportError() {
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(ErrTransport)
	}
}

// writeJSON serializes writes on the shared connection.
func (c *Client) writeJSON(conn *websocket.Conn, v interface{}) error {
	if conn == nil {
		return fmt.Errorf("no active connection")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// endpointURL appends the session credentials as query parameters, the
// authentication form the remote service requires.
func (c *Client) endpointURL() string {
	u, err := url.Parse(c.config.Endpoint)
	if err != nil {
		return c.config.Endpoint
	}
	q := u.Query()
	q.Set("config_id", c.config.ConfigID)
	q.Set("access_token", c.config.AccessToken)
	u.RawQuery = q.Encode()
	return u.String()
}
