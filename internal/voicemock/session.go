package voicemock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/serenelabs/voicelink/audio"
	"github.com/serenelabs/voicelink/domain/entities"
	"github.com/serenelabs/voicelink/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Number of audio_input frames treated as one spoken utterance.
	framesPerUtterance = 40
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub holds the collaborators shared by all live voice sessions
type Hub struct {
	responder repositories.Responder

	// sessions is optional; nil disables conversation persistence
	sessions repositories.SessionRepository

	logger *zap.Logger
}

// NewHub creates a new voice session hub
func NewHub(responder repositories.Responder, sessions repositories.SessionRepository, logger *zap.Logger) *Hub {
	return &Hub{
		responder: responder,
		sessions:  sessions,
		logger:    logger,
	}
}

type writeData struct {
	messageType int
	payload     []byte
}

// client is one live WebSocket voice session
type client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan writeData

	sessionID string
	configID  string
	userID    string

	logger *zap.Logger

	session     *entities.Session
	audioFrames int

	mutex sync.Mutex
}

// userMessage is the inbound shape clients send for a text turn
type userMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// audioInput is the inbound shape clients send for a microphone frame
type audioInput struct {
	Type string  `json:"type"`
	Data []int16 `json:"data"`
}

// HandleSession upgrades the request and runs one voice session for an
// authenticated configuration
func (h *Hub) HandleSession(c echo.Context, configID, userID string) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	cl := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan writeData, 256),
		sessionID: uuid.NewString(),
		configID:  configID,
		userID:    userID,
		logger:    h.logger,
	}

	cl.logger.Info("Voice session started",
		zap.String("sessionID", cl.sessionID),
		zap.String("configID", configID))

	cl.resumeOrCreateSession()

	go cl.writePump()
	go cl.readPump()

	return nil
}

// resumeOrCreateSession applies the continuation rule: a recent session for
// the same configuration is resumed, otherwise a fresh one is created.
func (cl *client) resumeOrCreateSession() {
	if cl.hub.sessions == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	last, err := cl.hub.sessions.GetLastByConfigID(ctx, cl.configID)
	if err != nil {
		cl.logger.Error("Failed to look up last session",
			zap.String("configID", cl.configID),
			zap.Error(err))
		return
	}

	if last != nil && !last.IsExpired() && !last.ShouldCreateNewSession() {
		cl.session = last
		cl.logger.Info("Resumed recent session",
			zap.String("sessionID", last.ID.Hex()))
		return
	}

	session := entities.NewSession(cl.configID, cl.userID)
	if err := cl.hub.sessions.Create(ctx, session); err != nil {
		cl.logger.Error("Failed to create session record", zap.Error(err))
		return
	}
	cl.session = session
}

// readPump pumps messages from the websocket connection to the session.
func (cl *client) readPump() {
	defer func() {
		cl.conn.Close()
		close(cl.send)
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.logger.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}
		cl.processMessage(message)
	}

	cl.logger.Info("Voice session ended", zap.String("sessionID", cl.sessionID))
}

// writePump pumps messages from the session to the websocket connection.
func (cl *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case message, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := cl.conn.WriteMessage(message.messageType, message.payload); err != nil {
				cl.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage dispatches one inbound frame
func (cl *client) processMessage(message []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		cl.logger.Warn("Failed to parse client frame", zap.Error(err))
		return
	}

	switch probe.Type {
	case "user_message":
		var msg userMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			cl.logger.Warn("Malformed user_message frame", zap.Error(err))
			return
		}
		cl.handleUserTurn(msg.Content)

	case "audio_input":
		var msg audioInput
		if err := json.Unmarshal(message, &msg); err != nil {
			cl.logger.Warn("Malformed audio_input frame", zap.Error(err))
			return
		}
		cl.handleAudioFrame(msg.Data)

	default:
		cl.logger.Warn("Unknown client frame type", zap.String("type", probe.Type))
	}
}

// handleAudioFrame accumulates microphone frames. Without real speech
// recognition, a fixed number of frames is treated as one utterance and
// answered with a scripted transcript.
func (cl *client) handleAudioFrame(samples []int16) {
	cl.mutex.Lock()
	cl.audioFrames++
	frames := cl.audioFrames
	cl.mutex.Unlock()

	if frames%framesPerUtterance != 0 {
		return
	}

	cl.logger.Info("Treating audio frames as an utterance",
		zap.String("sessionID", cl.sessionID),
		zap.Int("frames", frames))

	cl.handleUserTurn("I've been talking for a bit, did you catch that?")
}

// handleUserTurn runs one responder round trip and pushes the assistant
// reply, its prosody scores, and a synthesized voice frame to the client
func (cl *client) handleUserTurn(content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	reply, err := cl.hub.responder.Respond(ctx, cl.history(), content)
	if err != nil {
		cl.logger.Error("Responder failed",
			zap.String("sessionID", cl.sessionID),
			zap.Error(err))
		return
	}

	cl.enqueue(buildAssistantFrame(reply))
	cl.enqueue(buildAudioFrame(synthesizeVoice(reply.Text)))

	cl.recordTurn(content, reply)
}

func (cl *client) history() []repositories.Turn {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.session == nil {
		return nil
	}
	turns := make([]repositories.Turn, 0, len(cl.session.Messages))
	for _, msg := range cl.session.Messages {
		role := repositories.UserRole
		if msg.Role == entities.MessageRoleAssistant {
			role = repositories.AssistantRole
		}
		turns = append(turns, repositories.Turn{Role: role, Content: msg.Content})
	}
	return turns
}

// recordTurn persists both sides of the exchange when a repository is wired
func (cl *client) recordTurn(userContent string, reply repositories.Reply) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.session == nil {
		return
	}

	cl.session.AddMessage(entities.MessageRoleUser, userContent, nil)
	cl.session.AddMessage(entities.MessageRoleAssistant, reply.Text,
		&entities.EmotionRecord{Scores: reply.Emotions})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cl.hub.sessions.Update(ctx, cl.session); err != nil {
		cl.logger.Error("Failed to persist conversation turn",
			zap.String("sessionID", cl.session.ID.Hex()),
			zap.Error(err))
	}
}

func (cl *client) enqueue(payload []byte) {
	select {
	case cl.send <- writeData{messageType: websocket.TextMessage, payload: payload}:
	default:
		cl.logger.Warn("Dropping outbound frame, send buffer full",
			zap.String("sessionID", cl.sessionID))
	}
}

// buildAssistantFrame produces the wire shape clients expect for a chat
// turn: nested message content plus prosody scores
func buildAssistantFrame(reply repositories.Reply) []byte {
	frame := map[string]interface{}{
		"type": "assistant_message",
		"role": "assistant",
		"message": map[string]interface{}{
			"content": reply.Text,
		},
		"models": map[string]interface{}{
			"prosody": map[string]interface{}{
				"scores": reply.Emotions,
			},
		},
		"timestamp": time.Now().UnixMilli(),
	}
	payload, _ := json.Marshal(frame)
	return payload
}

// buildAudioFrame wraps raw PCM bytes as a base64 audio_output frame
func buildAudioFrame(pcm []byte) []byte {
	frame := map[string]interface{}{
		"type": "audio_output",
		"data": base64.StdEncoding.EncodeToString(pcm),
	}
	payload, _ := json.Marshal(frame)
	return payload
}

// synthesizeVoice produces a placeholder voice signal: a soft 440Hz tone
// whose length tracks the reply text, so playback timing feels plausible
func synthesizeVoice(text string) []byte {
	// Roughly 60ms of tone per word, bounded to keep frames small
	words := 1 + len(text)/6
	samples := words * audio.CaptureSampleRate * 60 / 1000
	if samples > audio.CaptureSampleRate*2 {
		samples = audio.CaptureSampleRate * 2
	}

	pcm := make([]int16, samples)
	for i := range pcm {
		v := 0.2 * math.Sin(2*math.Pi*440*float64(i)/float64(audio.CaptureSampleRate))
		pcm[i] = int16(v * 32767)
	}
	return audio.MarshalPCM16(pcm)
}
