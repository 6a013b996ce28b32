package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newStreamServer starts an in-process WebSocket server and hands every
// accepted connection to handle. Returns the ws:// endpoint.
func newStreamServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// recordingServer collects every text frame the server reads in order and
// keeps connections open until the test ends.
func recordingServer(t *testing.T) (endpoint string, frames <-chan map[string]interface{}) {
	t.Helper()

	ch := make(chan map[string]interface{}, 64)
	endpoint = newStreamServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]interface{}
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Errorf("Server received invalid JSON: %v", err)
				return
			}
			ch <- frame
		}
	})
	return endpoint, ch
}

func newTestClient(t *testing.T, endpoint string, callbacks Callbacks) *Client {
	t.Helper()

	client, err := NewClient(Config{
		Endpoint:       endpoint,
		ConfigID:       "cfg-test",
		AccessToken:    "tok-test",
		RetryBaseDelay: 5 * time.Millisecond,
	}, callbacks)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(client.Disconnect)
	return client
}

func receiveFrame(t *testing.T, frames <-chan map[string]interface{}) map[string]interface{} {
	t.Helper()
	select {
	case frame := <-frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for server to receive a frame")
		return nil
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid wss", Config{Endpoint: "wss://api.example.com/v1/chat", ConfigID: "c"}, false},
		{"valid ws", Config{Endpoint: "ws://localhost:8080/v1/chat", ConfigID: "c"}, false},
		{"missing endpoint", Config{ConfigID: "c"}, true},
		{"http scheme", Config{Endpoint: "http://api.example.com", ConfigID: "c"}, true},
		{"missing config id", Config{Endpoint: "wss://api.example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEndpointURLCarriesCredentials(t *testing.T) {
	client, err := NewClient(Config{
		Endpoint:    "wss://api.example.com/v1/chat",
		ConfigID:    "abc",
		AccessToken: "tok",
	}, Callbacks{})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	got := client.endpointURL()
	want := "wss://api.example.com/v1/chat?access_token=tok&config_id=abc"
	if got != want {
		t.Errorf("endpointURL() = %q, want %q", got, want)
	}
}

func TestQueuedTextDrainsInOrder(t *testing.T) {
	endpoint, frames := recordingServer(t)

	var connected atomic.Int32
	client := newTestClient(t, endpoint, Callbacks{
		OnConnect: func() { connected.Add(1) },
	})

	// Messages submitted while disconnected must queue.
	for i := 1; i <= 5; i++ {
		if err := client.SendText(fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("SendText() error = %v", err)
		}
	}
	if client.Status() != StatusDisconnected {
		t.Fatalf("Expected disconnected before Connect, got %s", client.Status())
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if connected.Load() != 1 {
		t.Errorf("Expected exactly one OnConnect, got %d", connected.Load())
	}

	for i := 1; i <= 5; i++ {
		frame := receiveFrame(t, frames)
		if frame["type"] != "user_message" {
			t.Errorf("Frame %d: expected type user_message, got %v", i, frame["type"])
		}
		if frame["content"] != fmt.Sprintf("m%d", i) {
			t.Errorf("Frame %d: expected content m%d, got %v", i, i, frame["content"])
		}
		if _, ok := frame["timestamp"].(float64); !ok {
			t.Errorf("Frame %d: expected numeric timestamp, got %T", i, frame["timestamp"])
		}
	}

	// A send after the drain goes out immediately and in order.
	if err := client.SendText("after"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if frame := receiveFrame(t, frames); frame["content"] != "after" {
		t.Errorf("Expected content after, got %v", frame["content"])
	}
}

func TestSendTextWhileConnected(t *testing.T) {
	endpoint, frames := recordingServer(t)
	client := newTestClient(t, endpoint, Callbacks{})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if client.Status() != StatusConnected {
		t.Fatalf("Expected connected, got %s", client.Status())
	}

	if err := client.SendText("hello"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	frame := receiveFrame(t, frames)
	if frame["type"] != "user_message" || frame["content"] != "hello" {
		t.Errorf("Unexpected frame: %v", frame)
	}
}

func TestAudioDroppedWhileDisconnected(t *testing.T) {
	endpoint, frames := recordingServer(t)
	client := newTestClient(t, endpoint, Callbacks{})

	// Dropped, not queued.
	if err := client.SendAudio([]int16{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio() while disconnected error = %v", err)
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Only the post-connect frame may arrive.
	if err := client.SendAudio([]int16{7, 8}); err != nil {
		t.Fatalf("SendAudio() while connected error = %v", err)
	}

	frame := receiveFrame(t, frames)
	if frame["type"] != "audio_input" {
		t.Fatalf("Expected audio_input, got %v", frame["type"])
	}
	data, ok := frame["data"].([]interface{})
	if !ok || len(data) != 2 {
		t.Fatalf("Expected 2 samples, got %v", frame["data"])
	}
	if data[0].(float64) != 7 || data[1].(float64) != 8 {
		t.Errorf("Expected samples [7 8], got %v", data)
	}

	select {
	case frame := <-frames:
		t.Errorf("Unexpected extra frame: %v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectCeiling(t *testing.T) {
	// An address with nothing listening makes every dial fail fast.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	endpoint := "ws://" + listener.Addr().String()
	listener.Close()

	var errorCount atomic.Int32
	client := newTestClient(t, endpoint, Callbacks{
		OnError: func(err error) {
			if err != ErrTransport {
				t.Errorf("Expected ErrTransport, got %v", err)
			}
			errorCount.Add(1)
		},
	})

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("Expected Connect to fail")
	}

	// Initial failure plus five automatic retries.
	deadline := time.Now().Add(2 * time.Second)
	for errorCount.Load() < 6 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := errorCount.Load(); got != 6 {
		t.Fatalf("Expected 6 failed attempts (1 initial + 5 retries), got %d", got)
	}

	// No sixth automatic retry may be scheduled.
	time.Sleep(200 * time.Millisecond)
	if got := errorCount.Load(); got != 6 {
		t.Errorf("Reconnection continued past the ceiling: %d attempts", got)
	}
}

func TestDisconnectSuppressesPendingReconnect(t *testing.T) {
	var connectCount atomic.Int32
	disconnected := make(chan struct{}, 8)

	endpoint := newStreamServer(t, func(conn *websocket.Conn) {
		// Accept, then drop the connection to force a reconnect schedule.
		conn.Close()
	})

	client := newTestClient(t, endpoint, Callbacks{
		OnConnect:    func() { connectCount.Add(1) },
		OnDisconnect: func() { disconnected <- struct{}{} },
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for disconnect")
	}

	// A reconnection timer is now pending. Disconnect must keep it from
	// establishing a new session.
	client.Disconnect()
	before := connectCount.Load()

	time.Sleep(200 * time.Millisecond)
	if got := connectCount.Load(); got != before {
		t.Errorf("OnConnect fired after Disconnect: %d -> %d", before, got)
	}

	if err := client.Connect(context.Background()); err != ErrClientClosed {
		t.Errorf("Expected ErrClientClosed after Disconnect, got %v", err)
	}
	if err := client.SendText("late"); err != ErrClientClosed {
		t.Errorf("Expected ErrClientClosed from SendText, got %v", err)
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	var accepted atomic.Int32
	endpoint := newStreamServer(t, func(conn *websocket.Conn) {
		if accepted.Add(1) == 1 {
			// First connection dies immediately; later ones stay up.
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	})

	connects := make(chan struct{}, 8)
	client := newTestClient(t, endpoint, Callbacks{
		OnConnect: func() { connects <- struct{}{} },
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	<-connects

	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("Client did not reconnect after server drop")
	}

	deadline := time.Now().Add(time.Second)
	for client.Status() != StatusConnected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if client.Status() != StatusConnected {
		t.Errorf("Expected connected after reconnect, got %s", client.Status())
	}
}

func TestMalformedInboundKeepsStreamAlive(t *testing.T) {
	payloads := make(chan string, 8)
	endpoint := newStreamServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for payload := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				return
			}
		}
	})

	messages := make(chan ChatMessage, 8)
	emotions := make(chan []EmotionScore, 8)
	var discards atomic.Int32

	client := newTestClient(t, endpoint, Callbacks{
		OnMessage: func(msg ChatMessage) { messages <- msg },
		OnEmotion: func(scores []EmotionScore) { emotions <- scores },
		OnDiscard: func(string) { discards.Add(1) },
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	payloads <- "this is not json"
	payloads <- `{"type":"mystery_frame","data":"x"}`
	payloads <- `{
		"type": "assistant_message", "role": "assistant",
		"message": {"content": "still here"},
		"models": {"prosody": {"scores": {
			"calmness": 0.8, "joy": 0.6, "sadness": 0.3,
			"anxiety": 0.2, "surprise": 0.15, "boredom": 0.1
		}}}
	}`

	select {
	case msg := <-messages:
		if msg.Content != "still here" {
			t.Errorf("Expected content 'still here', got %q", msg.Content)
		}
		if msg.Role != RoleAssistant {
			t.Errorf("Expected assistant role, got %s", msg.Role)
		}
		if len(msg.Emotions) != 5 {
			t.Errorf("Expected top-5 emotions on message, got %d", len(msg.Emotions))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Valid message after malformed payloads was not delivered")
	}

	select {
	case scores := <-emotions:
		if len(scores) != 5 {
			t.Fatalf("Expected 5 emotions, got %d", len(scores))
		}
		if scores[0].Name != "calmness" {
			t.Errorf("Expected calmness ranked first, got %s", scores[0].Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Emotion callback was not invoked")
	}

	if got := discards.Load(); got != 2 {
		t.Errorf("Expected 2 discarded payloads, got %d", got)
	}
	if got := client.Discarded(); got != 2 {
		t.Errorf("Expected discard counter 2, got %d", got)
	}
	close(payloads)
}

func TestAudioOutputCallback(t *testing.T) {
	endpoint := newStreamServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		payload := `{"type":"audio_output","data":"AQD/fwCA"}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return
		}
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	audioOut := make(chan []byte, 1)
	client := newTestClient(t, endpoint, Callbacks{
		OnAudio: func(pcm []byte) { audioOut <- pcm },
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case pcm := <-audioOut:
		want := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80}
		if len(pcm) != len(want) {
			t.Fatalf("Expected %d bytes, got %d", len(want), len(pcm))
		}
		for i := range want {
			if pcm[i] != want[i] {
				t.Errorf("Byte %d: expected %#x, got %#x", i, want[i], pcm[i])
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Audio callback was not invoked")
	}
}

// fakeSource is an in-memory audio.Source for capture-path tests.
type fakeSource struct {
	mu      sync.Mutex
	onFrame func([]float32)
	stops   int
}

func (f *fakeSource) Start(onFrame func([]float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFrame = onFrame
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.onFrame = nil
	return nil
}

func (f *fakeSource) emit(frame []float32) {
	f.mu.Lock()
	onFrame := f.onFrame
	f.mu.Unlock()
	if onFrame != nil {
		onFrame(frame)
	}
}

func TestCaptureSendsEncodedFrames(t *testing.T) {
	endpoint, frames := recordingServer(t)
	client := newTestClient(t, endpoint, Callbacks{})

	source := &fakeSource{}
	if err := client.StartCapture(source); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}

	// Frames captured while disconnected are dropped.
	source.emit([]float32{0.5, -0.5})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	source.emit([]float32{1.0, -1.0, 0})

	frame := receiveFrame(t, frames)
	if frame["type"] != "audio_input" {
		t.Fatalf("Expected audio_input, got %v", frame["type"])
	}
	data := frame["data"].([]interface{})
	if len(data) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(data))
	}
	want := []float64{32767, -32768, 0}
	for i, v := range want {
		if data[i].(float64) != v {
			t.Errorf("Sample %d: expected %v, got %v", i, v, data[i])
		}
	}

	// The dropped pre-connect frame must never surface.
	select {
	case frame := <-frames:
		t.Errorf("Unexpected extra frame: %v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStopCaptureIdempotent(t *testing.T) {
	endpoint, _ := recordingServer(t)
	client := newTestClient(t, endpoint, Callbacks{})

	// Safe when capture was never started.
	client.StopCapture()

	source := &fakeSource{}
	if err := client.StartCapture(source); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}

	client.StopCapture()
	client.StopCapture()

	if source.stops != 1 {
		t.Errorf("Expected the source to be stopped once, got %d", source.stops)
	}

	// Capture can be restarted after a stop.
	if err := client.StartCapture(source); err != nil {
		t.Errorf("StartCapture() after stop error = %v", err)
	}
}

func TestStartCaptureRejectsSecondSource(t *testing.T) {
	endpoint, _ := recordingServer(t)
	client := newTestClient(t, endpoint, Callbacks{})

	if err := client.StartCapture(&fakeSource{}); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	if err := client.StartCapture(&fakeSource{}); err == nil {
		t.Error("Expected error starting capture twice")
	}
}

func TestDisconnectStopsCapture(t *testing.T) {
	endpoint, _ := recordingServer(t)
	client := newTestClient(t, endpoint, Callbacks{})

	source := &fakeSource{}
	if err := client.StartCapture(source); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}

	client.Disconnect()

	if source.stops != 1 {
		t.Errorf("Expected Disconnect to stop capture, got %d stops", source.stops)
	}
}
