package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeBackend is an in-process realtime endpoint for exercising the
// protocol client against real WebSocket framing.
type fakeBackend struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu   sync.Mutex
	conn *websocket.Conn

	// received collects parsed client → backend messages in order.
	received chan outboundMessage

	// ackHandshake controls whether session.configure is answered with
	// session.ready.
	ackHandshake bool
}

func newFakeBackend(t *testing.T, ackHandshake bool) *fakeBackend {
	b := &fakeBackend{
		t:            t,
		received:     make(chan outboundMessage, 256),
		ackHandshake: ackHandshake,
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg outboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == msgSessionConfigure && b.ackHandshake {
			b.send(map[string]string{"type": "session.ready"})
		}
		b.received <- msg
	}
}

func (b *fakeBackend) send(v any) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		b.t.Fatal("backend has no connection")
	}
	data, _ := json.Marshal(v)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		b.t.Logf("backend write failed: %v", err)
	}
}

func (b *fakeBackend) sendRaw(data string) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(data))
}

func (b *fakeBackend) closeConn() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (b *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

// next waits for the next message of the given type, skipping others.
func (b *fakeBackend) next(t *testing.T, msgType string, timeout time.Duration) outboundMessage {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-b.received:
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msgType)
			return outboundMessage{}
		}
	}
}

func newTestClient(t *testing.T, b *fakeBackend, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithAPIKey("test-key"),
		WithURL(b.url()),
		WithSystemPrompt("You are a helpful pair of glasses."),
		WithLanguage("en-US"),
	}
	c, err := NewClient(append(base, opts...)...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestConnectHandshake(t *testing.T) {
	backend := newFakeBackend(t, true)
	c := newTestClient(t, backend)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if got := c.State(); got != StateConnected {
		t.Errorf("expected connected, got %s", got)
	}

	cfg := backend.next(t, msgSessionConfigure, time.Second)
	if cfg.Session == nil {
		t.Fatal("handshake carried no session config")
	}
	if cfg.Session.SystemPrompt != "You are a helpful pair of glasses." {
		t.Errorf("unexpected system prompt: %q", cfg.Session.SystemPrompt)
	}
	if cfg.Session.Language != "en-US" {
		t.Errorf("unexpected language: %q", cfg.Session.Language)
	}

	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestConnectHandshakeTimeout(t *testing.T) {
	backend := newFakeBackend(t, false)
	c := newTestClient(t, backend, WithHandshakeTimeout(150*time.Millisecond))

	start := time.Now()
	err := c.Connect(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if elapsed < 150*time.Millisecond {
		t.Errorf("failed before the deadline: %v", elapsed)
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("expected idle after failed connect, got %s", got)
	}
}

func TestAudioForwarding(t *testing.T) {
	backend := newFakeBackend(t, true)
	c := newTestClient(t, backend)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	t.Run("dropped while not recording", func(t *testing.T) {
		if err := c.SendAudio([]byte{1, 2}); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		deadline := time.After(100 * time.Millisecond)
		for {
			select {
			case msg := <-backend.received:
				if msg.Type == msgAudioAppend {
					t.Error("audio must not be forwarded before StartRecording")
				}
			case <-deadline:
				return
			}
		}
	})

	t.Run("FIFO order while recording", func(t *testing.T) {
		c.StartRecording()
		if got := c.State(); got != StateRecording {
			t.Errorf("expected recording, got %s", got)
		}

		chunks := [][]byte{{1}, {2}, {3}, {4}, {5}}
		for _, chunk := range chunks {
			if err := c.SendAudio(chunk); err != nil {
				t.Fatalf("send failed: %v", err)
			}
		}

		for i, want := range chunks {
			msg := backend.next(t, msgAudioAppend, time.Second)
			got, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				t.Fatalf("bad audio payload: %v", err)
			}
			if got[0] != want[0] {
				t.Fatalf("chunk %d out of order: expected %d, got %d", i, want[0], got[0])
			}
		}
	})

	t.Run("stop recording returns to connected", func(t *testing.T) {
		c.StopRecording()
		if got := c.State(); got != StateConnected {
			t.Errorf("expected connected, got %s", got)
		}
	})

	t.Run("rejected when not connected", func(t *testing.T) {
		c.Disconnect()
		if err := c.SendAudio([]byte{1}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})
}

func TestImageGating(t *testing.T) {
	backend := newFakeBackend(t, true)
	frame := []byte("jpeg-bytes")
	c := newTestClient(t, backend,
		WithFrameInterval(20*time.Millisecond),
		WithFrameSource(func() []byte { return frame }),
	)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	c.StartRecording()

	// No audio sent yet: the frame timer must not fire even once.
	deadline := time.After(150 * time.Millisecond)
drain:
	for {
		select {
		case msg := <-backend.received:
			if msg.Type == msgImageAppend {
				t.Fatal("image sent before first audio send")
			}
		case <-deadline:
			break drain
		}
	}

	if err := c.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msg := backend.next(t, msgImageAppend, time.Second)
	got, err := base64.StdEncoding.DecodeString(msg.Image)
	if err != nil {
		t.Fatalf("bad image payload: %v", err)
	}
	if string(got) != string(frame) {
		t.Errorf("unexpected frame payload: %q", got)
	}
}

func TestAssistantSpeechEvents(t *testing.T) {
	backend := newFakeBackend(t, true)
	c := newTestClient(t, backend)

	var mu sync.Mutex
	var started, stopped bool
	c.OnSpeechStarted(func() { mu.Lock(); started = true; mu.Unlock() })
	c.OnSpeechStopped(func() { mu.Lock(); stopped = true; mu.Unlock() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	c.StartRecording()

	backend.send(map[string]string{"type": "speech.started"})
	waitFor(t, func() bool { return c.State() == StateSpeaking })

	mu.Lock()
	if !started {
		t.Error("speech started callback not fired")
	}
	mu.Unlock()

	// Full duplex: recording continues underneath assistant speech.
	if !c.IsRecording() {
		t.Error("recording flag must survive assistant speech")
	}

	backend.send(map[string]string{"type": "speech.stopped"})
	waitFor(t, func() bool { return c.State() == StateRecording })

	mu.Lock()
	if !stopped {
		t.Error("speech stopped callback not fired")
	}
	mu.Unlock()
}

func TestTranscriptEvents(t *testing.T) {
	backend := newFakeBackend(t, true)
	c := newTestClient(t, backend)

	type event struct {
		kind, role, text string
	}
	var mu sync.Mutex
	var events []event
	c.OnTranscriptDelta(func(role, text string) {
		mu.Lock()
		events = append(events, event{"delta", role, text})
		mu.Unlock()
	})
	c.OnTranscriptDone(func(role, text string) {
		mu.Lock()
		events = append(events, event{"done", role, text})
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	backend.send(map[string]string{"type": "transcript.delta", "role": "user", "text": "turn on"})
	backend.send(map[string]string{"type": "transcript.delta", "role": "user", "text": " the light"})
	backend.send(map[string]string{"type": "transcript.done", "role": "user", "text": "turn on the light"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []event{
		{"delta", "user", "turn on"},
		{"delta", "user", " the light"},
		{"done", "user", "turn on the light"},
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: expected %+v, got %+v", i, want[i], events[i])
		}
	}
}

func TestMalformedMessagesDropped(t *testing.T) {
	backend := newFakeBackend(t, true)
	c := newTestClient(t, backend)

	var mu sync.Mutex
	var gotText string
	c.OnTranscriptDelta(func(role, text string) {
		mu.Lock()
		gotText = text
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	backend.sendRaw("{not json")
	backend.send(map[string]string{"type": "transcript.delta", "role": "user", "text": "still alive"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotText == "still alive"
	})

	if got := c.State(); got != StateConnected {
		t.Errorf("malformed message must not kill the session, state %s", got)
	}
}

func TestServerErrorEventNotFatal(t *testing.T) {
	backend := newFakeBackend(t, true)
	c := newTestClient(t, backend)

	errCh := make(chan error, 1)
	c.OnError(func(err error) { errCh <- err })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	backend.send(map[string]any{
		"type":  "error",
		"error": map[string]string{"code": "rate_limited", "message": "slow down"},
	})

	select {
	case err := <-errCh:
		var serr *ServerError
		if !errors.As(err, &serr) {
			t.Fatalf("expected ServerError, got %T", err)
		}
		if serr.Code != "rate_limited" {
			t.Errorf("unexpected code %q", serr.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("error callback not fired")
	}

	if got := c.State(); got != StateConnected {
		t.Errorf("backend error event must not close the session, state %s", got)
	}
}

func TestTransportLossSurfacesError(t *testing.T) {
	backend := newFakeBackend(t, true)
	c := newTestClient(t, backend)

	errCh := make(chan error, 1)
	c.OnError(func(err error) { errCh <- err })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	backend.closeConn()

	select {
	case err := <-errCh:
		var cerr *ConnectionError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected ConnectionError, got %T: %v", err, err)
		}
	case <-time.After(time.Second):
		t.Fatal("transport loss not surfaced")
	}

	waitFor(t, func() bool { return c.State() == StateIdle })
}

func TestDisconnectIdempotent(t *testing.T) {
	backend := newFakeBackend(t, true)
	c := newTestClient(t, backend)

	c.Disconnect() // never connected

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	c.Disconnect()
	c.Disconnect()

	if got := c.State(); got != StateIdle {
		t.Errorf("expected idle, got %s", got)
	}

	// Client is reusable for a fresh session after full disconnect.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if got := c.State(); got != StateConnected {
		t.Errorf("expected connected, got %s", got)
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateRecording, "recording"},
		{StateSpeaking, "speaking"},
		{StateDisconnecting, "disconnecting"},
		{StateError, "error"},
		{State(42), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("expected %s, got %s", tc.want, got)
		}
	}
}

// waitFor polls a condition with a bounded deadline.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
