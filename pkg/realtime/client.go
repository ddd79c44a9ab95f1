// Package realtime implements the duplex streaming session to the
// speech+vision backend: the wire schema, the session state machine, and
// the send/receive loops that multiplex microphone audio, periodic video
// frames and configuration onto one WebSocket.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// outbound pairs a wire message with bookkeeping for metrics.
type outbound struct {
	msg    outboundMessage
	rawLen int
}

// Client owns one duplex connection to the realtime backend.
//
// Lifecycle: Idle → Connecting → Connected → (Recording ⇄ Speaking) →
// Disconnecting → Idle. A client is reusable for a fresh session once a
// disconnect has fully completed. All transitions are serialized behind
// one mutex; events arrive from three sources only (caller commands, the
// read loop, timers).
type Client struct {
	cfg    *Config
	logger *slog.Logger

	mu                sync.Mutex
	state             State
	recording         bool
	assistantSpeaking bool
	conn              *websocket.Conn
	sendCh            chan outbound
	closing           chan struct{}
	ready             chan struct{}
	connectedAt       time.Time

	audioSent atomic.Bool

	cbMu              sync.RWMutex
	onSpeechStarted   func()
	onSpeechStopped   func()
	onTranscriptDelta func(role, text string)
	onTranscriptDone  func(role, text string)
	onTurnComplete    func()
	onError           func(err error)
}

// NewClient creates a streaming session client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "realtime.client"),
		state:  StateIdle,
	}, nil
}

// State returns the current session state. Recording and Speaking are
// derived from the connected state; assistant speech wins over recording
// because audio forwarding continues underneath it (full duplex).
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Client) stateLocked() State {
	if c.state == StateConnected {
		if c.assistantSpeaking {
			return StateSpeaking
		}
		if c.recording {
			return StateRecording
		}
	}
	return c.state
}

// IsConnected returns true once the handshake has been acknowledged.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// AssistantSpeaking reports whether the backend is producing voice output.
func (c *Client) AssistantSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assistantSpeaking
}

// Connect dials the backend, sends the configuration handshake and waits
// for acknowledgment, bounded by HandshakeTimeout. On any failure the
// client is returned to Idle.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
	}

	c.logger.Info("connecting", "url", c.cfg.URL, "model", c.cfg.Model)

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		if resp != nil {
			return NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return NewConnectionError("dial failed", err, true)
	}

	c.mu.Lock()
	c.conn = conn
	c.sendCh = make(chan outbound, c.cfg.SendBuffer)
	c.closing = make(chan struct{})
	c.ready = make(chan struct{})
	c.connectedAt = time.Now()
	c.audioSent.Store(false)
	ready := c.ready
	closing := c.closing
	c.mu.Unlock()

	go c.writeLoop(conn, c.sendCh, closing)
	go c.readLoop(conn, closing)
	go c.keepAlive(conn, closing)

	// Handshake rides the same FIFO queue so it is always first out.
	c.enqueue(outbound{msg: outboundMessage{
		Type: msgSessionConfigure,
		Session: &sessionConfig{
			SystemPrompt:     c.cfg.SystemPrompt,
			Language:         c.cfg.Language,
			ResponseModality: c.cfg.ResponseModality,
			Model:            c.cfg.Model,
		},
	}})

	select {
	case <-ready:
	case <-time.After(c.cfg.HandshakeTimeout):
		c.fail(ErrHandshakeTimeout)
		return ErrHandshakeTimeout
	case <-ctx.Done():
		c.fail(ctx.Err())
		return ctx.Err()
	case <-closing:
		return ErrNotConnected
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("realtime: connection lost during handshake (state %s)", state)
	}
	c.state = StateConnected
	c.mu.Unlock()

	go c.frameLoop(closing)

	c.logger.Info("session ready")
	return nil
}

// StartRecording begins forwarding audio chunks. No-op unless connected.
func (c *Client) StartRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return
	}
	c.recording = true
}

// StopRecording stops forwarding audio chunks without closing the
// connection. No-op when not recording.
func (c *Client) StopRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = false
}

// IsRecording reports whether audio chunks are being forwarded.
func (c *Client) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// SendAudio forwards one PCM16 chunk. Chunks are queued FIFO and sent in
// capture order. Chunks arriving while not recording are discarded.
func (c *Client) SendAudio(pcm16 []byte) error {
	c.mu.Lock()
	if c.conn == nil || c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if !c.recording {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.enqueue(outbound{
		msg: outboundMessage{
			Type:  msgAudioAppend,
			Audio: base64.StdEncoding.EncodeToString(pcm16),
		},
		rawLen: len(pcm16),
	})
}

// CancelResponse interrupts the assistant mid-answer (barge-in).
func (c *Client) CancelResponse() error {
	c.mu.Lock()
	if c.conn == nil || c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()
	return c.enqueue(outbound{msg: outboundMessage{Type: msgResponseCancel}})
}

// Disconnect closes the transport and returns the client to Idle. Safe to
// call from any state and any number of times.
func (c *Client) Disconnect() {
	c.teardown(nil)
}

// fail records a mid-session failure, tears the session down and surfaces
// the error through the error callback.
func (c *Client) fail(cause error) {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateDisconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.mu.Unlock()

	c.teardown(cause)
}

// teardown is the single exit path: Disconnecting → Idle. Only the caller
// that wins the Disconnecting transition closes the transport.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateDisconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnecting
	conn := c.conn
	closing := c.closing
	c.conn = nil
	c.recording = false
	c.assistantSpeaking = false
	c.mu.Unlock()

	if closing != nil {
		close(closing)
	}
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		conn.Close()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	if cause != nil {
		c.logger.Warn("session ended", "error", cause)
		c.emitError(cause)
	} else {
		c.logger.Info("disconnected")
	}
}

// enqueue places a message on the outbound FIFO. Blocks under backpressure
// rather than dropping: audio order and completeness are both guaranteed.
func (c *Client) enqueue(m outbound) error {
	c.mu.Lock()
	sendCh := c.sendCh
	closing := c.closing
	c.mu.Unlock()

	if sendCh == nil {
		return ErrNotConnected
	}
	select {
	case sendCh <- m:
		return nil
	case <-closing:
		return ErrNotConnected
	}
}

// tryEnqueue is the lossy variant used for image frames: a superseded or
// dropped frame is acceptable, audio never is.
func (c *Client) tryEnqueue(m outbound) bool {
	c.mu.Lock()
	sendCh := c.sendCh
	closing := c.closing
	c.mu.Unlock()

	if sendCh == nil {
		return false
	}
	select {
	case <-closing:
		return false
	case sendCh <- m:
		return true
	default:
		return false
	}
}

// writeLoop is the single transport writer. One goroutine, one FIFO queue,
// no reordering.
func (c *Client) writeLoop(conn *websocket.Conn, sendCh <-chan outbound, closing <-chan struct{}) {
	for {
		select {
		case <-closing:
			return
		case m := <-sendCh:
			data, err := json.Marshal(m.msg)
			if err != nil {
				c.logger.Error("marshal failed", "type", m.msg.Type, "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(NewConnectionError("write failed", err, true))
				return
			}

			c.cfg.Metrics.incMessage("out", m.msg.Type)
			switch m.msg.Type {
			case msgAudioAppend:
				c.cfg.Metrics.addAudioBytes(m.rawLen)
				if c.audioSent.CompareAndSwap(false, true) {
					c.cfg.Metrics.observeFirstAudio(time.Since(c.connectedAt))
				}
			case msgImageAppend:
				c.cfg.Metrics.incFrame()
			}
		}
	}
}

// readLoop demultiplexes inbound messages in arrival order.
func (c *Client) readLoop(conn *websocket.Conn, closing <-chan struct{}) {
	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-closing:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.fail(NewConnectionError("connection closed by server", err, true))
				return
			}
			c.fail(NewConnectionError("read failed", err, true))
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed message", "error", err)
			c.cfg.Metrics.incDropped()
			continue
		}

		c.cfg.Metrics.incMessage("in", msg.Type)
		c.handleMessage(msg)
	}
}

// handleMessage applies one inbound event to the state machine.
func (c *Client) handleMessage(msg inboundMessage) {
	switch msg.Type {
	case msgSessionReady:
		c.mu.Lock()
		ready := c.ready
		c.mu.Unlock()
		select {
		case <-ready:
		default:
			close(ready)
		}

	case msgSpeechStarted:
		// Assistant voice activity. User audio forwarding continues
		// underneath (full duplex).
		c.mu.Lock()
		c.assistantSpeaking = true
		c.mu.Unlock()
		c.emit(c.speechStartedCb())

	case msgSpeechStopped:
		c.mu.Lock()
		c.assistantSpeaking = false
		c.mu.Unlock()
		c.emit(c.speechStoppedCb())

	case msgTranscriptDelta:
		if fn := c.transcriptDeltaCb(); fn != nil {
			fn(msg.Role, msg.Text)
		}

	case msgTranscriptDone:
		if fn := c.transcriptDoneCb(); fn != nil {
			fn(msg.Role, msg.Text)
		}

	case msgTurnComplete:
		c.emit(c.turnCompleteCb())

	case msgError:
		// Backend-reported errors are surfaced but not fatal; the
		// transport is still alive.
		serr := &ServerError{Message: msg.Text}
		if msg.Error != nil {
			serr.Code = msg.Error.Code
			serr.Message = msg.Error.Message
		}
		c.emitError(serr)

	default:
		c.logger.Debug("dropping unknown message type", "type", msg.Type)
		c.cfg.Metrics.incDropped()
	}
}

// frameLoop sends the freshest frame at a fixed interval, gated on the
// first successful audio send: no visual context before the backend has
// audio to correlate it with.
func (c *Client) frameLoop(closing <-chan struct{}) {
	if c.cfg.FrameSource == nil || c.cfg.FrameInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closing:
			return
		case <-ticker.C:
			if !c.audioSent.Load() {
				continue
			}
			frame := c.cfg.FrameSource()
			if frame == nil {
				continue
			}
			c.tryEnqueue(outbound{
				msg: outboundMessage{
					Type:  msgImageAppend,
					Image: base64.StdEncoding.EncodeToString(frame),
				},
				rawLen: len(frame),
			})
		}
	}
}

// keepAlive pings the backend so idle sessions are not reaped.
func (c *Client) keepAlive(conn *websocket.Conn, closing <-chan struct{}) {
	if c.cfg.KeepAliveInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closing:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// Callback setters. Register before Connect; events are delivered
// synchronously from the read loop, in arrival order.

// OnSpeechStarted sets the assistant speech start callback.
func (c *Client) OnSpeechStarted(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onSpeechStarted = fn
}

// OnSpeechStopped sets the assistant speech stop callback.
func (c *Client) OnSpeechStopped(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onSpeechStopped = fn
}

// OnTranscriptDelta sets the incremental transcript callback.
func (c *Client) OnTranscriptDelta(fn func(role, text string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onTranscriptDelta = fn
}

// OnTranscriptDone sets the transcript finalization callback.
func (c *Client) OnTranscriptDone(fn func(role, text string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onTranscriptDone = fn
}

// OnTurnComplete sets the turn completion callback.
func (c *Client) OnTurnComplete(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onTurnComplete = fn
}

// OnError sets the error callback. Receives backend error events and the
// terminal transport error if the session dies.
func (c *Client) OnError(fn func(err error)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onError = fn
}

func (c *Client) speechStartedCb() func()                 { c.cbMu.RLock(); defer c.cbMu.RUnlock(); return c.onSpeechStarted }
func (c *Client) speechStoppedCb() func()                 { c.cbMu.RLock(); defer c.cbMu.RUnlock(); return c.onSpeechStopped }
func (c *Client) transcriptDeltaCb() func(string, string) { c.cbMu.RLock(); defer c.cbMu.RUnlock(); return c.onTranscriptDelta }
func (c *Client) transcriptDoneCb() func(string, string)  { c.cbMu.RLock(); defer c.cbMu.RUnlock(); return c.onTranscriptDone }
func (c *Client) turnCompleteCb() func()                  { c.cbMu.RLock(); defer c.cbMu.RUnlock(); return c.onTurnComplete }

func (c *Client) emit(fn func()) {
	if fn != nil {
		fn()
	}
}

func (c *Client) emitError(err error) {
	c.cbMu.RLock()
	fn := c.onError
	c.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
