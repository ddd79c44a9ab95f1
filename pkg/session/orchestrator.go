package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lenslabs/go-lens/pkg/audioio"
	"github.com/lenslabs/go-lens/pkg/credentials"
	"github.com/lenslabs/go-lens/pkg/device"
	"github.com/lenslabs/go-lens/pkg/realtime"
	"github.com/lenslabs/go-lens/pkg/store"
	"github.com/lenslabs/go-lens/pkg/transcript"
)

// Protocol is the realtime client surface the orchestrator drives. The
// concrete implementation is realtime.Client; tests substitute a mock.
type Protocol interface {
	Connect(ctx context.Context) error
	Disconnect()
	StartRecording()
	StopRecording()
	SendAudio(pcm16 []byte) error
	CancelResponse() error
	IsConnected() bool
	IsRecording() bool
	AssistantSpeaking() bool
	OnSpeechStarted(fn func())
	OnSpeechStopped(fn func())
	OnTranscriptDelta(fn func(role, text string))
	OnTranscriptDone(fn func(role, text string))
	OnTurnComplete(fn func())
	OnError(fn func(err error))
}

var _ Protocol = (*realtime.Client)(nil)

// ProtocolFactory builds a protocol client for one session. The frame
// source pulls the freshest encoded frame from the device.
type ProtocolFactory func(apiKey string, frameSource func() []byte) (Protocol, error)

// Config wires the orchestrator's collaborators.
type Config struct {
	// Device is the capture hardware for the session.
	Device device.Device

	// Credentials resolves the backend credential at session start.
	Credentials credentials.Source

	// Store persists finished conversations. Nil disables persistence.
	Store store.Store

	// NewProtocol builds the backend client per session.
	NewProtocol ProtocolFactory

	// Model and Language are recorded on the persisted conversation.
	Model    string
	Language string

	// DeltaPolicy selects transcript delta handling.
	DeltaPolicy transcript.Policy

	// WireSampleRate is the audio rate the backend expects.
	WireSampleRate int

	// StreamReadyTimeout bounds the wait for the device's first frame.
	StreamReadyTimeout time.Duration

	// ConnectTimeout bounds the backend connection attempt.
	ConnectTimeout time.Duration

	// PollInterval is the bounded-wait poll cadence.
	PollInterval time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns orchestrator defaults; collaborators must still
// be set by the caller.
func DefaultConfig() Config {
	return Config{
		DeltaPolicy:        transcript.PolicyAuto,
		WireSampleRate:     16000,
		StreamReadyTimeout: 5 * time.Second,
		ConnectTimeout:     10 * time.Second,
		PollInterval:       100 * time.Millisecond,
		Logger:             slog.Default(),
	}
}

// Snapshot is the orchestrator's observable state for a UI layer.
type Snapshot struct {
	Active            bool              `json:"active"`
	SessionID         string            `json:"session_id,omitempty"`
	Connected         bool              `json:"connected"`
	Recording         bool              `json:"recording"`
	AssistantSpeaking bool              `json:"assistant_speaking"`
	Partial           map[string]string `json:"partial,omitempty"`
	Turns             []transcript.Turn `json:"turns,omitempty"`
	LastError         string            `json:"last_error,omitempty"`
}

// Orchestrator owns the session lifecycle. It is the only component
// that starts or stops the device, the audio pipeline and the protocol
// client; all transitions are serialized behind one mutex.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	active    bool
	sess      *Session
	client    Protocol
	pipeline  *audioio.Pipeline
	assembler *transcript.Assembler
	lastErr   string
}

// NewOrchestrator creates an orchestrator over the given collaborators.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.StreamReadyTimeout <= 0 {
		cfg.StreamReadyTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.WireSampleRate <= 0 {
		cfg.WireSampleRate = 16000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "session.orchestrator"),
	}
}

// StartSession brings the full stack up: credential → device → stream
// ready → audio resource → backend connection → recording. Precondition
// failures (credential, device reachability) happen before any side
// effect; any later failure tears the partial stack down before the
// error is surfaced.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return ErrSessionActive
	}
	o.active = true
	o.mu.Unlock()

	// Preconditions fail fast with no side effects and no teardown.
	apiKey, err := o.cfg.Credentials.APIKey(ctx)
	if err != nil {
		o.reset(err)
		return err
	}
	if err := o.cfg.Device.Reachable(ctx); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		o.reset(wrapped)
		return wrapped
	}

	if err := o.start(ctx, apiKey); err != nil {
		o.teardown(context.Background(), err)
		return err
	}
	return nil
}

// reset clears the active flag without touching collaborators; used
// when a precondition fails before anything was started.
func (o *Orchestrator) reset(cause error) {
	o.mu.Lock()
	o.active = false
	if cause != nil {
		o.lastErr = cause.Error()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) start(ctx context.Context, apiKey string) error {
	sess := newSession()
	logger := o.logger.With("session_id", sess.ID.String())
	logger.Info("starting session", "device", o.cfg.Device.Name())

	if err := o.cfg.Device.Start(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if !waitFor(ctx, o.cfg.PollInterval, o.cfg.StreamReadyTimeout, o.cfg.Device.StreamReady) {
		return ErrStreamNotReady
	}

	assembler := transcript.NewAssembler(o.cfg.DeltaPolicy, o.cfg.Logger)

	client, err := o.cfg.NewProtocol(apiKey, o.cfg.Device.Frames().SampleEncoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	client.OnTranscriptDelta(assembler.ApplyDelta)
	client.OnTranscriptDone(assembler.Finalize)
	client.OnError(o.handleProtocolError)

	pipeline := audioio.NewPipeline(o.cfg.Device.AudioSource(), audioio.PipelineConfig{
		WireSampleRate: o.cfg.WireSampleRate,
		Logger:         o.cfg.Logger,
	})

	o.mu.Lock()
	o.sess = sess
	o.client = client
	o.pipeline = pipeline
	o.assembler = assembler
	o.lastErr = ""
	o.mu.Unlock()

	// Acquire the microphone before connecting so a busy mic fails the
	// attempt without burning a backend session.
	if err := pipeline.Start(func(pcm16 []byte) {
		client.SendAudio(pcm16)
	}); err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	client.StartRecording()
	logger.Info("session running")
	return nil
}

// StopSession tears the stack down in reverse and persists the
// conversation when it produced turns. Idempotent; safe to call when no
// session is running.
func (o *Orchestrator) StopSession(ctx context.Context) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.teardown(ctx, nil)
}

// teardown is the single exit path for both StopSession and failed
// starts. Stops recording and timers, persists, disconnects, releases
// hardware, resets state.
func (o *Orchestrator) teardown(ctx context.Context, cause error) {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	o.active = false
	sess := o.sess
	client := o.client
	pipeline := o.pipeline
	assembler := o.assembler
	o.sess = nil
	o.client = nil
	o.pipeline = nil
	o.assembler = nil
	if cause != nil {
		o.lastErr = cause.Error()
	}
	o.mu.Unlock()

	if client != nil {
		client.StopRecording()
	}
	if pipeline != nil {
		pipeline.Stop()
	}

	if sess != nil && assembler != nil {
		o.persist(ctx, sess, assembler.Turns())
	}

	if client != nil {
		client.Disconnect()
	}
	if err := o.cfg.Device.Stop(); err != nil {
		o.logger.Warn("device stop failed", "error", err)
	}

	if cause != nil {
		o.logger.Warn("session ended", "error", cause)
	} else {
		o.logger.Info("session stopped")
	}
}

// persist writes the conversation exactly once, only when turns exist.
// Storage failures are logged, not propagated.
func (o *Orchestrator) persist(ctx context.Context, sess *Session, turns []transcript.Turn) {
	if o.cfg.Store == nil || len(turns) == 0 {
		return
	}
	rec := store.ConversationRecord{
		ID:        sess.ID,
		Turns:     turns,
		Model:     o.cfg.Model,
		Language:  o.cfg.Language,
		StartedAt: sess.CreatedAt,
		EndedAt:   time.Now(),
	}
	if err := o.cfg.Store.Save(ctx, rec); err != nil {
		o.logger.Error("conversation save failed", "error", err, "turns", len(turns))
		return
	}
	o.logger.Info("conversation saved", "turns", len(turns))
}

// handleProtocolError records backend errors; a transport-level failure
// tears the whole session down since the core never reconnects on its
// own.
func (o *Orchestrator) handleProtocolError(err error) {
	o.mu.Lock()
	o.lastErr = err.Error()
	o.mu.Unlock()

	var connErr *realtime.ConnectionError
	if errors.As(err, &connErr) {
		go o.teardown(context.Background(), err)
	}
}

// CancelAssistant interrupts the assistant mid-answer (barge-in).
func (o *Orchestrator) CancelAssistant() error {
	o.mu.Lock()
	client := o.client
	o.mu.Unlock()
	if client == nil {
		return realtime.ErrNotConnected
	}
	return client.CancelResponse()
}

// Active reports whether a session is running.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Snapshot returns the observable state for a UI layer.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	client := o.client
	assembler := o.assembler
	sess := o.sess
	snap := Snapshot{
		Active:    o.active,
		LastError: o.lastErr,
	}
	o.mu.Unlock()

	if sess != nil {
		snap.SessionID = sess.ID.String()
	}
	if client != nil {
		snap.Connected = client.IsConnected()
		snap.Recording = client.IsRecording()
		snap.AssistantSpeaking = client.AssistantSpeaking()
	}
	if assembler != nil {
		snap.Turns = assembler.Turns()
		snap.Partial = map[string]string{}
		for _, role := range []string{"user", "assistant"} {
			if p := assembler.Partial(role); p != "" {
				snap.Partial[role] = p
			}
		}
	}
	return snap
}
