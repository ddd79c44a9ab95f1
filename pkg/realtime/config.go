package realtime

import (
	"log/slog"
	"time"
)

// Config holds configuration for the streaming session client.
type Config struct {
	// APIKey is the bearer credential for the backend.
	APIKey string

	// URL is the realtime endpoint (ws:// or wss://).
	URL string

	// Model is the backend model identifier.
	Model string

	// SystemPrompt is the persona instruction sent in the handshake.
	SystemPrompt string

	// Language is the BCP-47 language tag for transcripts.
	Language string

	// ResponseModality selects "audio" or "text" responses.
	ResponseModality string

	// DialTimeout bounds the WebSocket dial.
	DialTimeout time.Duration

	// HandshakeTimeout bounds the wait for session.ready after dialing.
	HandshakeTimeout time.Duration

	// ReadTimeout is the idle deadline on the inbound side, refreshed on
	// every message and keepalive.
	ReadTimeout time.Duration

	// KeepAliveInterval is the ping cadence.
	KeepAliveInterval time.Duration

	// FrameInterval is the periodic image send cadence.
	FrameInterval time.Duration

	// FrameSource pulls the freshest encoded frame, or nil when none.
	// Typically frames.Sampler.SampleEncoded.
	FrameSource func() []byte

	// SendBuffer is the outbound queue depth.
	SendBuffer int

	// Logger is the structured logger to use.
	Logger *slog.Logger

	// Metrics receives protocol instrumentation. Nil disables it.
	Metrics *Metrics
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ResponseModality:  "audio",
		DialTimeout:       10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       120 * time.Second,
		KeepAliveInterval: 30 * time.Second,
		FrameInterval:     time.Second,
		SendBuffer:        64,
		Logger:            slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithAPIKey sets the bearer credential.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithURL sets the realtime endpoint.
func WithURL(url string) Option {
	return func(c *Config) { c.URL = url }
}

// WithModel sets the backend model identifier.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithSystemPrompt sets the persona instruction.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) { c.SystemPrompt = prompt }
}

// WithLanguage sets the transcript language tag.
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithResponseModality selects audio or text responses.
func WithResponseModality(m string) Option {
	return func(c *Config) { c.ResponseModality = m }
}

// WithHandshakeTimeout bounds the wait for the handshake acknowledgment.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.HandshakeTimeout = d }
}

// WithFrameInterval sets the periodic image send cadence.
func WithFrameInterval(d time.Duration) Option {
	return func(c *Config) { c.FrameInterval = d }
}

// WithFrameSource sets the freshest-frame pull function.
func WithFrameSource(fn func() []byte) Option {
	return func(c *Config) { c.FrameSource = fn }
}

// WithKeepAlive sets the ping cadence.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Config) { c.KeepAliveInterval = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithMetrics attaches protocol instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}
