package realtime

// Wire encoding for this integration: JSON text frames in both directions.
// Binary payloads (audio, image) travel base64-encoded inside the JSON
// envelope, keyed by the message type.

// Outbound message types.
const (
	msgSessionConfigure = "session.configure"
	msgAudioAppend      = "audio.append"
	msgImageAppend      = "image.append"
	msgResponseCancel   = "response.cancel"
)

// Inbound message types.
const (
	msgSessionReady    = "session.ready"
	msgSpeechStarted   = "speech.started"
	msgSpeechStopped   = "speech.stopped"
	msgTranscriptDelta = "transcript.delta"
	msgTranscriptDone  = "transcript.done"
	msgTurnComplete    = "turn.complete"
	msgError           = "error"
)

// sessionConfig is the handshake payload sent immediately after dialing.
type sessionConfig struct {
	SystemPrompt     string `json:"system_prompt"`
	Language         string `json:"language,omitempty"`
	ResponseModality string `json:"response_modality,omitempty"`
	Model            string `json:"model,omitempty"`
}

// outboundMessage is the envelope for all client → backend messages.
type outboundMessage struct {
	Type    string         `json:"type"`
	Session *sessionConfig `json:"session,omitempty"`
	Audio   string         `json:"audio,omitempty"`
	Image   string         `json:"image,omitempty"`
}

// inboundMessage is the envelope for all backend → client messages.
// Unknown fields are ignored; unknown types are logged and dropped.
type inboundMessage struct {
	Type  string        `json:"type"`
	Role  string        `json:"role,omitempty"`
	Text  string        `json:"text,omitempty"`
	Error *inboundError `json:"error,omitempty"`
}

type inboundError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
