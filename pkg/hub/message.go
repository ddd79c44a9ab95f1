// Package hub provides a thread-safe websocket broadcast hub using the
// channel-based fan-out pattern. Slow clients are dropped rather than
// allowed to stall the broadcast path.
package hub

// MessageType indicates the websocket message format.
type MessageType int

const (
	// JSONMessage is a JSON-encoded message.
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data (e.g., JPEG frames).
	BinaryMessage
)

// Message is one payload to fan out to connected clients.
type Message struct {
	Type MessageType
	Data []byte
}
