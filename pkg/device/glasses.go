package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/lenslabs/go-lens/pkg/audioio"
	"github.com/lenslabs/go-lens/pkg/frames"
)

// GlassesConfig configures the smart glasses receiver.
type GlassesConfig struct {
	// IP is the glasses' address on the local network.
	IP string

	// SignallingPort is the GStreamer signalling server port.
	SignallingPort string

	// ProducerName is the media producer to attach to.
	ProducerName string

	// DecodeInterval is how often buffered H264 data is decoded into a
	// JPEG still for the frame sampler.
	DecodeInterval time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultGlassesConfig returns a GlassesConfig with sensible defaults.
func DefaultGlassesConfig(ip string) GlassesConfig {
	return GlassesConfig{
		IP:             ip,
		SignallingPort: "8443",
		ProducerName:   "lensglasses",
		DecodeInterval: 100 * time.Millisecond,
		Logger:         slog.Default(),
	}
}

// Glasses receives the wearable's camera and microphone over WebRTC. The
// glasses expose a GStreamer signalling server; we attach as a consumer,
// answer its SDP offer, and read H264 video plus Opus audio tracks.
type Glasses struct {
	cfg    GlassesConfig
	logger *slog.Logger

	sampler *frames.Sampler
	audio   *pushSource

	wsMu sync.Mutex // serializes signalling writes
	ws   *websocket.Conn

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	peerID     string
	producerID string
	sessionID  string

	running   atomic.Bool
	frameSeen atomic.Bool
	closed    chan struct{}
}

// NewGlasses creates a glasses receiver. Streaming starts on Start.
func NewGlasses(cfg GlassesConfig) *Glasses {
	if cfg.SignallingPort == "" {
		cfg.SignallingPort = "8443"
	}
	if cfg.DecodeInterval <= 0 {
		cfg.DecodeInterval = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Glasses{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "device.glasses", "ip", cfg.IP),
		sampler: frames.NewSampler(),
		audio:   newPushSource("glasses"),
		closed:  make(chan struct{}),
	}
}

func (g *Glasses) closedCh() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *Glasses) signallingURL() string {
	return fmt.Sprintf("ws://%s", net.JoinHostPort(g.cfg.IP, g.cfg.SignallingPort))
}

// Reachable probes the signalling port without opening a session.
func (g *Glasses) Reachable(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(g.cfg.IP, g.cfg.SignallingPort))
	if err != nil {
		return fmt.Errorf("glasses unreachable at %s: %w", g.cfg.IP, err)
	}
	conn.Close()
	return nil
}

// Start attaches to the signalling server and negotiates the media
// session. Returns once signalling is established; frames and audio
// arrive asynchronously (poll StreamReady).
func (g *Glasses) Start(ctx context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return nil
	}
	g.mu.Lock()
	g.closed = make(chan struct{})
	g.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, g.signallingURL(), nil)
	if err != nil {
		g.running.Store(false)
		return fmt.Errorf("signalling connect failed: %w", err)
	}
	g.ws = ws

	if err := g.handshake(); err != nil {
		ws.Close()
		g.running.Store(false)
		return err
	}

	if err := g.createPeerConnection(); err != nil {
		ws.Close()
		g.running.Store(false)
		return fmt.Errorf("peer connection failed: %w", err)
	}

	if err := g.audio.Start(ctx); err != nil {
		ws.Close()
		g.running.Store(false)
		return err
	}

	if err := g.writeSignal(map[string]string{
		"type":   "startSession",
		"peerId": g.producerID,
	}); err != nil {
		ws.Close()
		g.running.Store(false)
		return fmt.Errorf("start session failed: %w", err)
	}

	go g.signallingLoop()

	g.logger.Info("glasses session negotiating", "producer", g.producerID)
	return nil
}

// handshake consumes the welcome message and locates the producer.
func (g *Glasses) handshake() error {
	g.ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer g.ws.SetReadDeadline(time.Time{})

	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := g.ws.ReadJSON(&welcome); err != nil {
		return fmt.Errorf("welcome failed: %w", err)
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	g.peerID = welcome.PeerID

	if err := g.writeSignal(map[string]string{"type": "list"}); err != nil {
		return err
	}
	var list struct {
		Type      string `json:"type"`
		Producers []struct {
			ID   string            `json:"id"`
			Meta map[string]string `json:"meta"`
		} `json:"producers"`
	}
	if err := g.ws.ReadJSON(&list); err != nil {
		return fmt.Errorf("producer list failed: %w", err)
	}
	for _, p := range list.Producers {
		if p.Meta["name"] == g.cfg.ProducerName {
			g.producerID = p.ID
			return nil
		}
	}
	return fmt.Errorf("producer %q not found among %d producers", g.cfg.ProducerName, len(list.Producers))
}

func (g *Glasses) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return err
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		g.logger.Info("track attached", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		switch track.Kind() {
		case webrtc.RTPCodecTypeVideo:
			go g.videoLoop(track)
		case webrtc.RTPCodecTypeAudio:
			go g.audioLoop(track)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			g.sendICECandidate(candidate)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		g.logger.Debug("peer connection state", "state", state.String())
	})

	g.mu.Lock()
	g.pc = pc
	g.mu.Unlock()
	return nil
}

// signallingLoop relays SDP and ICE until the session ends.
func (g *Glasses) signallingLoop() {
	closed := g.closedCh()
	for {
		_, msg, err := g.ws.ReadMessage()
		if err != nil {
			select {
			case <-closed:
			default:
				g.logger.Warn("signalling lost", "error", err)
			}
			return
		}

		var base struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "sessionStarted":
			g.mu.Lock()
			g.sessionID = base.SessionID
			g.mu.Unlock()
		case "peer":
			g.handlePeerMessage(msg)
		case "endSession":
			g.logger.Info("session ended by producer")
			return
		}
	}
}

func (g *Glasses) handlePeerMessage(msg []byte) {
	var peer struct {
		SDP *struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		} `json:"sdp"`
		ICE *struct {
			Candidate     string  `json:"candidate"`
			SDPMid        *string `json:"sdpMid"`
			SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
		} `json:"ice"`
	}
	if err := json.Unmarshal(msg, &peer); err != nil {
		return
	}

	g.mu.Lock()
	pc := g.pc
	g.mu.Unlock()
	if pc == nil {
		return
	}

	if peer.SDP != nil && peer.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: peer.SDP.SDP}
		if err := pc.SetRemoteDescription(offer); err != nil {
			g.logger.Error("set remote description failed", "error", err)
			return
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			g.logger.Error("create answer failed", "error", err)
			return
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			g.logger.Error("set local description failed", "error", err)
			return
		}
		g.sendSDP(answer)
	}

	if peer.ICE != nil {
		pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     peer.ICE.Candidate,
			SDPMid:        peer.ICE.SDPMid,
			SDPMLineIndex: peer.ICE.SDPMLineIndex,
		})
	}
}

func (g *Glasses) sendSDP(sdp webrtc.SessionDescription) {
	g.mu.Lock()
	sessionID := g.sessionID
	g.mu.Unlock()
	g.writeSignal(map[string]any{
		"type":      "peer",
		"sessionId": sessionID,
		"sdp": map[string]string{
			"type": sdp.Type.String(),
			"sdp":  sdp.SDP,
		},
	})
}

func (g *Glasses) sendICECandidate(candidate *webrtc.ICECandidate) {
	g.mu.Lock()
	sessionID := g.sessionID
	g.mu.Unlock()
	if sessionID == "" {
		return
	}
	init := candidate.ToJSON()
	g.writeSignal(map[string]any{
		"type":      "peer",
		"sessionId": sessionID,
		"ice": map[string]any{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
}

func (g *Glasses) writeSignal(v any) error {
	g.wsMu.Lock()
	defer g.wsMu.Unlock()
	return g.ws.WriteJSON(v)
}

// videoLoop accumulates H264 RTP payloads and decodes a still every
// DecodeInterval. The assistant needs roughly one frame per second, so
// frame-accurate depacketization is not worth the complexity.
func (g *Glasses) videoLoop(track *webrtc.TrackRemote) {
	closed := g.closedCh()
	var buf bytes.Buffer
	lastDecode := time.Now()

	for {
		select {
		case <-closed:
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		buf.Write(pkt.Payload)

		if time.Since(lastDecode) >= g.cfg.DecodeInterval {
			if jpeg := decodeH264Still(buf.Bytes()); jpeg != nil {
				g.sampler.UpdateJPEG(jpeg)
				g.frameSeen.Store(true)
			}
			buf.Reset()
			lastDecode = time.Now()
		}
	}
}

// decodeH264Still extracts one JPEG still from raw H264 data via ffmpeg.
func decodeH264Still(h264 []byte) []byte {
	if len(h264) < 100 {
		return nil
	}
	cmd := exec.Command("ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "h264", "-i", "pipe:0",
		"-vframes", "1", "-f", "image2", "pipe:1",
	)
	cmd.Stdin = bytes.NewReader(h264)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil
	}
	if out.Len() < 1000 {
		return nil
	}
	return out.Bytes()
}

// audioLoop decodes the Opus microphone track into PCM chunks.
func (g *Glasses) audioLoop(track *webrtc.TrackRemote) {
	dec, err := audioio.NewOpusDecoder(48000, 1)
	if err != nil {
		g.logger.Error("opus decoder init failed", "error", err)
		return
	}

	closed := g.closedCh()
	for {
		select {
		case <-closed:
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		g.pushOpusPacket(dec, pkt)
	}
}

func (g *Glasses) pushOpusPacket(dec *audioio.OpusDecoder, pkt *rtp.Packet) {
	if len(pkt.Payload) == 0 {
		return
	}
	chunk, err := dec.Decode(pkt.Payload)
	if err != nil {
		g.logger.Debug("opus decode failed", "error", err)
		return
	}
	g.audio.push(chunk)
}

// StreamReady implements Device.
func (g *Glasses) StreamReady() bool {
	return g.frameSeen.Load()
}

// Frames implements Device.
func (g *Glasses) Frames() *frames.Sampler {
	return g.sampler
}

// AudioSource implements Device.
func (g *Glasses) AudioSource() audioio.Source {
	return g.audio
}

// Name implements Device.
func (g *Glasses) Name() string { return "glasses" }

// Stop implements Device.
func (g *Glasses) Stop() error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}

	g.mu.Lock()
	close(g.closed)
	pc := g.pc
	g.pc = nil
	g.mu.Unlock()

	if pc != nil {
		pc.Close()
	}
	if g.ws != nil {
		g.ws.Close()
	}
	g.audio.Stop()
	g.frameSeen.Store(false)
	g.logger.Info("glasses stopped")
	return nil
}

var _ Device = (*Glasses)(nil)
