package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/lenslabs/go-lens/pkg/audioio"
	"github.com/lenslabs/go-lens/pkg/frames"
)

// Webcam is a development Device backed by a local camera via OpenCV.
// Audio comes from a separately injected source since gocv exposes no
// microphone API.
type Webcam struct {
	deviceID int
	interval time.Duration
	audio    audioio.Source
	logger   *slog.Logger

	sampler   *frames.Sampler
	frameSeen bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	seenMu  sync.Mutex
}

// NewWebcam creates a webcam device capturing at the given interval.
func NewWebcam(deviceID int, interval time.Duration, audio audioio.Source, logger *slog.Logger) *Webcam {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webcam{
		deviceID: deviceID,
		interval: interval,
		audio:    audio,
		logger:   logger.With("component", "device.webcam", "device_id", deviceID),
		sampler:  frames.NewSampler(),
	}
}

// Reachable implements Device by opening and immediately releasing the
// camera.
func (w *Webcam) Reachable(ctx context.Context) error {
	cap, err := gocv.OpenVideoCapture(w.deviceID)
	if err != nil {
		return fmt.Errorf("webcam %d unavailable: %w", w.deviceID, err)
	}
	defer cap.Close()
	if !cap.IsOpened() {
		return fmt.Errorf("webcam %d failed to open", w.deviceID)
	}
	return nil
}

// Start implements Device.
func (w *Webcam) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	cap, err := gocv.OpenVideoCapture(w.deviceID)
	if err != nil {
		return fmt.Errorf("webcam %d open failed: %w", w.deviceID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.captureLoop(runCtx, cap)

	w.logger.Info("webcam capture started", "interval", w.interval)
	return nil
}

func (w *Webcam) captureLoop(ctx context.Context, cap *gocv.VideoCapture) {
	defer close(w.done)
	defer cap.Close()

	img := gocv.NewMat()
	defer img.Close()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !cap.Read(&img) || img.Empty() {
				continue
			}
			buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
			if err != nil {
				w.logger.Debug("jpeg encode failed", "error", err)
				continue
			}
			w.sampler.UpdateJPEG(buf.GetBytes())
			buf.Close()
			w.setFrameSeen(true)
		}
	}
}

func (w *Webcam) setFrameSeen(v bool) {
	w.seenMu.Lock()
	w.frameSeen = v
	w.seenMu.Unlock()
}

// StreamReady implements Device.
func (w *Webcam) StreamReady() bool {
	w.seenMu.Lock()
	defer w.seenMu.Unlock()
	return w.frameSeen
}

// Frames implements Device.
func (w *Webcam) Frames() *frames.Sampler { return w.sampler }

// AudioSource implements Device.
func (w *Webcam) AudioSource() audioio.Source { return w.audio }

// Name implements Device.
func (w *Webcam) Name() string { return "webcam" }

// Stop implements Device.
func (w *Webcam) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.cancel()
	<-w.done
	w.running = false
	w.setFrameSeen(false)
	w.logger.Info("webcam stopped")
	return nil
}

var _ Device = (*Webcam)(nil)
