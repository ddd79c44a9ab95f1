// Lens - a realtime multimodal assistant client for smart glasses.
// Streams the wearable's microphone and camera to a speech+vision
// backend over one duplex connection and persists the conversation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lenslabs/go-lens/internal/config"
	"github.com/lenslabs/go-lens/internal/log"
	"github.com/lenslabs/go-lens/pkg/audioio"
	"github.com/lenslabs/go-lens/pkg/credentials"
	"github.com/lenslabs/go-lens/pkg/device"
	"github.com/lenslabs/go-lens/pkg/realtime"
	"github.com/lenslabs/go-lens/pkg/session"
	"github.com/lenslabs/go-lens/pkg/store"
	"github.com/lenslabs/go-lens/pkg/transcript"
	"github.com/lenslabs/go-lens/pkg/web"
)

// options is the parsed command line configuration.
type options struct {
	deviceKind    string
	glassesIP     string
	webcamID      int
	backendURL    string
	model         string
	language      string
	systemPrompt  string
	deltaPolicy   string
	dashboardPort string
	frameInterval time.Duration
	autoStart     bool
	logLevel      string
}

func main() {
	opts := parseFlags()
	log.Init(opts.logLevel)

	if err := run(opts); err != nil {
		log.Error("lens failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	dev, err := buildDevice(opts)
	if err != nil {
		return err
	}

	var st store.Store
	if dbURL := config.DatabaseURL(); dbURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := store.NewPostgresStore(ctx, dbURL)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
		st = pg
		log.Info("conversation history in postgres")
	} else {
		st = store.NewMemoryStore()
		log.Info("conversation history in memory")
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	metrics := realtime.NewMetrics("lens", registry)

	sessCfg := session.DefaultConfig()
	sessCfg.Device = dev
	sessCfg.Credentials = credentials.Chain{
		credentials.Env("LENS_API_KEY"),
		credentials.Env("OPENAI_API_KEY"),
	}
	sessCfg.Store = st
	sessCfg.Model = opts.model
	sessCfg.Language = opts.language
	sessCfg.DeltaPolicy = parsePolicy(opts.deltaPolicy)
	sessCfg.Logger = log.L()
	sessCfg.NewProtocol = func(apiKey string, frameSource func() []byte) (session.Protocol, error) {
		return realtime.NewClient(
			realtime.WithAPIKey(apiKey),
			realtime.WithURL(opts.backendURL),
			realtime.WithModel(opts.model),
			realtime.WithSystemPrompt(opts.systemPrompt),
			realtime.WithLanguage(opts.language),
			realtime.WithFrameInterval(opts.frameInterval),
			realtime.WithFrameSource(frameSource),
			realtime.WithLogger(log.L()),
			realtime.WithMetrics(metrics),
		)
	}
	orch := session.NewOrchestrator(sessCfg)

	dashboard := web.NewServer(web.Config{
		Port:         config.Env("LENS_DASHBOARD_PORT", config.DefaultDashboardPort),
		Orchestrator: orch,
		Store:        st,
		FrameSource:  dev.Frames().SampleEncoded,
		Registry:     registry,
		Logger:       log.L(),
	})
	dashboard.StartAsync()
	defer dashboard.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.autoStart {
		if err := orch.StartSession(ctx); err != nil {
			return err
		}
	}
	defer orch.StopSession(context.Background())

	log.Info("lens running", "device", dev.Name(), "dashboard_port",
		config.Env("LENS_DASHBOARD_PORT", config.DefaultDashboardPort))
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func buildDevice(opts options) (device.Device, error) {
	switch opts.deviceKind {
	case "glasses":
		ip := config.GlassesIP(opts.glassesIP)
		if ip == "" {
			return nil, fmt.Errorf("glasses device requires -glasses-ip or GLASSES_IP")
		}
		return device.NewGlasses(device.DefaultGlassesConfig(ip)), nil
	case "webcam":
		// gocv exposes no microphone, so the webcam dev device pairs the
		// camera with a generated tone source.
		return device.NewWebcam(opts.webcamID, 200*time.Millisecond,
			audioio.NewMockSource(20*time.Millisecond), log.L()), nil
	case "mock":
		return device.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown device %q (glasses, webcam, mock)", opts.deviceKind)
	}
}

func parsePolicy(s string) transcript.Policy {
	switch s {
	case "cumulative":
		return transcript.PolicyCumulative
	case "incremental":
		return transcript.PolicyIncremental
	default:
		return transcript.PolicyAuto
	}
}

// parseFlags parses command line flags and returns configuration.
func parseFlags() options {
	var opts options

	flag.StringVar(&opts.deviceKind, "device", "glasses", "Capture device: glasses, webcam, mock")
	flag.StringVar(&opts.glassesIP, "glasses-ip", "", "Glasses IP address (overrides GLASSES_IP env var)")
	flag.IntVar(&opts.webcamID, "webcam-id", 0, "Webcam device id for -device webcam")
	flag.StringVar(&opts.backendURL, "backend-url", config.Env("LENS_BACKEND_URL", ""), "Realtime backend endpoint (wss://...)")
	flag.StringVar(&opts.model, "model", config.Env("LENS_MODEL", "gpt-realtime"), "Backend model identifier")
	flag.StringVar(&opts.language, "language", "en-US", "Transcript language tag")
	flag.StringVar(&opts.systemPrompt, "system-prompt",
		"You are a helpful assistant seeing through the user's glasses. Be concise.",
		"Persona instruction for the session")
	flag.StringVar(&opts.deltaPolicy, "delta-policy", "auto", "Transcript delta policy: auto, cumulative, incremental")
	flag.DurationVar(&opts.frameInterval, "frame-interval", time.Second, "Periodic image send cadence")
	flag.BoolVar(&opts.autoStart, "start", false, "Start a session immediately instead of waiting for the dashboard")
	flag.StringVar(&opts.logLevel, "log-level", config.Env("LENS_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()

	return opts
}
