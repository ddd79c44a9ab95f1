// Package web serves the local dashboard: session status, conversation
// history, live status/camera websockets, and Prometheus metrics. It is
// read-mostly; the only mutations it offers map 1:1 to the
// orchestrator's start/stop/cancel operations.
package web

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lenslabs/go-lens/pkg/hub"
	"github.com/lenslabs/go-lens/pkg/session"
	"github.com/lenslabs/go-lens/pkg/store"
)

// Config wires the dashboard's collaborators.
type Config struct {
	// Port to listen on.
	Port string

	// Orchestrator is the session controller the dashboard observes and
	// drives.
	Orchestrator *session.Orchestrator

	// Store provides conversation history. Nil disables the endpoint.
	Store store.Store

	// FrameSource pulls the freshest camera frame for the camera
	// websocket. Nil disables the camera feed.
	FrameSource func() []byte

	// Registry exposes metrics on /metrics. Nil disables the endpoint.
	Registry *prometheus.Registry

	// StatusInterval is the status broadcast cadence.
	StatusInterval time.Duration

	// FrameInterval is the camera broadcast cadence.
	FrameInterval time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// Server is the dashboard HTTP server.
type Server struct {
	cfg    Config
	app    *fiber.App
	logger *slog.Logger

	statusHub *hub.Hub
	cameraHub *hub.Hub

	stop chan struct{}
}

// NewServer builds the dashboard over the given collaborators.
func NewServer(cfg Config) *Server {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 500 * time.Millisecond
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "web.server"),
		statusHub: hub.New("status", cfg.Logger),
		cameraHub: hub.New("camera", cfg.Logger),
		stop:      make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Lens Dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/conversation", s.handleConversation)
	api.Post("/session/start", s.handleSessionStart)
	api.Post("/session/stop", s.handleSessionStop)
	api.Post("/session/cancel", s.handleSessionCancel)

	if cfg.Registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(
			promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}),
		))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s
}

// Start runs the hubs, the broadcast pumps and the listener. Blocks
// until Shutdown.
func (s *Server) Start() error {
	go s.statusHub.Run()
	go s.cameraHub.Run()
	go s.statusPump()
	go s.cameraPump()

	s.logger.Info("dashboard listening", "port", s.cfg.Port)
	return s.app.Listen(":" + s.cfg.Port)
}

// StartAsync runs the server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("dashboard failed", "error", err)
		}
	}()
}

// statusPump broadcasts the orchestrator snapshot on a fixed cadence
// whenever someone is watching.
func (s *Server) statusPump() {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			s.statusHub.BroadcastJSON(s.cfg.Orchestrator.Snapshot())
		}
	}
}

// cameraPump relays the freshest device frame to camera watchers.
func (s *Server) cameraPump() {
	if s.cfg.FrameSource == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.cameraHub.ClientCount() == 0 {
				continue
			}
			if frame := s.cfg.FrameSource(); frame != nil {
				s.cameraHub.BroadcastBinary(frame)
			}
		}
	}
}

// Shutdown stops the pumps and the listener.
func (s *Server) Shutdown() error {
	close(s.stop)
	return s.app.Shutdown()
}
