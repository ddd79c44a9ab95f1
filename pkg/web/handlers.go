package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/lenslabs/go-lens/pkg/credentials"
	"github.com/lenslabs/go-lens/pkg/hub"
	"github.com/lenslabs/go-lens/pkg/session"
)

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Orchestrator.Snapshot())
}

func (s *Server) handleConversation(c *fiber.Ctx) error {
	if s.cfg.Store == nil {
		return c.JSON([]any{})
	}
	limit := c.QueryInt("limit", 10)
	records, err := s.cfg.Store.Recent(c.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "history unavailable")
	}
	return c.JSON(records)
}

func (s *Server) handleSessionStart(c *fiber.Ctx) error {
	err := s.cfg.Orchestrator.StartSession(c.Context())
	switch {
	case err == nil:
		return c.JSON(s.cfg.Orchestrator.Snapshot())
	case errors.Is(err, session.ErrSessionActive):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, credentials.ErrNoAPIKey),
		errors.Is(err, session.ErrDeviceUnavailable):
		return fiber.NewError(fiber.StatusPreconditionFailed, err.Error())
	default:
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleSessionStop(c *fiber.Ctx) error {
	s.cfg.Orchestrator.StopSession(c.Context())
	return c.JSON(s.cfg.Orchestrator.Snapshot())
}

func (s *Server) handleSessionCancel(c *fiber.Ctx) error {
	if err := s.cfg.Orchestrator.CancelAssistant(); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleStatusWS(conn *websocket.Conn) {
	hub.NewClient(s.statusHub, conn).Run()
}

func (s *Server) handleCameraWS(conn *websocket.Conn) {
	hub.NewClient(s.cameraHub, conn).Run()
}
