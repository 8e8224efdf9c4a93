package web

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-binaural/pkg/camera"
)

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handleTracks(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Tracks())
}

func (s *Server) handleSelectTrack(c *fiber.Ctx) error {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "track index must be an integer")
	}
	if err := s.ctrl.SelectTrack(c.UserContext(), index); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handlePlay(c *fiber.Ctx) error {
	if err := s.ctrl.Play(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handlePause(c *fiber.Ctx) error {
	s.ctrl.Pause()
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handleToggle(c *fiber.Ctx) error {
	if err := s.ctrl.TogglePlayback(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handleNext(c *fiber.Ctx) error {
	if err := s.ctrl.Next(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handlePrevious(c *fiber.Ctx) error {
	if err := s.ctrl.Previous(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

// SeekRequest is the body of POST /api/seek.
type SeekRequest struct {
	Position *float64 `json:"position"`
}

func (s *Server) handleSeek(c *fiber.Ctx) error {
	var req SeekRequest
	if err := c.BodyParser(&req); err != nil || req.Position == nil {
		return fiber.NewError(fiber.StatusBadRequest, "body must be {\"position\": seconds}")
	}
	if err := s.ctrl.Seek(*req.Position); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

// ReverbRequest is the body of PUT /api/reverb. An empty locator selects
// no reverb.
type ReverbRequest struct {
	Locator string `json:"locator"`
}

func (s *Server) handleSetReverb(c *fiber.Ctx) error {
	var req ReverbRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "body must be {\"locator\": url}")
	}
	if err := s.ctrl.SetReverb(c.UserContext(), req.Locator); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handleEnableTracking(c *fiber.Ctx) error {
	if err := s.ctrl.EnableTracking(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handleDisableTracking(c *fiber.Ctx) error {
	if err := s.ctrl.DisableTracking(); err != nil {
		return err
	}
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handleResetOrientation(c *fiber.Ctx) error {
	s.ctrl.ResetOrientation()
	return c.JSON(s.ctrl.Status())
}

// CameraResponse is returned by the camera endpoints.
type CameraResponse struct {
	Config       camera.Config  `json:"config"`
	Capabilities map[string]any `json:"capabilities"`
}

func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	return c.JSON(CameraResponse{Config: s.cameras.GetConfig(), Capabilities: camera.Capabilities()})
}

func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	var patch camera.Patch
	if err := c.BodyParser(&patch); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid camera settings")
	}
	cfg, err := s.cameras.Update(patch)
	if err != nil {
		var ce *camera.ConfigError
		if errors.As(err, &ce) || errors.Is(err, camera.ErrUnknownPreset) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return err
	}
	return c.JSON(CameraResponse{Config: cfg, Capabilities: camera.Capabilities()})
}

func (s *Server) handleStreamStats(c *fiber.Ctx) error {
	return c.JSON(s.listener.Stats())
}

// AnswerResponse is returned by POST /api/stream/offer.
type AnswerResponse struct {
	PeerID string                    `json:"peer_id"`
	Answer webrtc.SessionDescription `json:"answer"`
}

func (s *Server) handleOffer(c *fiber.Ctx) error {
	var offer webrtc.SessionDescription
	if err := c.BodyParser(&offer); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "body must be an SDP offer")
	}
	answer, id, err := s.listener.Offer(c.UserContext(), offer)
	if err != nil {
		return err
	}
	return c.JSON(AnswerResponse{PeerID: id, Answer: *answer})
}

func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	s.listener.Disconnect()
	return c.SendStatus(fiber.StatusNoContent)
}
