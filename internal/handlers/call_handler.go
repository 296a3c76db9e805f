package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tutorbridge/meeting-agent/internal/dtos"
	"github.com/tutorbridge/meeting-agent/internal/models"
	"github.com/tutorbridge/meeting-agent/internal/session"
	"github.com/tutorbridge/meeting-agent/internal/signaling"
)

// CallHandler exposes the session controller over the local control
// API.
type CallHandler struct {
	controller session.Controller
}

// NewCallHandler wires the handler to its controller.
func NewCallHandler(controller session.Controller) *CallHandler {
	return &CallHandler{controller: controller}
}

// StartCall places an outbound call. Only available when the agent
// runs in a dialing role.
func (h *CallHandler) StartCall(c *gin.Context) {
	dialer, ok := h.controller.(session.Dialer)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "this agent role cannot place calls"})
		return
	}

	var req dtos.StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := dialer.StartCall(c.Request.Context(), req.ReceiverID, req.ReceiverRole); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.controller.Snapshot())
}

// Accept answers the addressed incoming meeting.
func (h *CallHandler) Accept(c *gin.Context) {
	answerer, ok := h.controller.(session.Answerer)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "this agent role cannot answer calls"})
		return
	}

	var req dtos.MeetingActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := answerer.Accept(c.Request.Context(), req.MeetingID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.controller.Snapshot())
}

// Decline rejects the addressed incoming meeting.
func (h *CallHandler) Decline(c *gin.Context) {
	answerer, ok := h.controller.(session.Answerer)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "this agent role cannot answer calls"})
		return
	}

	var req dtos.MeetingActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := answerer.Decline(c.Request.Context(), req.MeetingID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.controller.Snapshot())
}

// HangUp ends the active call. The recorded status defaults to ended.
func (h *CallHandler) HangUp(c *gin.Context) {
	// A bare POST with no body is valid for hang-up.
	var req dtos.HangUpRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := req.Status
	if status == "" {
		status = models.StatusEnded
	}

	h.controller.HangUp(c.Request.Context(), status)
	c.JSON(http.StatusOK, h.controller.Snapshot())
}

// ScreenShare toggles screen sharing on the active call.
func (h *CallHandler) ScreenShare(c *gin.Context) {
	var req dtos.ScreenShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.controller.SetScreenShare(req.Enabled); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.controller.Snapshot())
}

// SelectCounterpart scopes the session to one counterpart, cancelling
// a live call with anyone else.
func (h *CallHandler) SelectCounterpart(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participantId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.controller.SelectCounterpart(c.Request.Context(), req.ParticipantID)
	c.JSON(http.StatusOK, h.controller.Snapshot())
}

// State returns the current session snapshot.
func (h *CallHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Snapshot())
}

// Meetings returns the meeting list known to the controller.
func (h *CallHandler) Meetings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"meetings": h.controller.Snapshot().Meetings})
}

func statusForError(err error) int {
	var sigErr *signaling.SignalingError
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrCallActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrMeetingNotFound), errors.Is(err, session.ErrNoActiveCall):
		return http.StatusNotFound
	case errors.As(err, &sigErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
