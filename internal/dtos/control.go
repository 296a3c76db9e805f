package dtos

import "github.com/tutorbridge/meeting-agent/internal/models"

// StartCallRequest is the control-API body for starting an outbound
// call to a selected counterpart.
type StartCallRequest struct {
	ReceiverID   string      `json:"receiverId" binding:"required"`
	ReceiverRole models.Role `json:"receiverRole" binding:"omitempty,oneof=student tutor"`
}

// MeetingActionRequest targets an existing meeting (accept/decline).
type MeetingActionRequest struct {
	MeetingID string `json:"meetingId" binding:"required"`
}

// HangUpRequest optionally overrides the terminal status recorded on
// hang-up; defaults to ended.
type HangUpRequest struct {
	Status models.Status `json:"status" binding:"omitempty,oneof=ended cancelled rejected failed"`
}

// ScreenShareRequest toggles screen sharing on the active call.
type ScreenShareRequest struct {
	Enabled bool `json:"enabled"`
}

// CallState is the control-API snapshot of the agent's session.
type CallState struct {
	UserID          string           `json:"userId"`
	Role            models.Role      `json:"role"`
	EventsConnected bool             `json:"eventsConnected"`
	ConnectionState string           `json:"connectionState"`
	ScreenSharing   bool             `json:"screenSharing"`
	ActiveMeeting   *models.Meeting  `json:"activeMeeting"`
	IncomingMeeting *models.Meeting  `json:"incomingMeeting,omitempty"`
	Meetings        []models.Meeting `json:"meetings"`
	StatusLabel     string           `json:"statusLabel"`
	LastError       string           `json:"lastError"`
}
