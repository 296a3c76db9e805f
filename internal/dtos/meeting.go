package dtos

import "github.com/tutorbridge/meeting-agent/internal/models"

// CreateMeetingRequest is the body of POST /meetings.
type CreateMeetingRequest struct {
	ConversationID string                     `json:"conversationId" validate:"required"`
	InitiatorID    string                     `json:"initiatorId" validate:"required"`
	InitiatorRole  models.Role                `json:"initiatorRole" validate:"required,oneof=student tutor"`
	ReceiverID     string                     `json:"receiverId" validate:"required"`
	ReceiverRole   models.Role                `json:"receiverRole" validate:"required,oneof=student tutor"`
	Offer          *models.SessionDescription `json:"offer" validate:"required"`
}

// SendAnswerRequest is the body of POST /meetings/{id}/answer.
type SendAnswerRequest struct {
	SenderID   string                     `json:"senderId" validate:"required"`
	SenderRole models.Role                `json:"senderRole" validate:"required,oneof=student tutor"`
	Answer     *models.SessionDescription `json:"answer" validate:"required"`
}

// SendCandidateRequest is the body of POST /meetings/{id}/candidates.
// Candidate carries the raw candidate line; the server wraps it with an
// id and sender attribution.
type SendCandidateRequest struct {
	SenderID   string      `json:"senderId" validate:"required"`
	SenderRole models.Role `json:"senderRole" validate:"omitempty,oneof=student tutor"`
	Candidate  string      `json:"candidate" validate:"required"`
}

// UpdateStatusRequest is the body of POST /meetings/{id}/status.
type UpdateStatusRequest struct {
	SenderID string        `json:"senderId" validate:"required"`
	Status   models.Status `json:"status" validate:"required"`
}

// MeetingEnvelope wraps a single meeting in server responses.
type MeetingEnvelope struct {
	Meeting *models.Meeting `json:"meeting"`
}

// MeetingListEnvelope wraps meeting list responses.
type MeetingListEnvelope struct {
	Meetings []models.Meeting `json:"meetings"`
}

// ErrorEnvelope is the shape of non-2xx server responses.
type ErrorEnvelope struct {
	Error string `json:"error"`
}
