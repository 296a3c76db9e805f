package models

import (
	"sort"
	"strings"
	"time"
)

// Role identifies which side of the pairing a participant is on.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

// SessionDescription is an SDP payload exchanged through the meeting
// server. Type is "offer" or "answer".
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is one ICE candidate recorded on the server. The server
// assigns the ID; candidate lists only ever grow.
type Candidate struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId"`
	Candidate string `json:"candidate"`
}

// Meeting is the server-side meeting record as the agent sees it. The
// timestamp fields are maintained by the server and treated as
// read-only here.
type Meeting struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId"`
	Participants   []string            `json:"participants"`
	InitiatorID    string              `json:"initiatorId"`
	InitiatorRole  Role                `json:"initiatorRole"`
	ReceiverID     string              `json:"receiverId"`
	ReceiverRole   Role                `json:"receiverRole"`
	Status         Status              `json:"status"`
	Offer          *SessionDescription `json:"offer"`
	Answer         *SessionDescription `json:"answer"`
	Candidates     []Candidate         `json:"candidates"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	StartedAt      *time.Time          `json:"startedAt"`
	EndedAt        *time.Time          `json:"endedAt"`
}

// HasParticipant reports whether id is one of the two parties.
func (m *Meeting) HasParticipant(id string) bool {
	for _, p := range m.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// RemoteCandidates returns the candidates contributed by the other
// party, preserving server order.
func (m *Meeting) RemoteCandidates(selfID string) []Candidate {
	out := make([]Candidate, 0, len(m.Candidates))
	for _, c := range m.Candidates {
		if c.SenderID != selfID {
			out = append(out, c)
		}
	}
	return out
}

// IsIncomingFor reports whether this meeting is an unanswered call
// directed at id. Membership in Participants is the defensive fallback
// for records written before ReceiverID was populated.
func (m *Meeting) IsIncomingFor(id string) bool {
	if m.Status != StatusPending && m.Status != StatusRinging {
		return false
	}
	if m.ReceiverID == id {
		return true
	}
	return m.ReceiverID == "" && m.HasParticipant(id)
}

// ConversationID derives the pairing key for two participants. The key
// is order-independent so both sides compute the same value.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "__")
}
