package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/tutorbridge/meeting-agent/internal/dtos"
	"github.com/tutorbridge/meeting-agent/internal/models"
)

// ErrMeetingNotFound is returned when an accept/decline targets a
// meeting the controller does not know about.
var ErrMeetingNotFound = errors.New("meeting not found")

// CalleeController answers incoming calls: it surfaces at most one
// pending meeting at a time, applies the caller's offer, and submits
// the answer.
type CalleeController struct {
	*base
}

var (
	_ Controller = (*CalleeController)(nil)
	_ Answerer   = (*CalleeController)(nil)
)

// NewCallee creates the callee-side controller.
func NewCallee(opts Options) *CalleeController {
	c := &CalleeController{base: newBase(opts, "callee")}
	c.applyDesc = c.applyRemoteOffer
	c.extendSnapshot = func(state *dtos.CallState) {
		state.IncomingMeeting = c.incomingLocked()
	}
	return c
}

// IncomingMeeting returns the first unanswered meeting directed at
// this participant, or nil.
func (c *CalleeController) IncomingMeeting() *models.Meeting {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incomingLocked()
}

func (c *CalleeController) incomingLocked() *models.Meeting {
	for i := range c.meetings {
		if c.meetings[i].IsIncomingFor(c.opts.SelfID) {
			copied := c.meetings[i]
			return &copied
		}
	}
	return nil
}

// Accept answers the incoming meeting: bounded media acquisition (with
// the same receive-only degrade as the caller side), apply the stored
// offer, create and submit the answer, adopt the updated meeting.
func (c *CalleeController) Accept(ctx context.Context, meetingID string) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	var meeting *models.Meeting
	for i := range c.meetings {
		if c.meetings[i].ID == meetingID {
			copied := c.meetings[i]
			meeting = &copied
			break
		}
	}
	if meeting == nil {
		c.mu.Unlock()
		return ErrMeetingNotFound
	}
	c.busy = true
	c.lastError = ""
	epoch := c.epoch
	c.mu.Unlock()

	c.log.Info().Str("meeting", meetingID).Msg("accepting meeting")

	updated, err := c.answer(ctx, meeting, epoch)

	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()

	if err != nil {
		// There is no safe fallback answer, so a failed accept is
		// surfaced and the session fully cleaned up.
		c.setLastError(err.Error())
		c.mu.Lock()
		c.cleanupLocked()
		c.mu.Unlock()
		c.notifyChange()
		return err
	}

	c.mu.Lock()
	copied := *updated
	c.active = &copied
	c.upsertLocked(copied)
	c.mu.Unlock()

	c.flushPendingCandidates(updated.ID)
	c.notifyChange()
	return nil
}

func (c *CalleeController) answer(ctx context.Context, meeting *models.Meeting, epoch uuid.UUID) (*models.Meeting, error) {
	if _, err := c.opts.RTC.Ensure(); err != nil {
		return nil, err
	}

	c.acquireMediaBounded(epoch)

	if meeting.Offer != nil && meeting.Offer.SDP != "" {
		err := c.opts.RTC.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  meeting.Offer.SDP,
		})
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.descApplied = true
		c.mu.Unlock()
	}

	answer, err := c.opts.RTC.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	return c.opts.Signaling.SendAnswer(ctx, meeting.ID, dtos.SendAnswerRequest{
		SenderID:   c.opts.SelfID,
		SenderRole: c.opts.Role,
		Answer:     &models.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP},
	})
}

// Decline rejects an incoming meeting. No peer connection was ever
// established for it, so none is touched.
func (c *CalleeController) Decline(ctx context.Context, meetingID string) error {
	if meetingID == "" {
		return ErrMeetingNotFound
	}
	_, err := c.opts.Signaling.UpdateStatus(ctx, meetingID, dtos.UpdateStatusRequest{
		SenderID: c.opts.SelfID,
		Status:   models.StatusRejected,
	})
	if err != nil {
		c.log.Error().Err(err).Str("meeting", meetingID).Msg("failed to decline meeting")
		return err
	}
	c.notifyChange()
	return nil
}

// applyRemoteOffer re-applies the stored offer if it has not been
// applied yet. This catches up a missed push event through the poll
// loop.
func (c *CalleeController) applyRemoteOffer(m *models.Meeting) {
	if m.Offer == nil || m.Offer.SDP == "" {
		return
	}

	c.mu.Lock()
	alreadyApplied := c.descApplied
	c.mu.Unlock()
	if alreadyApplied {
		return
	}

	err := c.opts.RTC.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  m.Offer.SDP,
	})
	if err != nil {
		c.log.Error().Err(err).Msg("failed to apply remote offer")
		return
	}

	c.mu.Lock()
	c.descApplied = true
	c.mu.Unlock()
}

// Run polls the participant's meeting list (feeding the incoming-call
// computation) and the active meeting until ctx is cancelled.
func (c *CalleeController) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollMeetings(ctx)
			c.pollActive(ctx)
		}
	}
}

// pollMeetings refreshes the full meeting list for this participant.
// Only the list and the incoming-call surface are updated here; the
// active meeting is reconciled by pollActive with full candidate and
// description handling.
func (c *CalleeController) pollMeetings(ctx context.Context) {
	latest, err := c.opts.Signaling.FetchMeetings(ctx, c.opts.SelfID, "")
	if err != nil {
		c.log.Error().Err(err).Msg("failed to load meetings")
		return
	}

	c.mu.Lock()
	c.meetings = latest
	c.mu.Unlock()
	c.notifyChange()
}
