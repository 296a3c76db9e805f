package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/tutorbridge/meeting-agent/internal/dtos"
	"github.com/tutorbridge/meeting-agent/internal/models"
)

// CallerController places outbound calls: it creates the offer,
// registers the meeting on the server, and waits for the counterpart
// to accept within the ringing window.
type CallerController struct {
	*base

	timerMu      sync.Mutex
	ringingTimer *time.Timer
}

var (
	_ Controller = (*CallerController)(nil)
	_ Dialer     = (*CallerController)(nil)
)

// NewCaller creates the caller-side controller.
func NewCaller(opts Options) *CallerController {
	c := &CallerController{base: newBase(opts, "caller")}
	c.applyDesc = c.applyRemoteAnswer
	c.onReconcile = func(m *models.Meeting) {
		if m.Status != models.StatusAccepted && !m.Status.IsTerminal() {
			return
		}
		c.mu.Lock()
		isActive := c.active != nil && c.active.ID == m.ID
		c.mu.Unlock()
		if isActive {
			c.clearRingingTimer()
		}
	}
	return c
}

// StartCall initiates a meeting with the receiver. Local media and the
// offer are acquired under bounded waits so a stalled permission
// prompt or media pipeline never blocks call setup.
func (c *CallerController) StartCall(ctx context.Context, receiverID string, receiverRole models.Role) error {
	if receiverRole == "" {
		receiverRole = models.RoleTutor
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.active != nil {
		c.mu.Unlock()
		return ErrCallActive
	}
	if receiverID == "" {
		c.mu.Unlock()
		return errMissingReceiver
	}
	c.busy = true
	c.lastError = ""
	c.counterpart = receiverID
	epoch := c.epoch
	c.mu.Unlock()

	c.log.Info().Str("receiver", receiverID).Msg("starting meeting")

	meeting, err := c.dial(ctx, receiverID, receiverRole, epoch)

	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()

	if err != nil {
		c.setLastError(err.Error())
		c.mu.Lock()
		c.cleanupLocked()
		c.mu.Unlock()
		c.notifyChange()
		return err
	}

	c.mu.Lock()
	copied := *meeting
	c.active = &copied
	c.upsertLocked(copied)
	c.mu.Unlock()

	c.flushPendingCandidates(meeting.ID)
	c.armRingingTimer(epoch)
	c.notifyChange()
	return nil
}

func (c *CallerController) dial(ctx context.Context, receiverID string, receiverRole models.Role, epoch uuid.UUID) (*models.Meeting, error) {
	if _, err := c.opts.RTC.Ensure(); err != nil {
		return nil, err
	}

	c.acquireMediaBounded(epoch)

	offer := c.createOfferBounded(epoch)

	meeting, err := c.opts.Signaling.CreateMeeting(ctx, dtos.CreateMeetingRequest{
		ConversationID: models.ConversationID(c.opts.SelfID, receiverID),
		InitiatorID:    c.opts.SelfID,
		InitiatorRole:  c.opts.Role,
		ReceiverID:     receiverID,
		ReceiverRole:   receiverRole,
		Offer:          &offer,
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("meeting", meeting.ID).Msg("meeting created")
	return meeting, nil
}

// createOfferBounded generates the SDP offer within the configured
// wait, falling back to an inert offer payload when creation stalls or
// fails. A late result from an abandoned attempt is discarded through
// the epoch check.
func (c *CallerController) createOfferBounded(epoch uuid.UUID) models.SessionDescription {
	type result struct {
		desc webrtc.SessionDescription
		err  error
	}
	done := make(chan result, 1)
	go func() {
		desc, err := c.opts.RTC.CreateOffer(nil)
		done <- result{desc: desc, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && c.epochIs(epoch) {
			return models.SessionDescription{Type: res.desc.Type.String(), SDP: res.desc.SDP}
		}
		if res.err != nil {
			c.log.Error().Err(res.err).Msg("offer creation failed, using fallback offer")
		}
	case <-time.After(c.opts.OfferTimeout):
		c.log.Error().Dur("timeout", c.opts.OfferTimeout).Msg("offer creation timed out, using fallback offer")
	}

	return models.SessionDescription{Type: "offer", SDP: fallbackOfferSDP}
}

// applyRemoteAnswer applies the counterpart's answer exactly once per
// session. Reapplication attempts after a failure happen on the next
// reconciliation.
func (c *CallerController) applyRemoteAnswer(m *models.Meeting) {
	if m.Answer == nil || m.Answer.SDP == "" {
		return
	}

	c.mu.Lock()
	alreadyApplied := c.descApplied
	c.mu.Unlock()
	if alreadyApplied {
		return
	}

	err := c.opts.RTC.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  m.Answer.SDP,
	})
	if err != nil {
		c.log.Error().Err(err).Msg("failed to apply remote answer")
		return
	}

	c.mu.Lock()
	c.descApplied = true
	c.mu.Unlock()
	c.log.Info().Str("meeting", m.ID).Msg("remote answer applied")
}

func (c *CallerController) armRingingTimer(epoch uuid.UUID) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.ringingTimer != nil {
		c.ringingTimer.Stop()
	}
	c.ringingTimer = time.AfterFunc(c.opts.RingingTimeout, func() {
		if !c.epochIs(epoch) {
			return
		}
		c.log.Info().Msg("ringing timeout, cancelling call")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.HangUp(ctx, models.StatusCancelled)
		c.setLastError("Tutor didn't answer, the call was cancelled.")
	})
}

func (c *CallerController) clearRingingTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.ringingTimer != nil {
		c.ringingTimer.Stop()
		c.ringingTimer = nil
	}
}

// HangUp ends the call and stops the ringing window.
func (c *CallerController) HangUp(ctx context.Context, status models.Status) {
	c.clearRingingTimer()
	c.base.HangUp(ctx, status)
}

// Run polls the active meeting until ctx is cancelled, as redundancy
// for missed push events.
func (c *CallerController) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollActive(ctx)
		}
	}
}
