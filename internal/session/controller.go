// Package session implements the meeting lifecycle controllers: the
// caller side that places outbound calls and the callee side that
// answers incoming ones. Both reconcile pushed and polled meeting
// snapshots into local peer-connection state through a single
// serialized path.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/tutorbridge/meeting-agent/internal/dtos"
	"github.com/tutorbridge/meeting-agent/internal/models"
	"github.com/tutorbridge/meeting-agent/internal/rtc"
	"github.com/tutorbridge/meeting-agent/internal/signaling"
)

const (
	defaultPollInterval   = 1500 * time.Millisecond
	defaultMediaTimeout   = 3 * time.Second
	defaultOfferTimeout   = 5 * time.Second
	defaultRingingTimeout = 60 * time.Second

	// fallbackOfferSDP is an inert audio-only offer used when local
	// offer creation stalls, so the server round-trip is not blocked
	// by a broken media pipeline.
	fallbackOfferSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 0\r\nc=IN IP4 0.0.0.0\r\n"
)

// ErrBusy is returned when a call operation overlaps an in-flight one.
var ErrBusy = errors.New("another call operation is in progress")

// ErrCallActive is returned when starting a call while one is active.
var ErrCallActive = errors.New("a call is already active")

// ErrNoActiveCall is returned for operations that need an active call.
var ErrNoActiveCall = errors.New("no active call")

var errMissingReceiver = errors.New("a receiver must be selected before starting a call")

// Dialer is implemented by controllers that can place outbound calls.
type Dialer interface {
	StartCall(ctx context.Context, receiverID string, receiverRole models.Role) error
}

// Answerer is implemented by controllers that can take incoming calls.
type Answerer interface {
	Accept(ctx context.Context, meetingID string) error
	Decline(ctx context.Context, meetingID string) error
}

// Controller is the surface shared by both roles.
type Controller interface {
	Run(ctx context.Context)
	HandleMeeting(m *models.Meeting)
	HangUp(ctx context.Context, status models.Status)
	SelectCounterpart(ctx context.Context, participantID string)
	SetScreenShare(enabled bool) error
	Snapshot() dtos.CallState
	SetOnChange(fn func(dtos.CallState))
}

// Options configures a controller.
type Options struct {
	Signaling *signaling.Client
	RTC       *rtc.Manager
	Events    *signaling.EventListener
	Log       zerolog.Logger

	SelfID string
	Role   models.Role

	PollInterval   time.Duration
	MediaTimeout   time.Duration
	OfferTimeout   time.Duration
	RingingTimeout time.Duration
}

func (o *Options) fillDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.MediaTimeout <= 0 {
		o.MediaTimeout = defaultMediaTimeout
	}
	if o.OfferTimeout <= 0 {
		o.OfferTimeout = defaultOfferTimeout
	}
	if o.RingingTimeout <= 0 {
		o.RingingTimeout = defaultRingingTimeout
	}
}

// base carries the session state shared by both controller roles. All
// mutation happens under mu; reconciliation of push and poll updates
// is therefore single-flight per session.
type base struct {
	opts Options
	log  zerolog.Logger

	mu           sync.Mutex
	meetings     []models.Meeting
	active       *models.Meeting
	counterpart  string
	applied      map[string]struct{}
	pendingLocal []webrtc.ICECandidateInit
	descApplied  bool
	busy         bool
	ending       bool
	epoch        uuid.UUID
	lastError    string

	onChange func(dtos.CallState)

	// applyDesc applies the role-specific remote description during
	// reconciliation: the answer for the caller, the offer for the
	// callee. Set once by the role constructor.
	applyDesc func(*models.Meeting)

	// onReconcile runs at the start of every reconciliation with the
	// incoming snapshot, before candidates are applied. Optional.
	onReconcile func(*models.Meeting)

	// extendSnapshot lets a role add its own fields to the snapshot.
	// Called with b.mu held.
	extendSnapshot func(*dtos.CallState)
}

func newBase(opts Options, component string) *base {
	opts.fillDefaults()
	b := &base{
		opts:    opts,
		log:     opts.Log.With().Str("component", component).Str("self", opts.SelfID).Logger(),
		applied: make(map[string]struct{}),
		epoch:   uuid.New(),
	}
	opts.RTC.OnLocalCandidate(b.handleLocalCandidate)
	return b
}

// SetOnChange installs the state observer invoked after every
// state-changing operation.
func (b *base) SetOnChange(fn func(dtos.CallState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *base) notifyChange() {
	b.mu.Lock()
	fn := b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn(b.Snapshot())
	}
}

// Snapshot returns the current session state for the control surface.
func (b *base) Snapshot() dtos.CallState {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := dtos.CallState{
		UserID:          b.opts.SelfID,
		Role:            b.opts.Role,
		ConnectionState: b.opts.RTC.ConnectionState().String(),
		ScreenSharing:   b.opts.RTC.ScreenSharing(),
		Meetings:        append([]models.Meeting(nil), b.meetings...),
		LastError:       b.lastError,
	}
	if b.opts.Events != nil {
		state.EventsConnected = b.opts.Events.Connected()
	}
	if b.active != nil {
		copied := *b.active
		state.ActiveMeeting = &copied
		state.StatusLabel = copied.Status.Label()
	}
	if b.extendSnapshot != nil {
		b.extendSnapshot(&state)
	}
	return state
}

// SetScreenShare toggles screen sharing on the active call.
func (b *base) SetScreenShare(enabled bool) error {
	b.mu.Lock()
	hasActive := b.active != nil
	b.mu.Unlock()
	if !hasActive {
		return ErrNoActiveCall
	}

	if !enabled {
		b.opts.RTC.StopScreenShare()
		b.notifyChange()
		return nil
	}
	if err := b.opts.RTC.StartScreenShare(); err != nil {
		b.setLastError("Unable to toggle screen sharing.")
		return err
	}
	b.notifyChange()
	return nil
}

// HangUp records the terminal status on the server and then tears down
// local state. Local cleanup never waits on the network call
// succeeding.
func (b *base) HangUp(ctx context.Context, status models.Status) {
	b.mu.Lock()
	if b.ending {
		b.mu.Unlock()
		return
	}
	if b.active == nil {
		b.cleanupLocked()
		b.mu.Unlock()
		b.notifyChange()
		return
	}
	b.ending = true
	meetingID := b.active.ID
	b.mu.Unlock()

	if status == "" {
		status = models.StatusEnded
	}
	if _, err := b.opts.Signaling.UpdateStatus(ctx, meetingID, dtos.UpdateStatusRequest{
		SenderID: b.opts.SelfID,
		Status:   status,
	}); err != nil {
		b.log.Error().Err(err).Str("meeting", meetingID).Msg("failed to update meeting status")
	}

	b.mu.Lock()
	b.ending = false
	b.cleanupLocked()
	b.mu.Unlock()
	b.notifyChange()
}

// SelectCounterpart scopes the session to one counterpart. Switching
// away from a counterpart with a live call cancels that call first.
func (b *base) SelectCounterpart(ctx context.Context, participantID string) {
	b.mu.Lock()
	previous := b.counterpart
	b.counterpart = participantID
	staleCall := b.active != nil && participantID != "" && !b.active.HasParticipant(participantID)
	b.mu.Unlock()

	if staleCall {
		b.log.Info().Str("from", previous).Str("to", participantID).
			Msg("counterpart changed with live call, cancelling")
		b.HangUp(ctx, models.StatusCancelled)
	}
}

// HandleMeeting ingests a pushed meeting snapshot.
func (b *base) HandleMeeting(m *models.Meeting) {
	if m == nil {
		return
	}
	b.reconcile(m)
	b.notifyChange()
}

// reconcile merges one meeting snapshot into session state. Candidates
// are applied before the remote description check, and the description
// before terminal teardown, so nothing delivered in one batch is
// discarded.
func (b *base) reconcile(m *models.Meeting) {
	if b.onReconcile != nil {
		b.onReconcile(m)
	}

	b.mu.Lock()
	b.upsertLocked(*m)

	isActive := b.active != nil && b.active.ID == m.ID
	if isActive {
		copied := *m
		b.active = &copied
	}

	var toApply []models.Candidate
	if isActive {
		for _, candidate := range m.RemoteCandidates(b.opts.SelfID) {
			if _, seen := b.applied[candidate.ID]; seen {
				continue
			}
			b.applied[candidate.ID] = struct{}{}
			toApply = append(toApply, candidate)
		}
	}
	b.mu.Unlock()

	for _, candidate := range toApply {
		b.opts.RTC.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate.Candidate})
	}

	if isActive && b.applyDesc != nil {
		b.applyDesc(m)
	}

	if isActive && m.Status.IsTerminal() {
		b.log.Info().Str("meeting", m.ID).Str("status", string(m.Status)).Msg("meeting ended remotely")
		b.mu.Lock()
		b.cleanupLocked()
		b.mu.Unlock()
	}
}

func (b *base) upsertLocked(m models.Meeting) {
	for i := range b.meetings {
		if b.meetings[i].ID == m.ID {
			b.meetings[i] = m
			return
		}
	}
	b.meetings = append(b.meetings, m)
}

// handleLocalCandidate is the sink for locally gathered ICE
// candidates. Candidates generated before the meeting exists on the
// server are queued and flushed once the id is known.
func (b *base) handleLocalCandidate(candidate webrtc.ICECandidateInit) {
	b.mu.Lock()
	if b.active == nil || b.active.ID == "" {
		b.pendingLocal = append(b.pendingLocal, candidate)
		b.mu.Unlock()
		return
	}
	meetingID := b.active.ID
	b.mu.Unlock()

	b.sendCandidate(meetingID, candidate)
}

// flushPendingCandidates delivers every queued candidate exactly once.
func (b *base) flushPendingCandidates(meetingID string) {
	b.mu.Lock()
	queued := b.pendingLocal
	b.pendingLocal = nil
	b.mu.Unlock()

	for _, candidate := range queued {
		b.sendCandidate(meetingID, candidate)
	}
}

func (b *base) sendCandidate(meetingID string, candidate webrtc.ICECandidateInit) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := b.opts.Signaling.SendIceCandidate(ctx, meetingID, dtos.SendCandidateRequest{
		SenderID:   b.opts.SelfID,
		SenderRole: b.opts.Role,
		Candidate:  candidate.Candidate,
	})
	if err != nil {
		b.log.Error().Err(err).Str("meeting", meetingID).Msg("failed to send ICE candidate")
	}
}

// cleanupLocked discards all per-call state and closes the peer
// connection. Callers hold b.mu.
func (b *base) cleanupLocked() {
	b.pendingLocal = nil
	b.applied = make(map[string]struct{})
	b.descApplied = false
	b.active = nil
	b.busy = false
	b.epoch = uuid.New()
	b.opts.RTC.Close()
}

func (b *base) setLastError(msg string) {
	b.mu.Lock()
	b.lastError = msg
	b.mu.Unlock()
	b.notifyChange()
}

func (b *base) epochIs(e uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch == e
}

// acquireMediaBounded tries to start local media within the configured
// wait. On timeout or failure the session degrades to receive-only
// transceivers so call setup is never blocked by a permission prompt.
// A capture that completes after its session ended is released via the
// epoch check.
func (b *base) acquireMediaBounded(epoch uuid.UUID) bool {
	done := make(chan error, 1)
	go func() {
		_, err := b.opts.RTC.StartLocalMedia()
		if err == nil && !b.epochIs(epoch) {
			b.opts.RTC.StopLocalMedia()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			return true
		}
		b.log.Warn().Err(err).Msg("local media unavailable, proceeding without it")
	case <-time.After(b.opts.MediaTimeout):
		b.log.Warn().Msg("local media acquisition timed out, proceeding without it")
	}

	b.mu.Lock()
	b.lastError = "Camera/mic unavailable right now. Call continues without your media; grant permission to share."
	b.mu.Unlock()

	if err := b.opts.RTC.AddRecvOnlyTransceivers(); err != nil {
		b.log.Error().Err(err).Msg("failed to add receive-only transceivers")
	}
	return false
}

// pollActive refreshes the active meeting once as redundancy for
// missed push events.
func (b *base) pollActive(ctx context.Context) {
	b.mu.Lock()
	var meetingID string
	if b.active != nil {
		meetingID = b.active.ID
	}
	b.mu.Unlock()
	if meetingID == "" {
		return
	}

	latest, err := b.opts.Signaling.FetchMeetingByID(ctx, meetingID)
	if err != nil {
		b.log.Error().Err(err).Str("meeting", meetingID).Msg("failed to refresh meeting")
		return
	}
	b.reconcile(latest)
	b.notifyChange()
}
