package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Config carries the connection parameters for new peer connections.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// Manager owns one WebRTC peer connection and its local media. All
// operations are safe for concurrent use; callbacks are invoked
// without holding the manager's lock.
type Manager struct {
	cfg     Config
	devices Devices
	log     zerolog.Logger

	mu            sync.Mutex
	pc            *webrtc.PeerConnection
	localTracks   []Track
	screenTracks  []Track
	screenSharing bool
	pendingRemote []webrtc.ICECandidateInit
	remoteTracks  []*webrtc.TrackRemote
	connState     webrtc.PeerConnectionState

	onLocalCandidate func(webrtc.ICECandidateInit)
	onRemoteTrack    func(*webrtc.TrackRemote)
	onStateChange    func(webrtc.PeerConnectionState)
}

// NewManager creates a manager. The peer connection itself is created
// lazily by Ensure.
func NewManager(cfg Config, devices Devices, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		devices:   devices,
		log:       log.With().Str("component", "rtc").Logger(),
		connState: webrtc.PeerConnectionStateNew,
	}
}

// OnLocalCandidate sets the sink for locally gathered ICE candidates.
// Must be set before Ensure.
func (m *Manager) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLocalCandidate = fn
}

// OnRemoteTrack sets the callback for incoming remote media.
func (m *Manager) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRemoteTrack = fn
}

// OnStateChange sets the observer for connection state transitions.
func (m *Manager) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// Ensure lazily creates the peer connection, returning the existing
// one when already present.
func (m *Manager) Ensure() (*webrtc.PeerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked()
}

func (m *Manager) ensureLocked() (*webrtc.PeerConnection, error) {
	if m.pc != nil {
		return m.pc, nil
	}

	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, &PeerConnectionError{Op: "register codecs", Err: err}
	}
	if err := m.devices.Configure(engine); err != nil {
		return nil, &PeerConnectionError{Op: "configure devices", Err: err}
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(engine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return nil, &PeerConnectionError{Op: "create", Err: err}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.mu.Lock()
		sink := m.onLocalCandidate
		m.mu.Unlock()
		if sink != nil {
			sink(c.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.mu.Lock()
		m.remoteTracks = append(m.remoteTracks, track)
		cb := m.onRemoteTrack
		m.mu.Unlock()
		m.log.Info().Str("kind", track.Kind().String()).Msg("remote track received")
		if cb != nil {
			cb(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.mu.Lock()
		m.connState = state
		cb := m.onStateChange
		m.mu.Unlock()
		m.log.Debug().Str("state", state.String()).Msg("connection state changed")
		if cb != nil {
			cb(state)
		}
	})

	m.pc = pc
	return pc, nil
}

// StartLocalMedia acquires camera and microphone tracks and attaches
// them to the connection. Idempotent: an already-acquired stream is
// returned as is.
func (m *Manager) StartLocalMedia() ([]Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.localTracks) > 0 {
		return m.localTracks, nil
	}

	if _, err := m.ensureLocked(); err != nil {
		return nil, err
	}

	tracks, err := m.devices.OpenUserMedia()
	if err != nil {
		return nil, err
	}

	for _, track := range tracks {
		if err := m.attachTrackLocked(track); err != nil {
			m.log.Error().Err(err).Str("kind", track.Kind().String()).Msg("failed to attach local track")
		}
	}
	m.localTracks = tracks
	return tracks, nil
}

// StopLocalMedia stops every local capture track and clears the local
// stream reference.
func (m *Manager) StopLocalMedia() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocalMediaLocked()
}

func (m *Manager) stopLocalMediaLocked() {
	for _, track := range m.localTracks {
		if err := track.Close(); err != nil {
			m.log.Debug().Err(err).Msg("closing local track")
		}
	}
	m.localTracks = nil
}

// HasLocalMedia reports whether a local stream is active.
func (m *Manager) HasLocalMedia() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.localTracks) > 0
}

// attachTrackLocked replaces the sender of the same kind when one
// exists, otherwise adds the track to the connection.
func (m *Manager) attachTrackLocked(track Track) error {
	if sender := m.senderForKindLocked(track.Kind()); sender != nil {
		return sender.ReplaceTrack(track)
	}
	_, err := m.pc.AddTrack(track)
	return err
}

func (m *Manager) senderForKindLocked(kind webrtc.RTPCodecType) *webrtc.RTPSender {
	if m.pc == nil {
		return nil
	}
	for _, sender := range m.pc.GetSenders() {
		if sender.Track() != nil && sender.Track().Kind() == kind {
			return sender
		}
	}
	return nil
}

// StartScreenShare captures the display and substitutes it for the
// outgoing video track. When the capture ends on its own (stopped from
// outside the call), the camera track is restored automatically.
func (m *Manager) StartScreenShare() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.screenSharing {
		return nil
	}
	if _, err := m.ensureLocked(); err != nil {
		return err
	}

	tracks, err := m.devices.OpenDisplayMedia()
	if err != nil {
		return err
	}

	var screen Track
	for _, track := range tracks {
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			screen = track
			break
		}
	}
	if screen == nil {
		for _, track := range tracks {
			_ = track.Close()
		}
		return ErrScreenShareUnsupported
	}

	if sender := m.senderForKindLocked(webrtc.RTPCodecTypeVideo); sender != nil {
		if err := sender.ReplaceTrack(screen); err != nil {
			_ = screen.Close()
			return &PeerConnectionError{Op: "replace video track", Err: err}
		}
	} else if _, err := m.pc.AddTrack(screen); err != nil {
		_ = screen.Close()
		return &PeerConnectionError{Op: "add screen track", Err: err}
	}

	screen.OnEnded(func(error) {
		m.StopScreenShare()
	})

	m.screenTracks = tracks
	m.screenSharing = true
	return nil
}

// StopScreenShare stops the capture and restores the camera video
// track onto the sender when one is available.
func (m *Manager) StopScreenShare() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopScreenShareLocked()
}

func (m *Manager) stopScreenShareLocked() {
	if !m.screenSharing {
		return
	}
	for _, track := range m.screenTracks {
		if err := track.Close(); err != nil {
			m.log.Debug().Err(err).Msg("closing screen track")
		}
	}
	m.screenTracks = nil
	m.screenSharing = false

	var camera Track
	for _, track := range m.localTracks {
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			camera = track
			break
		}
	}
	if camera == nil {
		return
	}
	if sender := m.senderForKindLocked(webrtc.RTPCodecTypeVideo); sender != nil {
		if err := sender.ReplaceTrack(camera); err != nil {
			m.log.Error().Err(err).Msg("failed to restore camera track")
		}
	}
}

// ScreenSharing reports whether a screen capture is active.
func (m *Manager) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenSharing
}

// AddRecvOnlyTransceivers configures the connection to receive audio
// and video without sending. Used when local capture is unavailable so
// call setup can proceed anyway.
func (m *Manager) AddRecvOnlyTransceivers() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, err := m.ensureLocked()
	if err != nil {
		return err
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return &PeerConnectionError{Op: "add transceiver", Err: err}
		}
	}
	return nil
}

// CreateOffer generates and applies a local offer. The connection must
// have been ensured first.
func (m *Manager) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return webrtc.SessionDescription{}, ErrConnectionNotReady
	}

	offer, err := pc.CreateOffer(options)
	if err != nil {
		return webrtc.SessionDescription{}, &PeerConnectionError{Op: "create offer", Err: err}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, &PeerConnectionError{Op: "set local description", Err: err}
	}
	return offer, nil
}

// CreateAnswer generates and applies a local answer.
func (m *Manager) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return webrtc.SessionDescription{}, ErrConnectionNotReady
	}

	answer, err := pc.CreateAnswer(options)
	if err != nil {
		return webrtc.SessionDescription{}, &PeerConnectionError{Op: "create answer", Err: err}
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, &PeerConnectionError{Op: "set local description", Err: err}
	}
	return answer, nil
}

// SetRemoteDescription applies a remote offer/answer unless the same
// SDP is already in place, which guards duplicate deliveries against
// re-triggering negotiation. Candidates buffered before the remote
// description arrived are flushed afterwards.
func (m *Manager) SetRemoteDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	pc, err := m.ensureLocked()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	// RemoteDescription covers the pending description too, so a
	// duplicated offer is skipped even before the answer completes.
	current := pc.RemoteDescription()
	if current == nil || current.SDP != desc.SDP {
		if err := pc.SetRemoteDescription(desc); err != nil {
			return &PeerConnectionError{Op: "set remote description", Err: err}
		}
	}

	m.mu.Lock()
	pending := m.pendingRemote
	m.pendingRemote = nil
	m.mu.Unlock()

	for _, candidate := range pending {
		if err := pc.AddICECandidate(candidate); err != nil {
			m.log.Error().Err(err).Msg("failed to flush buffered ICE candidate")
		}
	}
	return nil
}

// AddICECandidate applies a remote candidate, buffering it when no
// remote description is set yet. Individual failures degrade
// connectivity quality but never abort the call, so they are logged
// and swallowed.
func (m *Manager) AddICECandidate(candidate webrtc.ICECandidateInit) {
	m.mu.Lock()
	pc := m.pc
	if pc == nil || pc.RemoteDescription() == nil {
		m.pendingRemote = append(m.pendingRemote, candidate)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		m.log.Error().Err(err).Msg("failed to add ICE candidate")
	}
}

// ConnectionState returns the last observed peer connection state.
func (m *Manager) ConnectionState() webrtc.PeerConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connState
}

// RemoteTracks returns the remote media received so far.
func (m *Manager) RemoteTracks() []*webrtc.TrackRemote {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(m.remoteTracks))
	copy(out, m.remoteTracks)
	return out
}

// Close tears down screen share, local media, and the connection, and
// resets the manager to its initial state.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopScreenShareLocked()
	m.stopLocalMediaLocked()

	if m.pc != nil {
		m.pc.OnICECandidate(nil)
		m.pc.OnTrack(nil)
		m.pc.OnConnectionStateChange(nil)
		for _, sender := range m.pc.GetSenders() {
			if track, ok := sender.Track().(Track); ok && track != nil {
				_ = track.Close()
			}
		}
		if err := m.pc.Close(); err != nil {
			m.log.Debug().Err(err).Msg("closing peer connection")
		}
	}

	m.pc = nil
	m.pendingRemote = nil
	m.remoteTracks = nil
	m.connState = webrtc.PeerConnectionStateNew
}
