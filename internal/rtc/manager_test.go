package rtc

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type fakeTrack struct {
	*webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	onEnded func(error)
	closed  bool
}

func newFakeVideoTrack(t *testing.T, id string) *fakeTrack {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, id, "capture")
	if err != nil {
		t.Fatal(err)
	}
	return &fakeTrack{TrackLocalStaticSample: track}
}

func newFakeAudioTrack(t *testing.T, id string) *fakeTrack {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, id, "capture")
	if err != nil {
		t.Fatal(err)
	}
	return &fakeTrack{TrackLocalStaticSample: track}
}

func (f *fakeTrack) OnEnded(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnded = fn
}

func (f *fakeTrack) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTrack) end() {
	f.mu.Lock()
	fn := f.onEnded
	f.mu.Unlock()
	if fn != nil {
		fn(nil)
	}
}

type fakeDevices struct {
	mu          sync.Mutex
	userOpens   int
	userErr     error
	displayErr  error
	makeUser    func() []Track
	makeDisplay func() []Track
}

func (d *fakeDevices) Configure(*webrtc.MediaEngine) error { return nil }

func (d *fakeDevices) OpenUserMedia() ([]Track, error) {
	d.mu.Lock()
	d.userOpens++
	d.mu.Unlock()
	if d.userErr != nil {
		return nil, d.userErr
	}
	return d.makeUser(), nil
}

func (d *fakeDevices) OpenDisplayMedia() ([]Track, error) {
	if d.displayErr != nil {
		return nil, d.displayErr
	}
	return d.makeDisplay(), nil
}

func newTestManager(t *testing.T, devices Devices) *Manager {
	t.Helper()
	m := NewManager(Config{}, devices, zerolog.Nop())
	t.Cleanup(m.Close)
	return m
}

// remoteOffer builds a valid SDP offer from an independent connection.
func remoteOffer(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind); err != nil {
			t.Fatal(err)
		}
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	return offer
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	m := newTestManager(t, &fakeDevices{})

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122260223 192.0.2.1 54400 typ host"}
	m.AddICECandidate(candidate)

	m.mu.Lock()
	buffered := len(m.pendingRemote)
	m.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("expected 1 buffered candidate, got %d", buffered)
	}

	if err := m.SetRemoteDescription(remoteOffer(t)); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}

	m.mu.Lock()
	buffered = len(m.pendingRemote)
	m.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("buffer not flushed, %d candidates left", buffered)
	}
}

func TestSetRemoteDescriptionSkipsDuplicateSDP(t *testing.T) {
	m := newTestManager(t, &fakeDevices{})

	offer := remoteOffer(t)
	if err := m.SetRemoteDescription(offer); err != nil {
		t.Fatalf("first SetRemoteDescription: %v", err)
	}
	if _, err := m.CreateAnswer(nil); err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	// Redelivery of the same SDP after answering must be a no-op, not
	// a renegotiation attempt.
	if err := m.SetRemoteDescription(offer); err != nil {
		t.Fatalf("duplicate SetRemoteDescription: %v", err)
	}
}

func TestSetRemoteDescriptionSkipsDuplicateBeforeAnswer(t *testing.T) {
	m := newTestManager(t, &fakeDevices{})

	offer := remoteOffer(t)
	if err := m.SetRemoteDescription(offer); err != nil {
		t.Fatalf("first SetRemoteDescription: %v", err)
	}
	// Redelivery while the answer is still outstanding must also be
	// skipped, not re-applied.
	if err := m.SetRemoteDescription(offer); err != nil {
		t.Fatalf("duplicate SetRemoteDescription: %v", err)
	}

	pc, err := m.Ensure()
	if err != nil {
		t.Fatal(err)
	}
	if got := pc.SignalingState(); got != webrtc.SignalingStateHaveRemoteOffer {
		t.Fatalf("signaling state = %v", got)
	}
	if _, err := m.CreateAnswer(nil); err != nil {
		t.Fatalf("CreateAnswer after duplicate delivery: %v", err)
	}
}

func TestStartLocalMediaIdempotent(t *testing.T) {
	devices := &fakeDevices{
		makeUser: func() []Track {
			return []Track{newFakeAudioTrack(t, "mic"), newFakeVideoTrack(t, "camera")}
		},
	}
	m := newTestManager(t, devices)

	first, err := m.StartLocalMedia()
	if err != nil {
		t.Fatalf("StartLocalMedia: %v", err)
	}
	second, err := m.StartLocalMedia()
	if err != nil {
		t.Fatalf("second StartLocalMedia: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("track counts = %d, %d", len(first), len(second))
	}
	if devices.userOpens != 1 {
		t.Fatalf("devices opened %d times", devices.userOpens)
	}
	if !m.HasLocalMedia() {
		t.Fatal("HasLocalMedia should be true")
	}
}

func TestStartLocalMediaPropagatesDeviceError(t *testing.T) {
	devices := &fakeDevices{userErr: ErrMediaUnavailable}
	m := newTestManager(t, devices)

	if _, err := m.StartLocalMedia(); !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("expected ErrMediaUnavailable, got %v", err)
	}
	if m.HasLocalMedia() {
		t.Fatal("no media should be recorded after a failed open")
	}
}

func TestScreenShareReplacesAndRestoresVideo(t *testing.T) {
	camera := newFakeVideoTrack(t, "camera")
	screen := newFakeVideoTrack(t, "screen")
	devices := &fakeDevices{
		makeUser:    func() []Track { return []Track{camera} },
		makeDisplay: func() []Track { return []Track{screen} },
	}
	m := newTestManager(t, devices)

	if _, err := m.StartLocalMedia(); err != nil {
		t.Fatalf("StartLocalMedia: %v", err)
	}
	if err := m.StartScreenShare(); err != nil {
		t.Fatalf("StartScreenShare: %v", err)
	}
	if !m.ScreenSharing() {
		t.Fatal("ScreenSharing should be true")
	}

	pc, err := m.Ensure()
	if err != nil {
		t.Fatal(err)
	}
	if got := videoSenderTrackID(pc); got != "screen" {
		t.Fatalf("outgoing video track = %q, want screen", got)
	}

	m.StopScreenShare()
	if m.ScreenSharing() {
		t.Fatal("ScreenSharing should be false after stop")
	}
	if got := videoSenderTrackID(pc); got != "camera" {
		t.Fatalf("outgoing video track = %q, want camera", got)
	}
	if !screen.closed {
		t.Fatal("screen track should be closed after stop")
	}
}

func TestScreenShareEndedRevertsAutomatically(t *testing.T) {
	camera := newFakeVideoTrack(t, "camera")
	screen := newFakeVideoTrack(t, "screen")
	devices := &fakeDevices{
		makeUser:    func() []Track { return []Track{camera} },
		makeDisplay: func() []Track { return []Track{screen} },
	}
	m := newTestManager(t, devices)

	if _, err := m.StartLocalMedia(); err != nil {
		t.Fatal(err)
	}
	if err := m.StartScreenShare(); err != nil {
		t.Fatal(err)
	}

	screen.end()
	if m.ScreenSharing() {
		t.Fatal("screen share should revert when the capture ends")
	}
}

func TestScreenShareWithoutVideoTrackUnsupported(t *testing.T) {
	devices := &fakeDevices{
		makeDisplay: func() []Track { return []Track{newFakeAudioTrack(t, "desktop-audio")} },
	}
	m := newTestManager(t, devices)

	if err := m.StartScreenShare(); !errors.Is(err, ErrScreenShareUnsupported) {
		t.Fatalf("expected ErrScreenShareUnsupported, got %v", err)
	}
}

func TestCreateOfferRequiresConnection(t *testing.T) {
	m := newTestManager(t, &fakeDevices{})
	if _, err := m.CreateOffer(nil); !errors.Is(err, ErrConnectionNotReady) {
		t.Fatalf("expected ErrConnectionNotReady, got %v", err)
	}
}

func TestCloseResetsManager(t *testing.T) {
	devices := &fakeDevices{
		makeUser: func() []Track { return []Track{newFakeVideoTrack(t, "camera")} },
	}
	m := newTestManager(t, devices)

	if _, err := m.StartLocalMedia(); err != nil {
		t.Fatal(err)
	}
	m.Close()

	if m.HasLocalMedia() {
		t.Fatal("local media should be gone after Close")
	}
	// Back to the state a fresh manager starts in.
	if got := m.ConnectionState(); got != webrtc.PeerConnectionStateNew {
		t.Fatalf("state after Close = %v", got)
	}

	// The manager is reusable: a new connection comes up on demand.
	if _, err := m.Ensure(); err != nil {
		t.Fatalf("Ensure after Close: %v", err)
	}
}

func videoSenderTrackID(pc *webrtc.PeerConnection) string {
	for _, sender := range pc.GetSenders() {
		if track := sender.Track(); track != nil && track.Kind() == webrtc.RTPCodecTypeVideo {
			return track.ID()
		}
	}
	return ""
}
