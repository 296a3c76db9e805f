package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/tutorbridge/meeting-agent/internal/dtos"
	"github.com/tutorbridge/meeting-agent/internal/models"
	"github.com/tutorbridge/meeting-agent/internal/rtc"
	"github.com/tutorbridge/meeting-agent/internal/signaling"
)

// fakeMeetingServer is an in-memory stand-in for the meeting service.
type fakeMeetingServer struct {
	t *testing.T

	mu            sync.Mutex
	meetings      map[string]*models.Meeting
	statusUpdates []models.Status
	candidates    int
	nextID        int

	failStatus bool
	failAnswer bool

	server *httptest.Server
}

func newFakeMeetingServer(t *testing.T) *fakeMeetingServer {
	t.Helper()
	s := &fakeMeetingServer{t: t, meetings: make(map[string]*models.Meeting)}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

func (s *fakeMeetingServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodPost && len(parts) == 1: // POST /meetings
		var req dtos.CreateMeetingRequest
		json.NewDecoder(r.Body).Decode(&req)
		s.nextID++
		m := &models.Meeting{
			ID:             fmt.Sprintf("m-%d", s.nextID),
			ConversationID: req.ConversationID,
			Participants:   []string{req.InitiatorID, req.ReceiverID},
			InitiatorID:    req.InitiatorID,
			InitiatorRole:  req.InitiatorRole,
			ReceiverID:     req.ReceiverID,
			ReceiverRole:   req.ReceiverRole,
			Status:         models.StatusPending,
			Offer:          req.Offer,
			Candidates:     []models.Candidate{},
		}
		s.meetings[m.ID] = m
		s.writeMeeting(w, m)

	case r.Method == http.MethodGet && len(parts) == 1: // GET /meetings
		list := make([]models.Meeting, 0, len(s.meetings))
		for _, m := range s.meetings {
			list = append(list, *m)
		}
		json.NewEncoder(w).Encode(dtos.MeetingListEnvelope{Meetings: list})

	case r.Method == http.MethodGet && len(parts) == 2: // GET /meetings/{id}
		m, ok := s.meetings[parts[1]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(dtos.ErrorEnvelope{Error: "Meeting not found"})
			return
		}
		s.writeMeeting(w, m)

	case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "answer":
		if s.failAnswer {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(dtos.ErrorEnvelope{Error: "Unable to record answer"})
			return
		}
		m := s.meetings[parts[1]]
		var req dtos.SendAnswerRequest
		json.NewDecoder(r.Body).Decode(&req)
		m.Answer = req.Answer
		m.Status = models.StatusAccepted
		s.writeMeeting(w, m)

	case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "candidates":
		m := s.meetings[parts[1]]
		var req dtos.SendCandidateRequest
		json.NewDecoder(r.Body).Decode(&req)
		s.candidates++
		m.Candidates = append(m.Candidates, models.Candidate{
			ID:        fmt.Sprintf("c-%d", s.candidates),
			SenderID:  req.SenderID,
			Candidate: req.Candidate,
		})
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "status":
		if s.failStatus {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(dtos.ErrorEnvelope{Error: "Unable to update status"})
			return
		}
		m, ok := s.meetings[parts[1]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(dtos.ErrorEnvelope{Error: "Meeting not found"})
			return
		}
		var req dtos.UpdateStatusRequest
		json.NewDecoder(r.Body).Decode(&req)
		m.Status = req.Status
		s.statusUpdates = append(s.statusUpdates, req.Status)
		s.writeMeeting(w, m)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *fakeMeetingServer) writeMeeting(w http.ResponseWriter, m *models.Meeting) {
	copied := *m
	json.NewEncoder(w).Encode(dtos.MeetingEnvelope{Meeting: &copied})
}

func (s *fakeMeetingServer) meeting(id string) *models.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil
	}
	copied := *m
	return &copied
}

func (s *fakeMeetingServer) candidateCount(meetingID, candidate string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok {
		return 0
	}
	count := 0
	for _, c := range m.Candidates {
		if c.Candidate == candidate {
			count++
		}
	}
	return count
}

func (s *fakeMeetingServer) recordedStatuses() []models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Status(nil), s.statusUpdates...)
}

func (s *fakeMeetingServer) addMeeting(m models.Meeting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := m
	s.meetings[m.ID] = &copied
}

type stubTrack struct {
	*webrtc.TrackLocalStaticSample
}

func (s *stubTrack) OnEnded(func(error)) {}
func (s *stubTrack) Close() error        { return nil }

type stubDevices struct {
	mediaErr error
}

func (d *stubDevices) Configure(*webrtc.MediaEngine) error { return nil }

func (d *stubDevices) OpenUserMedia() ([]rtc.Track, error) {
	if d.mediaErr != nil {
		return nil, d.mediaErr
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "mic", "capture")
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "camera", "capture")
	if err != nil {
		return nil, err
	}
	return []rtc.Track{&stubTrack{audio}, &stubTrack{video}}, nil
}

func (d *stubDevices) OpenDisplayMedia() ([]rtc.Track, error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "screen", "capture")
	if err != nil {
		return nil, err
	}
	return []rtc.Track{&stubTrack{video}}, nil
}

func testOptions(t *testing.T, server *fakeMeetingServer, selfID string, role models.Role, devices rtc.Devices) Options {
	t.Helper()
	if devices == nil {
		devices = &stubDevices{}
	}
	manager := rtc.NewManager(rtc.Config{}, devices, zerolog.Nop())
	t.Cleanup(manager.Close)
	return Options{
		Signaling:      signaling.NewClient(server.server.URL, zerolog.Nop()),
		RTC:            manager,
		Log:            zerolog.Nop(),
		SelfID:         selfID,
		Role:           role,
		MediaTimeout:   500 * time.Millisecond,
		OfferTimeout:   3 * time.Second,
		RingingTimeout: time.Minute,
	}
}

// remoteAnswerFor negotiates a valid answer against the given offer
// from an independent connection.
func remoteAnswerFor(t *testing.T, offer *models.SessionDescription) *models.SessionDescription {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		t.Fatalf("answering side rejected offer: %v", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		t.Fatal(err)
	}
	return &models.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}
}

// remoteOfferSDP builds a valid offer from an independent connection.
func remoteOfferSDP(t *testing.T) *models.SessionDescription {
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
	return &models.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}
}
