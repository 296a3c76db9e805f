package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/tutorbridge/meeting-agent/internal/dtos"
	"github.com/tutorbridge/meeting-agent/internal/models"
)

const genericRequestError = "Meeting service request failed"

// Client talks to the external meeting server over its REST contract
// and normalizes every response into the canonical Meeting shape.
type Client struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
	authToken  string
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthToken attaches a bearer token to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// NewClient creates a signaling client for the given server base URL.
func NewClient(baseURL string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		validate:   validator.New(),
		log:        log.With().Str("component", "signaling").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateMeeting creates a new meeting in status pending, carrying the
// initiator's offer.
func (c *Client) CreateMeeting(ctx context.Context, req dtos.CreateMeetingRequest) (*models.Meeting, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, &SignalingError{Message: fmt.Sprintf("createMeeting: invalid request: %v", err)}
	}

	var envelope dtos.MeetingEnvelope
	if err := c.do(ctx, http.MethodPost, "/meetings", req, &envelope); err != nil {
		return nil, err
	}
	return decodeMeeting(envelope.Meeting)
}

// FetchMeetings lists every meeting the participant is party to,
// optionally filtered by status.
func (c *Client) FetchMeetings(ctx context.Context, participantID string, status models.Status) ([]models.Meeting, error) {
	if participantID == "" {
		return nil, errMissingField("fetchMeetings", "participantId")
	}

	query := url.Values{"participantId": {participantID}}
	if status != "" {
		query.Set("status", string(status))
	}

	var envelope dtos.MeetingListEnvelope
	if err := c.do(ctx, http.MethodGet, "/meetings?"+query.Encode(), nil, &envelope); err != nil {
		return nil, err
	}

	meetings := make([]models.Meeting, 0, len(envelope.Meetings))
	for i := range envelope.Meetings {
		m, err := decodeMeeting(&envelope.Meetings[i])
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, *m)
	}
	return meetings, nil
}

// FetchMeetingByID returns the current meeting snapshot. Used by the
// poll loops as redundancy for missed push events.
func (c *Client) FetchMeetingByID(ctx context.Context, meetingID string) (*models.Meeting, error) {
	if meetingID == "" {
		return nil, errMissingField("fetchMeetingById", "meetingId")
	}

	var envelope dtos.MeetingEnvelope
	if err := c.do(ctx, http.MethodGet, "/meetings/"+url.PathEscape(meetingID), nil, &envelope); err != nil {
		return nil, err
	}
	return decodeMeeting(envelope.Meeting)
}

// SendAnswer records the receiver's answer, moving the meeting toward
// accepted, and returns the updated meeting.
func (c *Client) SendAnswer(ctx context.Context, meetingID string, req dtos.SendAnswerRequest) (*models.Meeting, error) {
	if meetingID == "" {
		return nil, errMissingField("sendAnswer", "meetingId")
	}
	if err := c.validate.Struct(req); err != nil {
		return nil, &SignalingError{Message: fmt.Sprintf("sendAnswer: invalid request: %v", err)}
	}

	var envelope dtos.MeetingEnvelope
	if err := c.do(ctx, http.MethodPost, "/meetings/"+url.PathEscape(meetingID)+"/answer", req, &envelope); err != nil {
		return nil, err
	}
	return decodeMeeting(envelope.Meeting)
}

// SendIceCandidate appends one candidate to the meeting's list. The
// response is not required to contain a meeting payload, so only the
// transport result is reported.
func (c *Client) SendIceCandidate(ctx context.Context, meetingID string, req dtos.SendCandidateRequest) error {
	if meetingID == "" {
		return errMissingField("sendIceCandidate", "meetingId")
	}
	if err := c.validate.Struct(req); err != nil {
		return &SignalingError{Message: fmt.Sprintf("sendIceCandidate: invalid request: %v", err)}
	}

	return c.do(ctx, http.MethodPost, "/meetings/"+url.PathEscape(meetingID)+"/candidates", req, nil)
}

// UpdateStatus transitions the meeting and returns the updated record.
func (c *Client) UpdateStatus(ctx context.Context, meetingID string, req dtos.UpdateStatusRequest) (*models.Meeting, error) {
	if meetingID == "" {
		return nil, errMissingField("updateStatus", "meetingId")
	}
	if err := c.validate.Struct(req); err != nil {
		return nil, &SignalingError{Message: fmt.Sprintf("updateStatus: invalid request: %v", err)}
	}
	if !req.Status.IsValid() {
		return nil, &SignalingError{Message: fmt.Sprintf("updateStatus: unknown status %q", req.Status)}
	}

	var envelope dtos.MeetingEnvelope
	if err := c.do(ctx, http.MethodPost, "/meetings/"+url.PathEscape(meetingID)+"/status", req, &envelope); err != nil {
		return nil, err
	}
	return decodeMeeting(envelope.Meeting)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SignalingError{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SignalingError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := genericRequestError
		var serverErr dtos.ErrorEnvelope
		if json.Unmarshal(data, &serverErr) == nil && serverErr.Error != "" {
			message = serverErr.Error
		}
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Str("error", message).
			Msg("meeting server rejected request")
		return &SignalingError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &SignalingError{StatusCode: resp.StatusCode, Message: "Unable to parse server response"}
	}
	return nil
}

// decodeMeeting is the single normalization path for every
// meeting-bearing response. Optional collections come back non-nil and
// structurally broken records are rejected rather than defaulted.
func decodeMeeting(m *models.Meeting) (*models.Meeting, error) {
	if m == nil {
		return nil, &SignalingError{Message: "Server response missing meeting payload"}
	}
	if m.ID == "" {
		return nil, &SignalingError{Message: "Server returned a meeting without an id"}
	}
	if !m.Status.IsValid() {
		return nil, &SignalingError{Message: fmt.Sprintf("Server returned unknown meeting status %q", m.Status)}
	}
	if m.Participants == nil {
		m.Participants = []string{}
	}
	if m.Candidates == nil {
		m.Candidates = []models.Candidate{}
	}
	return m, nil
}
