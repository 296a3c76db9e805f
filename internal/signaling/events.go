package signaling

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutorbridge/meeting-agent/internal/dtos"
	"github.com/tutorbridge/meeting-agent/internal/models"
)

const defaultRetryInterval = 5 * time.Second

// MeetingHandler receives pushed meeting snapshots.
type MeetingHandler func(*models.Meeting)

// EventListener keeps a server-sent-events subscription open for one
// participant and forwards meeting updates to the current handler. The
// handler can be swapped at any time without re-subscribing. Dropped
// connections are re-dialed after the server's suggested retry
// interval, mirroring the browser EventSource behavior the meeting
// server was built against.
type EventListener struct {
	baseURL       string
	participantID string
	authToken     string
	httpClient    *http.Client
	log           zerolog.Logger

	handler   atomic.Pointer[MeetingHandler]
	connected atomic.Bool

	mu     sync.Mutex
	retry  time.Duration
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventListener creates a listener scoped to participantID. Call
// Start to open the subscription.
func NewEventListener(baseURL, participantID, authToken string, log zerolog.Logger) *EventListener {
	return &EventListener{
		baseURL:       strings.TrimRight(baseURL, "/"),
		participantID: participantID,
		authToken:     authToken,
		httpClient:    &http.Client{},
		log:           log.With().Str("component", "events").Logger(),
		retry:         defaultRetryInterval,
	}
}

// SetHandler installs the meeting handler. Safe to call while the
// subscription is running.
func (l *EventListener) SetHandler(h MeetingHandler) {
	if h == nil {
		l.handler.Store(nil)
		return
	}
	l.handler.Store(&h)
}

// Connected reports whether the event stream is currently live.
func (l *EventListener) Connected() bool {
	return l.connected.Load()
}

// Start opens the subscription and keeps it alive until Close or until
// ctx is cancelled.
func (l *EventListener) Start(ctx context.Context) {
	l.mu.Lock()
	if l.done != nil {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	done := make(chan struct{})
	l.done = done
	l.mu.Unlock()

	go func() {
		defer close(done)
		for {
			if err := l.stream(ctx); err != nil && ctx.Err() == nil {
				l.log.Warn().Err(err).Msg("event stream dropped, reconnecting")
			}
			l.connected.Store(false)

			l.mu.Lock()
			retry := l.retry
			l.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
		}
	}()
}

// Close tears down the subscription and waits for the stream goroutine
// to exit.
func (l *EventListener) Close() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	l.connected.Store(false)
}

func (l *EventListener) stream(ctx context.Context) error {
	endpoint := l.baseURL + "/meetings/events?participantId=" + url.QueryEscape(l.participantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if l.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+l.authToken)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &SignalingError{StatusCode: resp.StatusCode, Message: "event stream rejected"}
	}

	l.connected.Store(true)
	l.log.Info().Str("participant", l.participantID).Msg("event stream connected")

	var eventName string
	var data strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			l.dispatch(eventName, data.String())
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, "retry:"):
			if ms, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "retry:"))); err == nil && ms > 0 {
				l.mu.Lock()
				l.retry = time.Duration(ms) * time.Millisecond
				l.mu.Unlock()
			}
		}
	}
	return scanner.Err()
}

func (l *EventListener) dispatch(eventName, payload string) {
	switch eventName {
	case "heartbeat":
		l.connected.Store(true)
	case "meeting":
		handler := l.handler.Load()
		if handler == nil {
			return
		}

		var envelope dtos.MeetingEnvelope
		if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
			l.log.Error().Err(err).Msg("failed to parse meeting event payload")
			return
		}
		meeting, err := decodeMeeting(envelope.Meeting)
		if err != nil {
			l.log.Error().Err(err).Msg("discarding malformed meeting event")
			return
		}
		(*handler)(meeting)
	}
}
