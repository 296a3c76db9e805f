package rtc

import (
	"errors"
	"fmt"
)

var (
	// ErrMediaUnavailable means the platform could not provide a
	// camera/microphone capture. Calls proceed in receive-only mode.
	ErrMediaUnavailable = errors.New("media devices are not available")

	// ErrScreenShareUnsupported means display capture is not possible
	// on this platform.
	ErrScreenShareUnsupported = errors.New("screen sharing is not supported")

	// ErrConnectionNotReady means an SDP operation was attempted
	// before the peer connection was established.
	ErrConnectionNotReady = errors.New("peer connection is not ready")
)

// PeerConnectionError wraps SDP and ICE failures from the underlying
// connection.
type PeerConnectionError struct {
	Op  string
	Err error
}

func (e *PeerConnectionError) Error() string {
	return fmt.Sprintf("peer connection %s: %v", e.Op, e.Err)
}

func (e *PeerConnectionError) Unwrap() error {
	return e.Err
}
