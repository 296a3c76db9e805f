package signaling

import "fmt"

// SignalingError is any rejected or malformed exchange with the
// meeting server. Message carries the server's error field verbatim
// when one was provided.
type SignalingError struct {
	StatusCode int
	Message    string
}

func (e *SignalingError) Error() string {
	return e.Message
}

func errMissingField(op, field string) error {
	return &SignalingError{Message: fmt.Sprintf("%s: %s is required", op, field)}
}
