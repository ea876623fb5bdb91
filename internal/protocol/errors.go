package protocol

import (
	"errors"
	"fmt"
)

// ErrCompressionLimit is returned when a payload cannot fit its byte
// ceiling even after compression.
var ErrCompressionLimit = errors.New("compressed payload exceeds size limit")

// ErrVersionConflict is returned when the aggregator rejects the client's
// sync version.
var ErrVersionConflict = errors.New("sync version conflict")

// TransportError wraps network-level failures. Transport errors are
// transient and safe to retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a well-formed but unacceptable exchange, such as a
// 4xx response or an undecodable body. Protocol errors are not retryable.
type ProtocolError struct {
	Op     string
	Status int
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("protocol %s: status %d: %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("protocol %s: %s", e.Op, e.Detail)
}

// Retryable reports whether the error is transient. Only transport errors
// qualify; protocol errors and breaker rejections are terminal for the
// current round.
func Retryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
