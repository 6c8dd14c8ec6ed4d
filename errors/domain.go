package errors

import "fmt"

// ConnectionError reports that the broker could not be reached or the handshake
// did not complete in time. It is fatal to startup when returned by Connect.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DecodeError reports a payload that is not the JSON shape expected on its topic.
// The message is dropped and no state is mutated.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload on %s: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnsupportedTypeError reports a monitor type with no registered constructor.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported monitor type %q", e.Type)
}

// Unwrap lets errors.Is(err, ErrInvalidConfig) match.
func (e *UnsupportedTypeError) Unwrap() error { return ErrInvalidConfig }

// PublishError reports a send the transport rejected. It is a missed
// actuation or telemetry point and is never retried by the core.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
