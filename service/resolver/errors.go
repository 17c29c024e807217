package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Errors.
var (
	// ErrTransport is the base error for all upstream transport failures:
	// refused connections, failed handshakes, malformed responses.
	ErrTransport = errors.New("transport failure")

	// ErrTimeout wraps ErrTransport and is returned when a query exceeds
	// its deadline.
	ErrTimeout = fmt.Errorf("%w: query timed out", ErrTransport)

	// ErrMalformedResponse wraps ErrTransport and is returned when the
	// upstream answer cannot be parsed.
	ErrMalformedResponse = fmt.Errorf("%w: malformed upstream response", ErrTransport)

	// ErrConfigIncomplete is returned before any network activity when the
	// active resolver config is missing its target. Callers should prompt
	// for configuration instead of reporting a network failure.
	ErrConfigIncomplete = errors.New("resolver configuration is incomplete")

	// ErrShuttingDown is returned when the transport is shutting down.
	ErrShuttingDown = errors.New("transport is shutting down")
)

// wrapTransportErr maps low level transport failures to the typed errors of
// this package. Deadline expiry is distinguished from other failures. The
// returned error never carries query content.
func wrapTransportErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTransport),
		errors.Is(err, ErrShuttingDown),
		errors.Is(err, ErrConfigIncomplete):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: query canceled", ErrTransport)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}

	return fmt.Errorf("%w: %s", ErrTransport, err)
}
