package resolver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureTracking(t *testing.T) {
	t.Parallel()

	bt := newBasicTransport(&Config{ServerType: ServerTypeDoT, Host: "1.1.1.1", VerifyDomain: "x"})
	assert.False(t, bt.IsFailing())

	// Failures below the threshold do not mark the transport as failing.
	for range FailThreshold {
		bt.ReportFailure()
	}
	assert.False(t, bt.IsFailing())

	// One more within the observation window does.
	bt.ReportFailure()
	assert.True(t, bt.IsFailing())

	// Further reports are ignored while failing.
	bt.ReportFailure()
	assert.True(t, bt.IsFailing())

	bt.ResetFailure()
	assert.False(t, bt.IsFailing())
	assert.Equal(t, 0, bt.fails)
}

func TestFailureWindowExpiry(t *testing.T) {
	t.Parallel()

	bt := newBasicTransport(&Config{ServerType: ServerTypeDoT, Host: "1.1.1.1", VerifyDomain: "x"})

	// Old failures outside the observation window are discarded.
	bt.fails = FailThreshold
	bt.failingStarted = time.Now().Add(-2 * FailObserveDuration)
	bt.ReportFailure()
	assert.False(t, bt.IsFailing())
	assert.Equal(t, 1, bt.fails)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWrapTransportErr(t *testing.T) {
	t.Parallel()

	assert.NoError(t, wrapTransportErr(nil))

	// Deadline expiry maps to the distinguished timeout error.
	assert.ErrorIs(t, wrapTransportErr(context.DeadlineExceeded), ErrTimeout)
	var netErr net.Error = timeoutErr{}
	assert.ErrorIs(t, wrapTransportErr(netErr), ErrTimeout)

	// Timeout is a subtype of the transport error.
	assert.ErrorIs(t, ErrTimeout, ErrTransport)
	assert.ErrorIs(t, ErrMalformedResponse, ErrTransport)

	// Already typed errors pass through unchanged.
	assert.Equal(t, ErrShuttingDown, wrapTransportErr(ErrShuttingDown))
	assert.Equal(t, ErrConfigIncomplete, wrapTransportErr(ErrConfigIncomplete))

	// Everything else becomes a transport error.
	wrapped := wrapTransportErr(errors.New("connection refused"))
	assert.ErrorIs(t, wrapped, ErrTransport)
	assert.NotErrorIs(t, wrapped, ErrTimeout)
}
