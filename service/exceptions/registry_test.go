package exceptions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddReplacesExisting(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Add("example.com", "9.9.9.9")
	reg.Add("Example.COM.", "1.1.1.1") // same domain, different form

	// Domain keys are unique, the later add replaced the earlier one.
	assert.Equal(t, 1, reg.Count())
	exception, ok := reg.Lookup("example.com")
	require.True(t, ok)
	assert.Equal(t, "1.1.1.1", exception.Upstream)
	assert.False(t, exception.Created.IsZero())
}

func TestLookupNormalizes(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Add("tracker.example.net", "")

	_, ok := reg.Lookup("TRACKER.example.net.")
	assert.True(t, ok)

	// An exception applies to the exact domain only, not to subdomains.
	_, ok = reg.Lookup("sub.tracker.example.net")
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Add("example.com", "9.9.9.9")
	reg.Remove("example.com")

	_, ok := reg.Lookup("example.com")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Count())

	// Removing an unknown domain is a no-op.
	reg.Remove("unknown.example.com")
}

func TestListAndEmptyAdd(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Add("", "9.9.9.9") // empty domains are ignored
	assert.Empty(t, reg.List())

	reg.Add("a.example.com", "")
	reg.Add("b.example.com", "9.9.9.9")
	assert.Len(t, reg.List(), 2)
}
