package dedupe

import (
	"testing"
	"time"

	commonerrors "github.com/tradsys/clobcore/internal/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginRejectsInFlightDuplicate(t *testing.T) {
	r := New(time.Minute, 0)

	require.NoError(t, r.Begin("alice", "req-1"))

	err := r.Begin("alice", "req-1")
	assert.Error(t, err)
	assert.True(t, commonerrors.Is(err, commonerrors.RegistryAlreadyInFlight))
}

func TestFinishThenRetryStillRejected(t *testing.T) {
	r := New(time.Minute, 0)

	require.NoError(t, r.Begin("alice", "req-1"))
	r.Finish("alice", "req-1")

	err := r.Begin("alice", "req-1")
	assert.Error(t, err)
	assert.True(t, commonerrors.Is(err, commonerrors.RegistryAlreadyInFlight))
}

func TestEmptyClientRequestIDBypassesDedup(t *testing.T) {
	r := New(time.Minute, 0)

	assert.NoError(t, r.Begin("alice", ""))
	assert.NoError(t, r.Begin("alice", ""))
}

func TestDifferentPartiesDoNotCollide(t *testing.T) {
	r := New(time.Minute, 0)

	require.NoError(t, r.Begin("alice", "req-1"))
	assert.NoError(t, r.Begin("bob", "req-1"))
}

func TestSubmissionRateThrottlesBurst(t *testing.T) {
	r := New(time.Minute, 2)

	require.NoError(t, r.Begin("alice", ""))
	require.NoError(t, r.Begin("alice", ""))

	err := r.Begin("alice", "")
	assert.Error(t, err)
	assert.True(t, commonerrors.Is(err, commonerrors.Throttled))
}

func TestZeroSubmissionRateDisablesThrottle(t *testing.T) {
	r := New(time.Minute, 0)

	for i := 0; i < 10; i++ {
		assert.NoError(t, r.Begin("alice", ""))
	}
}
