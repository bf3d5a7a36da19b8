package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var c Config
	require.Equal(t, defaultPollInterval, c.pollInterval())
	require.Equal(t, 30000, c.defaultTimeoutMs())
	require.Equal(t, 10, c.maxConcurrentJobs())
}

func TestConfigRespectsOverrides(t *testing.T) {
	c := Config{MaxConcurrentJobs: 3}
	require.Equal(t, 3, c.maxConcurrentJobs())
}

func TestTryAcquireRejectsSameJobAlreadyInFlight(t *testing.T) {
	s := &Scheduler{cfg: Config{MaxConcurrentJobs: 10}, inFlightJobs: make(map[string]bool)}

	require.True(t, s.tryAcquire("job-1"))
	require.False(t, s.tryAcquire("job-1"), "a second dispatch of the same job must not overlap the first")

	s.release("job-1")
	require.True(t, s.tryAcquire("job-1"), "after release the job can dispatch again")
}

func TestTryAcquireAllowsDifferentJobsConcurrently(t *testing.T) {
	s := &Scheduler{cfg: Config{MaxConcurrentJobs: 10}, inFlightJobs: make(map[string]bool)}

	require.True(t, s.tryAcquire("job-1"))
	require.True(t, s.tryAcquire("job-2"))
}

func TestTryAcquireRespectsConcurrencyCap(t *testing.T) {
	s := &Scheduler{cfg: Config{MaxConcurrentJobs: 1}, inFlightJobs: make(map[string]bool)}

	require.True(t, s.tryAcquire("job-1"))
	require.False(t, s.tryAcquire("job-2"), "cap of 1 must reject a second distinct job too")
}
