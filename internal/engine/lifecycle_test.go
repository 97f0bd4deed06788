package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLifecycleTransitions(t *testing.T) {
	l := NewLifecycle()
	require.Equal(t, StateLoading, l.State())
	require.False(t, l.Claim(), "cannot claim before starting")

	require.True(t, l.Begin())
	require.False(t, l.Begin())
	require.False(t, l.Complete(), "cannot skip submitting")

	require.True(t, l.Claim())
	require.Equal(t, StateSubmitting, l.State())
	require.True(t, l.Release())
	require.Equal(t, StateInProgress, l.State())

	require.True(t, l.Claim())
	require.True(t, l.Complete())
	require.Equal(t, StateSubmitted, l.State())
	require.False(t, l.Claim())
	require.False(t, l.Release())
}

func TestLifecycleClaimHasOneWinner(t *testing.T) {
	l := NewLifecycle()
	require.True(t, l.Begin())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Claim() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "in_progress", StateInProgress.String())
	require.Equal(t, "unknown", State(42).String())
}
