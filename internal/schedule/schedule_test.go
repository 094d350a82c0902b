package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdd_RejectsBadSpec(t *testing.T) {
	s := New(time.UTC)
	err := s.Add(context.Background(), "digest", "every morning", func(context.Context) {})
	require.ErrorContains(t, err, "schedule digest")
}

func TestRun_FiresJobAndStops(t *testing.T) {
	s := New(time.UTC)
	var hits atomic.Int32
	require.NoError(t, s.Add(context.Background(), "tick", "@every 1s", func(context.Context) { hits.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return hits.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestNext_UsesLocation(t *testing.T) {
	loc := LoadLocation("America/Sao_Paulo")
	s := New(loc)
	require.NoError(t, s.Add(context.Background(), "digest", "0 8 * * *", func(context.Context) {}))

	s.cron.Start()
	defer s.cron.Stop()

	next := s.Next()
	require.Len(t, next, 1)
	require.Equal(t, 8, next[0].In(loc).Hour())
}

func TestLoadLocation_Fallback(t *testing.T) {
	require.Equal(t, time.UTC, LoadLocation("Mars/Olympus"))
}
