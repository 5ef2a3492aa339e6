package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReaper struct {
	calls atomic.Int32
	n     int
	err   error
}

func (r *countingReaper) ReapIdle(context.Context) (int, error) {
	r.calls.Add(1)
	return r.n, r.err
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("every now and then", &countingReaper{})
	assert.Error(t, err)
}

func TestScheduler_RunOnce(t *testing.T) {
	ok := &countingReaper{n: 3}
	s, err := NewScheduler("", ok)
	require.NoError(t, err)
	assert.Equal(t, 3, s.RunOnce(context.Background()))

	failing := &countingReaper{n: 3, err: errors.New("db down")}
	s, err = NewScheduler("", failing)
	require.NoError(t, err)
	assert.Zero(t, s.RunOnce(context.Background()))
}

func TestScheduler_RunFiresOnSchedule(t *testing.T) {
	reaper := &countingReaper{}
	s, err := NewScheduler("@every 1s", reaper)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return reaper.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
