package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recurcal/internal/syncer"
)

type fakeRunner struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	modes   chan syncer.Mode
}

func (f *fakeRunner) Run(ctx context.Context, mode syncer.Mode, _ time.Time) syncer.Summary {
	f.calls.Add(1)
	if f.modes != nil {
		select {
		case f.modes <- mode:
		default:
		}
	}
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	return syncer.Summary{Success: true, Created: 2}
}

func TestTrigger_RecordsLastRun(t *testing.T) {
	at := time.Date(2025, 10, 8, 12, 0, 0, 0, time.UTC)
	s := New(&fakeRunner{}, Options{Now: func() time.Time { return at }})

	sum, err := s.Trigger(context.Background(), syncer.ModeManual)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Created)

	st := s.Status()
	assert.False(t, st.Running)
	assert.Equal(t, at, st.LastRun)
	assert.Equal(t, syncer.ModeManual, st.LastMode)
	require.NotNil(t, st.Last)
	assert.True(t, st.Last.Success)
	assert.True(t, st.NextRun.IsZero())
}

func TestTrigger_RejectsConcurrentRun(t *testing.T) {
	r := &fakeRunner{release: make(chan struct{}), started: make(chan struct{})}
	s := New(r, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Trigger(context.Background(), syncer.ModeAutomatic)
		assert.NoError(t, err)
	}()
	<-r.started

	assert.True(t, s.Status().Running)
	_, err := s.Trigger(context.Background(), syncer.ModeManual)
	assert.ErrorIs(t, err, ErrBusy)

	close(r.release)
	<-done
	assert.Equal(t, int32(1), r.calls.Load())
	assert.False(t, s.Status().Running)
}

func TestTrigger_Timeout(t *testing.T) {
	r := &fakeRunner{release: make(chan struct{})}
	s := New(r, Options{Timeout: 20 * time.Millisecond})

	_, err := s.Trigger(context.Background(), syncer.ModeManual)
	require.NoError(t, err)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestStart_InvalidSpec(t *testing.T) {
	s := New(&fakeRunner{}, Options{Spec: "not a cron"})
	assert.Error(t, s.Start(context.Background()))

	s = New(&fakeRunner{}, Options{})
	assert.Error(t, s.Start(context.Background()))
}

func TestStart_RunsAutomaticMode(t *testing.T) {
	r := &fakeRunner{modes: make(chan syncer.Mode, 4)}
	s := New(r, Options{Spec: "@every 1s", Location: time.UTC})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.False(t, s.Status().NextRun.IsZero())

	select {
	case mode := <-r.modes:
		assert.Equal(t, syncer.ModeAutomatic, mode)
	case <-time.After(5 * time.Second):
		t.Fatal("cron job did not fire")
	}
}

func TestServe_ReturnsOnCancel(t *testing.T) {
	s := New(&fakeRunner{}, Options{Spec: "@hourly"})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	require.Eventually(t, func() bool { return !s.Status().NextRun.IsZero() }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, "scheduler", s.String())
}
