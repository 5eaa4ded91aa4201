package svcctl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForEvent reads events until one reports want
func waitForEvent(t *testing.T, events <-chan WatchEvent, want Status) ServiceState {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("watch closed before reaching %s", want)
			}
			if ev.Err != nil {
				t.Fatalf("unexpected watch error: %v", ev.Err)
			}
			if ev.State.Status == want {
				return ev.State
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestWatchFollowsRecord(t *testing.T) {
	f := newManagerFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, cleanup, err := f.m.Watch(ctx, "api")
	require.NoError(t, err)
	defer func() { assert.NoError(t, cleanup()) }()

	// The first event is the current state
	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
		assert.Equal(t, StatusNotInstalled, ev.State.Status)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for initial event")
	}

	_, err = f.m.Install(ctx, testDescriptor(t, "api", nil))
	require.NoError(t, err)
	waitForEvent(t, events, StatusInstalled)

	_, err = f.m.Start(ctx, "api")
	require.NoError(t, err)
	st := waitForEvent(t, events, StatusRunning)
	assert.Equal(t, f.backend.PID("api"), st.PID)

	_, err = f.m.Stop(ctx, "api")
	require.NoError(t, err)
	waitForEvent(t, events, StatusStopped)

	require.NoError(t, f.m.Uninstall(ctx, "api"))
	waitForEvent(t, events, StatusNotInstalled)
}

func TestWatchIgnoresOtherServices(t *testing.T) {
	f := newManagerFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, cleanup, err := f.m.Watch(ctx, "api")
	require.NoError(t, err)
	defer func() { _ = cleanup() }()
	<-events

	_, err = f.m.Install(ctx, testDescriptor(t, "web", nil))
	require.NoError(t, err)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for another service: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchCleanup(t *testing.T) {
	f := newManagerFixture(t)

	t.Run("NormalOperation", func(t *testing.T) {
		events, cleanup, err := f.m.Watch(context.Background(), "api")
		require.NoError(t, err)
		<-events

		done := make(chan error, 1)
		go func() { done <- cleanup() }()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("cleanup took too long")
		}

		// The channel is closed once the watch is gone
		for range events {
		}
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		events, cleanup, err := f.m.Watch(ctx, "api")
		require.NoError(t, err)
		defer func() { _ = cleanup() }()

		cancel()

		// Events channel should close eventually
		timeout := time.After(500 * time.Millisecond)
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return
				}
			case <-timeout:
				t.Fatal("events channel didn't close after context cancellation")
			}
		}
	})

	t.Run("MultipleCleanups", func(t *testing.T) {
		_, cleanup, err := f.m.Watch(context.Background(), "api")
		require.NoError(t, err)
		require.NoError(t, cleanup())

		done := make(chan error, 1)
		go func() { done <- cleanup() }()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(500 * time.Millisecond):
			t.Fatal("second cleanup took too long")
		}
	})

	t.Run("InvalidName", func(t *testing.T) {
		_, _, err := f.m.Watch(context.Background(), "no/slash")
		assert.ErrorIs(t, err, ErrInvalidName)
	})
}

func TestWaitForStatus(t *testing.T) {
	f := newManagerFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := f.m.Install(ctx, testDescriptor(t, "api", nil))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = f.m.Start(context.Background(), "api")
	}()

	st, err := f.m.Wait(ctx, "api", StatusRunning, StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status)

	// Already in the wanted status returns immediately
	st, err = f.m.Wait(ctx, "api", StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status)
}

func TestWaitForAnyChange(t *testing.T) {
	f := newManagerFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := f.m.Install(ctx, testDescriptor(t, "api", nil))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = f.m.Start(context.Background(), "api")
	}()

	st, err := f.m.Wait(ctx, "api")
	require.NoError(t, err)
	assert.NotEqual(t, StatusInstalled, st.Status)
}

func TestWaitTimeout(t *testing.T) {
	f := newManagerFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.m.Wait(ctx, "api", StatusRunning)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}
