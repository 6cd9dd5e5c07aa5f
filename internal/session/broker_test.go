package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-gateway/internal/transport"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestAwaitReturnsCachedImmediately(t *testing.T) {
	b := NewBroker()
	want := Artifact{Payload: "code-1", Image: []byte{1}}
	b.Publish(want)

	for _, timeout := range []time.Duration{0, time.Millisecond, time.Hour} {
		start := time.Now()
		got, err := b.Await(t.Context(), timeout)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	}
	assert.Zero(t, b.Waiting())
}

func TestAwaitZeroTimeoutWithoutArtifact(t *testing.T) {
	b := NewBroker()
	_, err := b.Await(t.Context(), 0)
	require.ErrorIs(t, err, ErrPairingTimeout)
	assert.ErrorIs(t, err, transport.ErrSession)
	assert.Zero(t, b.Waiting())
}

func TestPublishResolvesAllWaiters(t *testing.T) {
	b := NewBroker()
	const n = 8

	var wg sync.WaitGroup
	results := make([]Artifact, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.Await(context.Background(), 5*time.Second)
		}(i)
	}
	waitFor(t, func() bool { return b.Waiting() == n })

	art := Artifact{Payload: "code-2", Image: []byte{2}, IssuedAt: time.Now()}
	start := time.Now()
	b.Publish(art)
	wg.Wait()

	assert.Less(t, time.Since(start), time.Second)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, art, results[i])
	}
	assert.Zero(t, b.Waiting())
}

func TestTimedOutWaiterIsRemoved(t *testing.T) {
	b := NewBroker()

	_, err := b.Await(t.Context(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrPairingTimeout)
	assert.Zero(t, b.Waiting())

	// A later, unrelated code only reaches new waiters.
	b.Publish(Artifact{Payload: "late"})
	got, err := b.Await(t.Context(), 0)
	require.NoError(t, err)
	assert.Equal(t, "late", got.Payload)
}

func TestIndependentDeadlines(t *testing.T) {
	b := NewBroker()

	short := make(chan error, 1)
	go func() {
		_, err := b.Await(context.Background(), 20*time.Millisecond)
		short <- err
	}()

	long := make(chan Artifact, 1)
	go func() {
		a, err := b.Await(context.Background(), 5*time.Second)
		assert.NoError(t, err)
		long <- a
	}()

	require.ErrorIs(t, <-short, ErrPairingTimeout)
	waitFor(t, func() bool { return b.Waiting() == 1 })

	b.Publish(Artifact{Payload: "code-3"})
	assert.Equal(t, "code-3", (<-long).Payload)
}

func TestAwaitContextCanceled(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := b.Await(ctx, time.Hour)
		done <- err
	}()
	waitFor(t, func() bool { return b.Waiting() == 1 })

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, b.Waiting())
}

func TestAbortFailsWaitersAndClears(t *testing.T) {
	b := NewBroker()
	b.Publish(Artifact{Payload: "old"})
	b.Abort()

	_, ok := b.Current()
	assert.False(t, ok)
	assert.Zero(t, b.Waiting())
}

func TestAbortResolvesPendingWaiters(t *testing.T) {
	b := NewBroker()

	done := make(chan error, 1)
	go func() {
		_, err := b.Await(context.Background(), time.Hour)
		done <- err
	}()
	waitFor(t, func() bool { return b.Waiting() == 1 })

	b.Abort()
	err := <-done
	assert.True(t, IsAborted(err))
	assert.ErrorIs(t, err, transport.ErrSession)
	assert.Zero(t, b.Waiting())
}

func TestAwaitAfterAbortFailsImmediately(t *testing.T) {
	b := NewBroker()
	b.Abort()

	start := time.Now()
	_, err := b.Await(t.Context(), time.Hour)
	assert.True(t, IsAborted(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, b.Waiting())

	// A new code reopens the broker.
	b.Publish(Artifact{Payload: "fresh"})
	a, err := b.Await(t.Context(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "fresh", a.Payload)
}

func TestArtifactDataURL(t *testing.T) {
	a := Artifact{Image: []byte("png")}
	assert.Equal(t, "data:image/png;base64,cG5n", a.DataURL())
}
