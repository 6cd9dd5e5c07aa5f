package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dispatch-gateway/internal/qr"
	"dispatch-gateway/internal/transport"
)

var (
	// ErrPairingTimeout is returned when no pairing artifact arrives before the deadline.
	ErrPairingTimeout = fmt.Errorf("%w: pairing code timeout", transport.ErrSession)

	// ErrPairingAborted is returned to waiters when the session leaves the
	// pairing phase (authenticated or failed) before a new code arrives.
	ErrPairingAborted = fmt.Errorf("%w: pairing no longer pending", transport.ErrSession)
)

// Artifact is a rendered pairing code.
type Artifact struct {
	Payload  string
	Image    []byte // PNG
	IssuedAt time.Time
}

// DataURL returns the image as a data:image/png;base64 URL.
func (a Artifact) DataURL() string {
	return qr.DataURL(a.Image)
}

type waitResult struct {
	artifact Artifact
	err      error
}

// Broker caches the latest pairing artifact and fans each new one out to
// every caller currently waiting for it. Each waiter has its own deadline.
// After Abort the broker stays closed until the next Publish.
type Broker struct {
	mu      sync.Mutex
	current *Artifact
	closed  bool
	waiters map[uint64]chan waitResult
	nextID  uint64
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		waiters: make(map[uint64]chan waitResult),
	}
}

// Await returns the cached artifact immediately if there is one, and
// ErrPairingAborted if the broker is closed. Otherwise it waits for the next
// Publish, the timeout, or ctx, whichever comes first. A waiter that gives
// up is removed and can't be resolved later.
func (b *Broker) Await(ctx context.Context, timeout time.Duration) (Artifact, error) {
	b.mu.Lock()
	if b.current != nil {
		a := *b.current
		b.mu.Unlock()
		return a, nil
	}
	if b.closed {
		b.mu.Unlock()
		return Artifact{}, ErrPairingAborted
	}
	if timeout <= 0 {
		b.mu.Unlock()
		return Artifact{}, ErrPairingTimeout
	}

	id := b.nextID
	b.nextID++
	ch := make(chan waitResult, 1)
	b.waiters[id] = ch
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.artifact, res.err
	case <-timer.C:
		return b.giveUp(id, ch, ErrPairingTimeout)
	case <-ctx.Done():
		return b.giveUp(id, ch, ctx.Err())
	}
}

// giveUp deregisters a waiter. If a resolution raced in before the waiter was
// removed, that resolution wins.
func (b *Broker) giveUp(id uint64, ch chan waitResult, err error) (Artifact, error) {
	b.mu.Lock()
	if _, ok := b.waiters[id]; ok {
		delete(b.waiters, id)
		b.mu.Unlock()
		return Artifact{}, err
	}
	b.mu.Unlock()

	res := <-ch
	return res.artifact, res.err
}

// Publish caches a and resolves every registered waiter with it.
func (b *Broker) Publish(a Artifact) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = &a
	b.closed = false
	b.resolveLocked(waitResult{artifact: a})
}

// Abort clears the cached artifact, fails every registered waiter with
// ErrPairingAborted, and closes the broker so later waiters fail the same way.
func (b *Broker) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = nil
	b.closed = true
	b.resolveLocked(waitResult{err: ErrPairingAborted})
}

func (b *Broker) resolveLocked(res waitResult) {
	for id, ch := range b.waiters {
		ch <- res
		delete(b.waiters, id)
	}
}

// Current returns the cached artifact, if any.
func (b *Broker) Current() (Artifact, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return Artifact{}, false
	}
	return *b.current, true
}

// Waiting returns the number of registered waiters.
func (b *Broker) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// IsAborted reports whether err came from Abort.
func IsAborted(err error) bool {
	return errors.Is(err, ErrPairingAborted)
}
