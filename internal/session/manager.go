// Package session manages the single device-paired messaging session: its
// authentication state machine, the client handle, and QR pairing.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"dispatch-gateway/internal/message"
	"dispatch-gateway/internal/transport"
)

// ErrAuthFailed is returned by Send once authentication has failed. Recovery
// requires a process restart.
var ErrAuthFailed = fmt.Errorf("%w: authentication failed", transport.ErrSession)

// Client is the messaging client library handle.
type Client interface {
	// Connect registers emit for lifecycle events and starts connecting.
	// Events must be delivered in the order they occur.
	Connect(ctx context.Context, emit func(Event)) error

	// Send delivers msg. Only called once the session is authenticated.
	Send(ctx context.Context, msg *message.Outbound) error
}

// ClientFactory constructs the client handle. The Manager calls it at most once.
type ClientFactory func() (Client, error)

// RenderFunc turns a raw pairing payload into a PNG.
type RenderFunc func(payload string) ([]byte, error)

// PairingRequired is returned by Send when the session is not authenticated.
// Artifact is nil when no pairing code has been issued yet.
type PairingRequired struct {
	Artifact *Artifact
}

func (e *PairingRequired) Error() string {
	if e.Artifact != nil {
		return "session requires pairing: code available"
	}
	return "session requires pairing: waiting for code"
}

// Status is a snapshot of the session.
type Status struct {
	State    State
	Artifact *Artifact // set only while AwaitingPairing
}

// Authenticated reports whether the session can send.
func (s Status) Authenticated() bool { return s.State == Authenticated }

// Manager owns the client handle and the session state. One Manager exists
// per process; construct it at startup and share it.
type Manager struct {
	ctx         context.Context
	newClient   ClientFactory
	render      RenderFunc
	broker      *Broker
	pairTimeout time.Duration
	now         func() time.Time
	log         waLog.Logger

	mu     sync.Mutex
	state  State
	client Client
	reason string
}

// NewManager creates a Manager. ctx bounds the client connection's lifetime
// and should live as long as the process.
func NewManager(ctx context.Context, newClient ClientFactory, render RenderFunc, pairTimeout time.Duration, log waLog.Logger) *Manager {
	return &Manager{
		ctx:         ctx,
		newClient:   newClient,
		render:      render,
		broker:      NewBroker(),
		pairTimeout: pairTimeout,
		now:         time.Now,
		log:         log.Sub("Session"),
	}
}

// Initialize constructs and connects the client handle on first call. Later
// and concurrent calls are no-ops: exactly one handle is ever created.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	if m.state != Uninitialized {
		m.mu.Unlock()
		return nil
	}

	client, err := m.newClient()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: failed to create client: %v", transport.ErrSession, err)
	}
	m.client = client
	m.state = Initializing
	m.mu.Unlock()

	m.log.Infof("Session initializing")

	// Connect runs unlocked: the client may emit events synchronously.
	if err := client.Connect(m.ctx, m.apply); err != nil {
		m.apply(Event{Kind: EventAuthFailure, Reason: "connect failed: " + err.Error()})
		return fmt.Errorf("%w: failed to connect: %v", transport.ErrSession, err)
	}
	return nil
}

// apply feeds one lifecycle event through the state machine.
func (m *Manager) apply(evt Event) {
	var artifact Artifact
	if evt.Kind == EventPairingPayload {
		png, err := m.render(evt.Payload)
		if err != nil {
			m.log.Errorf("Dropping pairing code, render failed: %v", err)
			return
		}
		artifact = Artifact{Payload: evt.Payload, Image: png, IssuedAt: m.now()}
	}

	m.mu.Lock()
	prev := m.state
	next, ok := Next(prev, evt.Kind)
	if !ok {
		m.mu.Unlock()
		m.log.Debugf("Ignoring %s event in state %s", evt.Kind, prev)
		return
	}
	m.state = next

	switch next {
	case AwaitingPairing:
		m.broker.Publish(artifact)
	case Authenticated:
		m.reason = ""
		m.broker.Abort()
	case AuthFailed:
		m.reason = evt.Reason
		m.broker.Abort()
	}
	m.mu.Unlock()

	switch {
	case next == AuthFailed:
		m.log.Errorf("Authentication failed: %s", evt.Reason)
	case prev != next:
		m.log.Infof("Session %s -> %s (%s)", prev, next, evt.Kind)
	case evt.Kind == EventPairingPayload:
		m.log.Infof("Pairing code refreshed")
	}
}

// Status returns the current state and, while awaiting pairing, the cached artifact.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{State: m.state}
	if m.state == AwaitingPairing {
		if a, ok := m.broker.Current(); ok {
			st.Artifact = &a
		}
	}
	return st
}

// FailureReason returns why authentication failed, if it did.
func (m *Manager) FailureReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Send delivers msg through the client handle when authenticated. Otherwise
// it returns *PairingRequired without attempting delivery, or ErrAuthFailed.
// A failed send is reported as an unsuccessful Result and the handle is kept.
func (m *Manager) Send(ctx context.Context, msg *message.Outbound) (*transport.Result, error) {
	m.mu.Lock()
	state, client := m.state, m.client
	var cached *Artifact
	if a, ok := m.broker.Current(); ok && state == AwaitingPairing {
		cached = &a
	}
	m.mu.Unlock()

	switch state {
	case Authenticated:
	case AuthFailed:
		return nil, ErrAuthFailed
	default:
		return nil, &PairingRequired{Artifact: cached}
	}
	if client == nil {
		return nil, fmt.Errorf("%w: client not initialized", transport.ErrSession)
	}

	if err := client.Send(ctx, msg); err != nil {
		m.log.Errorf("Failed to send %s message to %s: %v", msg.Kind(), msg.Recipient(), err)
		return &transport.Result{Success: false, Detail: transport.DetailSendFailed}, nil
	}
	return &transport.Result{Success: true}, nil
}

// AwaitArtifact waits up to the configured deadline for a pairing artifact.
// Once the session has left the pairing phase it returns ErrPairingAborted
// without waiting.
func (m *Manager) AwaitArtifact(ctx context.Context) (Artifact, error) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state == Authenticated || state == AuthFailed {
		return Artifact{}, ErrPairingAborted
	}
	// An Abort landing after the check closes the broker, so Await still
	// returns promptly.
	return m.broker.Await(ctx, m.pairTimeout)
}

// Broker exposes the pairing broker, mainly for waiter inspection.
func (m *Manager) Broker() *Broker {
	return m.broker
}

// IsPairingRequired unwraps a *PairingRequired from err.
func IsPairingRequired(err error) (*PairingRequired, bool) {
	var pr *PairingRequired
	if errors.As(err, &pr) {
		return pr, true
	}
	return nil, false
}
