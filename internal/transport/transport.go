// Package transport holds the result and error taxonomy shared by the
// API-key and session transports.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"dispatch-gateway/internal/message"
)

// Detail strings carried by failed results.
const (
	DetailProviderRejected = "provider rejected message"
	DetailSendFailed       = "failed to send message"
)

var (
	// ErrValidation is the validation sentinel from the message package.
	ErrValidation = message.ErrValidation

	// ErrProviderRejected means the provider was reached but refused the message.
	ErrProviderRejected = errors.New("provider rejected message")

	// ErrNetwork means the provider was unreachable or answered with something unusable.
	ErrNetwork = errors.New("network error")

	// ErrSession covers a missing client handle, pairing timeouts and failed authentication.
	ErrSession = errors.New("session error")
)

// Result is the uniform outcome of a delivery attempt.
type Result struct {
	Success         bool            `json:"success"`
	Detail          string          `json:"detail,omitempty"`
	ProviderPayload json.RawMessage `json:"provider_payload,omitempty"`
}

// Sender delivers a validated message. Expected failures come back as an
// unsuccessful Result; errors are reserved for exceptional conditions.
type Sender interface {
	Send(ctx context.Context, msg *message.Outbound) (*Result, error)
}
