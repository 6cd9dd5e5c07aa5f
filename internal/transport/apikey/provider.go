// Package apikey delivers messages through a hosted WhatsApp provider that
// authenticates with a fixed instance id and access token.
package apikey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
	waLog "go.mau.fi/whatsmeow/util/log"

	"dispatch-gateway/internal/infra/config"
	"dispatch-gateway/internal/message"
	"dispatch-gateway/internal/transport"
)

// Provider is the stateless API-key transport. Every Send is one POST.
type Provider struct {
	client      *resty.Client
	endpoint    string
	instanceID  string
	accessToken string
	log         waLog.Logger
}

// payload is the provider's request body.
type payload struct {
	Number      string `json:"number"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	InstanceID  string `json:"instance_id"`
	AccessToken string `json:"access_token"`
	MediaURL    string `json:"media_url,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// response is the part of the provider's reply we interpret.
type response struct {
	Success *bool `json:"success"`
}

// NewProvider creates a Provider for the configured endpoint and credentials.
func NewProvider(cfg config.ProviderConfig, log waLog.Logger) *Provider {
	l := log.Sub("APIKey")
	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetLogger(l)

	return &Provider{
		client:      client,
		endpoint:    cfg.Endpoint,
		instanceID:  cfg.InstanceID,
		accessToken: cfg.AccessToken,
		log:         l,
	}
}

// Send posts msg to the provider and normalizes the reply. A provider that
// answers but reports failure yields an unsuccessful Result; an unreachable
// provider, a non-2xx status or an unreadable body is an error wrapping
// transport.ErrNetwork. Nothing is retried.
func (p *Provider) Send(ctx context.Context, msg *message.Outbound) (*transport.Result, error) {
	body := payload{
		Number:      msg.Recipient(),
		Type:        string(msg.Kind()),
		Message:     msg.Body(),
		InstanceID:  p.instanceID,
		AccessToken: p.accessToken,
	}
	if msg.IsMedia() {
		body.MediaURL = msg.MediaRef()
		body.Filename = msg.Filename()
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %v", transport.ErrNetwork, err)
	}

	raw := resp.Body()
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: provider status %d: %s", transport.ErrNetwork, resp.StatusCode(), truncate(raw, 512))
	}

	// A reply without "success" is unusable, not a refusal: it maps to
	// ErrNetwork so the caller reports a transport failure.
	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Success == nil {
		return nil, fmt.Errorf("%w: malformed provider response: %s", transport.ErrNetwork, truncate(raw, 512))
	}

	result := &transport.Result{
		Success:         *parsed.Success,
		ProviderPayload: json.RawMessage(raw),
	}
	if !result.Success {
		result.Detail = transport.DetailProviderRejected
		p.log.Errorf("Provider rejected message to %s: %s", msg.Recipient(), raw)
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
