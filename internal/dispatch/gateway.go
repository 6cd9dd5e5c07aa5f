// Package dispatch is the single entry point callers use to send a message
// through either transport. It validates, routes, and shapes the response.
package dispatch

import (
	"context"
	"errors"
	"net/http"

	waLog "go.mau.fi/whatsmeow/util/log"

	"dispatch-gateway/internal/data/store"
	"dispatch-gateway/internal/message"
	"dispatch-gateway/internal/session"
	"dispatch-gateway/internal/transport"
)

// Response messages.
const (
	MsgSent          = "Message sent successfully."
	MsgSendFailed    = "Failed to send message."
	MsgNetworkFailed = "An error occurred while sending the message."
	ErrQRFailed      = "Failed to generate QR code"
	ErrSessionSend   = "Failed to send message"
)

// Kind selects the transport.
type Kind string

const (
	KindAPIKey  Kind = "apikey"
	KindSession Kind = "session"
)

// Request is a dispatch request as callers submit it.
type Request struct {
	Number      string `json:"number"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Message     string `json:"message"`
	Type        string `json:"type,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// Recipient returns Number, falling back to the phoneNumber alias.
func (r Request) Recipient() string {
	if r.Number != "" {
		return r.Number
	}
	return r.PhoneNumber
}

// Response is the send-path outcome. Status is the HTTP-analogous code.
type Response struct {
	Status     int    `json:"-"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	RequiresQR bool   `json:"requiresQr,omitempty"`
	QRCode     string `json:"qrCode,omitempty"`
}

// StatusResponse is the session status query outcome.
type StatusResponse struct {
	Status        int    `json:"-"`
	Authenticated bool   `json:"authenticated"`
	QRCode        string `json:"qrCode,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Session is the part of session.Manager the gateway drives.
type Session interface {
	Initialize() error
	Status() session.Status
	FailureReason() string
	Send(ctx context.Context, msg *message.Outbound) (*transport.Result, error)
	AwaitArtifact(ctx context.Context) (session.Artifact, error)
}

// Recorder persists dispatch attempts.
type Recorder interface {
	Record(ctx context.Context, d *store.Dispatch) error
}

// Gateway routes dispatch requests. Either transport may be nil when disabled.
type Gateway struct {
	apiKey   transport.Sender
	session  Session
	recorder Recorder
	log      waLog.Logger
}

// New creates a Gateway. recorder may be nil.
func New(apiKey transport.Sender, sess Session, recorder Recorder, log waLog.Logger) *Gateway {
	return &Gateway{
		apiKey:   apiKey,
		session:  sess,
		recorder: recorder,
		log:      log.Sub("Gateway"),
	}
}

// Dispatch validates req and delivers it through the transport named by kind.
func (g *Gateway) Dispatch(ctx context.Context, req Request, kind Kind) *Response {
	msg, err := g.build(req)
	if err != nil {
		g.log.Warnf("Rejected %s dispatch: %v", kind, err)
		g.record(ctx, kind, nil, req, store.OutcomeInvalid, err.Error(), nil)
		// The session route reports failures in "error", the API-key route in "message".
		if kind == KindSession {
			return &Response{Status: http.StatusBadRequest, Error: err.Error()}
		}
		return &Response{Status: http.StatusBadRequest, Message: err.Error()}
	}

	g.log.Infof("Dispatching %s message to %s (%s) via %s", msg.Kind(), msg.Recipient(), message.Region(msg.Recipient()), kind)

	switch kind {
	case KindAPIKey:
		return g.dispatchAPIKey(ctx, msg)
	case KindSession:
		return g.dispatchSession(ctx, msg)
	default:
		return &Response{Status: http.StatusBadRequest, Message: "Unsupported transport."}
	}
}

func (g *Gateway) build(req Request) (*message.Outbound, error) {
	// Field and phone checks take precedence over an unknown type.
	kind, kindErr := message.ParseKind(req.Type)
	msg, err := message.Build(req.Recipient(), req.Message, kind, req.MediaURL, req.Filename)
	if err != nil {
		return nil, err
	}
	if kindErr != nil {
		return nil, kindErr
	}
	return msg, nil
}

func (g *Gateway) dispatchAPIKey(ctx context.Context, msg *message.Outbound) *Response {
	if g.apiKey == nil {
		return &Response{Status: http.StatusServiceUnavailable, Message: MsgSendFailed}
	}

	res, err := g.apiKey.Send(ctx, msg)
	if err == nil && !res.Success {
		err = transport.ErrProviderRejected
	}

	var payload []byte
	detail := transport.DetailProviderRejected
	if res != nil {
		payload = res.ProviderPayload
		if res.Detail != "" {
			detail = res.Detail
		}
	}

	switch {
	case err == nil:
		g.record(ctx, KindAPIKey, msg, Request{}, store.OutcomeSent, "", payload)
		return &Response{Status: http.StatusOK, Success: true, Message: MsgSent}
	case errors.Is(err, transport.ErrProviderRejected):
		g.record(ctx, KindAPIKey, msg, Request{}, store.OutcomeRejected, detail, payload)
		return &Response{Status: http.StatusInternalServerError, Message: MsgSendFailed}
	default:
		g.log.Errorf("API-key dispatch to %s failed: %v", msg.Recipient(), err)
		g.record(ctx, KindAPIKey, msg, Request{}, store.OutcomeFailed, err.Error(), nil)
		return &Response{Status: http.StatusInternalServerError, Message: MsgNetworkFailed}
	}
}

func (g *Gateway) dispatchSession(ctx context.Context, msg *message.Outbound) *Response {
	if g.session == nil {
		return &Response{Status: http.StatusServiceUnavailable, Error: "Session transport disabled"}
	}

	if err := g.session.Initialize(); err != nil {
		g.log.Errorf("Session initialization failed: %v", err)
		g.record(ctx, KindSession, msg, Request{}, store.OutcomeFailed, err.Error(), nil)
		return &Response{Status: http.StatusInternalServerError, Error: err.Error()}
	}

	res, err := g.session.Send(ctx, msg)
	if pr, ok := session.IsPairingRequired(err); ok {
		if pr.Artifact != nil {
			return g.requireQR(ctx, msg, *pr.Artifact)
		}

		artifact, werr := g.session.AwaitArtifact(ctx)
		switch {
		case werr == nil:
			return g.requireQR(ctx, msg, artifact)
		case session.IsAborted(werr) && g.session.Status().Authenticated():
			// Paired while we waited; one attempt, no loop.
			res, err = g.session.Send(ctx, msg)
		default:
			g.log.Warnf("No pairing code for %s: %v", msg.Recipient(), werr)
			g.record(ctx, KindSession, msg, Request{}, store.OutcomePairingRequired, werr.Error(), nil)
			return &Response{Status: http.StatusInternalServerError, Error: g.pairingError(werr)}
		}
	}

	switch {
	case err != nil:
		if _, ok := session.IsPairingRequired(err); ok {
			g.record(ctx, KindSession, msg, Request{}, store.OutcomePairingRequired, err.Error(), nil)
			return &Response{Status: http.StatusInternalServerError, Error: ErrQRFailed}
		}
		g.log.Errorf("Session dispatch to %s failed: %v", msg.Recipient(), err)
		g.record(ctx, KindSession, msg, Request{}, store.OutcomeFailed, err.Error(), nil)
		return &Response{Status: http.StatusInternalServerError, Error: g.sessionError(err)}
	case !res.Success:
		g.record(ctx, KindSession, msg, Request{}, store.OutcomeFailed, res.Detail, nil)
		return &Response{Status: http.StatusInternalServerError, Error: ErrSessionSend}
	default:
		g.record(ctx, KindSession, msg, Request{}, store.OutcomeSent, "", nil)
		return &Response{Status: http.StatusOK, Success: true}
	}
}

func (g *Gateway) requireQR(ctx context.Context, msg *message.Outbound, a session.Artifact) *Response {
	g.record(ctx, KindSession, msg, Request{}, store.OutcomePairingRequired, "", nil)
	return &Response{Status: http.StatusOK, RequiresQR: true, QRCode: a.DataURL()}
}

// Status reports whether the session is authenticated, waiting for a
// pairing code the same way the send path does.
func (g *Gateway) Status(ctx context.Context) *StatusResponse {
	if g.session == nil {
		return &StatusResponse{Status: http.StatusServiceUnavailable, Error: "Session transport disabled"}
	}

	if err := g.session.Initialize(); err != nil {
		g.log.Errorf("Session initialization failed: %v", err)
		return &StatusResponse{Status: http.StatusInternalServerError, Error: err.Error()}
	}

	st := g.session.Status()
	switch {
	case st.Authenticated():
		return &StatusResponse{Status: http.StatusOK, Authenticated: true}
	case st.State == session.AuthFailed:
		return &StatusResponse{Status: http.StatusInternalServerError, Error: g.sessionError(session.ErrAuthFailed)}
	case st.Artifact != nil:
		return &StatusResponse{Status: http.StatusOK, QRCode: st.Artifact.DataURL()}
	}

	artifact, err := g.session.AwaitArtifact(ctx)
	if err == nil {
		return &StatusResponse{Status: http.StatusOK, QRCode: artifact.DataURL()}
	}
	if session.IsAborted(err) && g.session.Status().Authenticated() {
		return &StatusResponse{Status: http.StatusOK, Authenticated: true}
	}
	g.log.Warnf("Status query got no pairing code: %v", err)
	return &StatusResponse{Status: http.StatusInternalServerError, Error: g.pairingError(err)}
}

func (g *Gateway) pairingError(err error) string {
	if session.IsAborted(err) {
		return g.sessionError(session.ErrAuthFailed)
	}
	return ErrQRFailed
}

func (g *Gateway) sessionError(err error) string {
	if errors.Is(err, session.ErrAuthFailed) {
		if reason := g.session.FailureReason(); reason != "" {
			return "Authentication failed: " + reason
		}
		return "Authentication failed"
	}
	return err.Error()
}

// record logs an attempt to the recorder. When msg is nil the raw request is
// recorded instead. Recording failures never affect the response.
func (g *Gateway) record(ctx context.Context, kind Kind, msg *message.Outbound, req Request, outcome, detail string, payload []byte) {
	if g.recorder == nil {
		return
	}

	d := &store.Dispatch{
		Transport:       string(kind),
		Outcome:         outcome,
		Detail:          detail,
		ProviderPayload: string(payload),
	}
	if msg != nil {
		d.Recipient = msg.Recipient()
		d.Region = message.Region(msg.Recipient())
		d.Kind = string(msg.Kind())
		d.Body = msg.Body()
		d.MediaRef = msg.MediaRef()
		d.Filename = msg.Filename()
	} else {
		d.Recipient = req.Recipient()
		d.Kind = req.Type
		d.Body = req.Message
		d.MediaRef = req.MediaURL
		d.Filename = req.Filename
	}

	if err := g.recorder.Record(ctx, d); err != nil {
		g.log.Warnf("Failed to record dispatch: %v", err)
	}
}
