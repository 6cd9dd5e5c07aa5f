package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"

	"dispatch-gateway/internal/data/store"
	"dispatch-gateway/internal/dispatch"
	"dispatch-gateway/internal/message"
	"dispatch-gateway/internal/session"
	"dispatch-gateway/internal/transport"
)

type fakeSender struct {
	mu     sync.Mutex
	calls  int
	result *transport.Result
	err    error
}

func (f *fakeSender) Send(_ context.Context, _ *message.Outbound) (*transport.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type fakeClient struct {
	mu      sync.Mutex
	emit    func(session.Event)
	sent    int
	sendErr error
	onStart func(emit func(session.Event))
}

func (f *fakeClient) Connect(_ context.Context, emit func(session.Event)) error {
	f.mu.Lock()
	f.emit = emit
	start := f.onStart
	f.mu.Unlock()
	if start != nil {
		start(emit)
	}
	return nil
}

func (f *fakeClient) Send(_ context.Context, _ *message.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return f.sendErr
}

func (f *fakeClient) fire(evt session.Event) {
	f.mu.Lock()
	emit := f.emit
	f.mu.Unlock()
	emit(evt)
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

type memRecorder struct {
	mu      sync.Mutex
	entries []store.Dispatch
	err     error
}

func (r *memRecorder) Record(_ context.Context, d *store.Dispatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *d)
	return r.err
}

func (r *memRecorder) last(t *testing.T) store.Dispatch {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.entries)
	return r.entries[len(r.entries)-1]
}

func render(payload string) ([]byte, error) {
	return []byte("png:" + payload), nil
}

func newManager(t *testing.T, client *fakeClient, pairTimeout time.Duration) *session.Manager {
	t.Helper()
	factory := func() (session.Client, error) { return client, nil }
	return session.NewManager(t.Context(), factory, render, pairTimeout, waLog.Noop)
}

func dataURL(payload string) string {
	return session.Artifact{Image: []byte("png:" + payload)}.DataURL()
}

func TestDispatchValidationMakesNoTransportCalls(t *testing.T) {
	tests := []struct {
		name string
		req  dispatch.Request
		want string
	}{
		{"missing number", dispatch.Request{Message: "hi"}, message.MsgRequired},
		{"missing message", dispatch.Request{Number: "919812345678"}, message.MsgRequired},
		{"17 digits", dispatch.Request{Number: "12345678901234567", Message: "hi"}, message.MsgInvalidPhone},
		{"media without ref", dispatch.Request{Number: "919812345678", Message: "hello", Type: "media"}, message.MsgMediaRefRequired},
		{"unknown type", dispatch.Request{Number: "919812345678", Message: "hello", Type: "sticker"}, message.MsgUnsupportedKind},
		{"bad phone beats unknown type", dispatch.Request{Number: "12ab", Message: "hello", Type: "sticker"}, message.MsgInvalidPhone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{result: &transport.Result{Success: true}}
			client := &fakeClient{}
			rec := &memRecorder{}
			gw := dispatch.New(sender, newManager(t, client, time.Second), rec, waLog.Noop)

			resp := gw.Dispatch(t.Context(), tt.req, dispatch.KindAPIKey)
			assert.Equal(t, http.StatusBadRequest, resp.Status)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.want, resp.Message)
			assert.Empty(t, resp.Error)

			resp = gw.Dispatch(t.Context(), tt.req, dispatch.KindSession)
			assert.Equal(t, http.StatusBadRequest, resp.Status)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.want, resp.Error)
			assert.Empty(t, resp.Message)

			assert.Zero(t, sender.calls)
			assert.Zero(t, client.sentCount())
			assert.Equal(t, store.OutcomeInvalid, rec.last(t).Outcome)
		})
	}
}

func TestDispatchAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		result  *transport.Result
		err     error
		status  int
		success bool
		message string
		outcome string
	}{
		{"sent", &transport.Result{Success: true}, nil, http.StatusOK, true, dispatch.MsgSent, store.OutcomeSent},
		{"rejected", &transport.Result{Success: false, Detail: transport.DetailProviderRejected}, nil, http.StatusInternalServerError, false, dispatch.MsgSendFailed, store.OutcomeRejected},
		{"network", nil, fmt.Errorf("%w: connection refused", transport.ErrNetwork), http.StatusInternalServerError, false, dispatch.MsgNetworkFailed, store.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{result: tt.result, err: tt.err}
			rec := &memRecorder{}
			gw := dispatch.New(sender, nil, rec, waLog.Noop)

			resp := gw.Dispatch(t.Context(), dispatch.Request{Number: "919812345678", Message: "hello"}, dispatch.KindAPIKey)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.success, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
			assert.Equal(t, 1, sender.calls)

			last := rec.last(t)
			assert.Equal(t, tt.outcome, last.Outcome)
			assert.Equal(t, "apikey", last.Transport)
			assert.Equal(t, "IN", last.Region)
		})
	}
}

func TestDispatchAPIKeyRecorderFailureIgnored(t *testing.T) {
	sender := &fakeSender{result: &transport.Result{Success: true}}
	gw := dispatch.New(sender, nil, &memRecorder{err: errors.New("disk full")}, waLog.Noop)

	resp := gw.Dispatch(t.Context(), dispatch.Request{PhoneNumber: "919812345678", Message: "hello"}, dispatch.KindAPIKey)
	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestDispatchSessionCachedArtifactSkipsSend(t *testing.T) {
	client := &fakeClient{}
	m := newManager(t, client, time.Second)
	require.NoError(t, m.Initialize())
	client.fire(session.Event{Kind: session.EventPairingPayload, Payload: "CODE-1"})

	gw := dispatch.New(nil, m, nil, waLog.Noop)
	resp := gw.Dispatch(t.Context(), dispatch.Request{Number: "919812345678", Message: "hello"}, dispatch.KindSession)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.False(t, resp.Success)
	assert.True(t, resp.RequiresQR)
	assert.Equal(t, dataURL("CODE-1"), resp.QRCode)
	assert.Zero(t, client.sentCount())
}

func TestDispatchSessionWaitsForFirstArtifact(t *testing.T) {
	client := &fakeClient{onStart: func(emit func(session.Event)) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			emit(session.Event{Kind: session.EventPairingPayload, Payload: "CODE-LATE"})
		}()
	}}
	gw := dispatch.New(nil, newManager(t, client, 5*time.Second), nil, waLog.Noop)

	start := time.Now()
	resp := gw.Dispatch(t.Context(), dispatch.Request{Number: "919812345678", Message: "hello"}, dispatch.KindSession)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.True(t, resp.RequiresQR)
	assert.Equal(t, dataURL("CODE-LATE"), resp.QRCode)
}

func TestDispatchSessionPairingTimeout(t *testing.T) {
	client := &fakeClient{}
	rec := &memRecorder{}
	gw := dispatch.New(nil, newManager(t, client, 30*time.Millisecond), rec, waLog.Noop)

	resp := gw.Dispatch(t.Context(), dispatch.Request{Number: "919812345678", Message: "hello"}, dispatch.KindSession)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.False(t, resp.Success)
	assert.Equal(t, dispatch.ErrQRFailed, resp.Error)
	assert.Equal(t, store.OutcomePairingRequired, rec.last(t).Outcome)
}

func TestDispatchSessionAuthenticatedWhileWaiting(t *testing.T) {
	client := &fakeClient{onStart: func(emit func(session.Event)) {
		go func() {
			time.Sleep(30 * time.Millisecond)
			emit(session.Event{Kind: session.EventAuthenticated})
		}()
	}}
	gw := dispatch.New(nil, newManager(t, client, 5*time.Second), nil, waLog.Noop)

	resp := gw.Dispatch(t.Context(), dispatch.Request{Number: "919812345678", Message: "hello"}, dispatch.KindSession)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, client.sentCount())
}

// authOnFirstSend authenticates the session right after the first Send
// reports that pairing is required, before the gateway starts waiting.
type authOnFirstSend struct {
	*session.Manager
	client *fakeClient
	once   sync.Once
}

func (s *authOnFirstSend) Send(ctx context.Context, msg *message.Outbound) (*transport.Result, error) {
	res, err := s.Manager.Send(ctx, msg)
	s.once.Do(func() { s.client.fire(session.Event{Kind: session.EventAuthenticated}) })
	return res, err
}

func TestDispatchSessionAuthenticatedBeforeWait(t *testing.T) {
	client := &fakeClient{}
	sess := &authOnFirstSend{Manager: newManager(t, client, 5*time.Second), client: client}
	gw := dispatch.New(nil, sess, nil, waLog.Noop)

	start := time.Now()
	resp := gw.Dispatch(t.Context(), dispatch.Request{Number: "919812345678", Message: "hello"}, dispatch.KindSession)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, client.sentCount())
}

func TestStatusAuthenticatedBeforeWait(t *testing.T) {
	client := &fakeClient{}
	m := newManager(t, client, 5*time.Second)
	require.NoError(t, m.Initialize())
	client.fire(session.Event{Kind: session.EventAuthenticated})

	start := time.Now()
	_, err := m.AwaitArtifact(t.Context())
	assert.True(t, session.IsAborted(err))
	assert.Less(t, time.Since(start), time.Second)

	st := dispatch.New(nil, m, nil, waLog.Noop).Status(t.Context())
	assert.Equal(t, http.StatusOK, st.Status)
	assert.True(t, st.Authenticated)
}

func TestDispatchSessionAuthenticated(t *testing.T) {
	client := &fakeClient{}
	m := newManager(t, client, time.Second)
	require.NoError(t, m.Initialize())
	client.fire(session.Event{Kind: session.EventReady})

	rec := &memRecorder{}
	gw := dispatch.New(nil, m, rec, waLog.Noop)
	resp := gw.Dispatch(t.Context(), dispatch.Request{Number: "919812345678", Message: "hello"}, dispatch.KindSession)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, client.sentCount())
	assert.Equal(t, store.OutcomeSent, rec.last(t).Outcome)
	assert.Equal(t, "session", rec.last(t).Transport)
}

func TestDispatchSessionSendFailure(t *testing.T) {
	client := &fakeClient{sendErr: errors.New("socket closed")}
	m := newManager(t, client, time.Second)
	require.NoError(t, m.Initialize())
	client.fire(session.Event{Kind: session.EventAuthenticated})

	gw := dispatch.New(nil, m, nil, waLog.Noop)
	resp := gw.Dispatch(t.Context(), dispatch.Request{Number: "919812345678", Message: "hello"}, dispatch.KindSession)

	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, dispatch.ErrSessionSend, resp.Error)
}

func TestDispatchSessionAuthFailed(t *testing.T) {
	client := &fakeClient{}
	m := newManager(t, client, time.Second)
	require.NoError(t, m.Initialize())
	client.fire(session.Event{Kind: session.EventAuthFailure, Reason: "logged out"})

	gw := dispatch.New(nil, m, nil, waLog.Noop)
	resp := gw.Dispatch(t.Context(), dispatch.Request{Number: "919812345678", Message: "hello"}, dispatch.KindSession)

	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, "Authentication failed: logged out", resp.Error)
	assert.Zero(t, client.sentCount())
}

func TestDispatchDisabledTransports(t *testing.T) {
	gw := dispatch.New(nil, nil, nil, waLog.Noop)
	req := dispatch.Request{Number: "919812345678", Message: "hello"}

	assert.Equal(t, http.StatusServiceUnavailable, gw.Dispatch(t.Context(), req, dispatch.KindAPIKey).Status)
	assert.Equal(t, http.StatusServiceUnavailable, gw.Dispatch(t.Context(), req, dispatch.KindSession).Status)
	assert.Equal(t, http.StatusServiceUnavailable, gw.Status(t.Context()).Status)
}

func TestStatusReturnsArtifactWhenItArrives(t *testing.T) {
	client := &fakeClient{onStart: func(emit func(session.Event)) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			emit(session.Event{Kind: session.EventPairingPayload, Payload: "CODE-500"})
		}()
	}}
	gw := dispatch.New(nil, newManager(t, client, 5*time.Second), nil, waLog.Noop)

	start := time.Now()
	st := gw.Status(t.Context())
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, http.StatusOK, st.Status)
	assert.False(t, st.Authenticated)
	assert.Equal(t, dataURL("CODE-500"), st.QRCode)
}

func TestStatusAuthenticated(t *testing.T) {
	client := &fakeClient{onStart: func(emit func(session.Event)) {
		emit(session.Event{Kind: session.EventReady})
	}}
	gw := dispatch.New(nil, newManager(t, client, time.Second), nil, waLog.Noop)

	st := gw.Status(t.Context())
	assert.Equal(t, http.StatusOK, st.Status)
	assert.True(t, st.Authenticated)
	assert.Empty(t, st.QRCode)
}

func TestStatusPairingTimeout(t *testing.T) {
	gw := dispatch.New(nil, newManager(t, &fakeClient{}, 20*time.Millisecond), nil, waLog.Noop)

	st := gw.Status(t.Context())
	assert.Equal(t, http.StatusInternalServerError, st.Status)
	assert.False(t, st.Authenticated)
	assert.Equal(t, dispatch.ErrQRFailed, st.Error)
}

func TestStatusAuthFailedWhileWaiting(t *testing.T) {
	client := &fakeClient{onStart: func(emit func(session.Event)) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			emit(session.Event{Kind: session.EventAuthFailure, Reason: "client outdated"})
		}()
	}}
	gw := dispatch.New(nil, newManager(t, client, 5*time.Second), nil, waLog.Noop)

	st := gw.Status(t.Context())
	assert.Equal(t, http.StatusInternalServerError, st.Status)
	assert.Equal(t, "Authentication failed: client outdated", st.Error)
}
