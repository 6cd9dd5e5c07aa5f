// Package whatsapp adapts whatsmeow to the session transport's client contract.
package whatsapp

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"dispatch-gateway/internal/message"
	"dispatch-gateway/internal/session"
)

// Client wraps a whatsmeow.Client bound to one device.
type Client struct {
	wa     *whatsmeow.Client
	device *store.Device
	media  *resty.Client
	log    waLog.Logger
}

// NewClient creates a whatsmeow client for device. deviceName is shown in
// the phone's linked devices list.
func NewClient(device *store.Device, deviceName string, log waLog.Logger) *Client {
	if deviceName != "" {
		store.DeviceProps.Os = proto.String(deviceName)
	}

	wa := whatsmeow.NewClient(device, log.Sub("whatsmeow"))
	wa.EnableAutoReconnect = true
	wa.AutoTrustIdentity = true

	l := log.Sub("WhatsApp")
	return &Client{
		wa:     wa,
		device: device,
		media:  newMediaClient(l, maxMediaSize),
		log:    l,
	}
}

// newMediaClient returns the HTTP client used to fetch media references.
// Responses larger than limit bytes fail instead of being buffered.
func newMediaClient(log waLog.Logger, limit int) *resty.Client {
	return resty.New().
		SetLogger(log).
		SetResponseBodyLimit(limit)
}

// Connect registers the lifecycle hooks and connects. An unpaired device
// starts the QR pairing loop; a paired one reconnects with stored keys.
func (c *Client) Connect(ctx context.Context, emit func(session.Event)) error {
	c.wa.AddEventHandler(c.eventHandler(emit))

	go func() {
		<-ctx.Done()
		c.wa.Disconnect()
	}()

	if c.IsLoggedIn() {
		c.log.Infof("Using existing session for %s", c.device.ID)
		return c.wa.Connect()
	}

	c.log.Infof("No existing session, starting QR pairing")
	qrChan, err := c.wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	go c.pairLoop(ctx, qrChan, emit)
	return nil
}

// IsLoggedIn returns true if the device has stored credentials.
func (c *Client) IsLoggedIn() bool {
	return c.device.ID != nil
}

// eventHandler maps whatsmeow events onto session lifecycle events.
// whatsmeow calls it sequentially, so order is preserved.
func (c *Client) eventHandler(emit func(session.Event)) func(interface{}) {
	return func(evt interface{}) {
		switch e := evt.(type) {
		case *events.PairSuccess:
			c.log.Infof("Paired successfully as %s (%s)", e.ID, e.Platform)
			emit(session.Event{Kind: session.EventAuthenticated})

		case *events.Connected:
			c.log.Infof("Connected to WhatsApp")
			if c.IsLoggedIn() {
				emit(session.Event{Kind: session.EventReady})
			}

		case *events.PairError:
			emit(session.Event{Kind: session.EventAuthFailure, Reason: fmt.Sprintf("pairing failed: %v", e.Error)})

		case *events.LoggedOut:
			emit(session.Event{Kind: session.EventAuthFailure, Reason: "logged out: " + e.Reason.String()})

		case *events.ConnectFailure:
			if e.Reason.IsLoggedOut() {
				emit(session.Event{Kind: session.EventAuthFailure, Reason: "connect failure: " + e.Reason.String()})
				return
			}
			c.log.Warnf("Connect failure: %s %s", e.Reason, e.Message)

		case *events.TemporaryBan:
			emit(session.Event{Kind: session.EventAuthFailure, Reason: "temporary ban: " + e.String()})

		case *events.ClientOutdated:
			emit(session.Event{Kind: session.EventAuthFailure, Reason: "client outdated"})

		case *events.Disconnected:
			c.log.Warnf("Disconnected from WhatsApp")
		}
	}
}

// pairLoop forwards pairing codes until the device pairs. When whatsmeow
// runs out of codes it asks for a fresh channel, so an unpaired session
// keeps offering codes as long as the process runs.
func (c *Client) pairLoop(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem, emit func(session.Event)) {
	for {
		exhausted := false
		for item := range qrChan {
			switch item.Event {
			case whatsmeow.QRChannelEventCode:
				c.log.Debugf("New pairing code, valid for %s", item.Timeout)
				emit(session.Event{Kind: session.EventPairingPayload, Payload: item.Code})
			case whatsmeow.QRChannelSuccess.Event:
				return
			case whatsmeow.QRChannelTimeout.Event:
				exhausted = true
			case whatsmeow.QRChannelEventError:
				emit(session.Event{Kind: session.EventAuthFailure, Reason: fmt.Sprintf("pairing error: %v", item.Error)})
				return
			default:
				emit(session.Event{Kind: session.EventAuthFailure, Reason: "pairing ended: " + item.Event})
				return
			}
		}

		if !exhausted || ctx.Err() != nil || c.IsLoggedIn() {
			return
		}

		c.log.Infof("Pairing codes exhausted, requesting new ones")
		c.wa.Disconnect()
		next, err := c.wa.GetQRChannel(ctx)
		if err != nil {
			emit(session.Event{Kind: session.EventAuthFailure, Reason: "failed to restart pairing: " + err.Error()})
			return
		}
		if err := c.wa.Connect(); err != nil {
			emit(session.Event{Kind: session.EventAuthFailure, Reason: "failed to reconnect for pairing: " + err.Error()})
			return
		}
		qrChan = next
	}
}

// Send delivers msg to the recipient's personal chat.
func (c *Client) Send(ctx context.Context, msg *message.Outbound) error {
	to := RecipientJID(msg.Recipient())

	content, err := c.buildMessage(ctx, msg)
	if err != nil {
		return err
	}

	resp, err := c.wa.SendMessage(ctx, to, content)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	c.log.Debugf("Sent %s message %s to %s", msg.Kind(), resp.ID, to)
	return nil
}

// RecipientJID builds the personal-chat JID for a validated phone number.
func RecipientJID(number string) types.JID {
	return types.NewJID(number, types.DefaultUserServer)
}
