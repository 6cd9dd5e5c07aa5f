// Package message builds validated, transport-agnostic outbound messages.
package message

import (
	"errors"
	"regexp"

	"github.com/nyaruka/phonenumbers"
)

// Validation messages are user-facing and returned verbatim by the gateway.
const (
	MsgRequired         = "Number and message are required."
	MsgInvalidPhone     = "Invalid phone number format."
	MsgMediaRefRequired = "media_url is required for media type messages."
	MsgUnsupportedKind  = "Unsupported message type."
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError reports malformed or missing input. It never reaches a transport.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

var phonePattern = regexp.MustCompile(`^\d{10,15}$`)

// ValidPhone reports whether s is an acceptable recipient: 10 to 15 ASCII digits.
// No country-code normalization is performed.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}

// Region returns the ISO 3166-1 region of a validated number read as
// international (without the '+'), or "" when libphonenumber can't place it.
// Used for log context only.
func Region(number string) string {
	num, err := phonenumbers.Parse("+"+number, "")
	if err != nil {
		return ""
	}
	return phonenumbers.GetRegionCodeForNumber(num)
}

// Kind is the message type.
type Kind string

const (
	KindText  Kind = "text"
	KindMedia Kind = "media"
)

// ParseKind maps the request's type field to a Kind. Empty means text.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", string(KindText):
		return KindText, nil
	case string(KindMedia):
		return KindMedia, nil
	default:
		return "", &ValidationError{Detail: MsgUnsupportedKind}
	}
}

// Outbound is an immutable, validated message descriptor.
type Outbound struct {
	recipient string
	body      string
	kind      Kind
	mediaRef  string
	filename  string
}

// Build validates raw input and assembles an Outbound. Rules are checked in
// order: required fields, phone format, media reference for media kinds.
func Build(number, body string, kind Kind, mediaRef, filename string) (*Outbound, error) {
	if number == "" || body == "" {
		return nil, &ValidationError{Detail: MsgRequired}
	}
	if !ValidPhone(number) {
		return nil, &ValidationError{Detail: MsgInvalidPhone}
	}
	if kind == "" {
		kind = KindText
	}
	if kind == KindMedia && mediaRef == "" {
		return nil, &ValidationError{Detail: MsgMediaRefRequired}
	}

	m := &Outbound{
		recipient: number,
		body:      body,
		kind:      kind,
	}
	if kind == KindMedia {
		m.mediaRef = mediaRef
		m.filename = filename
	}
	return m, nil
}

func (m *Outbound) Recipient() string { return m.recipient }
func (m *Outbound) Body() string      { return m.body }
func (m *Outbound) Kind() Kind        { return m.kind }
func (m *Outbound) MediaRef() string  { return m.mediaRef }
func (m *Outbound) Filename() string  { return m.filename }
func (m *Outbound) IsMedia() bool     { return m.kind == KindMedia }
