package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies an inbound message.
type Kind int

const (
	// KindUnknown matches none of the known shapes and is dropped.
	KindUnknown Kind = iota
	// KindRegister is {"type":"register","id":...,"password":...}.
	KindRegister
	// KindCommand is any object with a string "target_id".
	KindCommand
	// KindTelemetry is {"type":"telemetry","id":...} plus payload.
	KindTelemetry
)

// String returns the lower-case name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindCommand:
		return "command"
	case KindTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Wire message types and server error texts.
const (
	TypeRegister   = "register"
	TypeTelemetry  = "telemetry"
	TypeAuthStatus = "auth_status"
	TypeError      = "error"

	StatusAuthorized   = "authorized"
	StatusUnauthorized = "unauthorized"

	MsgTargetOffline        = "Target device is offline"
	MsgDeliveryFailed       = "Failed to deliver command"
	MsgRegistrationRequired = "Registration required"
	MsgAlreadyRegistered    = "Already registered"
	MsgAuthUnavailable      = "Authentication service unavailable"
)

// Inbound is a decoded client frame. Raw holds the frame exactly as
// received and is what gets forwarded.
type Inbound struct {
	Kind Kind

	// ID is the register or telemetry identifier.
	ID string

	// Password is set for KindRegister only.
	Password string

	// TargetID is set for KindCommand only.
	TargetID string

	// Fields holds the top-level members of the object.
	Fields map[string]json.RawMessage

	Raw []byte
}

// Decode classifies a frame. Anything that is not a JSON object returns
// ErrMalformedMessage.
//
// Classification order: "type":"register" first, then a string
// "target_id", then "type":"telemetry" with a string "id".
func Decode(raw []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Inbound{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if fields == nil {
		return Inbound{}, fmt.Errorf("%w: null", ErrMalformedMessage)
	}

	msg := Inbound{Kind: KindUnknown, Fields: fields, Raw: raw}
	msgType, _ := stringField(fields, "type")

	if msgType == TypeRegister {
		msg.Kind = KindRegister
		msg.ID, _ = stringField(fields, "id")
		msg.Password, _ = stringField(fields, "password")
		return msg, nil
	}

	if target, ok := stringField(fields, "target_id"); ok {
		msg.Kind = KindCommand
		msg.TargetID = target
		return msg, nil
	}

	if msgType == TypeTelemetry {
		if id, ok := stringField(fields, "id"); ok {
			msg.Kind = KindTelemetry
			msg.ID = id
		}
	}
	return msg, nil
}

// stringField returns fields[key] when it is a JSON string.
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Telemetry is what TelemetrySinks receive for each routed telemetry frame.
type Telemetry struct {
	DeviceID   string
	Raw        []byte
	Fields     map[string]json.RawMessage
	ReceivedAt time.Time
}

type authStatusMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// authorizedMessage always carries "user", even when the owner name is empty.
type authorizedMessage struct {
	authStatusMessage
	User string `json:"user"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func authorizedFrame(user string) []byte {
	return mustMarshal(authorizedMessage{
		authStatusMessage: authStatusMessage{Type: TypeAuthStatus, Status: StatusAuthorized},
		User:              user,
	})
}

func unauthorizedFrame() []byte {
	return mustMarshal(authStatusMessage{Type: TypeAuthStatus, Status: StatusUnauthorized})
}

// ErrorFrame encodes {"type":"error","message":msg}.
func ErrorFrame(msg string) []byte {
	return mustMarshal(errorMessage{Type: TypeError, Message: msg})
}

// mustMarshal is only used with the fixed structs above, which cannot fail.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("relay: marshal %T: %v", v, err))
	}
	return b
}
