package messaging

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// AppTag marks every message that belongs to the viewer protocol.
const AppTag = "__AMPHTML__"

// Message types carried in the envelope "type" field.
const (
	TypeRequest  = "q"
	TypeResponse = "s"
)

// Well-known message names.
const (
	NameChannelOpen      = "channelOpen"
	NameHandshakePoll    = "handshake-poll"
	NameVisibilityChange = "visibilitychange"
	NameBroadcast        = "broadcast"
)

// ErrUnrecognized is returned by Decode for payloads that are not part of
// the protocol.
var ErrUnrecognized = errors.New("messaging: unrecognized message")

// envelope is the wire shape shared by every variant. RequestID is a
// pointer so that id 0 is still written for variants that carry one.
type envelope struct {
	App       string          `json:"app"`
	Name      string          `json:"name,omitempty"`
	RequestID *int            `json:"requestid,omitempty"`
	Type      string          `json:"type,omitempty"`
	RSVP      bool            `json:"rsvp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (e *envelope) requestID() int {
	if e.RequestID == nil {
		return 0
	}
	return *e.RequestID
}

// Variant is one of ChannelOpen, HandshakePoll, HandshakeResponse, Request
// or Response.
type Variant interface {
	variant()
}

// ChannelOpen is sent by the embedded document once it is ready.
type ChannelOpen struct {
	RequestID int
}

// HandshakePoll is the probe the host posts while polling.
type HandshakePoll struct{}

// HandshakeResponse acknowledges a ChannelOpen.
type HandshakeResponse struct {
	RequestID int
}

// Request is an application request. RSVP asks the receiver for a Response.
type Request struct {
	Name      string
	RequestID int
	RSVP      bool
	Data      json.RawMessage
}

// Response answers a Request with the same RequestID. A non-empty Error
// means the handler failed.
type Response struct {
	Name      string
	RequestID int
	Data      json.RawMessage
	Error     string
}

func (ChannelOpen) variant()       {}
func (HandshakePoll) variant()     {}
func (HandshakeResponse) variant() {}
func (Request) variant()           {}
func (Response) variant()          {}

// Encode serializes a variant to its wire form.
func Encode(v Variant) ([]byte, error) {
	env := envelope{App: AppTag}
	switch m := v.(type) {
	case ChannelOpen:
		env.Name = NameChannelOpen
		env.RequestID = &m.RequestID
		env.Type = TypeRequest
		env.RSVP = true
	case HandshakePoll:
		env.Name = NameHandshakePoll
	case HandshakeResponse:
		env.RequestID = &m.RequestID
		env.Type = TypeResponse
	case Request:
		env.Name = m.Name
		env.RequestID = &m.RequestID
		env.Type = TypeRequest
		env.RSVP = m.RSVP
		env.Data = m.Data
	case Response:
		env.Name = m.Name
		env.RequestID = &m.RequestID
		env.Type = TypeResponse
		env.Data = m.Data
		env.Error = m.Error
	default:
		return nil, fmt.Errorf("messaging: cannot encode %T", v)
	}
	return sonic.Marshal(&env)
}

// Decode parses a wire payload into a variant. Anything that is not valid
// JSON, lacks the application tag, or matches no variant yields
// ErrUnrecognized.
func Decode(data []byte) (Variant, error) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	if env.App != AppTag {
		return nil, ErrUnrecognized
	}

	switch {
	case env.Name == NameChannelOpen:
		return ChannelOpen{RequestID: env.requestID()}, nil
	case env.Name == NameHandshakePoll:
		return HandshakePoll{}, nil
	}

	switch env.Type {
	case TypeRequest:
		if env.Name == "" {
			return nil, fmt.Errorf("%w: request without name", ErrUnrecognized)
		}
		return Request{
			Name:      env.Name,
			RequestID: env.requestID(),
			RSVP:      env.RSVP,
			Data:      env.Data,
		}, nil
	case TypeResponse:
		return Response{
			Name:      env.Name,
			RequestID: env.requestID(),
			Data:      env.Data,
			Error:     env.Error,
		}, nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnrecognized, env.Type)
	}
}

// IsChannelOpen reports whether data is a channel-open signal.
func IsChannelOpen(data []byte) bool {
	v, err := Decode(data)
	if err != nil {
		return false
	}
	_, ok := v.(ChannelOpen)
	return ok
}

func marshalData(v any) (json.RawMessage, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	case []byte:
		return json.RawMessage(d), nil
	}
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("messaging: marshal payload: %w", err)
	}
	return b, nil
}
