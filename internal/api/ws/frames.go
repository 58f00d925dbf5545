package ws

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/ampviewer/internal/cacheurl"
)

// Frame types exchanged with the host page.
const (
	TypeAttach     = "attach"
	TypeDetach     = "detach"
	TypeMessage    = "message"
	TypePort       = "port"
	TypePopState   = "popstate"
	TypeVisibility = "visibility"
	TypePost       = "post"
	TypeHistory    = "history"
	TypeEvent      = "event"
	TypeError      = "error"
	TypePing       = "ping"
	TypePong       = "pong"
)

type header struct {
	Type string `json:"type"`
}

// AttachRequest asks the server to attach a publisher document.
type AttachRequest struct {
	Type     string              `json:"type"`
	URL      string              `json:"url"`
	Strategy string              `json:"strategy,omitempty"`
	Params   cacheurl.InitParams `json:"params,omitempty"`
}

// AttachReply tells the page where to point the new iframe.
type AttachReply struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Frame  string `json:"frame"`
	Src    string `json:"src"`
	Origin string `json:"origin"`
}

// DetachRequest tears down one attachment.
type DetachRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// MessageFrame is a window message event seen by the page, tagged with the
// iframe it came from.
type MessageFrame struct {
	Type   string          `json:"type"`
	Origin string          `json:"origin"`
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// PortFrame carries a message over a transferred channel, in either
// direction.
type PortFrame struct {
	Type    string          `json:"type"`
	Channel int             `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// PopStateRequest reports a browser history pop. A nil State means the
// popped entry carried no state.
type PopStateRequest struct {
	Type  string `json:"type"`
	State *int   `json:"state"`
}

// VisibilityRequest changes document visibility. An empty ID applies to
// every attachment of the connection.
type VisibilityRequest struct {
	Type          string `json:"type"`
	ID            string `json:"id,omitempty"`
	State         string `json:"state"`
	PrerenderSize int    `json:"prerenderSize"`
}

// PostFrame asks the page to postMessage into an iframe. A non-zero
// Channel means a new MessageChannel must be created and its second port
// transferred with the message.
type PostFrame struct {
	Type    string          `json:"type"`
	Frame   string          `json:"frame"`
	Target  string          `json:"target"`
	Channel int             `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// HistoryFrame asks the page to push a history entry.
type HistoryFrame struct {
	Type  string `json:"type"`
	State int    `json:"state"`
	URL   string `json:"url"`
}

// EventFrame relays an application request from the document in Frame.
type EventFrame struct {
	Type  string          `json:"type"`
	Frame string          `json:"frame"`
	Name  string          `json:"name"`
	Data  json.RawMessage `json:"data,omitempty"`
	RSVP  bool            `json:"rsvp,omitempty"`
}

// ErrorFrame reports a failed client request.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// decodeFrame parses an inbound frame into its typed form.
func decodeFrame(data []byte) (any, error) {
	var h header
	if err := sonic.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	var v any
	switch h.Type {
	case TypeAttach:
		v = &AttachRequest{}
	case TypeDetach:
		v = &DetachRequest{}
	case TypeMessage:
		v = &MessageFrame{}
	case TypePort:
		v = &PortFrame{}
	case TypePopState:
		v = &PopStateRequest{}
	case TypeVisibility:
		v = &VisibilityRequest{}
	case TypePing:
		return &header{Type: TypePing}, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", h.Type)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("invalid %s frame: %w", h.Type, err)
	}
	return v, nil
}

// rawData embeds a postMessage payload in a frame. JSON payloads are kept
// as is; anything else is sent as a JSON string.
func rawData(data []byte) json.RawMessage {
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	b, _ := sonic.Marshal(string(data))
	return b
}

// payload unwraps a frame's data field into postMessage bytes. A JSON
// string is unquoted so documents that post serialized envelopes work.
func payload(raw json.RawMessage) []byte {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := sonic.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}
