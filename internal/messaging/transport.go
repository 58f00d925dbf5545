package messaging

// Port is one end of a two-way message channel.
type Port interface {
	// PostMessage sends data to the other end. Delivery is asynchronous.
	PostMessage(data []byte) error
	// OnMessage installs the inbound handler, replacing any previous one.
	OnMessage(fn func(data []byte))
	// Close detaches the port. Later deliveries are dropped.
	Close()
}

// MessageEvent is a message delivered to a window.
type MessageEvent struct {
	Origin   string
	SourceID string
	Data     []byte
	// Ports holds any ports transferred with the message.
	Ports []Port
}

// Subscription is a handle for a window listener.
type Subscription interface {
	Cancel()
}

// Window is the host window receiving message events.
type Window interface {
	AddMessageListener(fn func(MessageEvent)) Subscription
}

// Frame is the embedded document's window as seen from the host.
// PostMessage must not call back into the caller synchronously; replies
// arrive later through the loop.
type Frame interface {
	// ID identifies the frame as the source of its message events.
	ID() string
	// PostMessage delivers data to the frame if its origin matches
	// targetOrigin ("*" matches any), transferring an optional port.
	PostMessage(data []byte, targetOrigin string, transfer Port) error
}
