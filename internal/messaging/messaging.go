package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned for requests on a closed Messaging and used to
	// fail requests still pending at close.
	ErrClosed = errors.New("messaging: closed")
	// ErrNoHandler is sent back to the peer when a request has no handler.
	ErrNoHandler = errors.New("messaging: no handler for request")
)

// RequestHandler handles an inbound request. The returned data is sent
// back when rsvp is set; a returned error is sent as the response error.
type RequestHandler func(name string, data json.RawMessage, rsvp bool) (json.RawMessage, error)

// RemoteError is a failure reported by the peer in a response.
type RemoteError struct {
	Name    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("messaging: %s failed remotely: %s", e.Name, e.Message)
}

// Pending is an outbound request waiting for its response.
type Pending struct {
	RequestID int
	Name      string

	once sync.Once
	done chan struct{}
	data json.RawMessage
	err  error
}

func newPending(id int, name string) *Pending {
	return &Pending{RequestID: id, Name: name, done: make(chan struct{})}
}

func (p *Pending) resolve(data json.RawMessage, err error) {
	p.once.Do(func() {
		p.data, p.err = data, err
		close(p.done)
	})
}

// Done is closed when the response arrives or the request fails.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the response arrives or ctx ends. Waiting on the
// loop goroutine deadlocks because responses are delivered there.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.data, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolved reports whether the request has completed.
func (p *Pending) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Messaging is the request/response layer bound to one established port.
// It owns the correlation counter for that port.
type Messaging struct {
	port   Port
	logger *zap.Logger
	onDrop func(DropReason)

	mu             sync.Mutex
	counter        int
	pending        map[int]*Pending
	handlers       map[string]RequestHandler
	defaultHandler RequestHandler
	closed         bool
}

// NewMessaging binds a Messaging to port and takes over its inbound
// handler.
func NewMessaging(port Port, logger *zap.Logger) *Messaging {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Messaging{
		port:     port,
		logger:   logger,
		pending:  make(map[int]*Pending),
		handlers: make(map[string]RequestHandler),
	}
	port.OnMessage(m.handleMessage)
	return m
}

// SetDefaultHandler sets the handler for requests without a named handler.
func (m *Messaging) SetDefaultHandler(h RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultHandler = h
}

// RegisterHandler sets the handler for requests called name.
func (m *Messaging) RegisterHandler(name string, h RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
}

// SendRequest posts a request. With awaitResponse the returned Pending
// resolves when the matching response arrives; otherwise it is already
// resolved once the message is posted.
func (m *Messaging) SendRequest(name string, data any, awaitResponse bool) (*Pending, error) {
	payload, err := marshalData(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	m.counter++
	id := m.counter
	wire, err := Encode(Request{Name: name, RequestID: id, RSVP: awaitResponse, Data: payload})
	if err != nil {
		return nil, err
	}

	p := newPending(id, name)
	if awaitResponse {
		m.pending[id] = p
	}
	if err := m.port.PostMessage(wire); err != nil {
		delete(m.pending, id)
		return nil, fmt.Errorf("messaging: post %s: %w", name, err)
	}
	if !awaitResponse {
		p.resolve(nil, nil)
	}
	return p, nil
}

// PendingCount returns the number of requests awaiting a response.
func (m *Messaging) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close fails every pending request with ErrClosed and closes the port.
func (m *Messaging) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := m.pending
	m.pending = make(map[int]*Pending)
	m.mu.Unlock()

	for _, p := range pending {
		p.resolve(nil, ErrClosed)
	}
	m.port.Close()
}

func (m *Messaging) handleMessage(data []byte) {
	v, err := Decode(data)
	if err != nil {
		m.drop(DropUnrecognized, zap.Error(err))
		return
	}

	switch msg := v.(type) {
	case Request:
		m.handleRequest(msg)
	case Response:
		m.handleResponse(msg)
	case ChannelOpen, HandshakeResponse, HandshakePoll:
		m.drop(DropStale, zap.String("variant", fmt.Sprintf("%T", msg)))
	}
}

func (m *Messaging) handleRequest(req Request) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	h, ok := m.handlers[req.Name]
	if !ok {
		h = m.defaultHandler
	}
	m.mu.Unlock()

	var (
		out json.RawMessage
		err error
	)
	if h == nil {
		err = ErrNoHandler
	} else {
		out, err = h(req.Name, req.Data, req.RSVP)
	}

	if !req.RSVP {
		if err != nil {
			m.logger.Debug("Request handler failed",
				zap.String("name", req.Name),
				zap.Error(err))
		}
		return
	}

	resp := Response{Name: req.Name, RequestID: req.RequestID, Data: out}
	if err != nil {
		resp.Data = nil
		resp.Error = err.Error()
	}
	wire, encErr := Encode(resp)
	if encErr != nil {
		m.logger.Warn("Failed to encode response", zap.String("name", req.Name), zap.Error(encErr))
		return
	}
	if postErr := m.port.PostMessage(wire); postErr != nil {
		m.logger.Debug("Failed to post response", zap.String("name", req.Name), zap.Error(postErr))
	}
}

func (m *Messaging) handleResponse(resp Response) {
	m.mu.Lock()
	p, ok := m.pending[resp.RequestID]
	if ok {
		delete(m.pending, resp.RequestID)
	}
	m.mu.Unlock()

	if !ok {
		m.drop(DropStale, zap.Int("requestid", resp.RequestID))
		return
	}
	if resp.Error != "" {
		p.resolve(nil, &RemoteError{Name: p.Name, Message: resp.Error})
		return
	}
	p.resolve(resp.Data, nil)
}

func (m *Messaging) drop(reason DropReason, fields ...zap.Field) {
	m.logger.Debug("Dropped message", append(fields, zap.String("reason", string(reason)))...)
	if m.onDrop != nil {
		m.onDrop(reason)
	}
}
