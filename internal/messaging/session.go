package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ampviewer/internal/eventloop"
)

// DefaultPollInterval is the probe period of the poll strategy.
const DefaultPollInterval = time.Second

var (
	ErrAlreadyStarted = errors.New("messaging: session already started")
	ErrSessionClosed  = errors.New("messaging: session closed")
	ErrInvalidConfig  = errors.New("messaging: invalid session config")
)

// Visibility is the payload of a visibilitychange request.
type Visibility struct {
	State         string `json:"state"`
	PrerenderSize int    `json:"prerenderSize"`
}

// maxProbePorts bounds the probe channels kept open while polling. Older
// probes are closed once a newer one would exceed it.
const maxProbePorts = 16

// Config configures a Session.
type Config struct {
	Window   Window
	Frame    Frame
	Origin   string
	Strategy Strategy
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Handler receives application requests from the document.
	Handler RequestHandler
	// Visibility is sent in the first visibilitychange request. The zero
	// value means {"visible", 1}.
	Visibility Visibility
	Logger     *zap.Logger
	Observer   Observer
}

// Session runs the handshake with one embedded frame and owns the
// resulting channel. All callbacks run on the loop.
type Session struct {
	loop     eventloop.Loop
	cfg      Config
	logger   *zap.Logger
	observer Observer

	mu          sync.Mutex
	state       State
	timer       eventloop.Timer
	sub         Subscription
	probePorts  []Port
	probes      int
	messaging   *Messaging
	visibility  Visibility
	callbacks   []func()
	established chan struct{}
	closed      chan struct{}
}

// NewSession validates cfg and returns an idle session.
func NewSession(loop eventloop.Loop, cfg Config) (*Session, error) {
	if loop == nil || cfg.Frame == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Strategy == StrategyListen && (cfg.Window == nil || cfg.Origin == "") {
		return nil, ErrInvalidConfig
	}
	if cfg.Strategy != StrategyListen && cfg.Strategy != StrategyPoll {
		return nil, ErrInvalidConfig
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Visibility.State == "" {
		cfg.Visibility = Visibility{State: "visible", PrerenderSize: 1}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Session{
		loop:        loop,
		cfg:         cfg,
		logger:      logger.With(zap.String("frame", cfg.Frame.ID()), zap.String("strategy", cfg.Strategy.String())),
		observer:    observer,
		state:       StateIdle,
		visibility:  cfg.Visibility,
		established: make(chan struct{}),
		closed:      make(chan struct{}),
	}, nil
}

// Start begins the handshake. There is no timeout: callers wanting one
// wait on Established with a deadline and call Close.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
	case StateClosed:
		return ErrSessionClosed
	default:
		return ErrAlreadyStarted
	}

	switch s.cfg.Strategy {
	case StrategyPoll:
		s.state = StateProbing
		s.timer = s.loop.Every(s.cfg.PollInterval, s.probe)
	case StrategyListen:
		s.state = StateListening
		s.sub = s.cfg.Window.AddMessageListener(s.onWindowMessage)
	}
	s.observer.HandshakeStarted(s.cfg.Strategy)
	s.logger.Debug("Handshake started", zap.String("origin", s.cfg.Origin))
	return nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Strategy returns the configured strategy.
func (s *Session) Strategy() Strategy {
	return s.cfg.Strategy
}

// Origin returns the expected origin of the embedded document.
func (s *Session) Origin() string {
	return s.cfg.Origin
}

// Probes returns how many handshake probes were posted.
func (s *Session) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

// Established is closed when the handshake completes.
func (s *Session) Established() <-chan struct{} {
	return s.established
}

// WaitEstablished blocks until the handshake completes, ctx ends or the
// session is closed first.
func (s *Session) WaitEstablished(ctx context.Context) error {
	select {
	case <-s.established:
		return nil
	case <-s.closed:
		select {
		case <-s.established:
			return nil
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnEstablished registers fn to run on the loop once the handshake
// completes. If it already has, fn is queued right away.
func (s *Session) OnEstablished(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEstablished {
		s.loop.Post(fn)
		return
	}
	s.callbacks = append(s.callbacks, fn)
}

// Messaging returns the request/response layer, or nil before the
// handshake completes.
func (s *Session) Messaging() *Messaging {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messaging
}

// SendRequest sends an application request. Before the handshake
// completes it posts nothing and returns (nil, nil).
func (s *Session) SendRequest(name string, data any, awaitResponse bool) (*Pending, error) {
	s.mu.Lock()
	m := s.messaging
	s.mu.Unlock()

	if m == nil {
		return nil, nil
	}
	return m.SendRequest(name, data, awaitResponse)
}

// SetVisibility records the visibility hint. Once established it is also
// sent to the document as a visibilitychange request.
func (s *Session) SetVisibility(state string, prerenderSize int) (*Pending, error) {
	s.mu.Lock()
	s.visibility = Visibility{State: state, PrerenderSize: prerenderSize}
	m := s.messaging
	v := s.visibility
	s.mu.Unlock()

	if m == nil {
		return nil, nil
	}
	return m.SendRequest(NameVisibilityChange, v, true)
}

// Visibility returns the current visibility hint.
func (s *Session) Visibility() Visibility {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibility
}

// Close tears the session down: the probe timer is stopped, the window
// listener removed and every port closed. Pending requests fail with
// ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = StateClosed
	close(s.closed)
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	for _, p := range s.probePorts {
		p.Close()
	}
	s.probePorts = nil
	s.callbacks = nil
	m := s.messaging
	s.mu.Unlock()

	if m != nil {
		m.Close()
	}
	s.observer.HandshakeClosed(s.cfg.Strategy, from)
	s.logger.Debug("Session closed", zap.String("from", from.String()))
}

// probe runs on each poll tick.
func (s *Session) probe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateProbing {
		return
	}

	local, remote := NewChannel(s.loop)
	local.OnMessage(func(data []byte) { s.onProbeReply(local, data) })
	s.probePorts = append(s.probePorts, local)
	if n := len(s.probePorts) - maxProbePorts; n > 0 {
		for _, p := range s.probePorts[:n] {
			p.Close()
		}
		s.probePorts = append(s.probePorts[:0], s.probePorts[n:]...)
	}
	s.probes++

	wire, err := Encode(HandshakePoll{})
	if err != nil {
		s.logger.Error("Failed to encode probe", zap.Error(err))
		return
	}
	if err := s.cfg.Frame.PostMessage(wire, "*", remote); err != nil {
		s.logger.Debug("Probe not delivered", zap.Int("probe", s.probes), zap.Error(err))
	}
}

func (s *Session) onProbeReply(port Port, data []byte) {
	v, err := Decode(data)
	if err != nil {
		s.dropped(DropUnrecognized, zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.state != StateProbing {
		state := s.state
		s.mu.Unlock()
		if state == StateClosed {
			s.dropped(DropClosed)
		} else {
			s.dropped(DropStale)
		}
		return
	}

	if open, ok := v.(ChannelOpen); ok {
		s.timer.Stop()
		s.timer = nil
		s.completeLocked(port, open.RequestID)
		s.mu.Unlock()
		return
	}
	handler := s.cfg.Handler
	s.mu.Unlock()

	// The document may talk before it sees the handshake response. Those
	// messages go straight to the handler, outside the request layer.
	switch msg := v.(type) {
	case Request:
		s.forward(handler, msg.Name, msg.Data, msg.RSVP)
	case Response:
		s.forward(handler, msg.Name, msg.Data, false)
	case HandshakePoll, HandshakeResponse:
		s.dropped(DropUnrecognized)
	}
}

func (s *Session) forward(h RequestHandler, name string, data json.RawMessage, rsvp bool) {
	if h == nil {
		return
	}
	if _, err := h(name, data, rsvp); err != nil {
		s.logger.Debug("Early message handler failed", zap.String("name", name), zap.Error(err))
	}
}

func (s *Session) onWindowMessage(ev MessageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateListening {
		s.dropped(DropStale)
		return
	}
	if ev.Origin != s.cfg.Origin || ev.SourceID == "" || ev.SourceID != s.cfg.Frame.ID() {
		s.dropped(DropSpoofed,
			zap.String("origin", ev.Origin),
			zap.String("source", ev.SourceID))
		return
	}
	v, err := Decode(ev.Data)
	if err != nil {
		s.dropped(DropUnrecognized, zap.Error(err))
		return
	}
	open, ok := v.(ChannelOpen)
	if !ok {
		s.dropped(DropUnrecognized)
		return
	}

	s.sub.Cancel()
	s.sub = nil
	s.completeLocked(newWindowPort(s.cfg.Window, s.cfg.Frame, s.cfg.Origin), open.RequestID)
}

// completeLocked finishes the handshake over port. The response is posted
// before the messaging layer exists so it precedes every application
// request. Caller holds s.mu.
func (s *Session) completeLocked(port Port, requestID int) {
	s.state = StateEstablished

	for _, p := range s.probePorts {
		if p != port {
			p.Close()
		}
	}
	s.probePorts = nil

	wire, err := Encode(HandshakeResponse{RequestID: requestID})
	if err == nil {
		err = port.PostMessage(wire)
	}
	if err != nil {
		s.logger.Warn("Failed to post handshake response", zap.Error(err))
	}

	m := NewMessaging(port, s.logger)
	m.onDrop = s.observer.MessageDropped
	m.SetDefaultHandler(s.cfg.Handler)
	s.messaging = m

	if _, err := m.SendRequest(NameVisibilityChange, s.visibility, true); err != nil {
		s.logger.Warn("Failed to send initial visibility", zap.Error(err))
	}

	close(s.established)
	for _, fn := range s.callbacks {
		s.loop.Post(fn)
	}
	s.callbacks = nil

	s.observer.HandshakeEstablished(s.cfg.Strategy, s.probes)
	s.logger.Info("Messaging established",
		zap.String("origin", s.cfg.Origin),
		zap.Int("probes", s.probes))
}

func (s *Session) dropped(reason DropReason, fields ...zap.Field) {
	s.logger.Debug("Dropped handshake message", append(fields, zap.String("reason", string(reason)))...)
	s.observer.MessageDropped(reason)
}
