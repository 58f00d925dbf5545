package messaging

import (
	"sync"

	"github.com/GriffinCanCode/ampviewer/internal/eventloop"
)

// HostWindow is an in-memory Window. Dispatched events are delivered to
// listeners on the loop in registration order.
type HostWindow struct {
	loop eventloop.Loop

	mu        sync.Mutex
	nextID    uint64
	listeners []*listener
}

type listener struct {
	id        uint64
	fn        func(MessageEvent)
	cancelled bool
}

// NewHostWindow creates a window bound to loop.
func NewHostWindow(loop eventloop.Loop) *HostWindow {
	return &HostWindow{loop: loop}
}

// AddMessageListener implements Window.
func (w *HostWindow) AddMessageListener(fn func(MessageEvent)) Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	l := &listener{id: w.nextID, fn: fn}
	w.listeners = append(w.listeners, l)
	return &windowSubscription{w: w, l: l}
}

// Dispatch queues ev for delivery. Listeners registered when the event is
// delivered receive it in registration order; one cancelled before its
// turn is skipped.
func (w *HostWindow) Dispatch(ev MessageEvent) {
	w.loop.Post(func() {
		w.mu.Lock()
		snapshot := make([]*listener, len(w.listeners))
		copy(snapshot, w.listeners)
		w.mu.Unlock()

		for _, l := range snapshot {
			w.mu.Lock()
			live := !l.cancelled
			w.mu.Unlock()
			if live {
				l.fn(ev)
			}
		}
	})
}

// ListenerCount returns the number of live listeners.
func (w *HostWindow) ListenerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners)
}

func (w *HostWindow) remove(l *listener) {
	w.mu.Lock()
	defer w.mu.Unlock()

	l.cancelled = true
	for i, cur := range w.listeners {
		if cur == l {
			w.listeners = append(w.listeners[:i], w.listeners[i+1:]...)
			return
		}
	}
}

type windowSubscription struct {
	w    *HostWindow
	l    *listener
	once sync.Once
}

func (s *windowSubscription) Cancel() {
	s.once.Do(func() { s.w.remove(s.l) })
}

// windowPort emulates a Port over a window and a frame. Outbound messages
// are posted to the frame restricted to origin; inbound messages are the
// window's events from that frame and origin.
type windowPort struct {
	win    Window
	frame  Frame
	origin string

	mu     sync.Mutex
	sub    Subscription
	closed bool
}

func newWindowPort(win Window, frame Frame, origin string) *windowPort {
	return &windowPort{win: win, frame: frame, origin: origin}
}

func (p *windowPort) PostMessage(data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPortClosed
	}
	return p.frame.PostMessage(data, p.origin, nil)
}

func (p *windowPort) OnMessage(fn func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.sub != nil {
		p.sub.Cancel()
	}
	p.sub = p.win.AddMessageListener(func(ev MessageEvent) {
		if ev.Origin != p.origin || ev.SourceID != p.frame.ID() {
			return
		}
		fn(ev.Data)
	})
}

func (p *windowPort) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.sub != nil {
		p.sub.Cancel()
		p.sub = nil
	}
}
