package messaging

import (
	"errors"
	"sync"

	"github.com/GriffinCanCode/ampviewer/internal/eventloop"
)

// ErrPortClosed is returned when posting on a closed port.
var ErrPortClosed = errors.New("messaging: port closed")

// NewChannel creates an entangled pair of ports. Messages posted on one
// end are delivered to the other on the loop, never from inside
// PostMessage. Messages that arrive before a handler is installed are
// buffered.
func NewChannel(loop eventloop.Loop) (Port, Port) {
	a := &channelPort{loop: loop}
	b := &channelPort{loop: loop}
	a.peer, b.peer = b, a
	return a, b
}

type channelPort struct {
	loop eventloop.Loop
	peer *channelPort

	mu      sync.Mutex
	handler func([]byte)
	backlog [][]byte
	closed  bool
}

func (p *channelPort) PostMessage(data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPortClosed
	}

	msg := append([]byte(nil), data...)
	peer := p.peer
	p.loop.Post(func() { peer.deliver(msg) })
	return nil
}

func (p *channelPort) OnMessage(fn func([]byte)) {
	p.mu.Lock()
	p.handler = fn
	backlog := p.backlog
	p.backlog = nil
	p.mu.Unlock()

	for _, msg := range backlog {
		msg := msg
		p.loop.Post(func() { p.deliver(msg) })
	}
}

func (p *channelPort) Close() {
	p.mu.Lock()
	p.closed = true
	p.handler = nil
	p.backlog = nil
	p.mu.Unlock()
}

func (p *channelPort) deliver(msg []byte) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	h := p.handler
	if h == nil {
		p.backlog = append(p.backlog, msg)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	h(msg)
}
