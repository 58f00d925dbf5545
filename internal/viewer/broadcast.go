package viewer

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ampviewer/internal/messaging"
)

// Sender is the part of a session the broadcaster needs.
type Sender interface {
	SendRequest(name string, data any, awaitResponse bool) (*messaging.Pending, error)
}

// Broadcaster relays "broadcast" requests from one attached document to
// every other one.
type Broadcaster struct {
	logger *zap.Logger

	mu      sync.RWMutex
	members map[string]Sender
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{logger: logger, members: make(map[string]Sender)}
}

// Join adds a member under id.
func (b *Broadcaster) Join(id string, s Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[id] = s
}

// Leave removes a member.
func (b *Broadcaster) Leave(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.members, id)
}

// Broadcast sends data to every member except from, fire and forget.
// Members whose handshake has not completed are skipped. It returns how
// many members received it.
func (b *Broadcaster) Broadcast(from string, data json.RawMessage) int {
	b.mu.RLock()
	targets := make(map[string]Sender, len(b.members))
	for id, s := range b.members {
		if id != from {
			targets[id] = s
		}
	}
	b.mu.RUnlock()

	sent := 0
	for id, s := range targets {
		p, err := s.SendRequest(messaging.NameBroadcast, data, false)
		switch {
		case err != nil:
			b.logger.Debug("Broadcast not delivered", zap.String("to", id), zap.Error(err))
		case p != nil:
			sent++
		}
	}
	return sent
}
