package messaging

import (
	"fmt"
	"strings"
)

// Strategy selects how the handshake detects the embedded document.
type Strategy int

const (
	// StrategyListen waits for a channel-open event on the host window.
	StrategyListen Strategy = iota
	// StrategyPoll probes the frame over a fresh channel on an interval.
	StrategyPoll
)

// String returns the string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case StrategyListen:
		return "listen"
	case StrategyPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a strategy name. The empty string means listen.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "listen", "listening":
		return StrategyListen, nil
	case "poll", "probe", "probing":
		return StrategyPoll, nil
	default:
		return 0, fmt.Errorf("messaging: unknown handshake strategy %q", s)
	}
}

// State is the handshake session state.
type State int

const (
	StateIdle State = iota
	StateProbing
	StateListening
	StateEstablished
	StateClosed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateListening:
		return "listening"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DropReason says why an inbound message was discarded.
type DropReason string

const (
	DropSpoofed      DropReason = "spoofed"
	DropStale        DropReason = "stale"
	DropUnrecognized DropReason = "unrecognized"
	DropClosed       DropReason = "closed"
)

// Observer receives handshake events, typically to record metrics.
type Observer interface {
	HandshakeStarted(strategy Strategy)
	HandshakeEstablished(strategy Strategy, probes int)
	HandshakeClosed(strategy Strategy, from State)
	MessageDropped(reason DropReason)
}

type nopObserver struct{}

func (nopObserver) HandshakeStarted(Strategy)          {}
func (nopObserver) HandshakeEstablished(Strategy, int) {}
func (nopObserver) HandshakeClosed(Strategy, State)    {}
func (nopObserver) MessageDropped(DropReason)          {}
