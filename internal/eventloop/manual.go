package eventloop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Loop driven by a logical clock. Nothing runs until the
// test calls Drain or Advance.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    uint64
	tasks  []func()
	timers []*manualTimer
}

// NewManual creates a manual loop at logical time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Post implements Loop.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.tasks = append(m.tasks, fn)
	m.mu.Unlock()
}

// Every implements Loop. The first tick is due one period from now.
func (m *Manual) Every(period time.Duration, fn func()) Timer {
	if period <= 0 {
		period = time.Millisecond
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{
		loop:   m,
		seq:    m.seq,
		period: period,
		next:   m.now + period,
		fn:     fn,
	}
	m.timers = append(m.timers, t)
	return t
}

// Now returns the logical time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Drain runs queued tasks, including tasks they post, until the queue is
// empty. It returns how many tasks ran.
func (m *Manual) Drain() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.tasks) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.mu.Unlock()

		fn()
		n++
	}
}

// Advance moves the clock forward by d, firing every timer that falls due
// in order and draining the queue after each tick.
func (m *Manual) Advance(d time.Duration) {
	m.Drain()

	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDue(target)
		if t == nil {
			m.now = target
			m.mu.Unlock()
			break
		}
		m.now = t.next
		t.next += t.period
		m.mu.Unlock()

		t.fn()
		m.Drain()
	}
}

// Pending returns the number of queued tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// ActiveTimers returns the number of timers that have not been stopped.
func (m *Manual) ActiveTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// nextDue returns the earliest live timer due at or before target.
// Caller holds m.mu.
func (m *Manual) nextDue(target time.Duration) *manualTimer {
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].next != m.timers[j].next {
			return m.timers[i].next < m.timers[j].next
		}
		return m.timers[i].seq < m.timers[j].seq
	})
	if t := m.timers[0]; t.next <= target {
		return t
	}
	return nil
}

func (m *Manual) remove(t *manualTimer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.timers {
		if cur == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

type manualTimer struct {
	loop   *Manual
	seq    uint64
	period time.Duration
	next   time.Duration
	fn     func()
}

func (t *manualTimer) Stop() {
	t.loop.remove(t)
}
