package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualDrainRunsNestedPosts(t *testing.T) {
	m := NewManual()
	var order []int

	m.Post(func() {
		order = append(order, 1)
		m.Post(func() { order = append(order, 3) })
	})
	m.Post(func() { order = append(order, 2) })

	assert.Empty(t, order, "nothing runs before Drain")
	assert.Equal(t, 3, m.Drain())
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Zero(t, m.Pending())
}

func TestManualAdvanceFiresTimers(t *testing.T) {
	m := NewManual()
	ticks := 0
	timer := m.Every(time.Second, func() { ticks++ })

	m.Advance(999 * time.Millisecond)
	assert.Equal(t, 0, ticks)

	m.Advance(time.Millisecond)
	assert.Equal(t, 1, ticks)

	m.Advance(3 * time.Second)
	assert.Equal(t, 4, ticks)
	assert.Equal(t, 4*time.Second, m.Now())

	timer.Stop()
	timer.Stop()
	m.Advance(10 * time.Second)
	assert.Equal(t, 4, ticks)
	assert.Zero(t, m.ActiveTimers())
}

func TestManualTimerStoppedFromTick(t *testing.T) {
	m := NewManual()
	ticks := 0
	var timer Timer
	timer = m.Every(time.Second, func() {
		ticks++
		timer.Stop()
	})

	m.Advance(5 * time.Second)
	assert.Equal(t, 1, ticks)
}

func TestManualTimersFireInOrder(t *testing.T) {
	m := NewManual()
	var order []string
	m.Every(2*time.Second, func() { order = append(order, "slow") })
	m.Every(time.Second, func() { order = append(order, "fast") })

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"fast", "slow", "fast"}, order)
}

func TestQueueRunsTasksInOrder(t *testing.T) {
	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		q.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not run")
	}

	mu.Lock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	mu.Unlock()

	q.Stop()
	assert.ErrorIs(t, <-errCh, ErrStopped)
}

func TestQueueRecoversPanics(t *testing.T) {
	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx) //nolint:errcheck

	done := make(chan struct{})
	q.Post(func() { panic("boom") })
	q.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue stopped after panic")
	}
	q.Stop()
}

func TestQueueTimerStops(t *testing.T) {
	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx) //nolint:errcheck
	defer q.Stop()

	ticks := make(chan struct{}, 16)
	timer := q.Every(5*time.Millisecond, func() { ticks <- struct{}{} })

	select {
	case <-ticks:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}

	done := make(chan struct{})
	q.Post(func() {
		timer.Stop()
		close(done)
	})
	<-done

	// Drain anything that was queued before Stop ran on the loop.
	for len(ticks) > 0 {
		<-ticks
	}
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, len(ticks))
}

func TestQueuePostAfterStop(t *testing.T) {
	q := New(nil)
	q.Stop()
	q.Post(func() { t.Fatal("ran after stop") })

	err := q.Run(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
