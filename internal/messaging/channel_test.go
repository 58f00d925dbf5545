package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/ampviewer/internal/eventloop"
)

func TestChannelDeliversOnLoop(t *testing.T) {
	loop := eventloop.NewManual()
	a, b := NewChannel(loop)
	got := collect(b)

	assert.NoError(t, a.PostMessage([]byte("one")))
	assert.NoError(t, a.PostMessage([]byte("two")))
	assert.Empty(t, *got, "delivery is never synchronous")

	loop.Drain()
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, *got)
}

func TestChannelBuffersUntilHandler(t *testing.T) {
	loop := eventloop.NewManual()
	a, b := NewChannel(loop)

	assert.NoError(t, a.PostMessage([]byte("early")))
	loop.Drain()

	got := collect(b)
	loop.Drain()
	assert.Equal(t, [][]byte{[]byte("early")}, *got)
}

func TestChannelClose(t *testing.T) {
	loop := eventloop.NewManual()
	a, b := NewChannel(loop)
	got := collect(b)

	assert.NoError(t, a.PostMessage([]byte("queued")))
	b.Close()
	loop.Drain()
	assert.Empty(t, *got)

	assert.ErrorIs(t, b.PostMessage([]byte("x")), ErrPortClosed)
}

func TestChannelCopiesPayload(t *testing.T) {
	loop := eventloop.NewManual()
	a, b := NewChannel(loop)
	got := collect(b)

	buf := []byte("abc")
	assert.NoError(t, a.PostMessage(buf))
	buf[0] = 'z'
	loop.Drain()
	assert.Equal(t, "abc", string((*got)[0]))
}

func TestHostWindowListeners(t *testing.T) {
	loop := eventloop.NewManual()
	w := NewHostWindow(loop)

	var first, second []string
	sub1 := w.AddMessageListener(func(ev MessageEvent) { first = append(first, string(ev.Data)) })
	w.AddMessageListener(func(ev MessageEvent) { second = append(second, string(ev.Data)) })
	assert.Equal(t, 2, w.ListenerCount())

	w.Dispatch(MessageEvent{Data: []byte("a")})
	loop.Drain()
	sub1.Cancel()
	sub1.Cancel()
	w.Dispatch(MessageEvent{Data: []byte("b")})
	loop.Drain()

	assert.Equal(t, []string{"a"}, first)
	assert.Equal(t, []string{"a", "b"}, second)
	assert.Equal(t, 1, w.ListenerCount())
}

func TestHostWindowCancelDuringDispatch(t *testing.T) {
	loop := eventloop.NewManual()
	w := NewHostWindow(loop)

	var sub2 Subscription
	calls := 0
	w.AddMessageListener(func(MessageEvent) { sub2.Cancel() })
	sub2 = w.AddMessageListener(func(MessageEvent) { calls++ })

	w.Dispatch(MessageEvent{})
	loop.Drain()
	assert.Zero(t, calls)
}

func TestWindowPortFiltersSource(t *testing.T) {
	loop := eventloop.NewManual()
	w := NewHostWindow(loop)
	frame := &fakeFrame{id: "f1"}
	p := newWindowPort(w, frame, "https://a.cdn.example")
	got := collect(p)

	w.Dispatch(MessageEvent{Origin: "https://a.cdn.example", SourceID: "f1", Data: []byte("ok")})
	w.Dispatch(MessageEvent{Origin: "https://evil.example", SourceID: "f1", Data: []byte("bad origin")})
	w.Dispatch(MessageEvent{Origin: "https://a.cdn.example", SourceID: "f2", Data: []byte("bad source")})
	loop.Drain()
	assert.Equal(t, [][]byte{[]byte("ok")}, *got)

	assert.NoError(t, p.PostMessage([]byte("out")))
	posts := frame.Posts()
	if assert.Len(t, posts, 1) {
		assert.Equal(t, "https://a.cdn.example", posts[0].target)
		assert.Nil(t, posts[0].port)
	}

	p.Close()
	assert.Zero(t, w.ListenerCount())
	assert.ErrorIs(t, p.PostMessage([]byte("late")), ErrPortClosed)
}
