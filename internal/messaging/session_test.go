package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ampviewer/internal/eventloop"
)

const docOrigin = "https://www-example-com.cdn.ampproject.org"

type pollFixture struct {
	loop     *eventloop.Manual
	frame    *fakeFrame
	handler  *recordingHandler
	observer *recordingObserver
	session  *Session
}

func newPollFixture(t *testing.T) *pollFixture {
	t.Helper()
	f := &pollFixture{
		loop:     eventloop.NewManual(),
		frame:    &fakeFrame{id: "frame-1"},
		handler:  &recordingHandler{},
		observer: newRecordingObserver(),
	}
	s, err := NewSession(f.loop, Config{
		Frame:    f.frame,
		Origin:   docOrigin,
		Strategy: StrategyPoll,
		Handler:  f.handler.Handle,
		Observer: f.observer,
	})
	require.NoError(t, err)
	f.session = s
	return f
}

type listenFixture struct {
	loop     *eventloop.Manual
	win      *HostWindow
	frame    *fakeFrame
	handler  *recordingHandler
	observer *recordingObserver
	session  *Session
}

func newListenFixture(t *testing.T) *listenFixture {
	t.Helper()
	loop := eventloop.NewManual()
	f := &listenFixture{
		loop:     loop,
		win:      NewHostWindow(loop),
		frame:    &fakeFrame{id: "frame-1"},
		handler:  &recordingHandler{},
		observer: newRecordingObserver(),
	}
	s, err := NewSession(loop, Config{
		Window:   f.win,
		Frame:    f.frame,
		Origin:   docOrigin,
		Strategy: StrategyListen,
		Handler:  f.handler.Handle,
		Observer: f.observer,
	})
	require.NoError(t, err)
	f.session = s
	return f
}

func (f *listenFixture) channelOpen(t *testing.T, id int) MessageEvent {
	return MessageEvent{Origin: docOrigin, SourceID: f.frame.id, Data: mustEncode(t, ChannelOpen{RequestID: id})}
}

func TestNewSessionValidates(t *testing.T) {
	loop := eventloop.NewManual()
	frame := &fakeFrame{id: "f"}

	_, err := NewSession(loop, Config{Strategy: StrategyPoll})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSession(loop, Config{Frame: frame, Strategy: StrategyListen})
	assert.ErrorIs(t, err, ErrInvalidConfig, "listen needs a window and origin")

	_, err = NewSession(loop, Config{Frame: frame, Strategy: Strategy(9)})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err := NewSession(loop, Config{Frame: frame, Strategy: StrategyPoll})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, Visibility{State: "visible", PrerenderSize: 1}, s.Visibility())
}

func TestStartTwice(t *testing.T) {
	f := newPollFixture(t)
	require.NoError(t, f.session.Start())
	assert.ErrorIs(t, f.session.Start(), ErrAlreadyStarted)

	f.session.Close()
	assert.ErrorIs(t, f.session.Start(), ErrSessionClosed)
}

func TestPollHandshake(t *testing.T) {
	f := newPollFixture(t)
	require.NoError(t, f.session.Start())
	assert.Equal(t, StateProbing, f.session.State())
	assert.Empty(t, f.frame.Posts(), "first probe waits one interval")

	f.loop.Advance(time.Second)
	posts := f.frame.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "*", posts[0].target)
	assert.Equal(t, HandshakePoll{}, mustDecode(t, posts[0].data))
	require.NotNil(t, posts[0].port)

	doc := posts[0].port
	got := collect(doc)
	require.NoError(t, doc.PostMessage(mustEncode(t, ChannelOpen{RequestID: 7})))
	f.loop.Drain()

	assert.Equal(t, StateEstablished, f.session.State())
	select {
	case <-f.session.Established():
	default:
		t.Fatal("Established not closed")
	}

	require.Len(t, *got, 2)
	assert.Equal(t, Response{RequestID: 7}, mustDecode(t, (*got)[0]), "handshake response comes first")
	vis := mustDecode(t, (*got)[1]).(Request)
	assert.Equal(t, NameVisibilityChange, vis.Name)
	assert.Equal(t, 1, vis.RequestID)
	assert.True(t, vis.RSVP)
	assert.JSONEq(t, `{"state":"visible","prerenderSize":1}`, string(vis.Data))

	f.loop.Advance(10 * time.Second)
	assert.Len(t, f.frame.Posts(), 1, "no probes after establishment")
	assert.Zero(t, f.loop.ActiveTimers())
	assert.Equal(t, 1, f.session.Probes())
	assert.Equal(t, 1, f.observer.established)
}

func TestPollRetriesWithFreshChannels(t *testing.T) {
	f := newPollFixture(t)
	require.NoError(t, f.session.Start())

	f.loop.Advance(3 * time.Second)
	posts := f.frame.Posts()
	require.Len(t, posts, 3)
	assert.NotSame(t, posts[0].port, posts[1].port)
	assert.NotSame(t, posts[1].port, posts[2].port)

	// The document answers the second probe.
	got := collect(posts[1].port)
	require.NoError(t, posts[1].port.PostMessage(mustEncode(t, ChannelOpen{RequestID: 1})))
	f.loop.Drain()
	assert.Equal(t, StateEstablished, f.session.State())
	assert.Len(t, *got, 2)
}

func TestPollBoundsOpenProbeChannels(t *testing.T) {
	f := newPollFixture(t)
	require.NoError(t, f.session.Start())

	f.loop.Advance(3600 * time.Second)
	assert.Equal(t, 3600, f.session.Probes())

	f.session.mu.Lock()
	open := len(f.session.probePorts)
	f.session.mu.Unlock()
	assert.Equal(t, maxProbePorts, open)

	posts := f.frame.Posts()
	require.Len(t, posts, 3600)

	// A reply on an evicted probe is never seen.
	stale := collect(posts[0].port)
	require.NoError(t, posts[0].port.PostMessage(mustEncode(t, ChannelOpen{RequestID: 1})))
	f.loop.Drain()
	assert.Equal(t, StateProbing, f.session.State())
	assert.Empty(t, *stale)

	// The newest probe still completes the handshake.
	latest := posts[len(posts)-1].port
	got := collect(latest)
	require.NoError(t, latest.PostMessage(mustEncode(t, ChannelOpen{RequestID: 2})))
	f.loop.Drain()
	assert.Equal(t, StateEstablished, f.session.State())
	assert.Len(t, *got, 2)

	f.session.mu.Lock()
	assert.Empty(t, f.session.probePorts)
	f.session.mu.Unlock()
}

func TestPollDuplicateChannelOpenSameTick(t *testing.T) {
	f := newPollFixture(t)
	require.NoError(t, f.session.Start())
	f.loop.Advance(2 * time.Second)

	posts := f.frame.Posts()
	require.Len(t, posts, 2)
	got1 := collect(posts[0].port)
	got2 := collect(posts[1].port)

	require.NoError(t, posts[0].port.PostMessage(mustEncode(t, ChannelOpen{RequestID: 1})))
	require.NoError(t, posts[1].port.PostMessage(mustEncode(t, ChannelOpen{RequestID: 2})))
	require.NoError(t, posts[0].port.PostMessage(mustEncode(t, ChannelOpen{RequestID: 3})))
	f.loop.Drain()

	responses := 0
	for _, b := range append(*got1, *got2...) {
		if r, ok := mustDecode(t, b).(Response); ok && r.Name == "" {
			responses++
		}
	}
	assert.Equal(t, 1, responses)
	assert.Empty(t, *got2, "the losing probe channel is closed")
	assert.Equal(t, 1, f.observer.established)
	assert.Equal(t, 1, f.observer.Dropped(DropStale), "late channel-open on the live channel")
}

func TestPollForwardsEarlyMessages(t *testing.T) {
	f := newPollFixture(t)
	require.NoError(t, f.session.Start())
	f.loop.Advance(time.Second)

	doc := f.frame.Posts()[0].port
	got := collect(doc)
	require.NoError(t, doc.PostMessage(mustEncode(t, Request{Name: "documentLoaded", RequestID: 1, RSVP: true, Data: json.RawMessage(`{"title":"x"}`)})))
	f.loop.Drain()

	assert.Equal(t, StateProbing, f.session.State())
	assert.Equal(t, []handlerCall{{name: "documentLoaded", data: `{"title":"x"}`, rsvp: true}}, f.handler.Calls())
	assert.Empty(t, *got, "early messages are not answered by the request layer")

	require.NoError(t, doc.PostMessage(mustEncode(t, ChannelOpen{RequestID: 2})))
	f.loop.Drain()
	assert.Equal(t, StateEstablished, f.session.State())
}

func TestSendRequestBeforeEstablished(t *testing.T) {
	f := newListenFixture(t)

	p, err := f.session.SendRequest("x", nil, true)
	assert.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, f.session.Start())
	p, err = f.session.SendRequest("x", nil, true)
	assert.NoError(t, err)
	assert.Nil(t, p)

	p, err = f.session.SetVisibility("hidden", 0)
	assert.NoError(t, err)
	assert.Nil(t, p)

	f.loop.Advance(5 * time.Second)
	assert.Empty(t, f.frame.Posts())
	assert.Nil(t, f.session.Messaging())
}

func TestListenHandshake(t *testing.T) {
	f := newListenFixture(t)
	require.NoError(t, f.session.Start())
	assert.Equal(t, StateListening, f.session.State())
	assert.Equal(t, 1, f.win.ListenerCount())

	f.win.Dispatch(f.channelOpen(t, 11))
	f.loop.Drain()

	assert.Equal(t, StateEstablished, f.session.State())
	posts := f.frame.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, docOrigin, posts[0].target)
	assert.Equal(t, Response{RequestID: 11}, mustDecode(t, posts[0].data))
	assert.Equal(t, NameVisibilityChange, mustDecode(t, posts[1].data).(Request).Name)

	// The handshake listener is gone; the only one left belongs to the
	// established channel.
	assert.Equal(t, 1, f.win.ListenerCount())

	f.win.Dispatch(MessageEvent{
		Origin:   docOrigin,
		SourceID: f.frame.id,
		Data:     mustEncode(t, Request{Name: "scroll", RequestID: 1}),
	})
	f.loop.Drain()
	assert.Equal(t, []handlerCall{{name: "scroll"}}, f.handler.Calls())
}

func TestListenDuplicateChannelOpenSameTick(t *testing.T) {
	f := newListenFixture(t)
	require.NoError(t, f.session.Start())

	f.win.Dispatch(f.channelOpen(t, 1))
	f.win.Dispatch(f.channelOpen(t, 2))
	f.loop.Drain()

	responses := 0
	for _, p := range f.frame.Posts() {
		if r, ok := mustDecode(t, p.data).(Response); ok && r.Name == "" {
			responses++
		}
	}
	assert.Equal(t, 1, responses)
	assert.Equal(t, 1, f.observer.established)
	assert.Equal(t, 1, f.observer.Dropped(DropStale))
}

func TestListenRejectsSpoofedEvents(t *testing.T) {
	f := newListenFixture(t)
	require.NoError(t, f.session.Start())

	open := mustEncode(t, ChannelOpen{RequestID: 1})
	spoofs := []MessageEvent{
		{Origin: "https://evil.example", SourceID: f.frame.id, Data: open},
		{Origin: docOrigin, SourceID: "other-frame", Data: open},
		{Origin: docOrigin, SourceID: "", Data: open},
	}
	for _, ev := range spoofs {
		f.win.Dispatch(ev)
	}
	f.win.Dispatch(MessageEvent{Origin: docOrigin, SourceID: f.frame.id, Data: []byte(`{"app":"other","name":"channelOpen"}`)})
	f.win.Dispatch(MessageEvent{Origin: docOrigin, SourceID: f.frame.id, Data: mustEncode(t, Request{Name: "early"})})
	f.loop.Drain()

	assert.Equal(t, StateListening, f.session.State())
	assert.Empty(t, f.frame.Posts())
	assert.Empty(t, f.handler.Calls())
	assert.Equal(t, 3, f.observer.Dropped(DropSpoofed))
	assert.Equal(t, 2, f.observer.Dropped(DropUnrecognized))

	f.win.Dispatch(f.channelOpen(t, 2))
	f.loop.Drain()
	assert.Equal(t, StateEstablished, f.session.State())
}

func TestCloseAfterEstablishedReleasesEverything(t *testing.T) {
	t.Run("listen", func(t *testing.T) {
		f := newListenFixture(t)
		require.NoError(t, f.session.Start())
		f.win.Dispatch(f.channelOpen(t, 1))
		f.loop.Drain()

		pending, err := f.session.SendRequest("q", nil, true)
		require.NoError(t, err)
		require.NotNil(t, pending)

		f.session.Close()
		f.session.Close()
		assert.Equal(t, StateClosed, f.session.State())
		assert.Zero(t, f.win.ListenerCount())
		assert.Zero(t, f.loop.ActiveTimers())

		_, err = pending.Wait(context.Background())
		assert.ErrorIs(t, err, ErrClosed)

		before := len(f.frame.Posts())
		f.win.Dispatch(f.channelOpen(t, 2))
		f.win.Dispatch(MessageEvent{Origin: docOrigin, SourceID: f.frame.id, Data: mustEncode(t, Request{Name: "late", RSVP: true, RequestID: 9})})
		f.loop.Advance(5 * time.Second)
		assert.Len(t, f.frame.Posts(), before)
		assert.Empty(t, f.handler.Calls())
		assert.Equal(t, 1, f.observer.closed)
	})

	t.Run("poll", func(t *testing.T) {
		f := newPollFixture(t)
		require.NoError(t, f.session.Start())
		f.loop.Advance(time.Second)
		doc := f.frame.Posts()[0].port
		got := collect(doc)
		require.NoError(t, doc.PostMessage(mustEncode(t, ChannelOpen{RequestID: 1})))
		f.loop.Drain()

		f.session.Close()
		assert.Zero(t, f.loop.ActiveTimers())

		n := len(*got)
		require.NoError(t, doc.PostMessage(mustEncode(t, Request{Name: "late", RequestID: 3, RSVP: true})))
		f.loop.Advance(5 * time.Second)
		assert.Len(t, *got, n)
		assert.Empty(t, f.handler.Calls())
		assert.Len(t, f.frame.Posts(), 1)
	})
}

func TestCloseWhileProbing(t *testing.T) {
	f := newPollFixture(t)
	require.NoError(t, f.session.Start())
	f.loop.Advance(time.Second)
	doc := f.frame.Posts()[0].port

	f.session.Close()
	assert.Zero(t, f.loop.ActiveTimers())

	require.NoError(t, doc.PostMessage(mustEncode(t, ChannelOpen{RequestID: 1})))
	f.loop.Advance(5 * time.Second)
	assert.Equal(t, StateClosed, f.session.State())
	assert.Len(t, f.frame.Posts(), 1)

	err := f.session.WaitEstablished(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCloseWhileListening(t *testing.T) {
	f := newListenFixture(t)
	require.NoError(t, f.session.Start())
	f.session.Close()

	assert.Zero(t, f.win.ListenerCount())
	f.win.Dispatch(f.channelOpen(t, 1))
	f.loop.Drain()
	assert.Equal(t, StateClosed, f.session.State())
	assert.Empty(t, f.frame.Posts())
}

func TestOnEstablished(t *testing.T) {
	f := newListenFixture(t)
	var order []string
	f.session.OnEstablished(func() { order = append(order, "before") })
	require.NoError(t, f.session.Start())

	f.win.Dispatch(f.channelOpen(t, 1))
	f.loop.Drain()
	f.session.OnEstablished(func() { order = append(order, "after") })
	f.loop.Drain()

	assert.Equal(t, []string{"before", "after"}, order)
	assert.NoError(t, f.session.WaitEstablished(context.Background()))
}

func TestSetVisibilityAfterEstablished(t *testing.T) {
	f := newListenFixture(t)
	require.NoError(t, f.session.Start())
	f.win.Dispatch(f.channelOpen(t, 1))
	f.loop.Drain()

	p, err := f.session.SetVisibility("hidden", 0)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2, p.RequestID)

	posts := f.frame.Posts()
	last := mustDecode(t, posts[len(posts)-1].data).(Request)
	assert.Equal(t, NameVisibilityChange, last.Name)
	assert.JSONEq(t, `{"state":"hidden","prerenderSize":0}`, string(last.Data))

	f.win.Dispatch(MessageEvent{Origin: docOrigin, SourceID: f.frame.id, Data: mustEncode(t, Response{RequestID: 2, Data: json.RawMessage(`true`)})})
	f.loop.Drain()
	data, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "true", string(data))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyListen, s)

	s, err = ParseStrategy("POLL")
	require.NoError(t, err)
	assert.Equal(t, StrategyPoll, s)
	assert.Equal(t, "poll", s.String())

	_, err = ParseStrategy("shout")
	assert.Error(t, err)
}
