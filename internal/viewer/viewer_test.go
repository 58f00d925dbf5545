package viewer

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ampviewer/internal/cacheurl"
	"github.com/GriffinCanCode/ampviewer/internal/eventloop"
	"github.com/GriffinCanCode/ampviewer/internal/messaging"
)

type testFrame struct {
	id string

	mu    sync.Mutex
	posts [][]byte
}

func (f *testFrame) ID() string { return f.id }

func (f *testFrame) PostMessage(data []byte, _ string, _ messaging.Port) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, data)
	return nil
}

func (f *testFrame) requests(t *testing.T) []messaging.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []messaging.Request
	for _, p := range f.posts {
		v, err := messaging.Decode(p)
		require.NoError(t, err)
		if r, ok := v.(messaging.Request); ok {
			out = append(out, r)
		}
	}
	return out
}

type countingRecorder struct {
	built  map[string]int
	active int
}

func (r *countingRecorder) CacheURLBuilt(mode cacheurl.Mode, kind string) {
	r.built[mode.String()+"/"+kind]++
}

func (r *countingRecorder) SetAttachmentsActive(n int) { r.active = n }

type fixture struct {
	loop     *eventloop.Manual
	win      *messaging.HostWindow
	recorder *countingRecorder
	viewer   *Viewer
}

func newFixture() *fixture {
	loop := eventloop.NewManual()
	rec := &countingRecorder{built: make(map[string]int)}
	return &fixture{
		loop:     loop,
		win:      messaging.NewHostWindow(loop),
		recorder: rec,
		viewer: New(loop, Options{
			Origin:   "http://localhost:8000",
			Strategy: messaging.StrategyListen,
			Recorder: rec,
		}),
	}
}

func (f *fixture) attach(t *testing.T, url, frameID string) (*Attachment, *testFrame) {
	t.Helper()
	frame := &testFrame{id: frameID}
	att, err := f.viewer.Attach(AttachOptions{URL: url, Window: f.win, Frame: frame})
	require.NoError(t, err)
	return att, frame
}

func (f *fixture) establish(t *testing.T, att *Attachment, frame *testFrame) {
	t.Helper()
	data, err := messaging.Encode(messaging.ChannelOpen{RequestID: 1})
	require.NoError(t, err)
	f.win.Dispatch(messaging.MessageEvent{Origin: att.CacheURL.Origin(), SourceID: frame.id, Data: data})
	f.loop.Drain()
	require.Equal(t, messaging.StateEstablished, att.Session.State())
}

func (f *fixture) send(t *testing.T, att *Attachment, frame *testFrame, req messaging.Request) {
	t.Helper()
	data, err := messaging.Encode(req)
	require.NoError(t, err)
	f.win.Dispatch(messaging.MessageEvent{Origin: att.CacheURL.Origin(), SourceID: frame.id, Data: data})
	f.loop.Drain()
}

func TestAttach(t *testing.T) {
	f := newFixture()
	frame := &testFrame{id: "frame-a"}

	att, err := f.viewer.Attach(AttachOptions{
		URL:    "https://www.ampproject.org",
		Window: f.win,
		Frame:  frame,
		Params: cacheurl.NewInitParams("cap", "history"),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(att.ID.String(), "att_"))
	assert.Equal(t,
		"https://www-ampproject-org.cdn.ampproject.org/v/s/www.ampproject.org/?amp_js_v=0.1#origin=http%3A%2F%2Flocalhost%3A8000&cap=history",
		att.CacheURL.String())
	assert.Equal(t, messaging.StateListening, att.Session.State())
	assert.Equal(t, "https://www-ampproject-org.cdn.ampproject.org", att.Session.Origin())
	assert.Equal(t, 1, att.Entry.StateID)
	assert.Equal(t, 1, f.win.ListenerCount())

	got, ok := f.viewer.Get(att.ID)
	assert.True(t, ok)
	assert.Same(t, att, got)
	assert.Equal(t, 1, f.recorder.built["viewer/readable"])
	assert.Equal(t, 1, f.recorder.active)
}

func TestAttachErrors(t *testing.T) {
	f := newFixture()

	_, err := f.viewer.Attach(AttachOptions{URL: "not a url", Window: f.win, Frame: &testFrame{id: "x"}})
	assert.ErrorIs(t, err, cacheurl.ErrInvalidURL)

	_, err = f.viewer.Attach(AttachOptions{URL: "https://a.example/", Window: f.win, Frame: &testFrame{id: "x"}, Strategy: "shout"})
	assert.Error(t, err)

	_, err = f.viewer.Attach(AttachOptions{URL: "https://a.example/", Frame: nil})
	assert.ErrorIs(t, err, messaging.ErrInvalidConfig)

	assert.Empty(t, f.viewer.Attachments())
	assert.Zero(t, f.viewer.History().Len())
}

func TestAttachPollStrategyOverride(t *testing.T) {
	f := newFixture()
	frame := &testFrame{id: "frame-a"}

	att, err := f.viewer.Attach(AttachOptions{URL: "https://a.example/", Frame: frame, Strategy: "poll"})
	require.NoError(t, err)
	assert.Equal(t, messaging.StateProbing, att.Session.State())
	assert.Equal(t, messaging.StrategyPoll, att.Session.Strategy())
}

func TestDetach(t *testing.T) {
	f := newFixture()
	att, frame := f.attach(t, "https://a.example/", "frame-a")
	f.establish(t, att, frame)

	require.NoError(t, f.viewer.Detach(att.ID))
	assert.Equal(t, messaging.StateClosed, att.Session.State())
	assert.Zero(t, f.win.ListenerCount())
	assert.Zero(t, f.recorder.active)
	assert.ErrorIs(t, f.viewer.Detach(att.ID), ErrNotFound)
}

func TestBroadcastRelay(t *testing.T) {
	f := newFixture()
	a, frameA := f.attach(t, "https://a.example/", "frame-a")
	b, frameB := f.attach(t, "https://b.example/", "frame-b")
	_, frameC := f.attach(t, "https://c.example/", "frame-c")
	f.establish(t, a, frameA)
	f.establish(t, b, frameB)

	f.send(t, a, frameA, messaging.Request{Name: messaging.NameBroadcast, RequestID: 5, Data: json.RawMessage(`{"type":"amp-subscriptions"}`)})

	var relayed []messaging.Request
	for _, r := range frameB.requests(t) {
		if r.Name == messaging.NameBroadcast {
			relayed = append(relayed, r)
		}
	}
	require.Len(t, relayed, 1)
	assert.False(t, relayed[0].RSVP)
	assert.JSONEq(t, `{"type":"amp-subscriptions"}`, string(relayed[0].Data))

	for _, r := range frameA.requests(t) {
		assert.NotEqual(t, messaging.NameBroadcast, r.Name, "sender does not get its own broadcast")
	}
	assert.Empty(t, frameC.requests(t), "documents still handshaking are skipped")
}

func TestCustomHandler(t *testing.T) {
	f := newFixture()
	var names []string
	frame := &testFrame{id: "frame-a"}
	att, err := f.viewer.Attach(AttachOptions{
		URL:    "https://a.example/",
		Window: f.win,
		Frame:  frame,
		Handler: func(name string, _ json.RawMessage, _ bool) (json.RawMessage, error) {
			names = append(names, name)
			return nil, nil
		},
	})
	require.NoError(t, err)
	f.establish(t, att, frame)

	f.send(t, att, frame, messaging.Request{Name: "requestFullOverlay", RequestID: 2})
	assert.Equal(t, []string{"requestFullOverlay"}, names)
}

func TestShow(t *testing.T) {
	f := newFixture()
	a, frameA := f.attach(t, "https://a.example/", "frame-a")
	b, frameB := f.attach(t, "https://b.example/", "frame-b")
	f.establish(t, a, frameA)
	f.establish(t, b, frameB)

	require.NoError(t, f.viewer.Show(b.ID))

	lastVisibility := func(frame *testFrame) string {
		reqs := frame.requests(t)
		r := reqs[len(reqs)-1]
		require.Equal(t, messaging.NameVisibilityChange, r.Name)
		var v messaging.Visibility
		require.NoError(t, json.Unmarshal(r.Data, &v))
		return v.State
	}
	assert.Equal(t, StateHidden, lastVisibility(frameA))
	assert.Equal(t, StateVisible, lastVisibility(frameB))

	assert.ErrorIs(t, f.viewer.Show("att_missing"), ErrNotFound)
}

func TestHistoryDrivesVisibility(t *testing.T) {
	f := newFixture()
	a, frameA := f.attach(t, "https://a.example/", "frame-a")
	b, frameB := f.attach(t, "https://b.example/", "frame-b")
	f.establish(t, a, frameA)
	f.establish(t, b, frameB)
	before := len(frameB.requests(t))

	dir := f.viewer.History().Pop(a.Entry.StateID, true)
	assert.Equal(t, Back, dir)

	reqs := frameB.requests(t)
	require.Len(t, reqs, before+1)
	assert.Equal(t, messaging.NameVisibilityChange, reqs[len(reqs)-1].Name)
	assert.JSONEq(t, `{"state":"hidden","prerenderSize":0}`, string(reqs[len(reqs)-1].Data))
}

func TestViewerClose(t *testing.T) {
	f := newFixture()
	f.attach(t, "https://a.example/", "frame-a")
	f.attach(t, "https://b.example/", "frame-b")

	f.viewer.Close()
	assert.Empty(t, f.viewer.Attachments())
	assert.Zero(t, f.win.ListenerCount())
}
