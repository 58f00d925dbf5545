package messaging

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type framePost struct {
	data   []byte
	target string
	port   Port
}

type fakeFrame struct {
	id string

	mu    sync.Mutex
	posts []framePost
}

func (f *fakeFrame) ID() string { return f.id }

func (f *fakeFrame) PostMessage(data []byte, target string, port Port) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, framePost{data: data, target: target, port: port})
	return nil
}

func (f *fakeFrame) Posts() []framePost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]framePost(nil), f.posts...)
}

type recordingObserver struct {
	mu          sync.Mutex
	started     int
	established int
	closed      int
	dropped     map[DropReason]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{dropped: make(map[DropReason]int)}
}

func (o *recordingObserver) HandshakeStarted(Strategy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) HandshakeEstablished(Strategy, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.established++
}

func (o *recordingObserver) HandshakeClosed(Strategy, State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
}

func (o *recordingObserver) MessageDropped(r DropReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped[r]++
}

func (o *recordingObserver) Dropped(r DropReason) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped[r]
}

type handlerCall struct {
	name string
	data string
	rsvp bool
}

type recordingHandler struct {
	mu    sync.Mutex
	calls []handlerCall
	reply json.RawMessage
	err   error
}

func (h *recordingHandler) Handle(name string, data json.RawMessage, rsvp bool) (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, handlerCall{name: name, data: string(data), rsvp: rsvp})
	return h.reply, h.err
}

func (h *recordingHandler) Calls() []handlerCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]handlerCall(nil), h.calls...)
}

func mustEncode(t *testing.T, v Variant) []byte {
	t.Helper()
	b, err := Encode(v)
	require.NoError(t, err)
	return b
}

func mustDecode(t *testing.T, b []byte) Variant {
	t.Helper()
	v, err := Decode(b)
	require.NoError(t, err)
	return v
}

// collect installs a handler on p that records every inbound message.
func collect(p Port) *[][]byte {
	var got [][]byte
	p.OnMessage(func(b []byte) { got = append(got, b) })
	return &got
}
