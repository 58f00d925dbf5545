package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ampviewer/internal/eventloop"
)

func newPair(t *testing.T) (*eventloop.Manual, *Messaging, Port, *[][]byte) {
	t.Helper()
	loop := eventloop.NewManual()
	local, remote := NewChannel(loop)
	m := NewMessaging(local, nil)
	return loop, m, remote, collect(remote)
}

func TestSendRequestCorrelation(t *testing.T) {
	loop, m, remote, got := newPair(t)

	p1, err := m.SendRequest("a", map[string]int{"n": 1}, true)
	require.NoError(t, err)
	p2, err := m.SendRequest("b", nil, true)
	require.NoError(t, err)
	assert.Equal(t, 1, p1.RequestID)
	assert.Equal(t, 2, p2.RequestID)
	assert.Equal(t, 2, m.PendingCount())

	loop.Drain()
	require.Len(t, *got, 2)
	req := mustDecode(t, (*got)[0]).(Request)
	assert.Equal(t, "a", req.Name)
	assert.True(t, req.RSVP)
	assert.JSONEq(t, `{"n":1}`, string(req.Data))

	// Answer out of order.
	require.NoError(t, remote.PostMessage(mustEncode(t, Response{RequestID: 2, Data: json.RawMessage(`"two"`)})))
	require.NoError(t, remote.PostMessage(mustEncode(t, Response{RequestID: 1, Data: json.RawMessage(`"one"`)})))
	loop.Drain()

	data, err := p1.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"one"`, string(data))
	data, err = p2.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"two"`, string(data))
	assert.Zero(t, m.PendingCount())
}

func TestSendRequestFireAndForget(t *testing.T) {
	loop, m, _, got := newPair(t)

	p, err := m.SendRequest("broadcast", "hi", false)
	require.NoError(t, err)
	assert.True(t, p.Resolved())
	assert.Zero(t, m.PendingCount())

	loop.Drain()
	req := mustDecode(t, (*got)[0]).(Request)
	assert.False(t, req.RSVP)
}

func TestUnknownResponseDropped(t *testing.T) {
	loop, m, remote, _ := newPair(t)
	var drops []DropReason
	m.onDrop = func(r DropReason) { drops = append(drops, r) }

	require.NoError(t, remote.PostMessage(mustEncode(t, Response{RequestID: 99})))
	require.NoError(t, remote.PostMessage([]byte(`garbage`)))
	loop.Drain()

	assert.Equal(t, []DropReason{DropStale, DropUnrecognized}, drops)
}

func TestRemoteError(t *testing.T) {
	loop, m, remote, _ := newPair(t)

	p, err := m.SendRequest("save", nil, true)
	require.NoError(t, err)
	require.NoError(t, remote.PostMessage(mustEncode(t, Response{RequestID: p.RequestID, Error: "denied"})))
	loop.Drain()

	_, err = p.Wait(context.Background())
	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, "save", remoteErr.Name)
	assert.Equal(t, "denied", remoteErr.Message)
}

func TestInboundRequests(t *testing.T) {
	loop, m, remote, got := newPair(t)

	def := &recordingHandler{reply: json.RawMessage(`{"ok":true}`)}
	named := &recordingHandler{err: errors.New("nope")}
	m.SetDefaultHandler(def.Handle)
	m.RegisterHandler("special", named.Handle)

	require.NoError(t, remote.PostMessage(mustEncode(t, Request{Name: "ping", RequestID: 4, RSVP: true})))
	require.NoError(t, remote.PostMessage(mustEncode(t, Request{Name: "special", RequestID: 5, RSVP: true})))
	require.NoError(t, remote.PostMessage(mustEncode(t, Request{Name: "note", RequestID: 6})))
	loop.Drain()

	assert.Equal(t, []handlerCall{{name: "ping", rsvp: true}, {name: "note"}}, def.Calls())
	assert.Len(t, named.Calls(), 1)

	require.Len(t, *got, 2, "only rsvp requests are answered")
	ok := mustDecode(t, (*got)[0]).(Response)
	assert.Equal(t, 4, ok.RequestID)
	assert.JSONEq(t, `{"ok":true}`, string(ok.Data))

	failed := mustDecode(t, (*got)[1]).(Response)
	assert.Equal(t, 5, failed.RequestID)
	assert.Equal(t, "nope", failed.Error)
	assert.Empty(t, failed.Data)
}

func TestInboundRequestWithoutHandler(t *testing.T) {
	loop, _, remote, got := newPair(t)

	require.NoError(t, remote.PostMessage(mustEncode(t, Request{Name: "ping", RequestID: 1, RSVP: true})))
	loop.Drain()

	require.Len(t, *got, 1)
	resp := mustDecode(t, (*got)[0]).(Response)
	assert.Equal(t, ErrNoHandler.Error(), resp.Error)
}

func TestMessagingClose(t *testing.T) {
	loop, m, remote, got := newPair(t)

	p, err := m.SendRequest("a", nil, true)
	require.NoError(t, err)
	m.Close()
	m.Close()

	_, err = p.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = m.SendRequest("b", nil, true)
	assert.ErrorIs(t, err, ErrClosed)

	loop.Drain()
	n := len(*got)
	_ = remote.PostMessage(mustEncode(t, Response{RequestID: 1}))
	loop.Drain()
	assert.Len(t, *got, n)
}

func TestPendingWaitContext(t *testing.T) {
	_, m, _, _ := newPair(t)
	p, err := m.SendRequest("slow", nil, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, p.Resolved())
}
