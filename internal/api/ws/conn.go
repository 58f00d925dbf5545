package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ampviewer/internal/messaging"
	"github.com/GriffinCanCode/ampviewer/internal/shared/id"
	"github.com/GriffinCanCode/ampviewer/internal/shared/utils"
	"github.com/GriffinCanCode/ampviewer/internal/viewer"
)

// maxChannelsPerFrame bounds the probe channels kept open for one iframe;
// the oldest is closed first.
const maxChannelsPerFrame = 16

var (
	ErrConnClosed   = errors.New("ws: connection closed")
	ErrSlowConsumer = errors.New("ws: send buffer full")
)

// Conn is one host page connection. It is the page's window for every
// session attached over it, and hands out a Frame per iframe.
type Conn struct {
	id     id.ConnectionID
	h      *Handler
	ws     *websocket.Conn
	window *messaging.HostWindow
	logger *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	frames      map[id.AttachmentID]*frame
	channels    map[int]messaging.Port
	nextChannel int
}

func newConn(h *Handler, ws *websocket.Conn) *Conn {
	connID := id.NewConnectionID()
	return &Conn{
		id:       connID,
		h:        h,
		ws:       ws,
		window:   messaging.NewHostWindow(h.loop),
		logger:   h.logger.With(zap.String("conn", connID.String())),
		send:     make(chan []byte, h.opts.SendBuffer),
		done:     make(chan struct{}),
		frames:   make(map[id.AttachmentID]*frame),
		channels: make(map[int]messaging.Port),
	}
}

// frame is the server-side stand-in for one iframe on the page.
type frame struct {
	id       id.FrameID
	conn     *Conn
	channels []int
}

func (f *frame) ID() string { return f.id.String() }

func (f *frame) PostMessage(data []byte, targetOrigin string, transfer messaging.Port) error {
	pf := PostFrame{Type: TypePost, Frame: f.ID(), Target: targetOrigin, Data: rawData(data)}
	if transfer != nil {
		ch, err := f.conn.openChannel(f, transfer)
		if err != nil {
			return err
		}
		pf.Channel = ch
	}
	return f.conn.write(TypePost, &pf)
}

func (c *Conn) serve() {
	go c.writePump()
	defer c.close()

	pongWait := c.h.opts.PingInterval * 2
	c.ws.SetReadLimit(utils.MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.logger.Info("Bridge connected")
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Bridge read error", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("Bridge write failed", zap.Error(err))
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) handle(data []byte) {
	msg, err := decodeFrame(data)
	if err != nil {
		c.h.recordMessage("in", "invalid")
		c.sendError(err)
		return
	}

	switch m := msg.(type) {
	case *AttachRequest:
		c.h.recordMessage("in", TypeAttach)
		c.attach(m)
	case *DetachRequest:
		c.h.recordMessage("in", TypeDetach)
		if err := c.detach(id.AttachmentID(m.ID)); err != nil {
			c.sendError(err)
		}
	case *MessageFrame:
		c.h.recordMessage("in", TypeMessage)
		c.window.Dispatch(messaging.MessageEvent{
			Origin:   m.Origin,
			SourceID: m.Source,
			Data:     payload(m.Data),
		})
	case *PortFrame:
		c.h.recordMessage("in", TypePort)
		c.mu.Lock()
		port, ok := c.channels[m.Channel]
		c.mu.Unlock()
		if !ok {
			c.sendError(fmt.Errorf("unknown channel %d", m.Channel))
			return
		}
		if err := port.PostMessage(payload(m.Data)); err != nil {
			c.logger.Debug("Port relay dropped", zap.Int("channel", m.Channel), zap.Error(err))
		}
	case *PopStateRequest:
		c.h.recordMessage("in", TypePopState)
		state, ok := 0, m.State != nil
		if ok {
			state = *m.State
		}
		dir := c.h.viewer.History().Pop(state, ok)
		c.logger.Debug("History pop", zap.Int("state", state), zap.Stringer("direction", dir))
	case *VisibilityRequest:
		c.h.recordMessage("in", TypeVisibility)
		c.setVisibility(m)
	case *header:
		c.h.recordMessage("in", TypePing)
		_ = c.write(TypePong, &header{Type: TypePong})
	}
}

func (c *Conn) attach(req *AttachRequest) {
	if err := utils.ValidateURL(req.URL, "url"); err != nil {
		c.sendError(err)
		return
	}
	if len(req.Params) > utils.MaxParamCount {
		c.sendError(errors.New("too many params"))
		return
	}

	f := &frame{id: id.NewFrameID(), conn: c}
	att, err := c.h.viewer.Attach(viewer.AttachOptions{
		URL:      req.URL,
		Window:   c.window,
		Frame:    f,
		Params:   req.Params,
		Strategy: req.Strategy,
		Handler:  c.requestHandler(f),
	})
	if err != nil {
		c.sendError(err)
		return
	}

	c.mu.Lock()
	c.frames[att.ID] = f
	c.mu.Unlock()

	_ = c.write(TypeAttach, &AttachReply{
		Type:   TypeAttach,
		ID:     att.ID.String(),
		Frame:  f.ID(),
		Src:    att.CacheURL.String(),
		Origin: att.CacheURL.Origin(),
	})
	_ = c.write(TypeHistory, &HistoryFrame{Type: TypeHistory, State: att.Entry.StateID, URL: att.Entry.URL})
}

func (c *Conn) detach(attID id.AttachmentID) error {
	c.mu.Lock()
	f, ok := c.frames[attID]
	delete(c.frames, attID)
	var ports []messaging.Port
	if ok {
		ports = c.releaseChannelsLocked(f.channels)
		f.channels = nil
	}
	c.mu.Unlock()

	if !ok {
		return viewer.ErrNotFound
	}
	for _, p := range ports {
		p.Close()
	}
	return c.h.viewer.Detach(attID)
}

func (c *Conn) setVisibility(req *VisibilityRequest) {
	if req.State == "" {
		c.sendError(errors.New("visibility state is required"))
		return
	}

	c.mu.Lock()
	ids := make([]id.AttachmentID, 0, len(c.frames))
	for attID := range c.frames {
		if req.ID == "" || attID.String() == req.ID {
			ids = append(ids, attID)
		}
	}
	c.mu.Unlock()

	if req.ID != "" && len(ids) == 0 {
		c.sendError(viewer.ErrNotFound)
		return
	}
	for _, attID := range ids {
		att, ok := c.h.viewer.Get(attID)
		if !ok {
			continue
		}
		if _, err := att.Session.SetVisibility(req.State, req.PrerenderSize); err != nil {
			c.logger.Debug("Visibility not sent", zap.String("attachment", attID.String()), zap.Error(err))
		}
	}
}

func (c *Conn) requestHandler(f *frame) messaging.RequestHandler {
	return func(name string, data json.RawMessage, rsvp bool) (json.RawMessage, error) {
		return nil, c.write(TypeEvent, &EventFrame{
			Type:  TypeEvent,
			Frame: f.ID(),
			Name:  name,
			Data:  data,
			RSVP:  rsvp,
		})
	}
}

// openChannel registers the remote end of a transferred channel. Messages
// the session sends on its end reach the page as port frames.
func (c *Conn) openChannel(f *frame, port messaging.Port) (int, error) {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		port.Close()
		return 0, ErrConnClosed
	default:
	}

	c.nextChannel++
	ch := c.nextChannel
	c.channels[ch] = port
	f.channels = append(f.channels, ch)

	var evicted []messaging.Port
	if len(f.channels) > maxChannelsPerFrame {
		n := len(f.channels) - maxChannelsPerFrame
		evicted = c.releaseChannelsLocked(f.channels[:n])
		f.channels = append([]int(nil), f.channels[n:]...)
	}
	c.mu.Unlock()

	for _, p := range evicted {
		p.Close()
	}
	port.OnMessage(func(data []byte) {
		_ = c.write(TypePort, &PortFrame{Type: TypePort, Channel: ch, Data: rawData(data)})
	})
	return ch, nil
}

func (c *Conn) releaseChannelsLocked(chs []int) []messaging.Port {
	ports := make([]messaging.Port, 0, len(chs))
	for _, ch := range chs {
		if p, ok := c.channels[ch]; ok {
			ports = append(ports, p)
			delete(c.channels, ch)
		}
	}
	return ports
}

func (c *Conn) write(msgType string, v any) error {
	b, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("ws: encode %s frame: %w", msgType, err)
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- b:
		c.h.recordMessage("out", msgType)
		return nil
	default:
		c.logger.Warn("Bridge send buffer full", zap.String("type", msgType))
		return ErrSlowConsumer
	}
}

func (c *Conn) sendError(err error) {
	_ = c.write(TypeError, &ErrorFrame{Type: TypeError, Message: err.Error()})
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()

		c.mu.Lock()
		ids := make([]id.AttachmentID, 0, len(c.frames))
		for attID := range c.frames {
			ids = append(ids, attID)
		}
		c.mu.Unlock()

		for _, attID := range ids {
			if err := c.detach(attID); err != nil {
				c.logger.Debug("Detach on close", zap.String("attachment", attID.String()), zap.Error(err))
			}
		}

		c.mu.Lock()
		ports := make([]messaging.Port, 0, len(c.channels))
		for ch, p := range c.channels {
			ports = append(ports, p)
			delete(c.channels, ch)
		}
		c.mu.Unlock()
		for _, p := range ports {
			p.Close()
		}

		c.logger.Info("Bridge disconnected", zap.Int("detached", len(ids)))
	})
}
