package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ampviewer/internal/eventloop"
	"github.com/GriffinCanCode/ampviewer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ampviewer/internal/viewer"
)

// Options configures the bridge handler.
type Options struct {
	// AllowedOrigins restricts the pages allowed to connect. Empty allows
	// any origin.
	AllowedOrigins []string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	// SendBuffer is the number of outbound frames queued per connection.
	SendBuffer int
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
}

// Handler manages bridge connections
type Handler struct {
	viewer   *viewer.Viewer
	loop     eventloop.Loop
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(v *viewer.Viewer, loop eventloop.Loop, opts Options) *Handler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	h := &Handler{
		viewer: v,
		loop:   loop,
		opts:   opts,
		logger: opts.Logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// HandleConnection upgrades the request and serves the bridge until the
// socket closes. Attachments made over the connection are detached on
// close.
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(h, ws)
	if m := h.opts.Metrics; m != nil {
		m.IncWSConnections()
		defer m.DecWSConnections()
	}
	conn.serve()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) recordMessage(direction, msgType string) {
	if m := h.opts.Metrics; m != nil {
		m.RecordWSMessage(direction, msgType)
	}
}
