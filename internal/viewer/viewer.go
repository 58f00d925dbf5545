package viewer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ampviewer/internal/cacheurl"
	"github.com/GriffinCanCode/ampviewer/internal/eventloop"
	"github.com/GriffinCanCode/ampviewer/internal/messaging"
	"github.com/GriffinCanCode/ampviewer/internal/shared/id"
)

// Visibility states sent to attached documents.
const (
	StateVisible = "visible"
	StateHidden  = "hidden"
)

// ErrNotFound is returned for unknown attachment ids.
var ErrNotFound = errors.New("viewer: attachment not found")

// Recorder receives viewer events, typically to record metrics.
type Recorder interface {
	CacheURLBuilt(mode cacheurl.Mode, kind string)
	SetAttachmentsActive(n int)
}

type nopRecorder struct{}

func (nopRecorder) CacheURLBuilt(cacheurl.Mode, string) {}
func (nopRecorder) SetAttachmentsActive(int)            {}

// Options configures a Viewer.
type Options struct {
	Builder *cacheurl.Builder
	// Origin is the viewer's own origin, sent first in the init params.
	Origin       string
	Strategy     messaging.Strategy
	PollInterval time.Duration
	Logger       *zap.Logger
	Observer     messaging.Observer
	Recorder     Recorder
}

// AttachOptions describes one document to attach.
type AttachOptions struct {
	URL    string
	Window messaging.Window
	Frame  messaging.Frame
	Params cacheurl.InitParams
	// Strategy overrides the viewer default when non-empty.
	Strategy   string
	Handler    messaging.RequestHandler
	Visibility messaging.Visibility
}

// Attachment is a document attached to the viewer.
type Attachment struct {
	ID        id.AttachmentID
	CacheURL  *cacheurl.CacheURL
	Session   *messaging.Session
	Entry     Entry
	CreatedAt time.Time
}

// Viewer builds cache URLs, runs a handshake per attached frame and
// relays history and broadcast traffic between them.
type Viewer struct {
	loop        eventloop.Loop
	opts        Options
	logger      *zap.Logger
	recorder    Recorder
	history     *History
	broadcaster *Broadcaster

	mu          sync.RWMutex
	attachments map[id.AttachmentID]*Attachment
}

// New creates a viewer running its sessions on loop.
func New(loop eventloop.Loop, opts Options) *Viewer {
	if opts.Builder == nil {
		opts.Builder = cacheurl.NewBuilder(cacheurl.Options{})
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	v := &Viewer{
		loop:        loop,
		opts:        opts,
		logger:      opts.Logger,
		recorder:    recorder,
		broadcaster: NewBroadcaster(opts.Logger),
		attachments: make(map[id.AttachmentID]*Attachment),
	}
	v.history = NewHistory(
		func(e Entry) { v.setVisibilityFor(e.URL, StateVisible, 1) },
		func(e Entry) { v.setVisibilityFor(e.URL, StateHidden, 0) },
	)
	return v
}

// BuildURL builds a cache URL for publisherURL with the viewer origin as
// the first init param.
func (v *Viewer) BuildURL(publisherURL string, params cacheurl.InitParams, mode cacheurl.Mode, opts ...cacheurl.Option) (*cacheurl.CacheURL, error) {
	all := make(cacheurl.InitParams, 0, len(params)+1)
	if v.opts.Origin != "" {
		all = all.Set("origin", v.opts.Origin)
	}
	for _, p := range params {
		all = all.Set(p.Key, p.Value)
	}

	u, err := v.opts.Builder.Build(publisherURL, all, mode, opts...)
	if err != nil {
		return nil, err
	}
	v.recorder.CacheURLBuilt(mode, u.LabelKind().String())
	return u, nil
}

// Attach builds the cache URL for opts.URL and starts the handshake with
// opts.Frame. The caller points the frame at Attachment.CacheURL.
func (v *Viewer) Attach(opts AttachOptions) (*Attachment, error) {
	strategy := v.opts.Strategy
	if opts.Strategy != "" {
		s, err := messaging.ParseStrategy(opts.Strategy)
		if err != nil {
			return nil, err
		}
		strategy = s
	}

	u, err := v.BuildURL(opts.URL, opts.Params, cacheurl.ModeViewer)
	if err != nil {
		return nil, err
	}

	attID := id.NewAttachmentID()
	session, err := messaging.NewSession(v.loop, messaging.Config{
		Window:       opts.Window,
		Frame:        opts.Frame,
		Origin:       u.Origin(),
		Strategy:     strategy,
		PollInterval: v.opts.PollInterval,
		Handler:      v.handlerFor(attID, opts.Handler),
		Visibility:   opts.Visibility,
		Logger:       v.logger.With(zap.String("attachment", attID.String())),
		Observer:     v.opts.Observer,
	})
	if err != nil {
		return nil, fmt.Errorf("viewer: attach %s: %w", opts.URL, err)
	}
	if err := session.Start(); err != nil {
		return nil, fmt.Errorf("viewer: attach %s: %w", opts.URL, err)
	}

	att := &Attachment{
		ID:        attID,
		CacheURL:  u,
		Session:   session,
		Entry:     v.history.Push(u.PublisherURL()),
		CreatedAt: time.Now(),
	}

	v.mu.Lock()
	v.attachments[attID] = att
	n := len(v.attachments)
	v.mu.Unlock()

	v.broadcaster.Join(attID.String(), session)
	v.recorder.SetAttachmentsActive(n)
	v.logger.Info("Attached document",
		zap.String("attachment", attID.String()),
		zap.String("src", u.String()),
		zap.String("strategy", strategy.String()))
	return att, nil
}

// Detach closes the attachment's session.
func (v *Viewer) Detach(attID id.AttachmentID) error {
	v.mu.Lock()
	att, ok := v.attachments[attID]
	delete(v.attachments, attID)
	n := len(v.attachments)
	v.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	v.broadcaster.Leave(attID.String())
	att.Session.Close()
	v.recorder.SetAttachmentsActive(n)
	v.logger.Info("Detached document", zap.String("attachment", attID.String()))
	return nil
}

// Get returns a live attachment.
func (v *Viewer) Get(attID id.AttachmentID) (*Attachment, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	att, ok := v.attachments[attID]
	return att, ok
}

// Attachments lists live attachments, oldest first.
func (v *Viewer) Attachments() []*Attachment {
	v.mu.RLock()
	list := make([]*Attachment, 0, len(v.attachments))
	for _, att := range v.attachments {
		list = append(list, att)
	}
	v.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Show makes attID the visible document and hides every other one.
func (v *Viewer) Show(attID id.AttachmentID) error {
	if _, ok := v.Get(attID); !ok {
		return ErrNotFound
	}
	for _, att := range v.Attachments() {
		var err error
		if att.ID == attID {
			_, err = att.Session.SetVisibility(StateVisible, 1)
		} else {
			_, err = att.Session.SetVisibility(StateHidden, 0)
		}
		if err != nil {
			v.logger.Debug("Visibility not sent", zap.String("attachment", att.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// History returns the navigation history.
func (v *Viewer) History() *History {
	return v.history
}

// Close detaches every attachment.
func (v *Viewer) Close() {
	for _, att := range v.Attachments() {
		_ = v.Detach(att.ID)
	}
}

func (v *Viewer) setVisibilityFor(publisherURL, state string, prerenderSize int) {
	for _, att := range v.Attachments() {
		if att.Entry.URL != publisherURL {
			continue
		}
		if _, err := att.Session.SetVisibility(state, prerenderSize); err != nil {
			v.logger.Debug("Visibility not sent", zap.String("attachment", att.ID.String()), zap.Error(err))
		}
	}
}

func (v *Viewer) handlerFor(attID id.AttachmentID, h messaging.RequestHandler) messaging.RequestHandler {
	return func(name string, data json.RawMessage, rsvp bool) (json.RawMessage, error) {
		if name == messaging.NameBroadcast {
			v.broadcaster.Broadcast(attID.String(), data)
			return nil, nil
		}
		if h == nil {
			return nil, messaging.ErrNoHandler
		}
		return h(name, data, rsvp)
	}
}
