package prefetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/ampviewer/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/ampviewer/internal/infrastructure/tracing"
)

// ErrServer marks a 5xx answer from the cache.
var ErrServer = errors.New("prefetch: server error")

// Recorder receives prefetch outcomes, typically to record metrics.
type Recorder interface {
	RecordPrefetch(status int, duration time.Duration)
}

// Options configures a Prefetcher.
type Options struct {
	// RequestsPerSecond limits outbound requests. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int
	Concurrency       int
	Timeout           time.Duration
	Retries           int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	UserAgent         string
	// Breakers guards each cache host. Nil creates a default group.
	Breakers *resilience.Group
	Logger   *zap.Logger
	Recorder Recorder
	// Tracer records a span per fetch and propagates the trace to the
	// cache. Nil disables tracing.
	Tracer *tracing.Tracer
}

// Result describes one prefetched document.
type Result struct {
	URL         string        `json:"url"`
	Status      int           `json:"status"`
	ContentType string        `json:"contentType,omitempty"`
	IsAMP       bool          `json:"isAmp"`
	Title       string        `json:"title,omitempty"`
	Canonical   string        `json:"canonical,omitempty"`
	Bytes       int           `json:"bytes"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// OK reports whether the fetch returned a 2xx AMP document.
func (r *Result) OK() bool {
	return r.Error == "" && r.Status >= 200 && r.Status < 300 && r.IsAMP
}

// Prefetcher warms the cache by fetching cache URLs ahead of display.
type Prefetcher struct {
	client   *resty.Client
	limiter  *rate.Limiter
	breakers *resilience.Group
	opts     Options
	logger   *zap.Logger
	recorder Recorder
	tracer   *tracing.Tracer
}

// New creates a prefetcher.
func New(opts Options) *Prefetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 500 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 5 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "ampviewer-prefetch/1.0"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Breakers == nil {
		logger := opts.Logger
		opts.Breakers = resilience.NewGroup(resilience.Settings{
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsFailure: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
			OnStateChange: func(host string, from, to resilience.State) {
				logger.Warn("Cache host breaker changed state",
					zap.String("host", host),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
			},
		})
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "text/html")

	return &Prefetcher{
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		breakers: opts.Breakers,
		opts:     opts,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		tracer:   opts.Tracer,
	}
}

// Prefetch fetches one cache URL and inspects the document. A non-nil
// error means no response was obtained; HTTP error statuses are reported
// in the result.
func (p *Prefetcher) Prefetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("prefetch: invalid url %q", rawURL)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	span, ctx := p.tracer.Start(ctx, "prefetch")
	span.SetTag("url", rawURL)
	defer span.End()

	start := time.Now()
	res := &Result{URL: rawURL}

	var resp *resty.Response
	err = p.breakers.Execute(u.Host, func() error {
		req := p.client.R().SetContext(ctx)
		tracing.Inject(ctx, req.Header)
		r, err := req.Get(rawURL)
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode() >= 500 {
			return fmt.Errorf("%w: %s", ErrServer, r.Status())
		}
		return nil
	})
	res.Duration = time.Since(start)

	if resp != nil {
		res.Status = resp.StatusCode()
		span.SetStatus(res.Status)
		inspect(res, resp)
	}
	if err != nil {
		span.SetError(err)
	}
	if p.recorder != nil {
		p.recorder.RecordPrefetch(res.Status, res.Duration)
	}

	switch {
	case err == nil:
	case resp != nil && errors.Is(err, ErrServer):
		res.Error = err.Error()
	default:
		return nil, fmt.Errorf("prefetch %s: %w", rawURL, err)
	}

	p.logger.Debug("Prefetched",
		zap.String("url", rawURL),
		zap.Int("status", res.Status),
		zap.Bool("amp", res.IsAMP),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// PrefetchAll fetches urls with bounded concurrency. Results are in input
// order; a URL that failed outright carries its error in Result.Error.
// The returned error is non-nil only when ctx ends.
func (p *Prefetcher) PrefetchAll(ctx context.Context, urls []string) ([]*Result, error) {
	results := make([]*Result, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			res, err := p.Prefetch(gctx, u)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				res = &Result{URL: u, Error: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Breakers returns the per-host circuit breakers.
func (p *Prefetcher) Breakers() *resilience.Group {
	return p.breakers
}

func inspect(res *Result, resp *resty.Response) {
	body := resp.Body()
	res.Bytes = len(body)

	res.ContentType = resp.Header().Get("Content-Type")
	detected := mimetype.Detect(body)
	if res.ContentType == "" {
		res.ContentType = detected.String()
	}
	if !detected.Is("text/html") && !strings.HasPrefix(res.ContentType, "text/html") {
		return
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return
	}
	root := doc.Find("html").First()
	_, amp := root.Attr("amp")
	_, bolt := root.Attr("⚡")
	res.IsAMP = amp || bolt
	res.Title = strings.TrimSpace(doc.Find("head title").First().Text())
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		res.Canonical = href
	}
}

// StatusText returns a short label for the result, used by the CLI.
func (r *Result) StatusText() string {
	switch {
	case r.Error != "" && r.Status == 0:
		return "error"
	case r.OK():
		return "ok"
	case r.Status >= 200 && r.Status < 300:
		return "not-amp"
	default:
		return http.StatusText(r.Status)
	}
}
