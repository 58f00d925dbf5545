package cacheurl

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"github.com/GriffinCanCode/ampviewer/internal/curls"
)

const (
	// DefaultCacheDomain is the public AMP cache root.
	DefaultCacheDomain = "cdn.ampproject.org"
	// DefaultJSVersion is the runtime version requested by viewer URLs.
	DefaultJSVersion = "0.1"

	jsVersionParam = "amp_js_v"
)

// Options configures a Builder. Zero values fall back to the defaults.
type Options struct {
	CacheDomain string
	JSVersion   string
}

// Option overrides an Options field for a single Build call.
type Option func(*Options)

// WithCacheDomain overrides the cache root domain.
func WithCacheDomain(domain string) Option {
	return func(o *Options) {
		if domain != "" {
			o.CacheDomain = domain
		}
	}
}

// WithJSVersion overrides the viewer runtime version.
func WithJSVersion(version string) Option {
	return func(o *Options) {
		if version != "" {
			o.JSVersion = version
		}
	}
}

// Builder turns publisher URLs into cache URLs.
type Builder struct {
	opts Options
}

// NewBuilder creates a builder with the given defaults
func NewBuilder(opts Options) *Builder {
	if opts.CacheDomain == "" {
		opts.CacheDomain = DefaultCacheDomain
	}
	if opts.JSVersion == "" {
		opts.JSVersion = DefaultJSVersion
	}
	return &Builder{opts: opts}
}

// Options returns the builder defaults.
func (b *Builder) Options() Options {
	return b.opts
}

// Build rewrites publisherURL into a cache URL for the given mode. The
// params are serialized into the fragment in order.
func (b *Builder) Build(publisherURL string, params InitParams, mode Mode, opts ...Option) (*CacheURL, error) {
	o := b.opts
	for _, opt := range opts {
		opt(&o)
	}
	if mode != ModeViewer && mode != ModeNative {
		return nil, ErrUnknownMode
	}

	u, err := parsePublisherURL(publisherURL)
	if err != nil {
		return nil, err
	}

	hostname, err := asciiHostname(u.Hostname())
	if err != nil {
		return nil, &InvalidURLError{URL: publisherURL, Reason: "invalid internationalized host", Err: err}
	}
	label := curls.EncodeDetailed(hostname)
	authority := label.Label + "." + o.CacheDomain

	host := hostname
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" {
		host += ":" + port
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	var sb strings.Builder
	sb.WriteString("https://")
	sb.WriteString(authority)
	sb.WriteString(mode.pathPrefix())
	if u.Scheme == "https" {
		sb.WriteString("s/")
	}
	sb.WriteString(host)
	sb.WriteString(path)

	fragment := params.Encode()
	switch mode {
	case ModeViewer:
		if u.RawQuery != "" {
			sb.WriteString("?" + u.RawQuery + "&")
		} else {
			sb.WriteString("?")
		}
		sb.WriteString(jsVersionParam + "=" + o.JSVersion)
		sb.WriteString("#" + fragment)
	case ModeNative:
		if u.RawQuery != "" {
			sb.WriteString("?" + u.RawQuery)
		}
		if fragment != "" {
			sb.WriteString("#" + fragment)
		}
	}

	return &CacheURL{
		raw:       sb.String(),
		publisher: u,
		authority: authority,
		label:     label,
		mode:      mode,
	}, nil
}

// Build rewrites publisherURL using the default cache domain and runtime
// version.
func Build(publisherURL string, params InitParams, mode Mode, opts ...Option) (*CacheURL, error) {
	return NewBuilder(Options{}).Build(publisherURL, params, mode, opts...)
}

func parsePublisherURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, &InvalidURLError{URL: raw, Reason: "unparseable", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &InvalidURLError{URL: raw, Reason: "scheme must be http or https"}
	}
	if u.Opaque != "" || u.Hostname() == "" {
		return nil, &InvalidURLError{URL: raw, Reason: "missing host"}
	}
	return u, nil
}

// asciiHostname lowercases host and converts Unicode labels to punycode.
func asciiHostname(host string) (string, error) {
	host = strings.ToLower(host)
	if strings.Contains(host, ":") {
		return host, nil
	}
	return idna.Punycode.ToASCII(host)
}

// CacheURL is a built cache URL. It is recomputed for every attach.
type CacheURL struct {
	raw       string
	publisher *url.URL
	authority string
	label     curls.Result
	mode      Mode
}

// String returns the full cache URL.
func (c *CacheURL) String() string {
	return c.raw
}

// Origin returns the origin the embedded document is served from.
func (c *CacheURL) Origin() string {
	return "https://" + c.authority
}

// Authority returns the cache host.
func (c *CacheURL) Authority() string {
	return c.authority
}

// Label returns the curls subdomain label.
func (c *CacheURL) Label() string {
	return c.label.Label
}

// LabelKind returns how the label was derived.
func (c *CacheURL) LabelKind() curls.Kind {
	return c.label.Kind
}

// Mode returns the entry point the URL targets.
func (c *CacheURL) Mode() Mode {
	return c.mode
}

// PublisherURL returns the original publisher URL string.
func (c *CacheURL) PublisherURL() string {
	return c.publisher.String()
}
