package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ampviewer/internal/cacheurl"
	"github.com/GriffinCanCode/ampviewer/internal/curls"
	"github.com/GriffinCanCode/ampviewer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ampviewer/internal/prefetch"
	"github.com/GriffinCanCode/ampviewer/internal/shared/utils"
	"github.com/GriffinCanCode/ampviewer/internal/viewer"
)

// Version is reported by the root endpoint.
const Version = "0.3.0"

// paramPrefix marks extra init params in GET /v1/cache-url queries.
const paramPrefix = "p."

// Handlers contains all HTTP handlers
type Handlers struct {
	viewer     *viewer.Viewer
	metrics    *monitoring.Metrics
	prefetcher *prefetch.Prefetcher
	logger     *zap.Logger
	startedAt  time.Time
}

// NewHandlers creates a new handler set. metrics may be nil.
func NewHandlers(v *viewer.Viewer, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		viewer:    v,
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "AMP Viewer",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":      "healthy",
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
		"attachments": len(h.viewer.Attachments()),
		"history":     h.viewer.History().Len(),
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	if h.prefetcher != nil {
		breakers := gin.H{}
		for host, state := range h.prefetcher.Breakers().States() {
			breakers[host] = state.String()
		}
		body["breakers"] = breakers
	}
	c.JSON(http.StatusOK, body)
}

// CurlsResponse is the body of GET /v1/curls.
type CurlsResponse struct {
	Host  string `json:"host"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// Curls returns the cache subdomain label for a host
func (h *Handlers) Curls(c *gin.Context) {
	host := c.Query("host")
	if err := utils.ValidateHost(host); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res := curls.EncodeDetailed(host)
	c.JSON(http.StatusOK, CurlsResponse{Host: host, Label: res.Label, Kind: res.Kind.String()})
}

// CacheURLRequest is the body of POST /v1/cache-url.
type CacheURLRequest struct {
	URL         string              `json:"url" binding:"required"`
	Mode        string              `json:"mode"`
	Origin      string              `json:"origin"`
	JSVersion   string              `json:"jsVersion"`
	CacheDomain string              `json:"cacheDomain"`
	Params      cacheurl.InitParams `json:"params"`
}

// CacheURLResponse describes a built cache URL.
type CacheURLResponse struct {
	URL       string `json:"url"`
	Origin    string `json:"origin"`
	Label     string `json:"label"`
	LabelKind string `json:"labelKind"`
	Mode      string `json:"mode"`
	Publisher string `json:"publisher"`
}

// GetCacheURL builds a cache URL from query parameters. Extra init params
// are passed as p.<key>=<value> and keep their query order.
func (h *Handlers) GetCacheURL(c *gin.Context) {
	req := CacheURLRequest{
		URL:         c.Query("url"),
		Mode:        c.Query("mode"),
		Origin:      c.Query("origin"),
		JSVersion:   c.Query("js"),
		CacheDomain: c.Query("domain"),
		Params:      prefixedParams(c.Request.URL.RawQuery),
	}
	h.buildCacheURL(c, req)
}

// PostCacheURL builds a cache URL from a JSON body
func (h *Handlers) PostCacheURL(c *gin.Context) {
	var req CacheURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	h.buildCacheURL(c, req)
}

func (h *Handlers) buildCacheURL(c *gin.Context, req CacheURLRequest) {
	if err := utils.ValidateURL(req.URL, "url"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Params) > utils.MaxParamCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many params"})
		return
	}

	mode, err := cacheurl.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := make(cacheurl.InitParams, 0, len(req.Params)+1)
	if req.Origin != "" {
		params = params.Set("origin", req.Origin)
	}
	for _, p := range req.Params {
		if p.Key == "" {
			continue
		}
		params = params.Set(p.Key, p.Value)
	}

	u, err := h.viewer.BuildURL(req.URL, params, mode,
		cacheurl.WithJSVersion(req.JSVersion),
		cacheurl.WithCacheDomain(req.CacheDomain))
	if err != nil {
		status := http.StatusInternalServerError
		if cacheurl.IsInvalidURL(err) || errors.Is(err, cacheurl.ErrUnknownMode) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, CacheURLResponse{
		URL:       u.String(),
		Origin:    u.Origin(),
		Label:     u.Label(),
		LabelKind: u.LabelKind().String(),
		Mode:      u.Mode().String(),
		Publisher: u.PublisherURL(),
	})
}

// prefixedParams extracts p.<key>=<value> pairs from a raw query in order.
func prefixedParams(rawQuery string) cacheurl.InitParams {
	var params cacheurl.InitParams
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil || !strings.HasPrefix(key, paramPrefix) || len(key) == len(paramPrefix) {
			continue
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		params = params.Set(strings.TrimPrefix(key, paramPrefix), value)
	}
	return params
}
