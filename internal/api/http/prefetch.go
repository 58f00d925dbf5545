package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ampviewer/internal/cacheurl"
	"github.com/GriffinCanCode/ampviewer/internal/prefetch"
	"github.com/GriffinCanCode/ampviewer/internal/shared/utils"
)

// maxPrefetchURLs bounds one prefetch request.
const maxPrefetchURLs = 32

// PrefetchRequest is the body of POST /v1/prefetch.
type PrefetchRequest struct {
	URLs []string `json:"urls" binding:"required,min=1"`
}

// WithPrefetcher enables the prefetch endpoint.
func (h *Handlers) WithPrefetcher(p *prefetch.Prefetcher) *Handlers {
	h.prefetcher = p
	return h
}

// Prefetch warms the cache for publisher URLs through their native cache
// URLs. Results keep request order; a URL that could not be built carries
// its error.
func (h *Handlers) Prefetch(c *gin.Context) {
	if h.prefetcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prefetch disabled"})
		return
	}

	var req PrefetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.URLs) > maxPrefetchURLs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many urls"})
		return
	}

	results := make([]*prefetch.Result, len(req.URLs))
	var targets []string
	var index []int
	for i, raw := range req.URLs {
		if err := utils.ValidateURL(raw, "url"); err != nil {
			results[i] = &prefetch.Result{URL: raw, Error: err.Error()}
			continue
		}
		u, err := h.viewer.BuildURL(raw, nil, cacheurl.ModeNative)
		if err != nil {
			results[i] = &prefetch.Result{URL: raw, Error: err.Error()}
			continue
		}
		targets = append(targets, u.String())
		index = append(index, i)
	}

	fetched, err := h.prefetcher.PrefetchAll(c.Request.Context(), targets)
	if err != nil {
		h.logger.Warn("Prefetch interrupted", zap.Error(err))
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	for j, res := range fetched {
		results[index[j]] = res
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}
