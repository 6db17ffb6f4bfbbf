package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/viewstats/stats"
)

const allowOriginHeader = "Access-Control-Allow-Origin"

// StatsHandler serves the view-count mapping.
type StatsHandler struct {
	coord *stats.Coordinator
	// origin is written when the CORS middleware left the header unset,
	// i.e. for requests without an Origin header.
	origin string
}

func NewStatsHandler(coord *stats.Coordinator, origin string) *StatsHandler {
	return &StatsHandler{coord: coord, origin: origin}
}

// Get handles GET /api/youtube-stats.
// Always answers 200 with a flat key → count object holding every tracked key.
func (h *StatsHandler) Get(c *gin.Context) {
	snap := h.coord.Stats(c.Request.Context())
	h.allowOrigin(c)
	c.Header("X-Stats-Source", string(snap.Outcome))
	c.JSON(http.StatusOK, snap.Data)
}

// Options handles OPTIONS /api/youtube-stats without touching the cache.
func (h *StatsHandler) Options(c *gin.Context) {
	h.allowOrigin(c)
	c.Status(http.StatusOK)
}

// Refresh handles POST /api/youtube-stats/refresh (admin).
// Forces a refresh and reports how it went.
func (h *StatsHandler) Refresh(c *gin.Context) {
	snap := h.coord.Refresh(c.Request.Context())
	resp := gin.H{
		"data":    snap.Data,
		"outcome": snap.Outcome,
		"partial": nonNil(snap.Partial),
		"failed":  nonNil(snap.Failed),
	}
	if !snap.LastUpdate.IsZero() {
		resp["lastUpdate"] = snap.LastUpdate
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StatsHandler) allowOrigin(c *gin.Context) {
	if h.origin != "" && c.Writer.Header().Get(allowOriginHeader) == "" {
		c.Header(allowOriginHeader, h.origin)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
