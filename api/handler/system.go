package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/viewstats/config"
	"github.com/ddevcap/viewstats/stats"
	"github.com/ddevcap/viewstats/youtube"
)

type SystemHandler struct {
	cfg   config.Config
	coord *stats.Coordinator
	usage *youtube.UsageTracker
	hub   *WSHub
	start time.Time
}

func NewSystemHandler(cfg config.Config, coord *stats.Coordinator, usage *youtube.UsageTracker, hub *WSHub) *SystemHandler {
	return &SystemHandler{cfg: cfg, coord: coord, usage: usage, hub: hub, start: time.Now()}
}

// HealthLive handles GET /health. Always 200 when the process is running.
func (h *SystemHandler) HealthLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HealthReady handles GET /ready. Checks that the cache store answers.
// Used as a readiness probe: returns 503 if the store is unreachable.
func (h *SystemHandler) HealthReady(c *gin.Context) {
	if _, err := h.coord.Peek(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "cache store unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Monitor handles GET /api/monitor (admin).
// Reports API quota usage, the persisted record and the last refresh attempt.
func (h *SystemHandler) Monitor(c *gin.Context) {
	resp := gin.H{
		"uptimeSeconds":  int64(time.Since(h.start).Seconds()),
		"trackedVideos":  h.coord.Catalog().Keys(),
		"staleAfter":     h.cfg.ServerStaleAfter.String(),
		"refreshAttempt": h.coord.Attempt(),
		"cache":          h.cacheInfo(c),
	}
	if h.usage != nil {
		resp["apiUsage"] = h.usage.Snapshot()
	}
	if h.hub != nil {
		resp["subscribers"] = h.hub.Len()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SystemHandler) cacheInfo(c *gin.Context) gin.H {
	rec, err := h.coord.Peek(c.Request.Context())
	switch {
	case err != nil:
		return gin.H{"status": "unreachable", "error": err.Error()}
	case rec == nil:
		return gin.H{"status": "empty"}
	}
	age := time.Since(rec.LastUpdate)
	status := "valid"
	if !stats.IsValid(rec, time.Now(), h.cfg.ServerStaleAfter) {
		status = "stale"
	}
	return gin.H{
		"status":     status,
		"lastUpdate": rec.LastUpdate,
		"ageSeconds": int64(age.Seconds()),
		"entries":    len(rec.Data),
	}
}

// TestKey handles GET /api/test-key (admin).
// Tells an operator whether a key is configured without revealing it.
func (h *SystemHandler) TestKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"keyExists":  h.cfg.YouTubeAPIKey != "",
		"keyLength":  len(h.cfg.YouTubeAPIKey),
		"keyPreview": h.cfg.MaskedAPIKey(),
	})
}
