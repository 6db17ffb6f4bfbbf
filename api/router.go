package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ddevcap/viewstats/api/handler"
	"github.com/ddevcap/viewstats/api/middleware"
	"github.com/ddevcap/viewstats/config"
	"github.com/ddevcap/viewstats/metrics"
	"github.com/ddevcap/viewstats/stats"
	"github.com/ddevcap/viewstats/youtube"
)

// corsMiddleware returns a gin-contrib/cors middleware for the configured
// origins. "*" (or no usable origin) allows every origin without credentials.
// Pre-flight requests are answered with 200 and no body.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:              []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:              []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminTokenHeader},
		ExposeHeaders:             []string{"Content-Length", "Content-Type", middleware.RequestIDHeader, "X-Stats-Source"},
		MaxAge:                    24 * time.Hour,
		OptionsResponseStatusCode: http.StatusOK,
	}
	if allowed := allowedOrigins(origins); len(allowed) > 0 {
		cfg.AllowOrigins = allowed
	} else {
		cfg.AllowAllOrigins = true
	}
	return cors.New(cfg)
}

// allowedOrigins returns the explicit origins, or nil when every origin is
// allowed. Entries without an http(s) scheme are skipped.
func allowedOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "*":
			return nil
		case strings.HasPrefix(o, "http://"), strings.HasPrefix(o, "https://"):
			out = append(out, strings.ToLower(o))
		case o != "":
			slog.Warn("ignoring invalid CORS origin", "origin", o)
		}
	}
	return out
}

// headerOrigin is the Access-Control-Allow-Origin value written on stats
// responses to requests that carried no Origin header.
func headerOrigin(origins []string) string {
	if allowed := allowedOrigins(origins); len(allowed) > 0 {
		return allowed[0]
	}
	return "*"
}

// NewRouter builds the stats service handler. The returned func releases
// background resources and must be called on shutdown.
func NewRouter(cfg config.Config, coord *stats.Coordinator, usage *youtube.UsageTracker, wsHub *handler.WSHub) (http.Handler, func()) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(), corsMiddleware(cfg.CORSOrigins))

	statsH := handler.NewStatsHandler(coord, headerOrigin(cfg.CORSOrigins))
	systemH := handler.NewSystemHandler(cfg, coord, usage, wsHub)

	r.GET("/api/youtube-stats", statsH.Get)
	r.OPTIONS("/api/youtube-stats", statsH.Options)
	r.GET("/api/youtube-stats/ws", handler.WebSocketHandler(wsHub, coord))

	// Operator endpoints exist only when an admin token is configured.
	stop := func() {}
	if cfg.AdminTokenHash != "" {
		limiter := middleware.NewFailureLimiter(cfg)
		stop = limiter.Stop

		admin := r.Group("/api")
		admin.Use(middleware.AdminToken(cfg.AdminTokenHash, limiter))
		{
			admin.GET("/monitor", systemH.Monitor)
			admin.GET("/test-key", systemH.TestKey)
			admin.POST("/youtube-stats/refresh", statsH.Refresh)
		}
	}

	// Health probes and metrics are unauthenticated, for orchestrators and scrapers.
	r.GET("/health", systemH.HealthLive)
	r.GET("/ready", systemH.HealthReady)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return r, stop
}
