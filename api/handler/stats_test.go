package handler_test

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/viewstats/api/handler"
	"github.com/ddevcap/viewstats/store"
	"github.com/ddevcap/viewstats/youtube"
)

var _ = Describe("StatsHandler", func() {
	var (
		st      *store.FileStore
		fetcher *stubFetcher
		r       *gin.Engine
	)

	BeforeEach(func() {
		st = newFileStore()
		fetcher = &stubFetcher{counts: map[string]int64{"h1": 1000, "h2": 500, "x1": 42}}
		h := handler.NewStatsHandler(newCoordinator(st, fetcher), "*")
		r = gin.New()
		r.GET("/api/youtube-stats", h.Get)
		r.OPTIONS("/api/youtube-stats", h.Options)
		r.POST("/api/youtube-stats/refresh", h.Refresh)
	})

	Describe("GET /api/youtube-stats", func() {
		It("returns a flat mapping with summed counts", func() {
			w := doGet(r, "/api/youtube-stats")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`{"hafo":1500,"hot":42}`))
			Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(w.Header().Get("X-Stats-Source")).To(Equal("refreshed"))
		})

		It("serves a valid cached record without fetching", func() {
			seedRecord(st, time.Minute, map[string]int64{"hafo": 7, "hot": 8})

			w := doGet(r, "/api/youtube-stats")
			Expect(w.Body.String()).To(MatchJSON(`{"hafo":7,"hot":8}`))
			Expect(w.Header().Get("X-Stats-Source")).To(Equal("cached"))
			Expect(fetcher.calls.Load()).To(BeZero())
		})

		It("answers 200 with zeros when the upstream is down and nothing is cached", func() {
			fetcher.err = youtube.ErrUnreachable

			w := doGet(r, "/api/youtube-stats")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`{"hafo":0,"hot":0}`))
			Expect(w.Header().Get("X-Stats-Source")).To(Equal("default"))
		})

		It("answers 200 with the stale record when the upstream is down", func() {
			seedRecord(st, 3*time.Hour, map[string]int64{"hafo": 9, "hot": 10})
			fetcher.err = youtube.ErrUnreachable

			w := doGet(r, "/api/youtube-stats")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`{"hafo":9,"hot":10}`))
			Expect(w.Header().Get("X-Stats-Source")).To(Equal("stale"))
		})
	})

	Describe("OPTIONS /api/youtube-stats", func() {
		It("returns 200 with no body and leaves the cache alone", func() {
			w := doRequest(r, http.MethodOptions, "/api/youtube-stats", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.Len()).To(BeZero())
			Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(fetcher.calls.Load()).To(BeZero())
		})
	})

	Describe("POST /api/youtube-stats/refresh", func() {
		It("refreshes a valid record and reports partial descriptors", func() {
			seedRecord(st, time.Minute, map[string]int64{"hafo": 7, "hot": 8})
			delete(fetcher.counts, "h2")

			w := doPost(r, "/api/youtube-stats/refresh", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			body := decodeJSON(w)
			Expect(body["outcome"]).To(Equal("partial"))
			Expect(body["partial"]).To(ConsistOf("hafo"))
			Expect(body["failed"]).To(BeEmpty())
			Expect(body["data"]).To(Equal(map[string]interface{}{"hafo": 1000.0, "hot": 42.0}))
			Expect(body).To(HaveKey("lastUpdate"))
			Expect(fetcher.calls.Load()).To(Equal(int32(1)))
		})
	})
})
