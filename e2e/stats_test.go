//go:build e2e

package e2e

import (
	"encoding/json"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("View counts", func() {
	It("serves a count for every tracked video", func() {
		data := fetchStats()
		for _, key := range tracked.Keys() {
			Expect(data).To(HaveKey(key))
			Expect(data[key]).To(BeNumerically(">=", 0))
		}
	})

	It("answers repeated requests from the cache with identical data", func() {
		first := fetchStats()
		second := fetchStats()
		Expect(second).To(Equal(first))
	})

	It("sets an Access-Control-Allow-Origin header", func() {
		resp := do(http.MethodGet, statsBase+"/api/youtube-stats", "")
		defer resp.Body.Close()
		Expect(resp.Header.Get("Access-Control-Allow-Origin")).NotTo(BeEmpty())
	})

	It("answers a preflight probe with 200 and no body", func() {
		resp := do(http.MethodOptions, statsBase+"/api/youtube-stats", "")
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.ContentLength).To(BeNumerically("<=", 0))
	})

	It("returns 404 JSON for unknown endpoints", func() {
		resp := do(http.MethodGet, statsBase+"/api/nope", "")
		body := decodeJSON(resp)
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		Expect(body).To(HaveKey("error"))
	})
})

var _ = Describe("Live feed", func() {
	It("pushes the current record on connect", func() {
		// Make sure something is persisted first.
		fetchStats()

		conn := dialFeed()
		defer conn.Close()

		Expect(conn.SetReadDeadline(time.Now().Add(10 * time.Second))).To(Succeed())
		_, msg, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())

		var rec struct {
			LastUpdate string           `json:"lastUpdate"`
			Data       map[string]int64 `json:"data"`
		}
		Expect(json.Unmarshal(msg, &rec)).To(Succeed())
		Expect(rec.LastUpdate).NotTo(BeEmpty())
		Expect(rec.Data).To(HaveLen(len(tracked.Descriptors)))
	})
})

var _ = Describe("Operator endpoints", func() {
	BeforeEach(func() {
		if adminToken == "" {
			Skip("E2E_ADMIN_TOKEN not set")
		}
	})

	It("rejects requests without a token", func() {
		resp := do(http.MethodGet, statsBase+"/api/monitor", "")
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("reports the cache state", func() {
		fetchStats()
		resp := do(http.MethodGet, statsBase+"/api/monitor", adminToken)
		body := decodeJSON(resp)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(HaveKey("apiUsage"))
		Expect(body["cache"]).To(HaveKeyWithValue("status", "valid"))
	})

	It("confirms a key is configured without revealing it", func() {
		resp := do(http.MethodGet, statsBase+"/api/test-key", adminToken)
		body := decodeJSON(resp)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("keyExists", true))
		Expect(body["keyPreview"]).To(ContainSubstring("..."))
	})

	It("forces a refresh and persists a newer timestamp", func() {
		resp := do(http.MethodPost, statsBase+"/api/youtube-stats/refresh", adminToken)
		body := decodeJSON(resp)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["outcome"]).To(BeElementOf("refreshed", "partial"))
		Expect(body).To(HaveKey("lastUpdate"))
	})
})
