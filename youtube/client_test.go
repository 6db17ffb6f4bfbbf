package youtube_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/viewstats/config"
	"github.com/ddevcap/viewstats/youtube"
)

// statsBody renders a Data API videos.list response for the given counts.
func statsBody(counts map[string]string) string {
	items := make([]string, 0, len(counts))
	for id, n := range counts {
		items = append(items, fmt.Sprintf(`{"kind":"youtube#video","id":%q,"statistics":{"viewCount":%q,"likeCount":"1"}}`, id, n))
	}
	return `{"kind":"youtube#videoListResponse","items":[` + strings.Join(items, ",") + `]}`
}

var _ = Describe("Client", func() {
	var ctx context.Context

	newClient := func(baseURL string, usage *youtube.UsageTracker) *youtube.Client {
		c, err := youtube.NewClient(config.Config{
			YouTubeAPIKey:  "test-key",
			YouTubeBaseURL: baseURL,
			YouTubeTimeout: 2 * time.Second,
		}, usage)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("refuses to start without a credential", func() {
		_, err := youtube.NewClient(config.Config{YouTubeBaseURL: "http://unused"}, nil)
		Expect(errors.Is(err, config.ErrMissingCredential)).To(BeTrue())
	})

	It("sends one batched request with the key and statistics part", func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			Expect(r.URL.Path).To(Equal("/videos"))
			Expect(r.URL.Query().Get("part")).To(Equal("statistics"))
			Expect(r.URL.Query().Get("key")).To(Equal("test-key"))
			Expect(r.URL.Query().Get("id")).To(Equal("a,b"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(statsBody(map[string]string{"a": "100", "b": "250"})))
		}))
		defer srv.Close()

		res, err := newClient(srv.URL+"/", nil).FetchViewCounts(ctx, []string{"a", "b"})
		Expect(err).NotTo(HaveOccurred())
		Expect(calls.Load()).To(Equal(int32(1)))
		Expect(res).To(Equal(map[string]youtube.Result{
			"a": {Views: 100, Available: true},
			"b": {Views: 250, Available: true},
		}))
	})

	It("marks IDs missing from the response as unavailable", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(statsBody(map[string]string{"a": "7"})))
		}))
		defer srv.Close()

		res, err := newClient(srv.URL, nil).FetchViewCounts(ctx, []string{"a", "gone"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res["a"]).To(Equal(youtube.Result{Views: 7, Available: true}))
		Expect(res["gone"].Available).To(BeFalse())
	})

	It("marks IDs with unreadable statistics as unavailable", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"items":[{"id":"a","statistics":{"viewCount":"hidden"}},{"id":"b","statistics":{"viewCount":"3"}}]}`))
		}))
		defer srv.Close()

		res, err := newClient(srv.URL, nil).FetchViewCounts(ctx, []string{"a", "b"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res["a"].Available).To(BeFalse())
		Expect(res["b"]).To(Equal(youtube.Result{Views: 3, Available: true}))
	})

	It("splits large batches into chunks of fifty", func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			ids := strings.Split(r.URL.Query().Get("id"), ",")
			Expect(len(ids)).To(BeNumerically("<=", 50))
			counts := make(map[string]string, len(ids))
			for _, id := range ids {
				counts[id] = "1"
			}
			_, _ = w.Write([]byte(statsBody(counts)))
		}))
		defer srv.Close()

		ids := make([]string, 120)
		for i := range ids {
			ids[i] = fmt.Sprintf("v%03d", i)
		}
		res, err := newClient(srv.URL, nil).FetchViewCounts(ctx, ids)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls.Load()).To(Equal(int32(3)))
		Expect(res).To(HaveLen(120))
	})

	It("keeps the batch alive when only some chunks fail", func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			ids := strings.Split(r.URL.Query().Get("id"), ",")
			counts := make(map[string]string, len(ids))
			for _, id := range ids {
				counts[id] = "2"
			}
			_, _ = w.Write([]byte(statsBody(counts)))
		}))
		defer srv.Close()

		ids := make([]string, 60)
		for i := range ids {
			ids[i] = fmt.Sprintf("v%02d", i)
		}
		res, err := newClient(srv.URL, nil).FetchViewCounts(ctx, ids)
		Expect(err).NotTo(HaveOccurred())
		Expect(res["v00"].Available).To(BeFalse())
		Expect(res["v59"]).To(Equal(youtube.Result{Views: 2, Available: true}))
	})

	It("returns a batch error when the API answers 5xx", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"backend error"}}`))
		}))
		defer srv.Close()

		_, err := newClient(srv.URL, nil).FetchViewCounts(ctx, []string{"a"})
		Expect(errors.Is(err, youtube.ErrUnreachable)).To(BeTrue())
		var be *youtube.BatchError
		Expect(errors.As(err, &be)).To(BeTrue())
		Expect(be.StatusCode).To(Equal(http.StatusServiceUnavailable))
		Expect(err.Error()).To(ContainSubstring("backend error"))
	})

	It("stops after a rejected credential instead of trying later chunks", func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quotaExceeded"}}`))
		}))
		defer srv.Close()

		ids := make([]string, 120)
		for i := range ids {
			ids[i] = fmt.Sprintf("v%03d", i)
		}
		_, err := newClient(srv.URL, nil).FetchViewCounts(ctx, ids)
		Expect(errors.Is(err, youtube.ErrUnreachable)).To(BeTrue())
		Expect(calls.Load()).To(Equal(int32(1)))
	})

	It("returns a batch error for an undecodable body", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>maintenance</html>`))
		}))
		defer srv.Close()

		_, err := newClient(srv.URL, nil).FetchViewCounts(ctx, []string{"a"})
		Expect(errors.Is(err, youtube.ErrUnreachable)).To(BeTrue())
	})

	It("returns a batch error without leaking the key when nothing listens", func() {
		_, err := newClient("http://127.0.0.1:1", nil).FetchViewCounts(ctx, []string{"a"})
		Expect(errors.Is(err, youtube.ErrUnreachable)).To(BeTrue())
		Expect(err.Error()).NotTo(ContainSubstring("test-key"))
	})

	It("gives up on a hung upstream after the configured timeout", func() {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c, err := youtube.NewClient(config.Config{
			YouTubeAPIKey:  "k",
			YouTubeBaseURL: srv.URL,
			YouTubeTimeout: 100 * time.Millisecond,
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		start := time.Now()
		_, err = c.FetchViewCounts(ctx, []string{"a"})
		Expect(errors.Is(err, youtube.ErrUnreachable)).To(BeTrue())
		Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
	})

	It("does not call the API for an empty batch", func() {
		res, err := newClient("http://127.0.0.1:1", nil).FetchViewCounts(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(BeEmpty())
	})

	It("records every call in the usage tracker", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(statsBody(map[string]string{"a": "1"})))
		}))
		defer srv.Close()

		usage := youtube.NewUsageTracker()
		defer usage.Stop()
		c := newClient(srv.URL, usage)

		_, err := c.FetchViewCounts(ctx, []string{"a"})
		Expect(err).NotTo(HaveOccurred())
		_, err = c.FetchViewCounts(ctx, []string{"a"})
		Expect(err).NotTo(HaveOccurred())

		snap := usage.Snapshot()
		Expect(snap.TotalCalls).To(Equal(int64(2)))
		Expect(snap.FailedCalls).To(BeZero())
		Expect(snap.LastCall).NotTo(BeNil())
		Expect(snap.DailyCounts).To(HaveKeyWithValue(time.Now().UTC().Format(time.DateOnly), int64(2)))
	})
})
