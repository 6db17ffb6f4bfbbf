package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/viewstats/config"
)

var _ = Describe("Load", func() {
	// Keys managed by these tests, saved and restored around each spec.
	var envKeys = []string{
		"YOUTUBE_API_KEY", "YOUTUBE_BASE_URL", "YOUTUBE_TIMEOUT", "LISTEN_ADDR", "CACHE_URL",
		"SERVER_STALE_AFTER", "SNAPSHOT_STALE_AFTER", "REFRESH_TIMEOUT", "CORS_ALLOWED_ORIGIN",
		"CATALOG_FILE", "WARM_INTERVAL", "ADMIN_TOKEN_HASH", "ADMIN_MAX_ATTEMPTS",
		"ADMIN_WINDOW", "ADMIN_BAN_DURATION", "SHUTDOWN_TIMEOUT", "LOG_LEVEL", "ENV_FILE",
	}

	var saved map[string]string

	BeforeEach(func() {
		saved = make(map[string]string, len(envKeys))
		for _, k := range envKeys {
			saved[k] = os.Getenv(k)
			Expect(os.Unsetenv(k)).To(Succeed())
		}
	})

	AfterEach(func() {
		for k, v := range saved {
			if v == "" {
				Expect(os.Unsetenv(k)).To(Succeed())
			} else {
				Expect(os.Setenv(k, v)).To(Succeed())
			}
		}
	})

	It("returns defaults when no env vars are set", func() {
		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.YouTubeAPIKey).To(BeEmpty())
		Expect(cfg.YouTubeBaseURL).To(Equal("https://www.googleapis.com/youtube/v3"))
		Expect(cfg.YouTubeTimeout).To(Equal(10 * time.Second))
		Expect(cfg.ListenAddr).To(Equal(":3001"))
		Expect(cfg.CacheURL).To(Equal("file://youtube-cache.json"))
		Expect(cfg.ServerStaleAfter).To(Equal(time.Hour))
		Expect(cfg.SnapshotStaleAfter).To(Equal(12 * time.Hour))
		Expect(cfg.RefreshTimeout).To(Equal(30 * time.Second))
		Expect(cfg.CORSOrigins).To(Equal([]string{"*"}))
		Expect(cfg.CatalogFile).To(BeEmpty())
		Expect(cfg.WarmInterval).To(Equal(15 * time.Minute))
		Expect(cfg.AdminTokenHash).To(BeEmpty())
		Expect(cfg.AdminMaxAttempts).To(Equal(10))
		Expect(cfg.AdminWindow).To(Equal(15 * time.Minute))
		Expect(cfg.AdminBanDuration).To(Equal(15 * time.Minute))
		Expect(cfg.ShutdownTimeout).To(Equal(15 * time.Second))
		Expect(cfg.SlogLevel()).To(Equal(slog.LevelInfo))
	})

	It("reads string and list values from env vars", func() {
		Expect(os.Setenv("YOUTUBE_API_KEY", "AIzaSyExampleKey1234")).To(Succeed())
		Expect(os.Setenv("YOUTUBE_BASE_URL", "http://fake:9999/v3")).To(Succeed())
		Expect(os.Setenv("CACHE_URL", "sqlite://stats.db")).To(Succeed())
		Expect(os.Setenv("CORS_ALLOWED_ORIGIN", "https://a.example,https://b.example")).To(Succeed())

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.YouTubeAPIKey).To(Equal("AIzaSyExampleKey1234"))
		Expect(cfg.YouTubeBaseURL).To(Equal("http://fake:9999/v3"))
		Expect(cfg.CacheURL).To(Equal("sqlite://stats.db"))
		Expect(cfg.CORSOrigins).To(Equal([]string{"https://a.example", "https://b.example"}))
	})

	It("reads duration values from env vars", func() {
		Expect(os.Setenv("SERVER_STALE_AFTER", "30m")).To(Succeed())
		Expect(os.Setenv("SNAPSHOT_STALE_AFTER", "6h")).To(Succeed())
		Expect(os.Setenv("WARM_INTERVAL", "0s")).To(Succeed())

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.ServerStaleAfter).To(Equal(30 * time.Minute))
		Expect(cfg.SnapshotStaleAfter).To(Equal(6 * time.Hour))
		Expect(cfg.WarmInterval).To(BeZero())
	})

	It("returns an error for an invalid duration", func() {
		Expect(os.Setenv("SERVER_STALE_AFTER", "not-a-duration")).To(Succeed())

		_, err := config.Load()
		Expect(err).To(HaveOccurred())
	})

	It("returns an error for an invalid int", func() {
		Expect(os.Setenv("ADMIN_MAX_ATTEMPTS", "not-a-number")).To(Succeed())

		_, err := config.Load()
		Expect(err).To(HaveOccurred())
	})

	It("loads values from ENV_FILE without overriding the process environment", func() {
		path := filepath.Join(GinkgoT().TempDir(), "stats.env")
		Expect(os.WriteFile(path, []byte("LISTEN_ADDR=:9090\nLOG_LEVEL=debug\n"), 0o600)).To(Succeed())
		Expect(os.Setenv("ENV_FILE", path)).To(Succeed())
		Expect(os.Setenv("LOG_LEVEL", "error")).To(Succeed())

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.ListenAddr).To(Equal(":9090"))
		Expect(cfg.SlogLevel()).To(Equal(slog.LevelError))
	})

	It("ignores a missing ENV_FILE", func() {
		Expect(os.Setenv("ENV_FILE", filepath.Join(GinkgoT().TempDir(), "missing.env"))).To(Succeed())

		_, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("Config helpers", func() {
	It("requires a credential only when asked", func() {
		err := config.Config{}.RequireCredential()
		Expect(errors.Is(err, config.ErrMissingCredential)).To(BeTrue())

		Expect(config.Config{YouTubeAPIKey: "key"}.RequireCredential()).To(Succeed())
	})

	It("treats a whitespace-only key as missing", func() {
		err := config.Config{YouTubeAPIKey: "   "}.RequireCredential()
		Expect(errors.Is(err, config.ErrMissingCredential)).To(BeTrue())
	})

	It("masks the API key for logging", func() {
		Expect(config.Config{}.MaskedAPIKey()).To(Equal("not set"))
		Expect(config.Config{YouTubeAPIKey: "short"}.MaskedAPIKey()).To(Equal("*****"))
		Expect(config.Config{YouTubeAPIKey: "AIzaSyExampleKey1234"}.MaskedAPIKey()).To(Equal("AIza...1234"))
	})

	It("maps log levels", func() {
		Expect(config.Config{LogLevel: "DEBUG"}.SlogLevel()).To(Equal(slog.LevelDebug))
		Expect(config.Config{LogLevel: "warning"}.SlogLevel()).To(Equal(slog.LevelWarn))
		Expect(config.Config{LogLevel: "nonsense"}.SlogLevel()).To(Equal(slog.LevelInfo))
	})
})
