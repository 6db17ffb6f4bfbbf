package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrMissingCredential is returned by RequireCredential when no upstream API
// key is configured. Only components that perform live fetches treat it as fatal.
var ErrMissingCredential = errors.New("YOUTUBE_API_KEY is not set")

type Config struct {
	// YouTubeAPIKey is the credential sent with every statistics request.
	YouTubeAPIKey string `env:"YOUTUBE_API_KEY"`
	// YouTubeBaseURL overrides the Data API root, e.g. for a recording proxy in tests.
	YouTubeBaseURL string `env:"YOUTUBE_BASE_URL" envDefault:"https://www.googleapis.com/youtube/v3"`
	// YouTubeTimeout bounds a single upstream request, including reading the body.
	YouTubeTimeout time.Duration `env:"YOUTUBE_TIMEOUT" envDefault:"10s"`
	// ListenAddr is the address the stats HTTP server binds to.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":3001"`
	// CacheURL selects the persistent store. Supported schemes: file://,
	// sqlite://, postgres://, redis://. A bare path is treated as a file.
	CacheURL string `env:"CACHE_URL" envDefault:"file://youtube-cache.json"`
	// ServerStaleAfter is the age after which the server-side record is refreshed.
	ServerStaleAfter time.Duration `env:"SERVER_STALE_AFTER" envDefault:"1h"`
	// SnapshotStaleAfter is the age after which the bundled frontend snapshot
	// is regenerated by `viewcounts snapshot`.
	SnapshotStaleAfter time.Duration `env:"SNAPSHOT_STALE_AFTER" envDefault:"12h"`
	// RefreshTimeout caps one whole refresh so a hung upstream cannot hold
	// the single-flight slot forever.
	RefreshTimeout time.Duration `env:"REFRESH_TIMEOUT" envDefault:"30s"`
	// CORSOrigins is the Access-Control-Allow-Origin value. "*" (the default)
	// allows every origin without credentials.
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGIN" envSeparator:"," envDefault:"*"`
	// CatalogFile is an optional YAML file with the tracked videos. The
	// embedded default catalog is used when empty.
	CatalogFile string `env:"CATALOG_FILE"`
	// WarmInterval is how often the background warmer queries the cache so
	// visitors rarely wait on the upstream. 0 disables periodic warming.
	WarmInterval time.Duration `env:"WARM_INTERVAL" envDefault:"15m"`
	// AdminTokenHash is a bcrypt hash of the token accepted by the admin
	// endpoints (/api/monitor, /api/test-key, forced refresh). Admin routes
	// are not registered when empty.
	AdminTokenHash string `env:"ADMIN_TOKEN_HASH"`
	// AdminMaxAttempts is the number of bad admin tokens allowed per IP
	// within AdminWindow before the IP is temporarily blocked.
	AdminMaxAttempts int `env:"ADMIN_MAX_ATTEMPTS" envDefault:"10"`
	// AdminWindow is the sliding window for counting bad admin tokens.
	AdminWindow time.Duration `env:"ADMIN_WINDOW" envDefault:"15m"`
	// AdminBanDuration is how long an IP is blocked after exceeding AdminMaxAttempts.
	AdminBanDuration time.Duration `env:"ADMIN_BAN_DURATION" envDefault:"15m"`
	// ShutdownTimeout is the maximum duration to wait for in-flight requests
	// to complete during graceful shutdown.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads optional .env files and then parses configuration from
// environment variables. Variables already present in the process
// environment win over values from files.
// Returns an error if a value cannot be parsed into the expected type.
func Load() (Config, error) {
	if err := loadEnvFiles(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// loadEnvFiles loads ENV_FILE when set, otherwise .env.local followed by .env.
// Missing files are skipped.
func loadEnvFiles() error {
	if f := os.Getenv("ENV_FILE"); f != "" {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
		return nil
	}
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// RequireCredential reports ErrMissingCredential when no API key is set.
func (c Config) RequireCredential() error {
	if strings.TrimSpace(c.YouTubeAPIKey) == "" {
		return fmt.Errorf("config: %w", ErrMissingCredential)
	}
	return nil
}

// MaskedAPIKey returns the key with everything but the first and last four
// characters hidden, or "not set". Safe to log.
func (c Config) MaskedAPIKey() string {
	k := c.YouTubeAPIKey
	switch {
	case k == "":
		return "not set"
	case len(k) <= 8:
		return strings.Repeat("*", len(k))
	default:
		return k[:4] + "..." + k[len(k)-4:]
	}
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to Info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
