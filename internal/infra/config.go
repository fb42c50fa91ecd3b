package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	FetcherSimulated = "simulated"
	FetcherYTDLP     = "ytdlp"
	FetcherHTTP      = "http"
	FetcherAuto      = "auto"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	StoreDriver        string
	DatabaseURL        string
	SQLitePath         string
	StoragePath        string
	Fetcher            string
	YTDLPBin           string
	FetchConcurrency   int
	FetchTimeout       time.Duration
	SimulatedStep      int
	SimulatedInterval  time.Duration
	JWTSecret          string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	TrustProxyHeaders  bool
	SweepInterval      time.Duration
	StaleAfter         time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/jobs.db"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		Fetcher:            strings.ToLower(getEnv("FETCHER", FetcherSimulated)),
		YTDLPBin:           getEnv("YTDLP_BIN", "yt-dlp"),
		FetchConcurrency:   getEnvInt("FETCH_CONCURRENCY", 4),
		FetchTimeout:       time.Second * time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 1800)),
		SimulatedStep:      getEnvInt("SIMULATED_STEP_PERCENT", 20),
		SimulatedInterval:  time.Millisecond * time.Duration(getEnvInt("SIMULATED_INTERVAL_MS", 1000)),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		TrustProxyHeaders:  getEnvBool("TRUST_PROXY_HEADERS", false),
		SweepInterval:      time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 0)),
		StaleAfter:         time.Second * time.Duration(getEnvInt("STALE_AFTER_SECONDS", 3600)),
	}

	switch cfg.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.Fetcher {
	case FetcherSimulated, FetcherYTDLP, FetcherHTTP, FetcherAuto:
	default:
		return nil, fmt.Errorf("unsupported FETCHER %q", cfg.Fetcher)
	}

	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 1
	}
	if cfg.SimulatedStep <= 0 || cfg.SimulatedStep > 100 {
		return nil, fmt.Errorf("SIMULATED_STEP_PERCENT must be between 1 and 100")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
