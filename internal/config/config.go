package config

import (
	"os"
	"strconv"
	"time"
)

// Config is assembled once at startup from the environment and never
// mutated afterwards. Changing a value requires a restart.
type Config struct {
	Port         string
	CacheBackend string // "memory" or "redis"
	RedisAddr    string
	CachePrefix  string

	ProviderBaseURL string
	ProviderAPIKey  string
	RequestTimeout  time.Duration // GET deadline
	PostTimeout     time.Duration // POST deadline

	Poll            PollIntervals
	TTL             TierTTLs
	HotTTL          time.Duration
	MaxConcurrency  int
	StaleMultiplier int
	DefaultSportID  string
}

// PollIntervals holds the per-tier timer cadences.
type PollIntervals struct {
	Odds      time.Duration
	MatchList time.Duration
	TopEvents time.Duration
	Banners   time.Duration
	Sidebar   time.Duration
}

// TierTTLs holds the fresh cache TTL per dataset class.
type TierTTLs struct {
	Sports    time.Duration
	MatchList time.Duration
	Odds      time.Duration
	OnDemand  time.Duration
	Results   time.Duration
	Sidebar   time.Duration
	TopEvents time.Duration
	Banners   time.Duration
}

// Load reads the configuration from the environment, applying defaults
// for anything unset.
func Load() Config {
	return Config{
		Port:         getenv("PORT", "8080"),
		CacheBackend: getenv("CACHE_BACKEND", "memory"),
		RedisAddr:    getenv("REDIS_ADDR", "127.0.0.1:6379"),
		CachePrefix:  getenv("CACHE_PREFIX", "ex"),

		ProviderBaseURL: getenv("PROVIDER_BASE_URL", "http://127.0.0.1:9000"),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		RequestTimeout:  getenvMs("REQUEST_TIMEOUT_MS", 3000),
		PostTimeout:     getenvMs("POST_TIMEOUT_MS", 5000),

		Poll: PollIntervals{
			Odds:      getenvMs("ODDS_POLL_MS", 1000),
			MatchList: getenvMs("MATCH_LIST_POLL_MS", 60_000),
			TopEvents: getenvMs("TOP_EVENTS_POLL_MS", 3_600_000),
			Banners:   getenvMs("BANNERS_POLL_MS", 3_600_000),
			Sidebar:   getenvMs("SIDEBAR_POLL_MS", 86_400_000),
		},
		TTL: TierTTLs{
			Sports:    getenvSec("TTL_SPORTS_S", 86_400),
			MatchList: getenvSec("TTL_MATCH_LIST_S", 120),
			Odds:      getenvSec("TTL_ODDS_S", 2),
			OnDemand:  getenvSec("TTL_ON_DEMAND_S", 86_400),
			Results:   getenvSec("TTL_RESULTS_S", 3600),
			Sidebar:   getenvSec("TTL_SIDEBAR_S", 172_800),
			TopEvents: getenvSec("TTL_TOP_EVENTS_S", 7200),
			Banners:   getenvSec("TTL_BANNERS_S", 7200),
		},

		HotTTL:          getenvSec("ODDS_HOT_TTL_S", 30),
		MaxConcurrency:  getenvInt("MAX_CONCURRENCY", 5),
		StaleMultiplier: getenvInt("STALE_MULTIPLIER", 2),
		DefaultSportID:  getenv("DEFAULT_SPORT_ID", "4"),
	}
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvMs(key string, defMs int) time.Duration {
	return time.Duration(getenvInt(key, defMs)) * time.Millisecond
}

func getenvSec(key string, defSec int) time.Duration {
	return time.Duration(getenvInt(key, defSec)) * time.Second
}
