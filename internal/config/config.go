package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                 string
	RedisURL             string
	RDPBaseURL           string
	RDPStreamURL         string
	SessionFile          string
	Profile              string
	CacheTTLNews         time.Duration
	CacheTTLStory        time.Duration
	CacheTTLFundamentals time.Duration
	CacheTTLHistory      time.Duration
	RequestTimeout       time.Duration
	QuoteInterval        time.Duration
	RateLimitPerMin      int
	CircuitFailLimit     int
	CircuitCooldown      time.Duration
	LogLevel             string
	LogFormat            string
	Session              Session
}

func Load() Config {
	return Config{
		Port:                 getEnv("PORT", "8050"),
		RedisURL:             getEnv("REDIS_URL", "redis://localhost:6379"),
		RDPBaseURL:           getEnv("RDP_BASE_URL", "https://api.refinitiv.com"),
		RDPStreamURL:         getEnv("RDP_STREAM_URL", ""),
		SessionFile:          getEnv("SESSION_CONFIG", "config.cfg"),
		Profile:              getEnv("DASHBOARD_PROFILE", "content"),
		CacheTTLNews:         getEnvDuration("CACHE_TTL_NEWS", 60*time.Second),
		CacheTTLStory:        getEnvDuration("CACHE_TTL_STORY", 3600*time.Second),
		CacheTTLFundamentals: getEnvDuration("CACHE_TTL_FUNDAMENTALS", 600*time.Second),
		CacheTTLHistory:      getEnvDuration("CACHE_TTL_HISTORY", 300*time.Second),
		RequestTimeout:       getEnvDuration("RDP_REQUEST_TIMEOUT", 12*time.Second),
		QuoteInterval:        getEnvDuration("QUOTE_INTERVAL", 1*time.Second),
		RateLimitPerMin:      getEnvInt("RATE_LIMIT_PER_MIN", 600),
		CircuitFailLimit:     getEnvInt("CIRCUIT_FAIL_LIMIT", 3),
		CircuitCooldown:      getEnvDuration("CIRCUIT_COOLDOWN", 20*time.Second),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(i) * time.Second
}
