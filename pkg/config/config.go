package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/nftbatch/internal/backoff"
	"github.com/osvaldoandrade/nftbatch/internal/ratelimit"

	"gopkg.in/yaml.v3"
)

type RateLimitConfig struct {
	// Submit bounds status queries per browser session (form posts and API calls).
	Submit ratelimit.Bucket `yaml:"submit"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port      int    `yaml:"port"`
	ServerURL string `yaml:"serverUrl"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	Env       string `yaml:"env"`

	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
	RetryAttempts         int    `yaml:"retryAttempts"`
	BackoffPolicy         string `yaml:"backoffPolicy"`
	BackoffBaseMillis     int    `yaml:"backoffBaseMillis"`
	BackoffMaxMillis      int    `yaml:"backoffMaxMillis"`

	SessionStore      string `yaml:"sessionStore"`
	SessionTTLSeconds int    `yaml:"sessionTtlSeconds"`
	SessionCookie     string `yaml:"sessionCookie"`
	RedisAddr         string `yaml:"redisAddr"`
	RedisPassword     string `yaml:"redisPassword"`
	RedisDB           int    `yaml:"redisDb"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LoadConfig reads filePath, applies environment overrides and fills defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// LoadConfigOptional behaves like LoadConfig but treats an empty path or a
// missing file as an empty document, so env-only deployments work.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath != "" {
		c, err := LoadConfig(filePath)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	var c Config
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("ENV"); v != "" {
		c.Env = v
	}
	envInt("REQUEST_TIMEOUT_SECONDS", &c.RequestTimeoutSeconds)
	envInt("RETRY_ATTEMPTS", &c.RetryAttempts)
	if v := os.Getenv("BACKOFF_POLICY"); v != "" {
		c.BackoffPolicy = v
	}
	envInt("BACKOFF_BASE_MILLIS", &c.BackoffBaseMillis)
	envInt("BACKOFF_MAX_MILLIS", &c.BackoffMaxMillis)
	if v := os.Getenv("SESSION_STORE"); v != "" {
		c.SessionStore = v
	}
	envInt("SESSION_TTL_SECONDS", &c.SessionTTLSeconds)
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	envInt("REDIS_DB", &c.RedisDB)
	envInt("RATE_LIMIT_SUBMIT_PER_MINUTE", &c.RateLimit.Submit.RequestsPerMinute)
	envInt("RATE_LIMIT_SUBMIT_BURST", &c.RateLimit.Submit.BurstSize)
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.OTLPEndpoint = v
	}
	if v := os.Getenv("OTEL_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = f
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.ServerURL == "" {
		log.Println("Warning: SERVER_URL not set, using http://localhost:8000")
		c.ServerURL = "http://localhost:8000"
	}
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 30
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 1
	}
	if c.BackoffPolicy == "" {
		c.BackoffPolicy = backoff.PolicyExpFullJitter
	}
	if c.BackoffBaseMillis <= 0 {
		c.BackoffBaseMillis = 250
	}
	if c.BackoffMaxMillis <= 0 {
		c.BackoffMaxMillis = 4000
	}
	if c.SessionStore == "" {
		c.SessionStore = "memory"
	}
	if c.SessionTTLSeconds <= 0 {
		c.SessionTTLSeconds = 24 * 60 * 60
	}
	if c.SessionCookie == "" {
		c.SessionCookie = "nftbatch_session"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "nftbatch"
	}
}

func (c *Config) Validate() error {
	var errs []string

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "serverUrl must be a valid http(s) URL")
	}
	switch c.SessionStore {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("sessionStore must be memory or redis, got %q", c.SessionStore))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, "retryAttempts must be >= 1")
	}
	if !backoff.Valid(c.BackoffPolicy) {
		errs = append(errs, fmt.Sprintf("unknown backoffPolicy %q", c.BackoffPolicy))
	}
	if c.BackoffMaxMillis < c.BackoffBaseMillis {
		errs = append(errs, "backoffMaxMillis must be >= backoffBaseMillis")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func parseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1" || v == "yes" || v == "y" || v == "on"
}
