// Package config содержит логику чтения конфигурации сервиса calcio-domains.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress      = "localhost:8080"
	defaultCatalystBaseURL = "https://calciodomains-20105566495.development.catalystserverless.eu/server"
	defaultAuth0Domain     = "logintest-calcio-domains.eu.auth0.com"
	defaultPublicURL       = "http://localhost:5173"
	defaultRequestTimeout  = 15 * time.Second
	defaultSessionIdleTTL  = 2 * time.Hour
	defaultHTTPRetryMax    = 2
	defaultEvaluateRate    = 0.5
	defaultEvaluateBurst   = 3
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress      string        `env:"RUN_ADDRESS"`
	DatabaseURI     string        `env:"DATABASE_URI"`
	CatalystBaseURL string        `env:"CATALYST_BASE_URL"`
	Auth0Domain     string        `env:"AUTH0_DOMAIN"`
	Auth0Audience   string        `env:"AUTH0_AUDIENCE"`
	Auth0ClientID   string        `env:"AUTH0_CLIENT_ID"`
	PublicURL       string        `env:"PUBLIC_URL"`
	SessionSecret   string        `env:"SESSION_SECRET"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT"`
	SessionIdleTTL  time.Duration `env:"SESSION_IDLE_TTL"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	HTTPRetryMax    int
	EvaluateRate    float64
	EvaluateBurst   int           `env:"EVALUATE_BURST"`
}

// zeroable содержит параметры, для которых явный ноль в окружении допустим:
// HTTP_RETRY_MAX=0 выключает повторы, EVALUATE_RATE=0 снимает ограничение.
type zeroable struct {
	HTTPRetryMax *int     `env:"HTTP_RETRY_MAX"`
	EvaluateRate *float64 `env:"EVALUATE_RATE"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	envCfg := &Config{}
	if err := env.Parse(envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	envZero := &zeroable{}
	if err := env.Parse(envZero); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	var origins string

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.CatalystBaseURL, "c", defaultCatalystBaseURL, "catalyst functions base URL")
	flag.StringVar(&cfg.Auth0Domain, "auth0-domain", defaultAuth0Domain, "identity provider domain")
	flag.StringVar(&cfg.Auth0Audience, "auth0-audience", "", "identity provider management API audience")
	flag.StringVar(&cfg.Auth0ClientID, "auth0-client-id", "", "identity provider application client id")
	flag.StringVar(&cfg.PublicURL, "public-url", defaultPublicURL, "public URL of the web application")
	flag.StringVar(&cfg.SessionSecret, "s", "", "session cookie signing secret")
	flag.DurationVar(&cfg.RequestTimeout, "t", defaultRequestTimeout, "outbound request timeout")
	flag.DurationVar(&cfg.SessionIdleTTL, "session-ttl", defaultSessionIdleTTL, "idle session lifetime")
	flag.StringVar(&origins, "origins", "", "comma separated list of allowed CORS origins")
	flag.IntVar(&cfg.HTTPRetryMax, "retries", defaultHTTPRetryMax, "max retries for idempotent outbound calls")
	flag.Float64Var(&cfg.EvaluateRate, "evaluate-rate", defaultEvaluateRate, "domain evaluations per second per session")
	flag.IntVar(&cfg.EvaluateBurst, "evaluate-burst", defaultEvaluateBurst, "domain evaluation burst per session")

	flag.Parse()

	cfg.AllowedOrigins = splitList(origins)

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.CatalystBaseURL != "" {
		cfg.CatalystBaseURL = envCfg.CatalystBaseURL
	}
	if envCfg.Auth0Domain != "" {
		cfg.Auth0Domain = envCfg.Auth0Domain
	}
	if envCfg.Auth0Audience != "" {
		cfg.Auth0Audience = envCfg.Auth0Audience
	}
	if envCfg.Auth0ClientID != "" {
		cfg.Auth0ClientID = envCfg.Auth0ClientID
	}
	if envCfg.PublicURL != "" {
		cfg.PublicURL = envCfg.PublicURL
	}
	if envCfg.SessionSecret != "" {
		cfg.SessionSecret = envCfg.SessionSecret
	}
	if envCfg.RequestTimeout > 0 {
		cfg.RequestTimeout = envCfg.RequestTimeout
	}
	if envCfg.SessionIdleTTL > 0 {
		cfg.SessionIdleTTL = envCfg.SessionIdleTTL
	}
	if len(envCfg.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = envCfg.AllowedOrigins
	}
	if envZero.HTTPRetryMax != nil {
		cfg.HTTPRetryMax = max(*envZero.HTTPRetryMax, 0)
	}
	if envZero.EvaluateRate != nil {
		cfg.EvaluateRate = max(*envZero.EvaluateRate, 0)
	}
	if envCfg.EvaluateBurst > 0 {
		cfg.EvaluateBurst = envCfg.EvaluateBurst
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if cfg.Auth0Audience == "" {
		cfg.Auth0Audience = "https://" + cfg.Auth0Domain + "/api/v2/"
	}

	return cfg, nil
}

func splitList(v string) []string {
	var res []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			res = append(res, p)
		}
	}
	return res
}
