package auth

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults used when the YAML file leaves a field unset.
const (
	DefaultSessionTTL     = Duration(12 * time.Hour)
	DefaultBackendTimeout = Duration(30 * time.Second)
	DefaultFailureDelay   = 3 * time.Second
)

// Duration is a time.Duration that reads from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config captures the full gateway configuration loaded from YAML and
// environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	SSO       SSOConfig       `yaml:"sso"`
	Backend   BackendConfig   `yaml:"backend"`
	Sessions  SessionConfig   `yaml:"sessions"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

// ServerConfig controls listener, TLS, and cookie concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	CookieDomain    string    `yaml:"cookie_domain"`
	SecretsPath     string    `yaml:"secrets_path"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains []string `yaml:"domains"`
	Email   string   `yaml:"email"`
}

// SSOConfig describes this gateway's registration at the university SSO. The
// gateway is a public client: there is no client secret anywhere in this
// configuration.
type SSOConfig struct {
	BaseURL     string   `yaml:"base_url"`
	ClientID    string   `yaml:"client_id"`
	RedirectURI string   `yaml:"redirect_uri"`
	Scopes      []string `yaml:"scopes"`
}

// AuthorizeURL returns the SSO authorization endpoint.
func (s SSOConfig) AuthorizeURL() string {
	return strings.TrimSuffix(s.BaseURL, "/") + "/oauth/authorize"
}

// BackendConfig points at the portal backend that performs the token
// exchange and owns the canonical profile.
type BackendConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// ExchangeURL returns the code-exchange endpoint.
func (b BackendConfig) ExchangeURL() string {
	return strings.TrimSuffix(b.BaseURL, "/") + "/api/auth/exchange"
}

// RefreshURL returns the token-refresh endpoint.
func (b BackendConfig) RefreshURL() string {
	return strings.TrimSuffix(b.BaseURL, "/") + "/api/auth/refresh"
}

// ProfileURL returns the authenticated profile endpoint.
func (b BackendConfig) ProfileURL() string {
	return strings.TrimSuffix(b.BaseURL, "/") + "/api/auth/me"
}

// SessionConfig selects and tunes the session store backend.
type SessionConfig struct {
	TTL     Duration    `yaml:"ttl"`
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the optional Redis session backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RateLimitConfig throttles the login surface per client IP.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SecretsPath:     ".secrets",
		},
		SSO: SSOConfig{
			Scopes: []string{"openid", "profile", "email"},
		},
		Backend: BackendConfig{
			Timeout: DefaultBackendTimeout,
		},
		Sessions: SessionConfig{
			TTL:     DefaultSessionTTL,
			Backend: "memory",
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "magangd",
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			Burst:             10,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"MAGANGD_SERVER_PUBLIC_URL":      func(v string) { cfg.Server.PublicURL = v },
		"MAGANGD_SERVER_DEV_LISTEN_ADDR": func(v string) { cfg.Server.DevListenAddr = v },
		"MAGANGD_SERVER_DEV_MODE":        func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"MAGANGD_SERVER_COOKIE_DOMAIN":   func(v string) { cfg.Server.CookieDomain = v },
		"MAGANGD_SERVER_TLS_DOMAINS":     func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"MAGANGD_SSO_BASE_URL":           func(v string) { cfg.SSO.BaseURL = v },
		"MAGANGD_SSO_CLIENT_ID":          func(v string) { cfg.SSO.ClientID = v },
		"MAGANGD_SSO_REDIRECT_URI":       func(v string) { cfg.SSO.RedirectURI = v },
		"MAGANGD_SSO_SCOPES":             func(v string) { cfg.SSO.Scopes = splitAndTrim(v) },
		"MAGANGD_BACKEND_BASE_URL":       func(v string) { cfg.Backend.BaseURL = v },
		"MAGANGD_BACKEND_TIMEOUT":        func(v string) { cfg.Backend.Timeout = parseDuration(v, cfg.Backend.Timeout) },
		"MAGANGD_SESSIONS_TTL":           func(v string) { cfg.Sessions.TTL = parseDuration(v, cfg.Sessions.TTL) },
		"MAGANGD_SESSIONS_BACKEND":       func(v string) { cfg.Sessions.Backend = v },
		"MAGANGD_SESSIONS_REDIS_ADDR":    func(v string) { cfg.Sessions.Redis.Addr = v },
		"MAGANGD_SESSIONS_REDIS_PASSWORD": func(v string) {
			cfg.Sessions.Redis.Password = v
		},
		"MAGANGD_SESSIONS_REDIS_DB": func(v string) {
			if db, err := strconv.Atoi(v); err == nil {
				cfg.Sessions.Redis.DB = db
			}
		},
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback Duration) Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return Duration(d)
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the config.
func (c *Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !isHTTPURL(c.Server.PublicURL) {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.SSO.BaseURL == "" {
		return errors.New("sso.base_url is required")
	}
	if !isHTTPURL(c.SSO.BaseURL) {
		return fmt.Errorf("sso.base_url must start with http:// or https://, got: %s", c.SSO.BaseURL)
	}
	if c.SSO.ClientID == "" {
		return errors.New("sso.client_id is required")
	}
	if c.SSO.RedirectURI == "" {
		c.SSO.RedirectURI = strings.TrimSuffix(c.Server.PublicURL, "/") + "/auth/callback"
	}
	if len(c.SSO.Scopes) == 0 {
		return errors.New("sso.scopes must not be empty")
	}

	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if !isHTTPURL(c.Backend.BaseURL) {
		return fmt.Errorf("backend.base_url must start with http:// or https://, got: %s", c.Backend.BaseURL)
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = DefaultBackendTimeout
	}

	switch c.Sessions.Backend {
	case "memory":
	case "redis":
		if c.Sessions.Redis.Addr == "" {
			return errors.New("sessions.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("sessions.backend must be 'memory' or 'redis', got: %s", c.Sessions.Backend)
	}
	if c.Sessions.TTL <= 0 {
		c.Sessions.TTL = DefaultSessionTTL
	}

	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return errors.New("ratelimit values must not be negative")
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
