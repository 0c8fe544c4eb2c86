// Package config provides unified configuration for the quotagate gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. A .env file, consulted for variables not set in the environment
//  4. Environment variable overrides (QUOTAGATE_ prefix)
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import "time"

// Config holds all configuration for the quotagate gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Downstream    DownstreamConfig    `yaml:"downstream"`
	Store         StoreConfig         `yaml:"store"`
	Quota         QuotaConfig         `yaml:"quota"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              int           `yaml:"port"`                // default: 8080
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"` // default: 10s
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`    // default: 30s
	MaxBodySize       int64         `yaml:"max_body_size"`       // default: 10 MB

	// TrustedProxyHeader names a forwarding header (e.g. X-Forwarded-For)
	// whose left-most entry is used as the client address. Empty means the
	// connection's remote address.
	TrustedProxyHeader string `yaml:"trusted_proxy_header"`
}

// DownstreamConfig describes the content service admitted requests go to.
type DownstreamConfig struct {
	URL        string        `yaml:"url"`         // required
	Timeout    time.Duration `yaml:"timeout"`     // default: 60s
	CostHeader string        `yaml:"cost_header"` // default: X-Consumption-Units
}

// StoreConfig selects and configures the shared counter store.
type StoreConfig struct {
	Type      string         `yaml:"type"`       // "memory", "redis" or "postgres", default: "memory"
	KeyPrefix string         `yaml:"key_prefix"` // default: "quotagate:"
	Timeout   time.Duration  `yaml:"timeout"`    // per call, default: 100ms
	Breaker   BreakerConfig  `yaml:"breaker"`
	Redis     RedisConfig    `yaml:"redis"`
	Postgres  PostgresConfig `yaml:"postgres"`
}

// BreakerConfig tunes the circuit breaker in front of the store.
type BreakerConfig struct {
	FailureThreshold int64         `yaml:"failure_threshold"`   // default: 10
	OpenDuration     time.Duration `yaml:"open_duration"`       // default: 200ms
	HalfOpenMaxCalls int64         `yaml:"half_open_max_calls"` // default: 5
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Addrs        []string      `yaml:"addrs"` // cluster seed nodes; overrides addr
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	PasswordFile string        `yaml:"password_file"` // _file variant for password
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string        `yaml:"dsn"`
	DSNFile        string        `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32         `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool          `yaml:"migrate_on_start"` // default: false
	SweepInterval  time.Duration `yaml:"sweep_interval"`   // default: 5m
}

// QuotaConfig holds the policy table and admission behavior.
type QuotaConfig struct {
	// Tiers maps tier -> dimension -> limit. When empty the built-in table
	// is used; when set it must be complete.
	Tiers map[string]map[string]LimitConfig `yaml:"tiers"`

	Routes          []RouteConfig     `yaml:"routes"`
	Cost            CostConfig        `yaml:"cost"`
	DegradedCap     DegradedCapConfig `yaml:"degraded_cap"`
	RefundOnFailure bool              `yaml:"refund_on_failure"` // default: false
}

// LimitConfig is one policy entry.
type LimitConfig struct {
	Limit       int64         `yaml:"limit"`
	Window      time.Duration `yaml:"window"`
	UpgradeHint string        `yaml:"upgrade_hint"`
}

// RouteConfig binds a request pattern to the dimensions it consumes.
type RouteConfig struct {
	Pattern    string   `yaml:"pattern"`
	Dimensions []string `yaml:"dimensions"`
}

// CostConfig selects the consumption estimator used before forwarding.
type CostConfig struct {
	Estimator    string `yaml:"estimator"`      // "body_size", "prompt_length" or "fixed", default: "body_size"
	BytesPerUnit int64  `yaml:"bytes_per_unit"` // body_size, default: 4
	Field        string `yaml:"field"`          // prompt_length, default: "prompt"
	Units        int64  `yaml:"units"`          // fixed
}

// DegradedCapConfig bounds admissions per second while the store is
// unavailable. A zero rate with zero burst disables the cap.
type DegradedCapConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type string `yaml:"type"` // "none", "apikey" or "jwt", default: "none"

	// AllowAnonymous admits callers presenting no credentials under
	// AnonymousTier. Always true for type "none".
	AllowAnonymous bool   `yaml:"allow_anonymous"`
	AnonymousTier  string `yaml:"anonymous_tier"` // default: "free"

	APIKeys []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
	JWT     JWTConfig      `yaml:"jwt"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig configures bearer token validation.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	JWKSURL     string        `yaml:"jwks_url"`
	Secret      string        `yaml:"secret"`
	SecretFile  string        `yaml:"secret_file"` // _file variant for secret
	UserClaim   string        `yaml:"user_claim"`
	TierClaim   string        `yaml:"tier_claim"`
	DefaultTier string        `yaml:"default_tier"`
	ScopesClaim string        `yaml:"scopes_claim"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// ObservabilityConfig holds monitoring and logging settings.
type ObservabilityConfig struct {
	Metrics   MetricsConfig `yaml:"metrics"`
	LogLevel  string        `yaml:"log_level"`  // default: "INFO"
	LogFormat string        `yaml:"log_format"` // "text" or "json", default: "text"
	Debug     string        `yaml:"debug"`      // comma-separated debug categories
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			MaxBodySize:       10 << 20,
		},
		Downstream: DownstreamConfig{
			Timeout:    60 * time.Second,
			CostHeader: "X-Consumption-Units",
		},
		Store: StoreConfig{
			Type:      "memory",
			KeyPrefix: "quotagate:",
			Timeout:   100 * time.Millisecond,
			Breaker: BreakerConfig{
				FailureThreshold: 10,
				OpenDuration:     200 * time.Millisecond,
				HalfOpenMaxCalls: 5,
			},
			Redis: RedisConfig{
				DialTimeout:  2 * time.Second,
				ReadTimeout:  100 * time.Millisecond,
				WriteTimeout: 100 * time.Millisecond,
			},
			Postgres: PostgresConfig{
				MaxConns:      25,
				SweepInterval: 5 * time.Minute,
			},
		},
		Quota: QuotaConfig{
			Routes: DefaultRoutes(),
			Cost: CostConfig{
				Estimator:    "body_size",
				BytesPerUnit: 4,
				Field:        "prompt",
			},
			DegradedCap: DegradedCapConfig{
				Rate:  50,
				Burst: 100,
			},
		},
		Auth: AuthConfig{
			Type:          "none",
			AnonymousTier: "free",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			LogLevel:  "INFO",
			LogFormat: "text",
		},
	}
}

// DefaultRoutes protects the content-generation API: every /api/ request
// counts against general-api, the AI endpoints also spend invocations and
// budget, and session creation has its own daily count.
func DefaultRoutes() []RouteConfig {
	ai := []string{"general-api", "ai-invocation", "daily-consumption-budget"}
	return []RouteConfig{
		{Pattern: "POST /api/questions/generate", Dimensions: ai},
		{Pattern: "POST /api/evaluate", Dimensions: ai},
		{Pattern: "POST /api/feedback", Dimensions: ai},
		{Pattern: "POST /api/sessions", Dimensions: []string{"general-api", "session-creation"}},
		{Pattern: "/api/", Dimensions: []string{"general-api"}},
	}
}
