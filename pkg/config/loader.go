package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that control loading itself.
const (
	EnvConfigPath = "QUOTAGATE_CONFIG"
	EnvDotEnvPath = "QUOTAGATE_ENV_FILE"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, QUOTAGATE_CONFIG env, ./config.yaml, /etc/quotagate/config.yaml)
//  3. .env file (QUOTAGATE_ENV_FILE or ./.env), never overriding the real environment
//  4. QUOTAGATE_* environment variable overrides
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	dotenv, err := readDotEnv()
	if err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := applyEnvOverrides(&cfg, envLookup(dotenv)); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. QUOTAGATE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/quotagate/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/quotagate/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// readDotEnv parses the .env file without touching the process
// environment. A missing default file is not an error; a missing file
// named explicitly is.
func readDotEnv() (map[string]string, error) {
	path := os.Getenv(EnvDotEnvPath)
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return vars, nil
}

// envLookup prefers the real environment over .env values.
func envLookup(dotenv map[string]string) func(string) string {
	return func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
}

// applyEnvOverrides maps QUOTAGATE_* variables onto config fields.
// Malformed values are reported together.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	integer("QUOTAGATE_PORT", &cfg.Server.Port)
	str("QUOTAGATE_TRUSTED_PROXY_HEADER", &cfg.Server.TrustedProxyHeader)

	str("QUOTAGATE_DOWNSTREAM_URL", &cfg.Downstream.URL)
	duration("QUOTAGATE_DOWNSTREAM_TIMEOUT", &cfg.Downstream.Timeout)

	str("QUOTAGATE_STORE", &cfg.Store.Type)
	str("QUOTAGATE_KEY_PREFIX", &cfg.Store.KeyPrefix)
	duration("QUOTAGATE_STORE_TIMEOUT", &cfg.Store.Timeout)
	str("QUOTAGATE_REDIS_ADDR", &cfg.Store.Redis.Addr)
	str("QUOTAGATE_REDIS_USERNAME", &cfg.Store.Redis.Username)
	str("QUOTAGATE_REDIS_PASSWORD", &cfg.Store.Redis.Password)
	integer("QUOTAGATE_REDIS_DB", &cfg.Store.Redis.DB)
	str("QUOTAGATE_POSTGRES_DSN", &cfg.Store.Postgres.DSN)

	boolean("QUOTAGATE_REFUND_ON_FAILURE", &cfg.Quota.RefundOnFailure)
	str("QUOTAGATE_COST_ESTIMATOR", &cfg.Quota.Cost.Estimator)

	str("QUOTAGATE_AUTH_TYPE", &cfg.Auth.Type)
	str("QUOTAGATE_ANONYMOUS_TIER", &cfg.Auth.AnonymousTier)
	str("QUOTAGATE_JWT_SECRET", &cfg.Auth.JWT.Secret)
	str("QUOTAGATE_JWKS_URL", &cfg.Auth.JWT.JWKSURL)
	str("QUOTAGATE_JWT_ISSUER", &cfg.Auth.JWT.Issuer)
	str("QUOTAGATE_JWT_AUDIENCE", &cfg.Auth.JWT.Audience)

	// QUOTAGATE_API_KEYS: JSON array of API key configs.
	if v := getenv("QUOTAGATE_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			errs = append(errs, err)
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	str("QUOTAGATE_LOG_LEVEL", &cfg.Observability.LogLevel)
	str("QUOTAGATE_LOG_FORMAT", &cfg.Observability.LogFormat)
	str("QUOTAGATE_DEBUG", &cfg.Observability.Debug)

	return errors.Join(errs...)
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. An explicit value always wins over its file reference.
func resolveFileReferences(cfg *Config) error {
	type ref struct {
		name string
		file string
		dst  *string
	}
	refs := []ref{
		{"store.redis.password_file", cfg.Store.Redis.PasswordFile, &cfg.Store.Redis.Password},
		{"store.postgres.dsn_file", cfg.Store.Postgres.DSNFile, &cfg.Store.Postgres.DSN},
		{"auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
	}
	for i := range cfg.Auth.APIKeys {
		refs = append(refs, ref{
			fmt.Sprintf("auth.api_keys[%d].key_file", i),
			cfg.Auth.APIKeys[i].KeyFile,
			&cfg.Auth.APIKeys[i].Key,
		})
	}

	for _, r := range refs {
		if r.file == "" || *r.dst != "" {
			continue
		}
		val, err := readSecretFile(r.file)
		if err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
		*r.dst = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
