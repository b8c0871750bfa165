// Package config loads casecore settings.
//
// Precedence, lowest first: built-in defaults, the YAML file
// (casecore.yaml), a .env file, CASECORE_* environment variables, and
// finally command-line flags (applied by the CLI).
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/casecore/internal/failure"
)

// DefaultFile is the config file read when none is named.
const DefaultFile = "casecore.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CASECORE_"

// Config holds runtime settings.
type Config struct {
	// Listen is the websocket listen address for `serve --listen`.
	Listen string `yaml:"listen" env:"LISTEN"`
	// ContractDir holds *.case.json contracts.
	ContractDir string `yaml:"contract_dir" env:"CONTRACT_DIR"`
	// SQLitePath enables the contract and run database when set.
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	// BaseURL is the provider under test for `verify`.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// LogLevel is one of none, error, warn, info, debug, maintainerDebug.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	// AwaitTimeout bounds delegated tests. Zero waits until the stream
	// closes.
	AwaitTimeout time.Duration `yaml:"await_timeout" env:"AWAIT_TIMEOUT"`
	// CacheSize is the number of contracts kept in memory.
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
	// Watch invalidates cached contracts when their files change.
	Watch bool `yaml:"watch" env:"WATCH"`
	// OTelEndpoint enables OTLP/HTTP trace export when set.
	OTelEndpoint string `yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Listen:      "127.0.0.1:7171",
		ContractDir: "contracts",
		LogLevel:    "warn",
		CacheSize:   256,
	}
}

// Options selects the sources Load reads.
type Options struct {
	// File is the YAML file. Empty means DefaultFile, which may be absent;
	// a named file must exist.
	File string
	// DotEnv lists .env files to load into the environment. Missing files
	// are skipped. Nil means ".env".
	DotEnv []string
	// Lookup replaces os.LookupEnv, for tests.
	Lookup func(string) (string, bool)
}

// Load builds the configuration from defaults, file and environment.
func Load(opts Options) (Config, error) {
	cfg := Default()

	path, required := opts.File, true
	if path == "" {
		path, required = DefaultFile, false
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !required:
	case err != nil:
		return cfg, failure.Configuration(nil, "read config %s: %v", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, failure.Configuration(nil, "parse config %s: %v", path, err)
		}
	}

	dotenv := opts.DotEnv
	if dotenv == nil {
		dotenv = []string{".env"}
	}
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, failure.Configuration(nil, "load %s: %v", f, err)
		}
	}

	envOpts := env.Options{Prefix: EnvPrefix}
	if opts.Lookup != nil {
		envOpts.Environment = environ(opts.Lookup)
	}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return cfg, failure.Configuration(nil, "parse env: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.AwaitTimeout < 0 {
		return failure.Configuration(nil, "await_timeout must not be negative, got %s", c.AwaitTimeout)
	}
	if c.CacheSize < 0 {
		return failure.Configuration(nil, "cache_size must not be negative, got %d", c.CacheSize)
	}
	return nil
}

// environ materialises the prefixed variables visible through lookup.
func environ(lookup func(string) (string, bool)) map[string]string {
	out := map[string]string{}
	for _, name := range []string{
		"LISTEN", "CONTRACT_DIR", "SQLITE_PATH", "BASE_URL", "LOG_LEVEL",
		"AWAIT_TIMEOUT", "CACHE_SIZE", "WATCH", "OTEL_ENDPOINT",
	} {
		if v, ok := lookup(EnvPrefix + name); ok {
			out[EnvPrefix+name] = v
		}
	}
	return out
}
