package claimsigner

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ghreward/observability/otel"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the claim signer.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	NodeRPC       string          `yaml:"node_rpc"`
	Environment   string          `yaml:"environment"`
	AuditDB       string          `yaml:"audit_db"`
	LogLevel      string          `yaml:"log_level"`
	LogFile       string          `yaml:"log_file"`
	Keystore      KeystoreConfig  `yaml:"keystore"`
	JWT           JWTConfig       `yaml:"jwt"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// KeystoreConfig locates the authorization signing key.
type KeystoreConfig struct {
	Path          string `yaml:"path"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

// JWTConfig controls session token verification.
type JWTConfig struct {
	Issuer      string   `yaml:"issuer"`
	Audience    string   `yaml:"audience"`
	SecretEnv   string   `yaml:"secret_env"`
	ClockSkew   Duration `yaml:"clock_skew"`
	LoginClaim  string   `yaml:"login_claim"`
	WalletClaim string   `yaml:"wallet_claim"`

	// Secret is resolved from SecretEnv at load time.
	Secret []byte `yaml:"-"`
}

// RateLimitConfig bounds signing requests per session subject.
type RateLimitConfig struct {
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
	IdleTTL           Duration `yaml:"idle_ttl"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Insecure bool     `yaml:"insecure"`
	Headers  string   `yaml:"headers"`
	Traces   bool     `yaml:"traces"`
	Metrics  bool     `yaml:"metrics"`
	Ratio    *float64 `yaml:"sample_ratio"`
}

// OTel converts the section into the exporter configuration.
func (t TelemetryConfig) OTel(service, env string) otel.Config {
	ratio := 1.0
	if t.Ratio != nil {
		ratio = *t.Ratio
	}
	return otel.Config{
		ServiceName: service,
		Environment: env,
		Endpoint:    t.Endpoint,
		Insecure:    t.Insecure,
		Headers:     otel.ParseHeaders(t.Headers),
		Metrics:     t.Metrics,
		Traces:      t.Traces,
		SampleRatio: ratio,
	}
}

var lookupEnv = os.Getenv

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.JWT.normalise(); err != nil {
		return cfg, fmt.Errorf("jwt: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.NodeRPC == "" {
		cfg.NodeRPC = "http://127.0.0.1:8545"
	}
	if cfg.Environment == "" {
		cfg.Environment = "local"
	}
	if cfg.AuditDB == "" {
		cfg.AuditDB = "claim-signer.db"
	}
	if cfg.Keystore.PassphraseEnv == "" {
		cfg.Keystore.PassphraseEnv = "GHR_SIGNER_PASSPHRASE"
	}
	if cfg.JWT.SecretEnv == "" {
		cfg.JWT.SecretEnv = "GHR_SIGNER_JWT_SECRET"
	}
	if cfg.JWT.ClockSkew.Duration == 0 {
		cfg.JWT.ClockSkew.Duration = 30 * time.Second
	}
	if cfg.JWT.LoginClaim == "" {
		cfg.JWT.LoginClaim = "github_login"
	}
	if cfg.JWT.WalletClaim == "" {
		cfg.JWT.WalletClaim = "wallet"
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 30
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.RateLimit.IdleTTL.Duration <= 0 {
		cfg.RateLimit.IdleTTL.Duration = 10 * time.Minute
	}
}

func (j *JWTConfig) normalise() error {
	j.Issuer = strings.TrimSpace(j.Issuer)
	j.Audience = strings.TrimSpace(j.Audience)
	secret := strings.TrimSpace(lookupEnv(j.SecretEnv))
	if secret == "" {
		return fmt.Errorf("secret_env %s is empty", j.SecretEnv)
	}
	j.Secret = []byte(secret)
	return nil
}

func validateConfig(cfg Config) error {
	var errs []error
	if strings.TrimSpace(cfg.Keystore.Path) == "" {
		errs = append(errs, errors.New("keystore.path must be configured"))
	}
	if cfg.JWT.Issuer == "" {
		errs = append(errs, errors.New("jwt.issuer must be configured"))
	}
	if cfg.JWT.Audience == "" {
		errs = append(errs, errors.New("jwt.audience must be configured"))
	}
	if len(cfg.JWT.Secret) < 32 {
		errs = append(errs, errors.New("jwt secret must be at least 32 bytes"))
	}
	if r := cfg.Telemetry.Ratio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within [0,1]"))
	}
	return errors.Join(errs...)
}
