package config

import (
	"strings"

	"ghreward/observability/otel"
)

// RPC tunes the JSON-RPC server.
type RPC struct {
	// AuthToken guards transaction submission. AuthTokenEnv names an
	// environment variable that overrides it.
	AuthToken         string   `toml:"AuthToken"`
	AuthTokenEnv      string   `toml:"AuthTokenEnv"`
	TrustProxyHeaders bool     `toml:"TrustProxyHeaders"`
	TxPerMinute       float64  `toml:"TxPerMinute"`
	TxBurst           int      `toml:"TxBurst"`
	WSOriginPatterns  []string `toml:"WSOriginPatterns"`
}

// Token resolves the effective bearer token.
func (r RPC) Token() string {
	if env := strings.TrimSpace(r.AuthTokenEnv); env != "" {
		if value := strings.TrimSpace(lookupEnv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(r.AuthToken)
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Headers     map[string]string `toml:"Headers"`
	Metrics     bool              `toml:"Metrics"`
	Traces      bool              `toml:"Traces"`
	SampleRatio float64           `toml:"SampleRatio"`
}

// OTel converts the section for observability/otel.Init.
func (t Telemetry) OTel(service, env string) otel.Config {
	return otel.Config{
		ServiceName: service,
		Environment: env,
		Endpoint:    t.Endpoint,
		Insecure:    t.Insecure,
		Headers:     t.Headers,
		Metrics:     t.Metrics,
		Traces:      t.Traces,
		SampleRatio: t.SampleRatio,
	}
}

// Pauses halts modules at startup. Paused modules reject every transaction.
type Pauses struct {
	Reward   bool `toml:"Reward"`
	Transfer bool `toml:"Transfer"`
}

// Modules returns the pause flags keyed by module name.
func (p Pauses) Modules() map[string]bool {
	return map[string]bool{
		"reward":   p.Reward,
		"transfer": p.Transfer,
	}
}

// Logging controls log output.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}
