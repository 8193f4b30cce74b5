package claimsigner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	prev := lookupEnv
	lookupEnv = func(key string) string { return values[key] }
	t.Cleanup(func() { lookupEnv = prev })
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	withEnv(t, map[string]string{"GHR_SIGNER_JWT_SECRET": strings.Repeat("s", 32)})
	path := writeConfig(t, `
listen: ":9000"
keystore:
  path: signer.keystore
jwt:
  issuer: ghreward-web
  audience: claim-signer
  clock_skew: 2m
rate_limit:
  burst: 2
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "http://127.0.0.1:8545", cfg.NodeRPC)
	require.Equal(t, 2*time.Minute, cfg.JWT.ClockSkew.Duration)
	require.Equal(t, "github_login", cfg.JWT.LoginClaim)
	require.Equal(t, "wallet", cfg.JWT.WalletClaim)
	require.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 2, cfg.RateLimit.Burst)
	require.Equal(t, 10*time.Minute, cfg.RateLimit.IdleTTL.Duration)
	require.Equal(t, "GHR_SIGNER_PASSPHRASE", cfg.Keystore.PassphraseEnv)
	require.Len(t, cfg.JWT.Secret, 32)
	require.Equal(t, 1.0, cfg.Telemetry.OTel("claim-signer", cfg.Environment).SampleRatio)
}

func TestLoadConfigRejectsInvalidInput(t *testing.T) {
	withEnv(t, map[string]string{"SHORT": "tiny"})

	_, err := LoadConfig(writeConfig(t, "listen: \":1\"\nunknown: true\n"))
	require.ErrorContains(t, err, "decode config")

	_, err = LoadConfig(writeConfig(t, "jwt:\n  clock_skew: soon\n"))
	require.ErrorContains(t, err, "parse duration")

	_, err = LoadConfig(writeConfig(t, "jwt:\n  issuer: x\n"))
	require.ErrorContains(t, err, "secret_env GHR_SIGNER_JWT_SECRET is empty")

	_, err = LoadConfig(writeConfig(t, "jwt:\n  secret_env: SHORT\n"))
	require.ErrorContains(t, err, "keystore.path must be configured")
	require.ErrorContains(t, err, "jwt.issuer must be configured")
	require.ErrorContains(t, err, "jwt.audience must be configured")
	require.ErrorContains(t, err, "at least 32 bytes")
}
