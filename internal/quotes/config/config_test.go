package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkgconfig "tickwire.com/pkg/config"
)

const sample = `
stale_after: 90s
caches:
  indicators:
    ttl: 15m
    max_entries: 500
    sweep_interval: 60s
streams:
  - provider: kraken
    url: wss://ws.kraken.com
    ping_interval: 20s
    stale_threshold: 45s
    max_attempts: 8
    backoff:
      base: 3s
      max: 60s
      growth: 1.6
    symbols:
      - symbol: BTCUSD
        provider_symbol: XBT/USD
rest:
  - name: taapi
    base_url: https://api.taapi.io
    spacing: 12s
    cache: indicators
    credential:
      query: secret
      env: TAAPI_SECRET
`

func load(t *testing.T, body string) *Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ServiceName+".yaml"), []byte(body), 0o600))
	var cfg Config
	_, err := pkgconfig.LoadAndWatch(ServiceName, &cfg, pkgconfig.Options{Paths: []string{dir}, Defaults: Defaults(), NoWatch: true})
	require.NoError(t, err)
	return &cfg
}

func TestLoad_TypedConfig(t *testing.T) {
	cfg := load(t, sample)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ServiceName, cfg.Name)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 90*time.Second, cfg.StaleAfter)
	assert.Equal(t, 15*time.Minute, cfg.Caches["indicators"].TTL)

	require.Len(t, cfg.Streams, 1)
	s := cfg.Streams[0]
	assert.Equal(t, 45*time.Second, s.StaleThreshold)
	assert.Equal(t, uint(8), s.MaxAttempts)
	assert.Equal(t, 1.6, s.Backoff.Growth)
	assert.Equal(t, "XBT/USD", s.Symbols[0].ProviderSymbol)

	assert.Equal(t, map[string]time.Duration{"taapi": 12 * time.Second}, cfg.Spacing())
}

func TestValidate(t *testing.T) {
	cfg := load(t, sample)
	cfg.Rest[0].Cache = "nope"
	cfg.Streams = append(cfg.Streams, cfg.Streams[0])
	cfg.Streams[1].Symbols = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown cache class "nope"`)
	assert.Contains(t, err.Error(), `duplicate provider "kraken"`)
	assert.Contains(t, err.Error(), "stream kraken: no symbols")
}

func TestCredentialRef_Resolve(t *testing.T) {
	ref := CredentialRef{Query: "secret", Env: "TICKWIRE_TEST_SECRET"}
	_, err := ref.Resolve()
	assert.Error(t, err)

	t.Setenv("TICKWIRE_TEST_SECRET", "abc")
	cred, err := ref.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "abc", cred.Value)
	assert.NotContains(t, cred.String(), "abc")

	none, err := CredentialRef{}.Resolve()
	require.NoError(t, err)
	assert.Empty(t, none.Value)
}
