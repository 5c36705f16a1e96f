package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tickwire.com/internal/quotes/cache"
	"tickwire.com/internal/quotes/config"
	"tickwire.com/internal/quotes/stream"
)

func testApp(t *testing.T) *App {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &App{
		ctx: ctx,
		cfg: &config.Config{
			StaleAfter: time.Minute,
			Caches:     map[string]cache.Config{"indicators": {TTL: time.Minute}},
			Rest: []config.RestProvider{
				{Name: "taapi", BaseURL: "http://127.0.0.1:1", Spacing: 12 * time.Second, Cache: "indicators"},
			},
			Streams: []stream.Config{
				{Provider: "kraken", URL: "ws://127.0.0.1:1", Symbols: []stream.Symbol{{Symbol: "BTCUSD", ProviderSymbol: "XBT/USD"}}},
			},
		},
	}
}

func TestBuildIngest(t *testing.T) {
	app := testApp(t)
	require.NoError(t, app.buildIngest())

	assert.Equal(t, []string{"taapi"}, app.facade.RestProviders())
	assert.Equal(t, "indicators", app.caches["indicators"].Name())
	assert.Equal(t, 12*time.Second, app.spacer.Spacing("taapi"))

	h := app.facade.Health()
	require.Len(t, h, 1)
	assert.Equal(t, "kraken", h[0].Provider)
	assert.Equal(t, stream.Disconnected, h[0].State)
	assert.Empty(t, app.quotes())
}

func TestOnReload_AppliesSpacing(t *testing.T) {
	app := testApp(t)
	require.NoError(t, app.buildIngest())

	app.cfg.Rest[0].Spacing = 15 * time.Second
	app.onReload()
	assert.Equal(t, 15*time.Second, app.spacer.Spacing("taapi"))

	// 非法配置不下发
	app.cfg.Rest[0].Spacing = time.Second
	app.cfg.Rest[0].Cache = "missing"
	app.onReload()
	assert.Equal(t, 15*time.Second, app.spacer.Spacing("taapi"))
}

func TestTopics_Dedup(t *testing.T) {
	app := testApp(t)
	app.cfg.Streams = append(app.cfg.Streams, stream.Config{
		Provider: "coinbase",
		Symbols:  []stream.Symbol{{Symbol: "BTCUSD"}, {Symbol: "ETHUSD"}},
	})
	assert.Equal(t, []string{"quote:BTCUSD", "quote:ETHUSD"}, app.topics())
}
