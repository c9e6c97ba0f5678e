package svc_test

import (
	"context"
	"testing"
	"time"

	"marketspine/internal/config"
	"marketspine/internal/svc"
	"marketspine/pkg/ohlcv"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Env: "test",
		Session: config.SessionConf{
			Timezone: "Asia/Kolkata",
			Open:     "09:15",
			Close:    "15:30",
		},
		BaseTimeframe:          "5m",
		MinSleepSeconds:        1,
		ShutdownTimeoutSeconds: 10,
		TTL:                    config.CacheTTL{Short: 10, Medium: 60, Long: 300},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

// Without a market section the context falls back to the deterministic mock
// provider, and without DSN/Redis the storage layer stays disabled.
func TestServiceContextDefaults(t *testing.T) {
	ctx := svc.NewServiceContext(testConfig(t))

	if ctx.DefaultMarket == nil {
		t.Fatal("expected mock provider fallback")
	}
	if _, ok := ctx.MarketProviders["mock"]; !ok {
		t.Fatal("mock provider should be registered")
	}
	if ctx.Store != nil {
		t.Fatal("store should be nil without a Postgres DSN")
	}
	if ctx.Cache != nil {
		t.Fatal("cache should be nil without Redis config")
	}
	if ctx.Aggregator == nil {
		t.Fatal("aggregator must always be constructed")
	}
	if ctx.Clock.Location().String() != "Asia/Kolkata" {
		t.Fatalf("clock location: %s", ctx.Clock.Location())
	}

	// The fallback provider must actually serve data.
	bars, err := ctx.DefaultMarket.FetchOHLCV(context.Background(), ctx.Config.Symbols, ohlcv.Timeframe5m, time.Time{})
	if err != nil {
		t.Fatalf("mock FetchOHLCV: %v", err)
	}
	if len(bars) == 0 {
		t.Fatal("mock provider returned no bars")
	}
}
