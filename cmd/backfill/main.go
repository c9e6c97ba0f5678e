package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"marketspine/internal/config"
	"marketspine/internal/ingest"
	"marketspine/internal/svc"
	"marketspine/pkg/ohlcv"
)

var (
	configFile = flag.String("f", "etc/marketspine.yaml", "path to the config file")
	sinceFlag  = flag.String("since", "", "backfill start (RFC3339 timestamp or lookback like 72h); empty means provider default")
	symbolsCSV = flag.String("symbols", "", "comma separated symbol override")
	timeout    = flag.Duration("timeout", 5*time.Minute, "overall backfill timeout")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	appCfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[backfill] Failed to load config %s: %v", *configFile, err)
	}

	svcCtx := svc.NewServiceContext(appCfg)
	if svcCtx.Store == nil {
		log.Fatalf("[backfill] A Postgres DSN is required to backfill")
	}

	symbols := overrideSymbols(*symbolsCSV, appCfg.Symbols)
	if len(symbols) == 0 {
		log.Fatalf("[backfill] No symbols to backfill")
	}

	since, err := parseSince(*sinceFlag)
	if err != nil {
		log.Fatalf("[backfill] Invalid -since value %q: %v", *sinceFlag, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backfiller := ingest.NewBackfiller(svcCtx.DefaultMarket, svcCtx.Store, svcCtx.Clock,
		appCfg.Timeframe(), []ohlcv.Timeframe{ohlcv.Timeframe15m, ohlcv.Timeframe1h})

	if since.IsZero() {
		since = backfiller.SinceFromStore(ctx, symbols)
		if !since.IsZero() {
			log.Printf("[backfill] Resuming from last stored bar end %s", since.Format(time.RFC3339))
		}
	}

	start := time.Now()
	written, err := backfiller.Run(ctx, symbols, since)
	if err != nil {
		log.Fatalf("[backfill] Failed after %d bars: %v", written, err)
	}
	log.Printf("[backfill] Wrote %d bars for %d symbols in %s", written, len(symbols), time.Since(start).Round(time.Millisecond))
}

// overrideSymbols returns the CSV override as a fresh slice, or fallback
// untouched when the override is empty.
func overrideSymbols(csv string, fallback []string) []string {
	if strings.TrimSpace(csv) == "" {
		return fallback
	}
	var out []string
	for _, sym := range strings.Split(csv, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

// parseSince accepts an absolute RFC3339 timestamp or a relative lookback
// duration; empty means the zero time (provider decides how far back).
func parseSince(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return time.Now().Add(-d), nil
	}
	return time.Parse(time.RFC3339, value)
}
