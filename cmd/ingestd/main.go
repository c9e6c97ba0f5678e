package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"marketspine/internal/cli"
	"marketspine/internal/config"
	"marketspine/internal/ingest"
	"marketspine/internal/svc"
	"marketspine/pkg/feed"
	"marketspine/pkg/ohlcv"
	"marketspine/pkg/scheduler"
)

var configFile = flag.String("f", "etc/marketspine.yaml", "path to the config file")

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting ingestion daemon...")

	appCfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[main] Failed to load config %s: %v", *configFile, err)
	}

	log.Printf("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(appCfg) {
		log.Printf("  - %s", line)
	}

	svcCtx := svc.NewServiceContext(appCfg)
	if svcCtx.Store == nil {
		log.Printf("[main] Warning: no Postgres DSN configured, bars will not be persisted")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// Tick feed -> aggregator.
	ticks := make(chan ohlcv.Tick, 1024)
	tickFeed := feed.New(appCfg.Feed.Provider, appCfg.Symbols, feed.WithURL(appCfg.Feed.URL))
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(ticks)
		if err := tickFeed.Run(ctx, ticks); err != nil && ctx.Err() == nil {
			log.Printf("[feed] stopped with error: %v", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for tick := range ticks {
			svcCtx.Aggregator.OnTick(tick.Symbol, tick.Price, tick.Volume, tick.Time)
		}
	}()

	// Scheduled jobs.
	flusher, err := ingest.NewBarFlusher(svcCtx.Clock, svcCtx.Aggregator, svcCtx.Store,
		appCfg.Timeframe(), []ohlcv.Timeframe{ohlcv.Timeframe15m, ohlcv.Timeframe1h})
	if err != nil {
		log.Fatalf("[main] Failed to build bar flusher: %v", err)
	}

	runners := map[string]func(context.Context) error{
		"ohlcv":   flusher.Run,
		"fut_oi":  ingest.NewFutOIJob(svcCtx.DefaultMarket, svcCtx.Store, svcCtx.Clock, appCfg.Symbols).Run,
		"options": ingest.NewOptionsJob(svcCtx.DefaultMarket, svcCtx.Store, appCfg.Symbols).Run,
		"breadth": ingest.NewBreadthJob(svcCtx.DefaultMarket, svcCtx.Store).Run,
		"vix":     ingest.NewVIXJob(svcCtx.DefaultMarket, svcCtx.Store).Run,
		"context": ingest.NewContextJob(svcCtx.DefaultMarket, svcCtx.Store, svcCtx.Store,
			svcCtx.Clock, appCfg.Timeframe(), appCfg.Symbols).Run,
	}

	sched := scheduler.New(svcCtx.Clock, scheduler.WithMinSleep(appCfg.MinSleep()))
	for _, jobCfg := range appCfg.Jobs {
		run, ok := runners[jobCfg.Name]
		if !ok {
			log.Fatalf("[main] Unknown job %q in config", jobCfg.Name)
		}
		err := sched.Register(scheduler.Job{
			Name:            jobCfg.Name,
			Cadence:         time.Duration(jobCfg.CadenceSeconds) * time.Second,
			MarketHoursOnly: jobCfg.MarketHoursOnly,
			Run:             run,
		})
		if err != nil {
			log.Fatalf("[main] Failed to register job %s: %v", jobCfg.Name, err)
		}
	}
	sched.Start(ctx)

	log.Printf("[main] Ingestion daemon started with %d jobs. Press Ctrl+C to stop.", len(appCfg.Jobs))

	<-ctx.Done()
	log.Println("[main] Shutdown signal received, stopping jobs...")

	sched.Stop(appCfg.ShutdownTimeout())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("[main] Feed stopped cleanly")
	case <-time.After(appCfg.ShutdownTimeout()):
		log.Println("[main] Shutdown timeout exceeded, forcing exit")
	}

	// Flush whatever completed while shutting down.
	flushCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout())
	defer cancel()
	if err := flusher.Run(flushCtx); err != nil {
		log.Printf("[main] Final flush failed: %v", err)
	}

	for name, stats := range sched.Snapshot() {
		log.Printf("[main] job %s: runs=%d failures=%d skips=%d", name, stats.Runs, stats.Failures, stats.Skips)
	}
	log.Println("[main] Ingestion daemon stopped")
}
