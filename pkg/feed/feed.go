// Package feed hosts tick-source connectors. A feed pushes ticks onto a
// channel until its context is cancelled; the daemon owns the channel and
// forwards into the bar aggregator.
package feed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"marketspine/pkg/ohlcv"
)

const (
	// ProviderStub emits deterministic synthetic ticks for offline work.
	ProviderStub = "stub"
	// ProviderWS streams live ticks from the gateway websocket.
	ProviderWS = "ws"
)

// Feed is a pluggable tick stream. Upstreams that report cumulative session
// volume are differenced per symbol before ticks are emitted, so consumers
// always see volume deltas.
type Feed struct {
	provider     string
	url          string
	pollInterval time.Duration

	mu         sync.RWMutex
	symbols    []string
	lastVolume map[string]int64
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const defaultPollInterval = time.Second

// WithPollInterval overrides the stub feed's tick cadence.
func WithPollInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithURL sets the websocket endpoint for the ws provider.
func WithURL(url string) Option {
	return func(f *Feed) {
		f.url = strings.TrimSpace(url)
	}
}

// New constructs a feed backed by the requested provider.
func New(provider string, symbols []string, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(strings.TrimSpace(provider)),
		pollInterval: defaultPollInterval,
		lastVolume:   make(map[string]int64),
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetSymbols replaces the tracked symbol list (deduplicated, sorted).
func (f *Feed) SetSymbols(symbols []string) {
	f.setSymbols(symbols)
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// volumeDelta converts a cumulative session volume into a per-tick delta.
// The first observation for a symbol and any counter reset yield zero.
func (f *Feed) volumeDelta(symbol string, cumulative int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, seen := f.lastVolume[symbol]
	f.lastVolume[symbol] = cumulative
	if !seen || cumulative < last {
		return 0
	}
	return cumulative - last
}

// Run pushes ticks onto out until ctx is cancelled.
func (f *Feed) Run(ctx context.Context, out chan<- ohlcv.Tick) error {
	switch f.provider {
	case ProviderWS:
		return f.runWS(ctx, out)
	case ProviderStub:
		return f.runStub(ctx, out)
	default:
		return fmt.Errorf("feed: unknown provider %q", f.provider)
	}
}
