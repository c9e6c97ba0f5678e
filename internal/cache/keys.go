package cache

import (
	"fmt"
	"strings"
	"time"

	"marketspine/internal/config"
	"marketspine/pkg/ohlcv"
)

// Namespace is the Redis key prefix for the ingestion daemon.
const Namespace = "marketspine"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

// Scaled applies a multiplier to a TTL class, useful for half/double TTL variants.
func (t TTLSet) Scaled(class TTLClass, factor float64) time.Duration {
	base := t.Duration(class)
	if base <= 0 || factor <= 0 {
		return base
	}
	return time.Duration(float64(base) * factor)
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// symbolSlug flattens a display symbol ("NIFTY 50") into a key-safe token.
func symbolSlug(symbol string) string {
	s := strings.ToLower(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, ":", "_")
}

// LatestBarKey caches the newest completed bar for a symbol/timeframe pair.
func LatestBarKey(symbol string, tf ohlcv.Timeframe) string {
	return formatKey("bar", "latest", symbolSlug(symbol), tf.String())
}

// LatestBarTTL keeps the latest-bar cache a little beyond one medium window
// so readers bridge the gap between flushes.
func LatestBarTTL(ttl TTLSet) time.Duration {
	return ttl.Scaled(TTLMedium, 1.5)
}

// BarRangeKey caches a day's worth of bars for range queries.
func BarRangeKey(symbol string, tf ohlcv.Timeframe, day time.Time) string {
	return formatKey("bar", "range", symbolSlug(symbol), tf.String(), day.Format("2006-01-02"))
}

// BarRangeTTL returns the TTL for cached bar ranges.
func BarRangeTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// FutOIKey caches the latest futures open-interest row per symbol.
func FutOIKey(symbol string) string {
	return formatKey("futoi", "latest", symbolSlug(symbol))
}

// FutOITTL returns the TTL for futures OI snapshots.
func FutOITTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// OptionChainKey caches the most recent option chain snapshot per underlying.
func OptionChainKey(underlying string) string {
	return formatKey("options", "chain", symbolSlug(underlying))
}

// OptionChainTTL returns the TTL for option chain snapshots.
func OptionChainTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// BreadthKey caches the latest market breadth reading.
func BreadthKey() string {
	return formatKey("breadth", "latest")
}

// BreadthTTL returns the TTL for breadth snapshots.
func BreadthTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// VIXKey caches the latest India VIX value.
func VIXKey() string {
	return formatKey("vix", "latest")
}

// VIXTTL returns the TTL for VIX snapshots.
func VIXTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// LTPKey caches the last traded price per symbol for the context job.
func LTPKey(symbol string) string {
	return formatKey("ltp", symbolSlug(symbol))
}

// LTPTTL keeps LTP entries short-lived; they refresh every context tick.
func LTPTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// ContextKey caches the assembled market context document.
func ContextKey() string {
	return formatKey("context", "latest")
}

// ContextTTL returns the TTL for the market context document.
func ContextTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// JobStatsKey stores per-job scheduler counters for introspection.
func JobStatsKey(job string) string {
	return formatKey("job", "stats", strings.ToLower(strings.TrimSpace(job)))
}

// String implements fmt.Stringer for TTLClass diagnostics.
func (c TTLClass) String() string {
	return string(c)
}

// Describe renders a TTLSet for startup logging.
func (t TTLSet) Describe() string {
	return fmt.Sprintf("short=%s medium=%s long=%s", t.Short, t.Medium, t.Long)
}
