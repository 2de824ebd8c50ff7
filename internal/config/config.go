// Package config loads the engine's run configuration: the flag/env-var
// bound Config used by the CLI, plus a FromMap entry point that accepts a
// generic parsed configuration map, for embedding or tests that construct a
// config value without going through flag.Parse.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/quantreplay/backsim/internal/model"
)

// MarketConfig selects tick-or-bar replay and the market-check cadence.
type MarketConfig struct {
	Type         model.MarketInfoType
	Microseconds int64
}

// TimerConfig sets the system-timer cadence.
type TimerConfig struct {
	Microseconds int64
}

// MatchingConfig carries the matcher's config-gated policy toggles.
type MatchingConfig struct {
	UpdownPriceLimit bool
	LiquidityLimit   bool
	VolumeLimit      bool
	VolumePercent    float64
}

// LogConfig configures the component loggers.
type LogConfig struct {
	Path         string
	Level        string
	ConsolePrint bool
	KeepHistory  int
}

// ModConfig is one mod.<name> section: enabled flag plus free-form
// collaborator-specific settings (lib path, priority, …).
type ModConfig struct {
	Enabled  bool
	Lib      string
	Priority int
}

// Config holds every section the engine core and its concrete collaborators
// need for one run.
type Config struct {
	Market   MarketConfig
	Timer    TimerConfig
	Matching MatchingConfig
	Log      LogConfig
	Mods     map[string]ModConfig

	// Mongo-backed StoreProvider connection (internal/store).
	MongoURI string

	// REST/WebSocket API surface (internal/api).
	Host string
	Port int

	// Replay window and synthetic-data seed for the demo CLI.
	Seed             int64
	StartDate        time.Time
	EndDate          time.Time
	SnapshotInterval time.Duration

	// Trade archival (internal/archive).
	ArchiveDir           string
	ArchiveMaxGB         int
	ArchiveIntervalHours int
	ArchiveAfterHours    int
	TradeRetentionDays   int
}

// Load parses flags (with environment-variable fallbacks) into a Config.
func Load() *Config {
	c := &Config{Mods: make(map[string]ModConfig)}

	marketType := flag.String("market-type", envStr("BACKSIM_MARKET_TYPE", "BAR"), "replay granularity: TICK or BAR")
	flag.Int64Var(&c.Market.Microseconds, "market-interval-us", envInt64("BACKSIM_MARKET_INTERVAL_US", 100000), "MARKET_CHECK cadence in microseconds")
	flag.Int64Var(&c.Timer.Microseconds, "timer-interval-us", envInt64("BACKSIM_TIMER_INTERVAL_US", 1000000), "SYS_TIMER cadence in microseconds")

	flag.BoolVar(&c.Matching.UpdownPriceLimit, "updown-price-limit", envBool("BACKSIM_UPDOWN_PRICE_LIMIT", false), "reject/skip orders that hit the limit-up/down band")
	flag.BoolVar(&c.Matching.LiquidityLimit, "liquidity-limit", envBool("BACKSIM_LIQUIDITY_LIMIT", false), "reject/skip orders when the counterparty side has no resting volume")
	flag.BoolVar(&c.Matching.VolumeLimit, "volume-limit", envBool("BACKSIM_VOLUME_LIMIT", true), "cap fills to a participation fraction of reported volume")
	flag.Float64Var(&c.Matching.VolumePercent, "volume-percent", envFloat("BACKSIM_VOLUME_PERCENT", 0.25), "fraction of snapshot volume a symbol's orders may collectively consume")

	flag.StringVar(&c.Log.Path, "log-path", envStr("BACKSIM_LOG_PATH", ""), "log file path (empty = stderr only)")
	flag.StringVar(&c.Log.Level, "log-level", envStr("BACKSIM_LOG_LEVEL", "info"), "log level")
	flag.BoolVar(&c.Log.ConsolePrint, "log-console", envBool("BACKSIM_LOG_CONSOLE", true), "also print log lines to stderr")
	flag.IntVar(&c.Log.KeepHistory, "log-keep-history", envInt("BACKSIM_LOG_KEEP_HISTORY", 7), "rotated log files to retain")

	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/backsim"), "MongoDB connection URI for the StoreProvider")

	flag.IntVar(&c.Port, "port", envInt("BACKSIM_PORT", 8100), "REST/WebSocket server port")
	flag.StringVar(&c.Host, "host", envStr("BACKSIM_HOST", "0.0.0.0"), "Listen host")

	flag.Int64Var(&c.Seed, "seed", envInt64("BACKSIM_SEED", 0), "synthetic datasource PRNG seed (0 = random)")

	flag.StringVar(&c.ArchiveDir, "archive-dir", envStr("BACKSIM_ARCHIVE_DIR", "./archive"), "local directory for gzipped NDJSON trade archives")
	flag.IntVar(&c.ArchiveMaxGB, "archive-max-gb", envInt("BACKSIM_ARCHIVE_MAX_GB", 5), "archive directory size cap in GB before oldest files rotate out")
	flag.IntVar(&c.ArchiveIntervalHours, "archive-interval", envInt("ARCHIVE_INTERVAL_HOURS", 6), "hours between archive runs")
	flag.IntVar(&c.ArchiveAfterHours, "archive-after", envInt("ARCHIVE_AFTER_HOURS", 24), "archive trades older than this many hours")
	flag.IntVar(&c.TradeRetentionDays, "trade-retention", envInt("TRADE_RETENTION_DAYS", 0), "trade log retention in days (0 = keep forever)")

	flag.Parse()

	switch *marketType {
	case "TICK":
		c.Market.Type = model.MarketInfoTick
	default:
		c.Market.Type = model.MarketInfoBar
	}
	c.SnapshotInterval = 30 * time.Second

	return c
}

// SystemTimerInterval converts Timer.Microseconds to a time.Duration.
func (c *Config) SystemTimerInterval() time.Duration {
	return time.Duration(c.Timer.Microseconds) * time.Microsecond
}

// MarketTimerInterval converts Market.Microseconds to a time.Duration.
func (c *Config) MarketTimerInterval() time.Duration {
	return time.Duration(c.Market.Microseconds) * time.Microsecond
}

// FromMap builds a Config from a parsed configuration map (top-level
// sections keyed by name), for embedding or tests that want to construct a
// Config without flag.Parse. Unknown keys are ignored. A missing section is
// left at its zero value; within a present section, the numeric keys and
// volume_limit fall back to defaults when absent, Market type is BAR unless
// it reads "TICK", and the other keys take their zero value.
func FromMap(m map[string]any) (*Config, error) {
	c := &Config{Mods: make(map[string]ModConfig)}

	if market, ok := m["Market"].(map[string]any); ok {
		if t, ok := market["type"].(string); ok && t == "TICK" {
			c.Market.Type = model.MarketInfoTick
		} else {
			c.Market.Type = model.MarketInfoBar
		}
		c.Market.Microseconds = toInt64(market["microseconds"], 100000)
	}
	if timer, ok := m["Timer"].(map[string]any); ok {
		c.Timer.Microseconds = toInt64(timer["microseconds"], 1000000)
	}
	if matching, ok := m["Matching"].(map[string]any); ok {
		c.Matching.UpdownPriceLimit, _ = matching["updown_price_limit"].(bool)
		c.Matching.LiquidityLimit, _ = matching["liquidity_limit"].(bool)
		volumeLimit, hasVolumeLimit := matching["volume_limit"].(bool)
		if hasVolumeLimit {
			c.Matching.VolumeLimit = volumeLimit
		} else {
			c.Matching.VolumeLimit = true
		}
		c.Matching.VolumePercent = toFloat(matching["volume_percent"], 0.25)
	}
	if logSec, ok := m["Log"].(map[string]any); ok {
		c.Log.Path, _ = logSec["path"].(string)
		c.Log.Level, _ = logSec["level"].(string)
		c.Log.ConsolePrint, _ = logSec["console_print"].(bool)
		c.Log.KeepHistory = int(toInt64(logSec["keep_history"], 7))
	}
	for key, v := range m {
		const prefix = "mod."
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		section, ok := v.(map[string]any)
		if !ok {
			return nil, &model.ConfigError{Section: key, Err: fmt.Errorf("expected a map")}
		}
		mc := ModConfig{}
		mc.Enabled, _ = section["enabled"].(bool)
		mc.Lib, _ = section["lib"].(string)
		mc.Priority = int(toInt64(section["priority"], 0))
		c.Mods[key[len(prefix):]] = mc
	}

	c.SnapshotInterval = 30 * time.Second
	return c, nil
}

func toInt64(v any, def int64) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return def
	}
}

func toFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
