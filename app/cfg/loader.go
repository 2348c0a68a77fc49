package cfg

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath    string `long:"db-path" env:"DB_PATH" default:"./feedloop.db" description:"Path to the SQLite database file"`
	RedisAddr string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address used for event fan-out"`

	// HTTP configuration
	Port           string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey   string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	MaxConnections int    `long:"max-connections" env:"MAX_CONNECTIONS" default:"256" description:"Maximum number of concurrent streaming connections"`

	// Ingestion configuration
	SourcesDir        string  `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source seed files"`
	WorkerCount       int     `long:"worker-count" env:"WORKER_COUNT" default:"0" description:"Number of parse workers (0 = derive from CPU count)"`
	SchedulerInterval int     `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"30" description:"Scheduler poll interval in seconds"`
	FetchConcurrency  int     `long:"fetch-concurrency" env:"FETCH_CONCURRENCY" default:"3" description:"Maximum number of concurrent source fetches"`
	FetchTimeout      int     `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Timeout for a single fetch in seconds"`
	FetchRateLimit    float64 `long:"fetch-rate-limit" env:"FETCH_RATE_LIMIT" default:"5" description:"Global outbound fetch rate limit in requests per second"`

	// Backoff configuration
	BackoffBase       int     `long:"backoff-base" env:"BACKOFF_BASE" default:"300" description:"Baseline retry interval for failing sources in seconds"`
	BackoffMultiplier float64 `long:"backoff-multiplier" env:"BACKOFF_MULTIPLIER" default:"2" description:"Multiplier applied to the retry interval on consecutive failures"`
	BackoffCeiling    int     `long:"backoff-ceiling" env:"BACKOFF_CEILING" default:"21600" description:"Upper bound on the retry interval in seconds"`
	FailureThreshold  int     `long:"failure-threshold" env:"FAILURE_THRESHOLD" default:"10" description:"Consecutive failures after which a source is polled at the ceiling interval"`

	// Streaming configuration
	HeartbeatInterval int `long:"heartbeat-interval" env:"HEARTBEAT_INTERVAL" default:"30" description:"Streaming heartbeat interval in seconds"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"feedloop/1.0" description:"User agent string for HTTP requests"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		RedisAddr:         raw.RedisAddr,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		MaxConnections:    raw.MaxConnections,
		SourcesDir:        raw.SourcesDir,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		FetchConcurrency:  raw.FetchConcurrency,
		FetchTimeout:      raw.FetchTimeout,
		FetchRateLimit:    raw.FetchRateLimit,
		BackoffBase:       raw.BackoffBase,
		BackoffMultiplier: raw.BackoffMultiplier,
		BackoffCeiling:    raw.BackoffCeiling,
		FailureThreshold:  raw.FailureThreshold,
		HeartbeatInterval: raw.HeartbeatInterval,
		UserAgent:         raw.UserAgent,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}
