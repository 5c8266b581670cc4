package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath     string `long:"db-path" env:"DB_PATH" default:"./data/imports.db" description:"Path to the SQLite database file"`
	ImportsDir string `long:"imports-dir" env:"IMPORTS_DIR" default:"./imports" description:"Directory containing import definition files"`

	// Application configuration
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers running imports"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"30" description:"Scheduler interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Outbound fetching
	UserAgent      string  `long:"user-agent" env:"USER_AGENT" default:"API Comb/1.0" description:"User agent string for HTTP requests"`
	FetchTimeout   int     `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Default third-party API timeout in seconds"`
	FetchRateLimit float64 `long:"fetch-rate-limit" env:"FETCH_RATE_LIMIT" default:"5" description:"Outbound requests per second across all imports"`
	FetchRateBurst int     `long:"fetch-rate-burst" env:"FETCH_RATE_BURST" default:"5" description:"Outbound request burst size"`

	// Downstream sync endpoint
	DownstreamURL     string `long:"downstream-url" env:"DOWNSTREAM_URL" description:"Base URL of the downstream sync endpoint (required)"`
	DownstreamAPIKey  string `long:"downstream-api-key" env:"DOWNSTREAM_API_KEY" description:"Bearer key for the downstream sync endpoint"`
	DownstreamTimeout int    `long:"downstream-timeout" env:"DOWNSTREAM_TIMEOUT" default:"60" description:"Downstream sync timeout in seconds"`

	// Preview response cache
	RedisAddr       string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for caching test and preview responses (optional)"`
	PreviewCacheTTL int    `long:"preview-cache-ttl" env:"PREVIEW_CACHE_TTL" default:"60" description:"Preview response cache TTL in seconds"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for schedules and timestamps (e.g., UTC, America/New_York)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs parses the given command-line arguments on top of the
// environment. It returns nil, nil when help was requested.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validate(&raw); err != nil {
		return nil, err
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		ImportsDir:        raw.ImportsDir,
		Port:              raw.Port,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		APIAccessKey:      raw.APIAccessKey,
		UserAgent:         raw.UserAgent,
		FetchTimeout:      time.Duration(raw.FetchTimeout) * time.Second,
		FetchRateLimit:    raw.FetchRateLimit,
		FetchRateBurst:    raw.FetchRateBurst,
		DownstreamURL:     raw.DownstreamURL,
		DownstreamAPIKey:  raw.DownstreamAPIKey,
		DownstreamTimeout: time.Duration(raw.DownstreamTimeout) * time.Second,
		RedisAddr:         raw.RedisAddr,
		PreviewCacheTTL:   time.Duration(raw.PreviewCacheTTL) * time.Second,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func validate(raw *rawCfg) error {
	if raw.DownstreamURL == "" {
		return errors.New("downstream URL is required (set DOWNSTREAM_URL)")
	}
	if raw.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", raw.WorkerCount)
	}
	if raw.SchedulerInterval < 1 {
		return fmt.Errorf("scheduler interval must be at least 1 second, got %d", raw.SchedulerInterval)
	}
	if raw.PreviewCacheTTL < 0 {
		return fmt.Errorf("preview cache TTL must be non-negative, got %d", raw.PreviewCacheTTL)
	}
	if raw.FetchRateBurst < 1 {
		return fmt.Errorf("fetch rate burst must be at least 1, got %d", raw.FetchRateBurst)
	}
	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
