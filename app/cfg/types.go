package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath     string
	ImportsDir string

	// Application configuration
	Port              string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string

	// Outbound fetching
	UserAgent      string
	FetchTimeout   time.Duration
	FetchRateLimit float64
	FetchRateBurst int

	// Downstream sync endpoint
	DownstreamURL     string
	DownstreamAPIKey  string
	DownstreamTimeout time.Duration

	// Preview response cache
	RedisAddr       string
	PreviewCacheTTL time.Duration

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
