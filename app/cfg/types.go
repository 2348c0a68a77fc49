package cfg

type Cfg struct {
	// Storage configuration
	DBPath    string
	RedisAddr string

	// HTTP configuration
	Port           string
	APIAccessKey   string
	MaxConnections int

	// Ingestion configuration
	SourcesDir        string
	WorkerCount       int
	SchedulerInterval int
	FetchConcurrency  int
	FetchTimeout      int
	FetchRateLimit    float64

	// Backoff configuration
	BackoffBase       int
	BackoffMultiplier float64
	BackoffCeiling    int
	FailureThreshold  int

	// Streaming configuration
	HeartbeatInterval int

	// Application metadata
	UserAgent string
	Debug     bool
	Version   string
}
