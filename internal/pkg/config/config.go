package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration. It is read once at process
// start and treated as immutable for the run.
type Config struct {
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	AdminServerAddr string `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`

	PostgresURL string `env:"POSTGRES_URL,required"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"redis://localhost:6379"`

	// Ingestion scheduling.
	IngestInterval    time.Duration `env:"INGEST_INTERVAL" envDefault:"15m"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"12"`
	AdapterTimeout    time.Duration `env:"ADAPTER_TIMEOUT" envDefault:"45s"`

	// Syndicated feeds, comma-separated URLs.
	FeedURLs []string `env:"FEED_URLS" envSeparator:","`

	// Conflict-event database source.
	ConflictAPIURL    string        `env:"CONFLICT_API_URL" envDefault:"https://api.acleddata.com"`
	ConflictAPIKey    string        `env:"CONFLICT_API_KEY"`
	ConflictAPIEmail  string        `env:"CONFLICT_API_EMAIL"`
	ConflictCountries []string      `env:"CONFLICT_COUNTRIES" envSeparator:","`
	ConflictLookback  time.Duration `env:"CONFLICT_LOOKBACK" envDefault:"72h"`

	// Global-events export source and its admission filter.
	GlobalEventsURL    string        `env:"GLOBAL_EVENTS_URL" envDefault:"http://data.gdeltproject.org/gdeltv2/lastupdate.txt"`
	MinCorroboration   int           `env:"ADMIT_MIN_CORROBORATION" envDefault:"3"`
	ImpactThreshold    float64       `env:"ADMIT_IMPACT_THRESHOLD" envDefault:"-5.0"`
	SentimentThreshold float64       `env:"ADMIT_SENTIMENT_THRESHOLD" envDefault:"-4.0"`
	MaxEventAge        time.Duration `env:"ADMIT_MAX_EVENT_AGE" envDefault:"48h"`
	AllowedEventCodes  []string      `env:"ADMIT_EVENT_CODES" envSeparator:"," envDefault:"18,19,20,145,170,175,180,190,195,200"`

	// Adaptive location batching.
	BatchInitialSize   int           `env:"BATCH_INITIAL_SIZE" envDefault:"25"`
	BatchMaxSize       int           `env:"BATCH_MAX_SIZE" envDefault:"500"`
	BatchMaxAge        time.Duration `env:"BATCH_MAX_AGE" envDefault:"30s"`
	BatchItemMaxAge    time.Duration `env:"BATCH_ITEM_MAX_AGE" envDefault:"10m"`
	BatchLatencyTarget time.Duration `env:"BATCH_LATENCY_TARGET" envDefault:"2s"`

	// Circuit breaker protecting the inference service.
	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerCooldown         time.Duration `env:"BREAKER_COOLDOWN" envDefault:"60s"`
	FlushMaxRetries         int           `env:"FLUSH_MAX_RETRIES" envDefault:"3"`

	// Inference service for ambiguous location extraction.
	InferenceURL     string        `env:"INFERENCE_URL"`
	InferenceAPIKey  string        `env:"INFERENCE_API_KEY"`
	InferenceTimeout time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"20s"`

	// Geocoders.
	FreeGeocoderURL      string  `env:"FREE_GEOCODER_URL" envDefault:"https://nominatim.openstreetmap.org"`
	FreeGeocoderRPS      float64 `env:"FREE_GEOCODER_RPS" envDefault:"1"`
	PaidGeocoderURL      string  `env:"PAID_GEOCODER_URL"`
	PaidGeocoderKey      string  `env:"PAID_GEOCODER_KEY"`
	QASampleRate         float64 `env:"GEOCODE_QA_SAMPLE_RATE" envDefault:"0.01"`
	WeakMethodSampleRate float64 `env:"GEOCODE_WEAK_SAMPLE_RATE" envDefault:"0.10"`

	// Embedding service quota.
	EmbeddingURL           string        `env:"EMBEDDING_URL"`
	EmbeddingAPIKey        string        `env:"EMBEDDING_API_KEY"`
	EmbeddingTimeout       time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"10s"`
	EmbeddingDailyTokens   int64         `env:"EMBEDDING_DAILY_TOKENS" envDefault:"1000000"`
	EmbeddingDailyRequests int64         `env:"EMBEDDING_DAILY_REQUESTS" envDefault:"5000"`

	PlaceCacheTTL time.Duration `env:"PLACE_CACHE_TTL" envDefault:"168h"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
