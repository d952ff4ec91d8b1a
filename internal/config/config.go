package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Transport kinds accepted by UPLOAD_TRANSPORT
const (
	TransportAPI   = "api"
	TransportMinio = "minio"
)

// Connectivity kinds accepted by CONNECTIVITY_SOURCE
const (
	ConnectivityProbe = "probe"
	ConnectivityNATS  = "nats"
	// ConnectivityNone treats the network as always up
	ConnectivityNone = "none"
)

type Config struct {
	Env          Env
	Server       ServerConfig
	Upload       UploadConfig
	Retry        RetryConfig
	API          APIConfig
	Minio        MinioConfig
	NATS         NATSConfig
	Connectivity ConnectivityConfig
	Database     DatabaseConfig
}

type Env struct {
	Env string `envconfig:"ENV" default:"DEV"`
}

type ServerConfig struct {
	Host string `envconfig:"SERVER_HOST" default:"localhost"`
	Port string `envconfig:"SERVER_PORT" default:"8090"`
}

// UploadConfig drives the queue, the transfers and the session GC
type UploadConfig struct {
	Transport           string        `envconfig:"UPLOAD_TRANSPORT" default:"api"`
	Concurrency         int           `envconfig:"UPLOAD_CONCURRENCY" default:"3"`
	ChunkThreshold      int64         `envconfig:"UPLOAD_CHUNK_THRESHOLD" default:"10485760"` // 10MB
	ChunkSize           int64         `envconfig:"UPLOAD_CHUNK_SIZE" default:"5242880"`       // 5MB
	MinChunkSize        int64         `envconfig:"UPLOAD_MIN_CHUNK_SIZE" default:"5242880"`
	MaxChunkSize        int64         `envconfig:"UPLOAD_MAX_CHUNK_SIZE" default:"104857600"` // 100MB
	MaxConcurrentChunks int           `envconfig:"UPLOAD_MAX_CONCURRENT_CHUNKS" default:"3"`
	AdaptiveChunking    bool          `envconfig:"UPLOAD_ADAPTIVE_CHUNKING" default:"false"`
	TargetChunkDuration time.Duration `envconfig:"UPLOAD_TARGET_CHUNK_DURATION" default:"2s"`
	SpeedWindow         int           `envconfig:"UPLOAD_SPEED_WINDOW" default:"5"`
	AttemptTimeout      time.Duration `envconfig:"UPLOAD_ATTEMPT_TIMEOUT" default:"2m"`
	SessionTTL          time.Duration `envconfig:"UPLOAD_SESSION_TTL" default:"30m"`
	CleanupEvery        time.Duration `envconfig:"UPLOAD_CLEANUP_EVERY" default:"5m"`
}

// RetryConfig configures backoff and the channel-wide circuit breaker
type RetryConfig struct {
	MaxRetries       int           `envconfig:"RETRY_MAX_RETRIES" default:"3"`
	ChunkRetries     int           `envconfig:"RETRY_CHUNK_RETRIES" default:"3"`
	BaseDelay        time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	MaxDelay         time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	Multiplier       float64       `envconfig:"RETRY_MULTIPLIER" default:"2"`
	BreakerThreshold int           `envconfig:"RETRY_BREAKER_THRESHOLD" default:"5"`
	BreakerWindow    time.Duration `envconfig:"RETRY_BREAKER_WINDOW" default:"1m"`
	BreakerCooldown  time.Duration `envconfig:"RETRY_BREAKER_COOLDOWN" default:"30s"`
}

// APIConfig points to the loan-application upload API
type APIConfig struct {
	BaseURL string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
	Token   string        `envconfig:"API_TOKEN"`
	Timeout time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
}

type MinioConfig struct {
	Endpoint   string `envconfig:"MINIO_ENDPOINT"`
	BucketName string `envconfig:"MINIO_BUCKET_NAME" default:"loan-documents"`
	AccessKey  string `envconfig:"MINIO_ACCESS_KEY"`
	SecretKey  string `envconfig:"MINIO_SECRET_KEY"`
	KeyPrefix  string `envconfig:"MINIO_KEY_PREFIX" default:"uploads"`
	UseSSL     bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

type NATSConfig struct {
	URL        string `envconfig:"NATS_URL"`
	Name       string `envconfig:"NATS_CLIENT_NAME" default:"loan-uploader"`
	StreamName string `envconfig:"NATS_STREAM_NAME" default:"UPLOADS"`
	Subject    string `envconfig:"NATS_SUBJECT" default:"uploads.events"`
}

type ConnectivityConfig struct {
	Source       string        `envconfig:"CONNECTIVITY_SOURCE" default:"probe"`
	ProbeURL     string        `envconfig:"CONNECTIVITY_PROBE_URL" default:"http://localhost:8080/health"`
	ProbeEvery   time.Duration `envconfig:"CONNECTIVITY_PROBE_EVERY" default:"5s"`
	ProbeTimeout time.Duration `envconfig:"CONNECTIVITY_PROBE_TIMEOUT" default:"2s"`
}

// DatabaseConfig is optional: without DB_HOST the upload history stays in memory
type DatabaseConfig struct {
	Host           string        `envconfig:"DB_HOST"`
	Port           int           `envconfig:"DB_PORT" default:"5432"`
	User           string        `envconfig:"DB_USER"`
	Password       string        `envconfig:"DB_PASSWORD"`
	Name           string        `envconfig:"DB_NAME"`
	SSLMode        string        `envconfig:"DB_SSLMODE" default:"disable"`
	MaxOpenCons    int           `envconfig:"DB_MAX_OPEN_CONS" default:"10"`
	MaxIdleCons    int           `envconfig:"DB_MAX_IDLE_CONS" default:"2"`
	ConMaxLifeTime time.Duration `envconfig:"DB_CONMAX_LIFE_TIME" default:"5m"`
}

func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
