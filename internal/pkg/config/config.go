package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Broker selection: "embedded" keeps the durable stream inside the
	// pipeline process, "redis" shares it via Redis Streams.
	BrokerBackend string `env:"BROKER_BACKEND" envDefault:"embedded"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"redis://localhost:6379"`

	// Embedded stream store.
	DataDir        string `env:"DATA_DIR" envDefault:"./data"`
	MaxSegmentSize int64  `env:"STREAM_SEGMENT_SIZE_BYTES" envDefault:"67108864"` // 64MB

	// Stream topology.
	StreamName    string `env:"STREAM_NAME" envDefault:"transactions"`
	ConsumerGroup string `env:"CONSUMER_GROUP" envDefault:"fraud-scorers"`

	// Publisher.
	PublishRate float64 `env:"PUBLISH_RATE_PER_SEC" envDefault:"100"`
	BatchSize   int     `env:"BATCH_SIZE" envDefault:"50"`
	FraudRatio  float64 `env:"FRAUD_RATIO" envDefault:"0.05"`
	GenSeed     int64   `env:"GENERATOR_SEED" envDefault:"42"`

	// Consumer.
	ReadBatchSize  int           `env:"READ_BATCH_SIZE" envDefault:"100"`
	ReadBlock      time.Duration `env:"READ_BLOCK_TIMEOUT" envDefault:"2s"`
	SinkRetryCount int           `env:"SINK_RETRY_COUNT" envDefault:"3"`
	SinkRetryDelay time.Duration `env:"SINK_RETRY_BACKOFF" envDefault:"1s"`
	ProcessorCount int           `env:"PROCESSOR_COUNT" envDefault:"2"`

	// Analytics sink.
	PostgresURL string `env:"POSTGRES_URL,required"`

	// Ops HTTP server (admin API + Prometheus metrics).
	OpsServerAddr string `env:"OPS_SERVER_ADDR" envDefault:":9091"`
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
