package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	API      APIConfig      `yaml:"api"`
	Media    MediaConfig    `yaml:"media"`
	Blob     BlobConfig     `yaml:"blob"`
	Lock     LockConfig     `yaml:"lock"`
	Sync     SyncConfig     `yaml:"sync"`
	Queue    QueueConfig    `yaml:"queue"`
	LogLevel string         `yaml:"log_level"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

// MediaConfig controls reference extraction and the download fan-out.
type MediaConfig struct {
	RemoteHosts    []string      `yaml:"remote_hosts"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBytes       int64         `yaml:"max_bytes"`
}

type BlobConfig struct {
	Backend       string `yaml:"backend"` // s3 or fs
	Bucket        string `yaml:"bucket"`
	KeyPrefix     string `yaml:"key_prefix"`
	Endpoint      string `yaml:"endpoint"` // optional, for minio
	Region        string `yaml:"region"`
	PublicBaseURL string `yaml:"public_base_url"`
	Dir           string `yaml:"dir"` // fs backend only
}

type LockConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// APIConfig points at the origin pressroom API.
type APIConfig struct {
	BaseURL  string        `yaml:"base_url"`
	PageSize int           `yaml:"page_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SyncConfig struct {
	Sources     []string      `yaml:"sources"`
	Interval    time.Duration `yaml:"interval"`
	MaxArticles int           `yaml:"max_articles"`
}

type QueueConfig struct {
	Name            string        `yaml:"name"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxTasksPerTick int           `yaml:"max_tasks_per_tick"`
	MaxRetries      int           `yaml:"max_retries"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if cfg.Blob.Backend == "s3" && cfg.Blob.Bucket == "" {
		return nil, fmt.Errorf("blob.bucket is required for the s3 backend")
	}
	if cfg.Blob.PublicBaseURL == "" {
		return nil, fmt.Errorf("blob.public_base_url is required")
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "press_sync"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "content"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "content_events"
	}
	if c.Media.MaxConcurrency == 0 {
		c.Media.MaxConcurrency = 4
	}
	if c.Media.Timeout == 0 {
		c.Media.Timeout = 15 * time.Second
	}
	if c.Media.MaxBytes == 0 {
		c.Media.MaxBytes = 20 << 20
	}
	if c.Blob.Backend == "" {
		c.Blob.Backend = "s3"
	}
	if c.Blob.Region == "" {
		c.Blob.Region = "us-east-1"
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = 10 * time.Minute
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 15 * time.Minute
	}
	if c.API.PageSize == 0 {
		c.API.PageSize = 50
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 30 * time.Second
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "sync"
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 30 * time.Second
	}
	if c.Queue.MaxTasksPerTick == 0 {
		c.Queue.MaxTasksPerTick = 10
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Queue.InitialBackoff == 0 {
		c.Queue.InitialBackoff = 1 * time.Minute
	}
	if c.Queue.MaxBackoff == 0 {
		c.Queue.MaxBackoff = 30 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
