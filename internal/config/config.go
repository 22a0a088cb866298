package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	TransportInProcess = "inproc"
	TransportKafka     = "kafka"
	TransportRabbitMQ  = "rabbitmq"
	TransportSocket    = "socket"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Index     IndexConfig     `mapstructure:"index"`
	Transport TransportConfig `mapstructure:"transport"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Socket    SocketConfig    `mapstructure:"socket"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Search    SearchConfig    `mapstructure:"search"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	NodeID          string        `mapstructure:"node_id"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type IndexConfig struct {
	Path string `mapstructure:"path"`
}

type TransportConfig struct {
	Mode   string       `mapstructure:"mode"`
	Topic  string       `mapstructure:"topic"`
	Outbox OutboxConfig `mapstructure:"outbox"`
}

type OutboxConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	GroupID  string   `mapstructure:"group_id"`
	ClientID string   `mapstructure:"client_id"`
	TLS      bool     `mapstructure:"tls"`
}

type RabbitMQConfig struct {
	URL           string `mapstructure:"url"`
	Exchange      string `mapstructure:"exchange"`
	Queue         string `mapstructure:"queue"`
	PrefetchCount int    `mapstructure:"prefetch_count"`
	Workers       int    `mapstructure:"workers"`
}

type SocketConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Network   string `mapstructure:"network"`
	Address   string `mapstructure:"address"`
	AuthToken string `mapstructure:"auth_token"`
}

type SyncConfig struct {
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff  time.Duration `mapstructure:"max_retry_backoff"`
	ReindexBatchSize int           `mapstructure:"reindex_batch_size"`
}

type SearchConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("searchsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.node_id", "searchsync-0")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("store.path", "data/records.db")
	v.SetDefault("index.path", "data/records.bleve")
	v.SetDefault("transport.mode", TransportInProcess)
	v.SetDefault("transport.topic", "record-events")
	v.SetDefault("transport.outbox.enabled", false)
	v.SetDefault("transport.outbox.poll_interval", 500*time.Millisecond)
	v.SetDefault("transport.outbox.batch_size", 100)
	v.SetDefault("transport.outbox.max_backoff", time.Minute)
	v.SetDefault("kafka.group_id", "searchsync")
	v.SetDefault("kafka.client_id", "searchsync")
	v.SetDefault("rabbitmq.exchange", "record-events")
	v.SetDefault("rabbitmq.queue", "searchsync.records")
	v.SetDefault("rabbitmq.prefetch_count", 32)
	v.SetDefault("rabbitmq.workers", 4)
	v.SetDefault("socket.network", "tcp")
	v.SetDefault("socket.address", "127.0.0.1:7420")
	v.SetDefault("sync.operation_timeout", 5*time.Second)
	v.SetDefault("sync.retry_backoff", 200*time.Millisecond)
	v.SetDefault("sync.max_retry_backoff", 10*time.Second)
	v.SetDefault("sync.reindex_batch_size", 500)
	v.SetDefault("search.default_page_size", 10)
	v.SetDefault("search.max_page_size", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Transport.Topic == "" {
		return fmt.Errorf("transport.topic is required")
	}
	switch c.Transport.Mode {
	case TransportInProcess:
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required for transport.mode=kafka")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("kafka.group_id is required for transport.mode=kafka")
		}
	case TransportRabbitMQ:
		if c.RabbitMQ.URL == "" || c.RabbitMQ.Exchange == "" || c.RabbitMQ.Queue == "" {
			return fmt.Errorf("rabbitmq.url, rabbitmq.exchange and rabbitmq.queue are required for transport.mode=rabbitmq")
		}
		if c.RabbitMQ.PrefetchCount < 1 || c.RabbitMQ.Workers < 1 {
			return fmt.Errorf("rabbitmq.prefetch_count and rabbitmq.workers must be >= 1")
		}
	case TransportSocket:
		if c.Socket.Address == "" {
			return fmt.Errorf("socket.address is required for transport.mode=socket")
		}
	default:
		return fmt.Errorf("unsupported transport.mode %q", c.Transport.Mode)
	}
	if c.Sync.OperationTimeout <= 0 {
		return fmt.Errorf("sync.operation_timeout must be positive")
	}
	if c.Transport.Outbox.Enabled && (c.Transport.Outbox.PollInterval <= 0 || c.Transport.Outbox.BatchSize <= 0) {
		return fmt.Errorf("transport.outbox.poll_interval and batch_size must be positive")
	}
	if c.Search.DefaultPageSize < 1 || c.Search.MaxPageSize < c.Search.DefaultPageSize {
		return fmt.Errorf("search page sizes invalid: default=%d max=%d", c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}
	return nil
}
