package rabbitmq

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Config struct {
	URL           string
	Endpoints     []string
	Exchange      string
	Queue         string
	RoutingKeys   []string
	ConsumerTag   string
	PrefetchCount int
	Workers       int
	WorkerQueue   int
	RetryDelay    time.Duration
	TLS           TLSConfig
	Auth          AuthConfig
}

type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

type AuthConfig struct {
	Username string
	Password string
}

func (c *Config) withDefaults() {
	if c.ConsumerTag == "" {
		c.ConsumerTag = "searchsync-rabbitmq"
	}
	if c.PrefetchCount < 1 {
		c.PrefetchCount = 32
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.WorkerQueue < 1 {
		c.WorkerQueue = c.PrefetchCount
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if len(c.RoutingKeys) == 0 {
		c.RoutingKeys = []string{routingKeyPrefix + "*"}
	}
}

func (c Config) Validate() error {
	if c.Exchange == "" {
		return fmt.Errorf("rabbitmq exchange is required")
	}
	if c.endpoint() == "" {
		return fmt.Errorf("rabbitmq url or endpoints is required")
	}
	return nil
}

func (c Config) validateConsumer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Queue == "" {
		return fmt.Errorf("rabbitmq queue is required")
	}
	return nil
}

func (c Config) endpoint() string {
	if strings.TrimSpace(c.URL) != "" {
		return strings.TrimSpace(c.URL)
	}
	for _, e := range c.Endpoints {
		if strings.TrimSpace(e) != "" {
			return strings.TrimSpace(e)
		}
	}
	return ""
}

// dial opens a connection and channel and declares the durable topic exchange.
func (c Config) dial() (*amqp091.Connection, *amqp091.Channel, error) {
	dialCfg := amqp091.Config{}
	if c.Auth.Username != "" {
		dialCfg.SASL = []amqp091.Authentication{&amqp091.PlainAuth{Username: c.Auth.Username, Password: c.Auth.Password}}
	}
	tlsCfg, err := c.buildTLSConfig()
	if err != nil {
		return nil, nil, err
	}
	dialCfg.TLSClientConfig = tlsCfg
	conn, err := amqp091.DialConfig(c.endpoint(), dialCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}

func (c Config) buildTLSConfig() (*tls.Config, error) {
	if !c.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLS.InsecureSkipVerify, ServerName: c.TLS.ServerName}
	if c.TLS.CAFile != "" {
		pemBytes, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read rabbitmq ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("parse rabbitmq ca_file")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLS.CertFile != "" || c.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load rabbitmq cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
