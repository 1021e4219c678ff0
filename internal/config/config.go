package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Webhook  WebhookConfig
	Delivery DeliveryConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitMQConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
}

// WebhookConfig covers the inbound provider callback surface.
// Secret is optional: when empty, inbound signatures are not verified
// (logged as a warning, not an error).
type WebhookConfig struct {
	Secret string
}

// DeliveryConfig covers outbound delivery: the fan-out dispatcher, the
// delivery worker and the retry scheduler.
type DeliveryConfig struct {
	StatusQueue         string
	DeliveryExchange    string
	DeliveryRoutingKey  string
	DeliveryQueue       string
	PrefetchCount       int
	MaxAttempts         int
	BatchSize           int
	Concurrency         int
	HTTPTimeout         int
	MaxResponseBodySize int
}

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	getInt := func(key string, def int) int {
		val := os.Getenv(key)
		if val == "" {
			return def
		}
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return def
		}
		return n
	}

	// With an explicit broker URL the component vars are informational only
	rabbitURL := os.Getenv("RABBITMQ_URL")
	getBroker := get
	if rabbitURL != "" {
		getBroker = os.Getenv
	}

	config := &Config{
		Server: ServerConfig{
			Port: get("SERVER_PORT"),
			Host: get("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      rabbitURL,
			Host:     getBroker("RABBITMQ_HOST"),
			Port:     getBroker("RABBITMQ_PORT"),
			User:     getBroker("RABBITMQ_USER"),
			Password: getBroker("RABBITMQ_PASSWORD"),
			VHost:    getBroker("RABBITMQ_VHOST"),
		},
		Webhook: WebhookConfig{
			Secret: os.Getenv("WEBHOOK_SECRET"),
		},
		Delivery: DeliveryConfig{
			StatusQueue:         get("STATUS_QUEUE"),
			DeliveryExchange:    get("DELIVERY_EXCHANGE"),
			DeliveryRoutingKey:  get("DELIVERY_ROUTING_KEY"),
			DeliveryQueue:       get("DELIVERY_QUEUE"),
			PrefetchCount:       getInt("PREFETCH_COUNT", 8),
			MaxAttempts:         getInt("DELIVERY_MAX_ATTEMPTS", 5),
			BatchSize:           getInt("RETRY_BATCH_SIZE", 50),
			Concurrency:         getInt("RETRY_CONCURRENCY", 4),
			HTTPTimeout:         getInt("DELIVERY_HTTP_TIMEOUT_SECONDS", 10),
			MaxResponseBodySize: getInt("DELIVERY_MAX_RESPONSE_BODY_BYTES", 2048),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}
