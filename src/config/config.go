package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"lob-engine/src/engine"
)

type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Service   ServiceConfig
	Engine    EngineConfig
	OrderBook OrderBookConfig
	Journal   JournalConfig
	Kafka     KafkaConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level           string
	Format          string // "json" or "pretty"
	File            string // empty = stdout only
	RequestsEnabled bool
}

type RateLimitConfig struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
}

type ServiceConfig struct {
	MaintenanceMode       bool
	MaxConcurrentRequests int // 0 = unlimited
	MaxLatencySamples     int
}

type EngineConfig struct {
	Markets     []engine.Instrument
	QueueSize   int
	TradeBuffer int
}

type OrderBookConfig struct {
	DefaultDepth int
	MaxDepth     int
}

type JournalConfig struct {
	Path string // empty = disabled
}

func (j JournalConfig) Enabled() bool { return j.Path != "" }

type KafkaConfig struct {
	Brokers []string // empty = disabled
	Topic   string
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Load reads configuration from the environment, after loading a .env file
// if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	markets, err := parseMarkets(getEnvString("MARKETS", "BTC_USD,ETH_USD"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvString("PORT", "8080"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:           getEnvString("LOG_LEVEL", "info"),
			Format:          getEnvString("LOG_FORMAT", "json"),
			File:            getEnvString("LOG_FILE", ""),
			RequestsEnabled: !getEnvBool("REQUEST_LOGGING_DISABLED", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:     !getEnvBool("RATE_LIMIT_DISABLED", false),
			MaxRequests: getEnvInt("RATE_LIMIT_MAX", 100),
			Window:      getEnvDuration("RATE_LIMIT_WINDOW", time.Second),
		},
		Service: ServiceConfig{
			MaintenanceMode:       getEnvBool("MAINTENANCE_MODE", false),
			MaxConcurrentRequests: getEnvInt("MAX_CONCURRENT_REQUESTS", 0),
			MaxLatencySamples:     getEnvInt("METRICS_MAX_LATENCIES", 10000),
		},
		Engine: EngineConfig{
			Markets:     markets,
			QueueSize:   getEnvInt("MARKET_QUEUE_SIZE", 1024),
			TradeBuffer: getEnvInt("TRADE_BUFFER_SIZE", 4096),
		},
		OrderBook: OrderBookConfig{
			DefaultDepth: getEnvInt("ORDERBOOK_DEFAULT_DEPTH", 10),
			MaxDepth:     getEnvInt("ORDERBOOK_MAX_DEPTH", 1000),
		},
		Journal: JournalConfig{
			Path: getEnvString("JOURNAL_PATH", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnvString("KAFKA_BROKERS", "")),
			Topic:   getEnvString("KAFKA_TOPIC", "trades"),
		},
	}
	return cfg, nil
}

func parseMarkets(raw string) ([]engine.Instrument, error) {
	var out []engine.Instrument
	for _, item := range splitList(raw) {
		inst, err := engine.ParseInstrument(item)
		if err != nil {
			return nil, fmt.Errorf("MARKETS: %w", err)
		}
		out = append(out, inst)
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes":
			return true
		case "0", "false", "no":
			return false
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %s", c.Server.ShutdownTimeout)
	}
	if c.RateLimit.Enabled && (c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("invalid rate limit: %d per %s", c.RateLimit.MaxRequests, c.RateLimit.Window)
	}
	if c.Service.MaxConcurrentRequests < 0 {
		return fmt.Errorf("invalid MAX_CONCURRENT_REQUESTS: %d", c.Service.MaxConcurrentRequests)
	}
	if c.Service.MaxLatencySamples <= 0 {
		return fmt.Errorf("invalid METRICS_MAX_LATENCIES: %d", c.Service.MaxLatencySamples)
	}
	if c.Engine.QueueSize <= 0 || c.Engine.TradeBuffer <= 0 {
		return fmt.Errorf("invalid engine buffers: queue %d, trades %d", c.Engine.QueueSize, c.Engine.TradeBuffer)
	}
	if c.OrderBook.DefaultDepth <= 0 || c.OrderBook.MaxDepth < c.OrderBook.DefaultDepth {
		return fmt.Errorf("invalid order book depth: default %d, max %d", c.OrderBook.DefaultDepth, c.OrderBook.MaxDepth)
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC required when KAFKA_BROKERS is set")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Server{Port:%s}, Markets:%d, RateLimit{Enabled:%v, %d/%s}, Journal{Enabled:%v}, Kafka{Enabled:%v, Topic:%s}",
		c.Server.Port, len(c.Engine.Markets),
		c.RateLimit.Enabled, c.RateLimit.MaxRequests, c.RateLimit.Window,
		c.Journal.Enabled(), c.Kafka.Enabled(), c.Kafka.Topic,
	)
}
