package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/auth"
	"github.com/dennisdiepolder/echo/backend/internal/events"
	"github.com/dennisdiepolder/echo/backend/internal/storage"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	// embedded zone database for TREND_TIMEZONE in minimal images
	_ "time/tzdata"
)

// Config holds all configuration for the application
type Config struct {
	Port             string
	AllowedOrigins   []string
	LogLevel         string
	LogFormat        string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ConfigFile       string

	Store     storage.Config
	Kafka     events.Config
	Auth      auth.Config
	Analytics AnalyticsConfig
}

// AnalyticsConfig tunes the leaderboard and trend reads
type AnalyticsConfig struct {
	TrendTimezone    string
	TrendLocation    *time.Location
	TrendWindowDays  int
	LeaderboardLimit int
}

// fileConfig is the optional YAML overlay; unset fields keep env values
type fileConfig struct {
	Analytics struct {
		TrendTimezone    string `yaml:"trend_timezone"`
		TrendWindowDays  *int   `yaml:"trend_window_days"`
		LeaderboardLimit *int   `yaml:"leaderboard_limit"`
	} `yaml:"analytics"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		Enabled *bool    `yaml:"enabled"`
	} `yaml:"kafka"`
}

// Load loads configuration from environment variables and the optional
// YAML file named by CONFIG_FILE
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		ConfigFile:     os.Getenv("CONFIG_FILE"),
		Store: storage.Config{
			Driver:     storage.Driver(getEnv("STORE_DRIVER", string(storage.DriverMemory))),
			SQLitePath: getEnv("SQLITE_PATH", "data/ledger.db"),
			Dynamo: storage.DynamoConfig{
				Mode:           storage.DynamoMode(getEnv("DYNAMO_MODE", string(storage.DynamoModeLocal))),
				Endpoint:       getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
				Region:         getEnv("DYNAMO_REGION", "eu-central-1"),
				UsersTable:     getEnv("DYNAMO_USERS_TABLE", "echo-users"),
				AnsweredTable:  getEnv("DYNAMO_ANSWERED_TABLE", "echo-answered-calls"),
				AbandonedTable: getEnv("DYNAMO_ABANDONED_TABLE", "echo-abandoned-calls"),
			},
			Mongo: storage.MongoConfig{
				URI:      os.Getenv("MONGODB_URI"),
				Database: getEnv("MONGODB_DATABASE", "echo"),
			},
		},
		Kafka: events.Config{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_TOPIC", "echo.ledger.events"),
		},
		Auth: auth.Config{
			SkipAuth:        os.Getenv("SKIP_AUTH") == "true",
			VerifySignature: os.Getenv("VERIFY_JWT_SIGNATURE") == "true",
			IssuerURL:       os.Getenv("OIDC_ISSUER"),
		},
		Analytics: AnalyticsConfig{
			TrendTimezone: getEnv("TREND_TIMEZONE", "UTC"),
		},
	}

	// In production, verify signature by default
	if env := os.Getenv("ENV"); env != "development" && env != "" {
		config.Auth.VerifySignature = true
	}

	var err error
	if config.Kafka.Enabled, err = parseBool("KAFKA_ENABLED", "false"); err != nil {
		return nil, err
	}
	if config.HTTPReadTimeout, err = parseSeconds("HTTP_READ_TIMEOUT", "15"); err != nil {
		return nil, err
	}
	if config.HTTPWriteTimeout, err = parseSeconds("HTTP_WRITE_TIMEOUT", "15"); err != nil {
		return nil, err
	}
	if config.Analytics.TrendWindowDays, err = parsePositiveInt("TREND_WINDOW_DAYS", "7"); err != nil {
		return nil, err
	}
	if config.Analytics.LeaderboardLimit, err = parsePositiveInt("LEADERBOARD_LIMIT", "5"); err != nil {
		return nil, err
	}

	if config.ConfigFile != "" {
		if err := config.applyFile(config.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Analytics.TrendTimezone != "" {
		c.Analytics.TrendTimezone = fc.Analytics.TrendTimezone
	}
	if fc.Analytics.TrendWindowDays != nil {
		c.Analytics.TrendWindowDays = *fc.Analytics.TrendWindowDays
	}
	if fc.Analytics.LeaderboardLimit != nil {
		c.Analytics.LeaderboardLimit = *fc.Analytics.LeaderboardLimit
	}
	if len(fc.Kafka.Brokers) > 0 {
		c.Kafka.Brokers = fc.Kafka.Brokers
	}
	if fc.Kafka.Topic != "" {
		c.Kafka.Topic = fc.Kafka.Topic
	}
	if fc.Kafka.Enabled != nil {
		c.Kafka.Enabled = *fc.Kafka.Enabled
	}
	return nil
}

func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.Analytics.TrendTimezone)
	if err != nil {
		return fmt.Errorf("invalid TREND_TIMEZONE %q: %w", c.Analytics.TrendTimezone, err)
	}
	c.Analytics.TrendLocation = loc

	if c.Analytics.TrendWindowDays <= 0 {
		return errors.New("trend window days must be positive")
	}
	if c.Analytics.LeaderboardLimit <= 0 {
		return errors.New("leaderboard limit must be positive")
	}

	switch c.Store.Driver {
	case storage.DriverMemory, storage.DriverSQLite, storage.DriverDynamoDB:
	case storage.DriverMongo:
		if c.Store.Mongo.URI == "" {
			return errors.New("MONGODB_URI is required when STORE_DRIVER=mongo")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.Store.Driver)
	}

	if c.Store.Dynamo.Mode != storage.DynamoModeLocal && c.Store.Dynamo.Mode != storage.DynamoModeAWS {
		return fmt.Errorf("invalid DYNAMO_MODE %q", c.Store.Dynamo.Mode)
	}
	return nil
}

func parseSeconds(key, def string) (time.Duration, error) {
	n, err := strconv.Atoi(getEnv(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(key, def string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func parseBool(key, def string) (bool, error) {
	b, err := strconv.ParseBool(getEnv(key, def))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// splitList splits a comma-separated value, trimming spaces and dropping empties
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
