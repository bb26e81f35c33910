package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/soilwatch/pkg/broker"
	"github.com/joho/godotenv"
)

type Config struct {
	Broker   BrokerConfig
	Database DatabaseConfig
	Influx   InfluxConfig
	HTTP     HTTPConfig
	Ingest   IngestConfig
	Sample   SampleConfig
}

type BrokerConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	ClientID       string
	TelemetryTopic string
	ControlTopic   string
}

// Link returns the connection settings for pkg/broker.
func (b BrokerConfig) Link() *broker.Config {
	return &broker.Config{
		Host:     b.Host,
		Port:     b.Port,
		User:     b.User,
		Password: b.Password,
		ClientID: b.ClientID,
	}
}

type DatabaseConfig struct {
	Driver     string // postgres | sqlite
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether the mirror should be wired.
func (i InfluxConfig) Enabled() bool {
	return strings.TrimSpace(i.URL) != ""
}

type HTTPConfig struct {
	Port           int
	QueryTimeout   time.Duration
	StalenessBound time.Duration
}

func (h HTTPConfig) Addr() string {
	return ":" + strconv.Itoa(h.Port)
}

type IngestConfig struct {
	QueueSize   int
	SnapshotLog int
}

type SampleConfig struct {
	Interval  time.Duration
	AutoStart bool
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Broker: BrokerConfig{
			Host:           getEnv("MQTT_HOST", "localhost"),
			Port:           getEnvAsInt("MQTT_PORT", 1883),
			User:           getEnv("MQTT_USER", ""),
			Password:       getEnv("MQTT_PASSWORD", ""),
			ClientID:       getEnv("MQTT_CLIENT_ID", "soilwatch-backend"),
			TelemetryTopic: getEnv("MQTT_TELEMETRY_TOPIC", "irigasi"),
			ControlTopic:   getEnv("MQTT_CONTROL_TOPIC", "irigasi/kontrol"),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvAsInt("DB_PORT", 5432),
			User:       getEnv("DB_USER", "soilwatch"),
			Password:   getEnv("DB_PASSWORD", "soilwatch"),
			DBName:     getEnv("DB_NAME", "soilwatch"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("SQLITE_PATH", "soilwatch.db"),
		},
		Influx: InfluxConfig{
			URL:    getEnv("INFLUX_URL", ""),
			Token:  getEnv("INFLUX_TOKEN", ""),
			Org:    getEnv("INFLUX_ORG", "soilwatch"),
			Bucket: getEnv("INFLUX_BUCKET", "telemetry"),
		},
		HTTP: HTTPConfig{
			Port:           getEnvAsInt("HTTP_PORT", 5000),
			QueryTimeout:   getEnvAsDuration("QUERY_TIMEOUT", 5*time.Second),
			StalenessBound: getEnvAsDuration("STALENESS_BOUND", 5*time.Minute),
		},
		Ingest: IngestConfig{
			QueueSize:   getEnvAsInt("INGEST_QUEUE_SIZE", 256),
			SnapshotLog: getEnvAsInt("FANOUT_SNAPSHOT_LOGS", 10),
		},
		Sample: SampleConfig{
			Interval:  getEnvAsDuration("SAMPLE_INTERVAL", 30*time.Second),
			AutoStart: getEnvAsBool("SAMPLE_AUTOSTART", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Broker.TelemetryTopic == "" || c.Broker.ControlTopic == "" {
		return fmt.Errorf("config: MQTT topics must not be empty")
	}
	if c.Sample.Interval <= 0 {
		return fmt.Errorf("config: SAMPLE_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
