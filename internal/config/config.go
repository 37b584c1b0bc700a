package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	GRPC       GRPCConfig
	Worker     WorkerConfig
	Sources    SourcesConfig
	Engine     EngineConfig
	Thresholds ThresholdsConfig
	Primary    PrimaryConfig
	DB         DatabaseConfig
	Logging    LoggingConfig
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host           string
	Port           int
	RateLimitRPS   int
	RateLimitBurst int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type SourcesConfig struct {
	PollingEnabled       bool
	CelesTrakURL         string
	Groups               []string
	ElementsTTL          time.Duration
	ElementsPollInterval time.Duration
	SWPCURL              string
	WeatherTTL           time.Duration
	WeatherPollInterval  time.Duration
	HTTPTimeout          time.Duration
}

// EngineConfig holds the local pipeline settings and the observer evaluated
// on every poll.
type EngineConfig struct {
	ElevationMask float64 // degrees
	ElementMaxAge time.Duration
	PlanningStep  time.Duration
	DefaultGroup  string
	Latitude      float64
	Longitude     float64
	Altitude      float64
}

type ThresholdsConfig struct {
	KpAmber           float64
	KpRed             float64
	PDOPAmber         float64
	PDOPRed           float64
	AlertLevel        int
	ElementsFreshness time.Duration
	WeatherFreshness  time.Duration
	StatusTTL         time.Duration
}

type PrimaryConfig struct {
	Enabled          bool
	URL              string
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "localhost"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS:   getEnvInt("RATE_LIMIT_RPS", 5),
			RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 4),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 64),
		},
		Sources: SourcesConfig{
			PollingEnabled:       getEnvBool("POLLING_ENABLED", true),
			CelesTrakURL:         getEnv("CELESTRAK_URL", "https://celestrak.org"),
			Groups:               getEnvList("ELEMENT_GROUPS", []string{"GPS", "GALILEO"}),
			ElementsTTL:          getEnvDuration("ELEMENTS_TTL", 6*time.Hour),
			ElementsPollInterval: getEnvDuration("ELEMENTS_POLL_INTERVAL", 6*time.Hour),
			SWPCURL:              getEnv("SWPC_URL", "https://services.swpc.noaa.gov"),
			WeatherTTL:           getEnvDuration("WEATHER_TTL", 15*time.Minute),
			WeatherPollInterval:  getEnvDuration("WEATHER_POLL_INTERVAL", 15*time.Minute),
			HTTPTimeout:          getEnvDuration("HTTP_TIMEOUT", 15*time.Second),
		},
		Engine: EngineConfig{
			ElevationMask: getEnvFloat("ELEVATION_MASK_DEG", 10),
			ElementMaxAge: getEnvDuration("ELEMENT_MAX_AGE", 14*24*time.Hour),
			PlanningStep:  getEnvDuration("PLANNING_STEP", 10*time.Minute),
			DefaultGroup:  getEnv("DEFAULT_GROUP", "GPS"),
			Latitude:      getEnvFloat("OBSERVER_LAT", 57.15),
			Longitude:     getEnvFloat("OBSERVER_LON", -2.09),
			Altitude:      getEnvFloat("OBSERVER_ALT", 0),
		},
		Thresholds: ThresholdsConfig{
			KpAmber:           getEnvFloat("KP_AMBER", 5),
			KpRed:             getEnvFloat("KP_RED", 7),
			PDOPAmber:         getEnvFloat("PDOP_AMBER", 4),
			PDOPRed:           getEnvFloat("PDOP_RED", 6),
			AlertLevel:        getEnvInt("ALERT_LEVEL", 3),
			ElementsFreshness: getEnvDuration("ELEMENTS_FRESHNESS", 24*time.Hour),
			WeatherFreshness:  getEnvDuration("WEATHER_FRESHNESS", time.Hour),
			StatusTTL:         getEnvDuration("STATUS_TTL", 5*time.Minute),
		},
		Primary: PrimaryConfig{
			Enabled:          getEnvBool("PRIMARY_ENABLED", true),
			URL:              getEnv("PRIMARY_URL", "http://localhost:8000"),
			Timeout:          getEnvDuration("PRIMARY_TIMEOUT", 3*time.Second),
			FailureThreshold: getEnvInt("PRIMARY_FAILURE_THRESHOLD", 3),
			Cooldown:         getEnvDuration("PRIMARY_COOLDOWN", time.Minute),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/gnss-integrity.db"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 1 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.GRPC.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be positive")
	}

	if c.Sources.ElementsPollInterval < time.Minute {
		return fmt.Errorf("elements poll interval must be at least 1 minute")
	}
	if c.Sources.WeatherPollInterval < time.Minute {
		return fmt.Errorf("weather poll interval must be at least 1 minute")
	}
	if len(c.Sources.Groups) == 0 {
		return fmt.Errorf("at least one element group is required")
	}

	if c.Engine.ElevationMask < 0 || c.Engine.ElevationMask >= 90 {
		return fmt.Errorf("invalid elevation mask: %v", c.Engine.ElevationMask)
	}
	if c.Engine.PlanningStep <= 0 {
		return fmt.Errorf("planning step must be positive")
	}
	if c.Engine.Latitude < -90 || c.Engine.Latitude > 90 || c.Engine.Longitude < -180 || c.Engine.Longitude > 180 {
		return fmt.Errorf("invalid default observer: %v,%v", c.Engine.Latitude, c.Engine.Longitude)
	}

	t := c.Thresholds
	if t.KpAmber > t.KpRed {
		return fmt.Errorf("kp amber threshold %v above red %v", t.KpAmber, t.KpRed)
	}
	if t.PDOPAmber > t.PDOPRed {
		return fmt.Errorf("pdop amber threshold %v above red %v", t.PDOPAmber, t.PDOPRed)
	}
	if t.AlertLevel < 1 || t.AlertLevel > 5 {
		return fmt.Errorf("alert level must be 1-5, got %d", t.AlertLevel)
	}

	if c.Primary.Enabled && c.Primary.Timeout <= 0 {
		return fmt.Errorf("primary timeout must be positive")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
