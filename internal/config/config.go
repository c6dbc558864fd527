package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full server configuration, loaded from the environment.
type Config struct {
	Server   ServerConfig
	Dicom    DicomConfig
	Jobs     JobsConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	CORS     CORSConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// ServerConfig covers the REST listener.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DicomConfig covers the DICOM listener and SCU behaviour.
type DicomConfig struct {
	AET             string
	Port            int
	CheckCalledAET  bool
	SynchronousMove bool
	AlwaysAllowGet  bool
	ScuTimeout      time.Duration
	CaseSensitivePN bool
	FilterIssuerAet bool
	FindLimit       int
}

// JobsConfig tunes the job engine.
type JobsConfig struct {
	Workers          int
	MaxCompletedJobs int
}

// StorageConfig locates the on-disk storage area.
type StorageConfig struct {
	Directory string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	Type    string
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
}

// Load reads the configuration from the environment. A .env file is
// honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Dicom: DicomConfig{
			AET:             getEnv("DICOM_AET", "GOSTORE"),
			Port:            getEnvInt("DICOM_PORT", 4242),
			CheckCalledAET:  getEnvBool("DICOM_CHECK_CALLED_AET", false),
			SynchronousMove: getEnvBool("DICOM_SYNCHRONOUS_CMOVE", true),
			AlwaysAllowGet:  getEnvBool("DICOM_ALWAYS_ALLOW_GET", false),
			ScuTimeout:      getEnvDuration("DICOM_SCU_TIMEOUT", 10*time.Second),
			CaseSensitivePN: getEnvBool("DICOM_CASE_SENSITIVE_PN", false),
			FilterIssuerAet: getEnvBool("DICOM_FILTER_ISSUER_AET", false),
			FindLimit:       getEnvInt("DICOM_FIND_LIMIT", 0),
		},
		Jobs: JobsConfig{
			Workers:          getEnvInt("JOB_WORKERS", 4),
			MaxCompletedJobs: getEnvInt("MAX_COMPLETED_JOBS", 10),
		},
		Storage: StorageConfig{
			Directory: getEnv("STORAGE_DIRECTORY", "./storage"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "dicom_store"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled: getEnvBool("CACHE_ENABLED", true),
			Type:    getEnv("CACHE_TYPE", "memory"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvList("CORS_ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type"}),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Dicom.Port <= 0 || c.Dicom.Port > 65535 {
		return fmt.Errorf("invalid DICOM port %d", c.Dicom.Port)
	}
	if c.Dicom.AET == "" || len(c.Dicom.AET) > 16 {
		return fmt.Errorf("invalid AE title %q", c.Dicom.AET)
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("job workers must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.MaxCompletedJobs <= 0 {
		return fmt.Errorf("max completed jobs must be positive, got %d", c.Jobs.MaxCompletedJobs)
	}
	if c.Storage.Directory == "" {
		return fmt.Errorf("storage directory must be set")
	}
	if c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		return fmt.Errorf("unknown cache type %q", c.Cache.Type)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return fallback
}
