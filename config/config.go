package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Redis     RedisConfig
	S3        S3Config
	Import    ImportConfig
	Pricing   PricingConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port        string
	GinMode     string
	Environment string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// RedisConfig is optional. An empty Host disables token revocation.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	BaseURL         string // CloudFront or S3 direct URL
	PresignExpiry   time.Duration
}

// ImportConfig controls the roster import queue and the upload boundary.
type ImportConfig struct {
	JobRetention      time.Duration
	MaxJobs           int
	ContentGraceDelay time.Duration
	MaxUploadBytes    int64
	AllowedExtensions []string
}

// PricingConfig holds the policy constants used by the pricing engine and the
// file validator.
type PricingConfig struct {
	ValuationMultiplier float64
	MinFloorArea        float64
	MaxFloorArea        float64
	DefaultCoverageType string
	DefaultDuration     int // months
}

type SchedulerConfig struct {
	JobPruneSpec       string
	PolicyRenewalSpec  string
	AuditRetentionSpec string
	AuditRetentionDays int // 0 keeps the audit log forever
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			GinMode:     getEnv("GIN_MODE", "debug"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "1234"),
			DBName:   getEnv("DB_NAME", "storecover"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key"),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseSlice(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt(getEnv("REDIS_DB", "0"), 0),
		},
		S3: S3Config{
			Region:          getEnv("AWS_REGION", "eu-south-1"),
			Bucket:          getEnv("AWS_S3_BUCKET", "storecover-certificates"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			BaseURL:         getEnv("AWS_S3_BASE_URL", ""),
			PresignExpiry:   parseDuration(getEnv("AWS_S3_PRESIGN_EXPIRY", "15m"), 15*time.Minute),
		},
		Import: ImportConfig{
			JobRetention:      parseDuration(getEnv("IMPORT_JOB_RETENTION", "24h"), 24*time.Hour),
			MaxJobs:           parseInt(getEnv("IMPORT_MAX_JOBS", "100"), 100),
			ContentGraceDelay: parseDuration(getEnv("IMPORT_CONTENT_GRACE_DELAY", "5s"), 5*time.Second),
			MaxUploadBytes:    int64(parseInt(getEnv("IMPORT_MAX_UPLOAD_BYTES", "10485760"), 10<<20)),
			AllowedExtensions: parseSlice(getEnv("IMPORT_ALLOWED_EXTENSIONS", ".csv,.xls,.xlsx")),
		},
		Pricing: PricingConfig{
			ValuationMultiplier: parseFloat(getEnv("PRICING_VALUATION_MULTIPLIER", "1000"), 1000),
			MinFloorArea:        parseFloat(getEnv("PRICING_MIN_FLOOR_AREA", "10"), 10),
			MaxFloorArea:        parseFloat(getEnv("PRICING_MAX_FLOOR_AREA", "10000"), 10000),
			DefaultCoverageType: getEnv("PRICING_DEFAULT_COVERAGE", "combined"),
			DefaultDuration:     parseInt(getEnv("POLICY_DEFAULT_DURATION_MONTHS", "12"), 12),
		},
		Scheduler: SchedulerConfig{
			JobPruneSpec:       getEnv("SCHEDULER_JOB_PRUNE", "@every 1h"),
			PolicyRenewalSpec:  getEnv("SCHEDULER_POLICY_RENEWAL", "0 1 * * *"),
			AuditRetentionSpec: getEnv("SCHEDULER_AUDIT_RETENTION", "0 3 * * *"),
			AuditRetentionDays: parseInt(getEnv("AUDIT_RETENTION_DAYS", "0"), 0),
		},
	}

	return config, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Addr returns host:port, or "" when Redis is not configured.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	duration, err := time.ParseDuration(s)
	if err != nil {
		log.Printf("Invalid duration %s, using default %s", s, fallback)
		return fallback
	}
	return duration
}

func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		log.Printf("Invalid integer %s, using default %d", s, fallback)
		return fallback
	}
	return v
}

func parseFloat(s string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		log.Printf("Invalid number %s, using default %g", s, fallback)
		return fallback
	}
	return v
}

func parseSlice(s string) []string {
	if s == "" {
		return []string{}
	}
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
