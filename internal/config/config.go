package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Storage backend selectors.
const (
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	// Service configuration
	ServicePort    string
	ServiceName    string
	ChunkSizeMB    int
	MaxUploadMB    int
	StorageBackend string

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// MySQL configuration
	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Jaeger configuration
	JaegerEndpoint string
}

// LoadConfig loads configuration from the environment (and an optional .env
// file) with sensible defaults.
func LoadConfig() (*Config, error) {
	godotenv.Load()

	config := &Config{
		// Service defaults
		ServicePort:    getEnv("SERVICE_PORT", "8080"),
		ServiceName:    getEnv("SERVICE_NAME", "vidvault-service"),
		ChunkSizeMB:    getEnvAsInt("CHUNK_SIZE_MB", 1),
		MaxUploadMB:    getEnvAsInt("MAX_UPLOAD_MB", 1024),
		StorageBackend: getEnv("STORAGE_BACKEND", BackendMySQL),

		// MinIO defaults
		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "vidvault"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),

		// MySQL defaults
		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLUser:     getEnv("MYSQL_USER", "root"),
		MySQLPassword: getEnv("MYSQL_PASSWORD", ""),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "vidvault"),

		// Redis defaults
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Jaeger defaults
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:4318"),
	}

	if config.StorageBackend != BackendMySQL && config.StorageBackend != BackendMemory {
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", config.StorageBackend)
	}

	return config, nil
}

// GetDSN returns the MySQL connection string.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.MySQLUser,
		c.MySQLPassword,
		c.MySQLHost,
		c.MySQLPort,
		c.MySQLDatabase,
	)
}

// GetRedisAddr returns the Redis address.
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetChunkSizeBytes returns chunk size in bytes.
func (c *Config) GetChunkSizeBytes() int64 {
	return int64(c.ChunkSizeMB) * 1024 * 1024
}

// GetMaxUploadBytes returns the upload request body cap in bytes.
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// Helper functions
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
