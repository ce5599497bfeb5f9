package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database (lakehouse tables)
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	TaskCacheTTL  time.Duration

	// Kafka
	KafkaBrokers      []string
	KafkaGroupID      string
	StageEventsTopic  string
	TriggerTopic      string
	KafkaEventsEnable bool

	// Object store
	ObjectStoreMode    string // s3 | gcs
	ObjectEndpoint     string
	ObjectRegion       string
	ObjectAccessKey    string
	ObjectSecretKey    string
	ObjectUsePathStyle bool
	RawBucket          string

	// Normalizer
	VersionPolicy string

	// App sync
	SyncEnabled     bool
	SyncStoreMode   string // rest | sql
	SyncBatchSize   int
	SyncWorkers     int
	SyncCallTimeout time.Duration
	SyncTable       string
	AppRESTURL      string
	AppServiceKey   string
	AppDatabaseDSN  string

	// Scheduling
	ScheduleInterval time.Duration

	// Optional YAML overlay
	PipelineFile string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8090"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "lakehouse"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "lakehouse"),
		PostgresDB:       getEnv("POSTGRES_DB", "lakehouse"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		TaskCacheTTL:  getDuration("TASK_CACHE_TTL", 24*time.Hour),

		KafkaBrokers:      getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "lakehouse-pipeline"),
		StageEventsTopic:  getEnv("KAFKA_STAGE_EVENTS_TOPIC", "pipeline-stage-events"),
		TriggerTopic:      getEnv("KAFKA_TRIGGER_TOPIC", ""),
		KafkaEventsEnable: getBoolEnv("KAFKA_EVENTS_ENABLED", false),

		ObjectStoreMode:    getEnv("OBJECT_STORE_MODE", "s3"),
		ObjectEndpoint:     getEnv("OBJECT_STORE_ENDPOINT", "http://localhost:9000"),
		ObjectRegion:       getEnv("OBJECT_STORE_REGION", "us-east-1"),
		ObjectAccessKey:    getEnv("OBJECT_STORE_ACCESS_KEY", "minioadmin"),
		ObjectSecretKey:    getEnv("OBJECT_STORE_SECRET_KEY", "minioadmin"),
		ObjectUsePathStyle: getBoolEnv("OBJECT_STORE_PATH_STYLE", true),
		RawBucket:          getEnv("RAW_BUCKET", "scraped-jobs"),

		VersionPolicy: getEnv("NORMALIZER_VERSION_POLICY", "always"),

		SyncEnabled:     getBoolEnv("SYNC_ENABLED", true),
		SyncStoreMode:   getEnv("SYNC_STORE_MODE", "rest"),
		SyncBatchSize:   getIntEnv("SYNC_BATCH_SIZE", 100),
		SyncWorkers:     getIntEnv("SYNC_WORKERS", 4),
		SyncCallTimeout: getDuration("SYNC_CALL_TIMEOUT", 30*time.Second),
		SyncTable:       getEnv("SYNC_TABLE", "jobs"),
		AppRESTURL:      getEnv("APP_REST_URL", ""),
		AppServiceKey:   getEnv("APP_SERVICE_KEY", ""),
		AppDatabaseDSN:  getEnv("APP_DATABASE_DSN", ""),

		ScheduleInterval: getDuration("PIPELINE_SCHEDULE_INTERVAL", 0),

		PipelineFile: getEnv("PIPELINE_CONFIG_FILE", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
