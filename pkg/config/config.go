package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Churn    ChurnConfig
	Reports  ReportsConfig
	CORS     CORSConfig
	Log      LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// QueueConfig tunes the stream-backed message broker.
type QueueConfig struct {
	Group        string
	Consumer     string
	BlockTimeout time.Duration
	ClaimMinIdle time.Duration
	MaxLen       int64
}

// ChurnConfig governs feature extraction, training and score caching.
type ChurnConfig struct {
	Enabled             bool
	MinTrainingSamples  int
	NoVisitSentinelDays int
	ModelPath           string // directory holding the model artifact
	CacheTTL            time.Duration
	PlanCategories      map[string]int
	TrainEpochs         int
	LearningRate        float64
}

// ReportsConfig configures asynchronous daily report generation.
type ReportsConfig struct {
	Enabled    bool
	StorageDir string
	Format     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Queue = QueueConfig{
		Group:        v.GetString("QUEUE_GROUP"),
		Consumer:     v.GetString("QUEUE_CONSUMER"),
		BlockTimeout: parseDuration(v.GetString("QUEUE_BLOCK_TIMEOUT"), 5*time.Second),
		ClaimMinIdle: parseDuration(v.GetString("QUEUE_CLAIM_MIN_IDLE"), time.Minute),
		MaxLen:       v.GetInt64("QUEUE_MAX_LEN"),
	}

	cfg.Churn = ChurnConfig{
		Enabled:             v.GetBool("ENABLE_CHURN"),
		MinTrainingSamples:  v.GetInt("CHURN_MIN_TRAINING_SAMPLES"),
		NoVisitSentinelDays: v.GetInt("CHURN_NO_VISIT_SENTINEL_DAYS"),
		ModelPath:           v.GetString("CHURN_MODEL_PATH"),
		CacheTTL:            parseDuration(v.GetString("CHURN_CACHE_TTL"), 30*time.Minute),
		PlanCategories:      parsePlanCategories(v.GetString("CHURN_PLAN_CATEGORIES")),
		TrainEpochs:         v.GetInt("CHURN_TRAIN_EPOCHS"),
		LearningRate:        v.GetFloat64("CHURN_LEARNING_RATE"),
	}

	cfg.Reports = ReportsConfig{
		Enabled:    v.GetBool("ENABLE_REPORTS"),
		StorageDir: v.GetString("REPORTS_STORAGE_DIR"),
		Format:     strings.ToLower(v.GetString("REPORTS_FORMAT")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "gympulse")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("QUEUE_GROUP", "gympulse-workers")
	v.SetDefault("QUEUE_CONSUMER", "")
	v.SetDefault("QUEUE_BLOCK_TIMEOUT", "5s")
	v.SetDefault("QUEUE_CLAIM_MIN_IDLE", "1m")
	v.SetDefault("QUEUE_MAX_LEN", 100000)

	v.SetDefault("ENABLE_CHURN", true)
	v.SetDefault("CHURN_MIN_TRAINING_SAMPLES", 10)
	v.SetDefault("CHURN_NO_VISIT_SENTINEL_DAYS", 365)
	v.SetDefault("CHURN_MODEL_PATH", "./models")
	v.SetDefault("CHURN_CACHE_TTL", "30m")
	v.SetDefault("CHURN_PLAN_CATEGORIES", "Basic:0,Standard:1,Premium:2")
	v.SetDefault("CHURN_TRAIN_EPOCHS", 500)
	v.SetDefault("CHURN_LEARNING_RATE", 0.1)

	v.SetDefault("ENABLE_REPORTS", true)
	v.SetDefault("REPORTS_STORAGE_DIR", "./reports")
	v.SetDefault("REPORTS_FORMAT", "csv")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// parsePlanCategories reads "Name:ordinal" pairs, e.g. "Basic:0,Premium:2".
func parsePlanCategories(raw string) map[string]int {
	result := map[string]int{}
	for _, pair := range splitAndTrim(raw) {
		name, ord, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		value, err := strconv.Atoi(strings.TrimSpace(ord))
		if err != nil {
			continue
		}
		result[name] = value
	}
	return result
}
