package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// BSrE provider modes.
const (
	BSrEModeMock = "mock"
	BSrEModeLive = "live"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	BSrE     BSrEConfig
	PDF      PDFConfig
	Public   PublicConfig
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
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BSrEConfig configures the external electronic signature provider.
type BSrEConfig struct {
	Mode    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// PDFConfig governs certificate artifact rendering and storage.
type PDFConfig struct {
	StorageDir        string
	RenderTimeout     time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	RetryDelay        time.Duration
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	BackfillSchedule  string
}

// PublicConfig tunes the unauthenticated verification page.
type PublicConfig struct {
	BaseURL      string
	CacheEnabled bool
	CacheTTL     time.Duration
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
		Enabled:  v.GetBool("ENABLE_PUBLIC_CACHE"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.BSrE = BSrEConfig{
		Mode:    strings.ToLower(strings.TrimSpace(v.GetString("BSRE_MODE"))),
		BaseURL: strings.TrimRight(v.GetString("BSRE_BASE_URL"), "/"),
		APIKey:  v.GetString("BSRE_API_KEY"),
		Timeout: parseDuration(v.GetString("BSRE_TIMEOUT"), 10*time.Second),
	}
	if cfg.BSrE.Mode != BSrEModeLive {
		cfg.BSrE.Mode = BSrEModeMock
	}

	workers := v.GetInt("PDF_WORKER_CONCURRENCY")
	if workers <= 0 {
		workers = 2
	}
	cfg.PDF = PDFConfig{
		StorageDir:        v.GetString("PDF_STORAGE_DIR"),
		RenderTimeout:     parseDuration(v.GetString("PDF_RENDER_TIMEOUT"), 60*time.Second),
		WorkerConcurrency: workers,
		WorkerRetries:     v.GetInt("PDF_WORKER_RETRIES"),
		RetryDelay:        parseDuration(v.GetString("PDF_RETRY_DELAY"), 5*time.Second),
		SignedURLSecret:   v.GetString("PDF_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("PDF_SIGNED_URL_TTL"), time.Hour),
		BackfillSchedule:  v.GetString("PDF_BACKFILL_SCHEDULE"),
	}

	cfg.Public = PublicConfig{
		BaseURL:      strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		CacheEnabled: v.GetBool("ENABLE_PUBLIC_CACHE"),
		CacheTTL:     parseDuration(v.GetString("PUBLIC_CACHE_TTL"), 2*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "calibration_certificates")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BSRE_MODE", BSrEModeMock)
	v.SetDefault("BSRE_BASE_URL", "http://localhost:9090")
	v.SetDefault("BSRE_API_KEY", "")
	v.SetDefault("BSRE_TIMEOUT", "10s")

	v.SetDefault("PDF_STORAGE_DIR", "./certificates")
	v.SetDefault("PDF_RENDER_TIMEOUT", "60s")
	v.SetDefault("PDF_WORKER_CONCURRENCY", 2)
	v.SetDefault("PDF_WORKER_RETRIES", 3)
	v.SetDefault("PDF_RETRY_DELAY", "5s")
	v.SetDefault("PDF_SIGNED_URL_SECRET", "dev_pdf_secret")
	v.SetDefault("PDF_SIGNED_URL_TTL", "1h")
	v.SetDefault("PDF_BACKFILL_SCHEDULE", "@every 10m")

	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:3000")
	v.SetDefault("ENABLE_PUBLIC_CACHE", false)
	v.SetDefault("PUBLIC_CACHE_TTL", "2m")
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
