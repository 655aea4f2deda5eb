package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Data backends.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Supabase SupabaseConfig
	Data     DataConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Resolver ResolverConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	SiteURL            string // public base URL, used for magic-link callbacks
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// SupabaseConfig holds the hosted project's endpoints and keys.
type SupabaseConfig struct {
	URL       string
	AnonKey   string
	JWTSecret string // when empty, access tokens are checked with the auth service
}

// DataConfig selects and bounds the data service backend.
type DataConfig struct {
	Backend        string // rest, postgres or memory
	RequestTimeout time.Duration
	AssumeRole     string // postgres backend: role switched to for signed-in requests
}

// DatabaseConfig holds PostgreSQL connection settings for the postgres backend.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/clubhub?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Migrate  bool
}

// RedisConfig holds Redis connection settings. An empty Addr runs without Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds passwordless sign-in settings.
type AuthConfig struct {
	RedirectAllowlist []string
	CookieSecure      bool
	CookieDomain      string
	MagicLinkCooldown time.Duration
	LocalLinkTTL      time.Duration // magic links of the in-process issuer
}

// ResolverConfig bounds profile resolution.
type ResolverConfig struct {
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

// AWSConfig holds AWS credentials and the club images bucket. An empty Bucket disables uploads.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Bucket               string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	port := getEnv("PORT", "8080")

	cfg := &Config{
		Server: ServerConfig{
			Port:               port,
			SiteURL:            strings.TrimRight(getEnv("SITE_URL", "http://localhost:"+port), "/"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Supabase: SupabaseConfig{
			URL:       strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
			AnonKey:   getEnv("SUPABASE_ANON_KEY", ""),
			JWTSecret: getEnv("SUPABASE_JWT_SECRET", ""),
		},
		Data: DataConfig{
			Backend:        strings.ToLower(getEnv("DATA_BACKEND", BackendREST)),
			RequestTimeout: getEnvMillis("DATA_REQUEST_TIMEOUT_MS", 8000),
			AssumeRole:     getEnv("DATA_ASSUME_ROLE", "authenticated"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "clubhub"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Migrate:  getEnvBool("DB_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			RedirectAllowlist: splitTrim(getEnv("AUTH_REDIRECT_ALLOWLIST", ""), ","),
			CookieSecure:      getEnvBool("AUTH_COOKIE_SECURE", false),
			CookieDomain:      getEnv("AUTH_COOKIE_DOMAIN", ""),
			MagicLinkCooldown: time.Duration(getEnvInt("AUTH_MAGIC_LINK_COOLDOWN_SEC", 60)) * time.Second,
			LocalLinkTTL:      time.Duration(getEnvInt("AUTH_LOCAL_LINK_TTL_MIN", 60)) * time.Minute,
		},
		Resolver: ResolverConfig{
			Timeout:  getEnvMillis("RESOLVE_TIMEOUT_MS", 5000),
			Attempts: getEnvInt("RESOLVE_ATTEMPTS", 3),
			Backoff:  getEnvMillis("RESOLVE_BACKOFF_MS", 200),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Bucket:               getEnv("AWS_S3_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Data.Backend {
	case BackendREST:
		if c.Supabase.URL == "" || c.Supabase.AnonKey == "" {
			return errors.New("config: DATA_BACKEND=rest needs SUPABASE_URL and SUPABASE_ANON_KEY")
		}
	case BackendPostgres:
		if c.Supabase.URL == "" && c.Supabase.JWTSecret == "" {
			return errors.New("config: DATA_BACKEND=postgres needs SUPABASE_URL or SUPABASE_JWT_SECRET to verify sessions")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown DATA_BACKEND %q", c.Data.Backend)
	}
	if c.Resolver.Attempts < 1 {
		return errors.New("config: RESOLVE_ATTEMPTS must be at least 1")
	}
	return nil
}

// LocalAuth reports whether sign-in runs on the in-process issuer instead of the
// hosted auth service. That happens when no project URL is configured, which the
// rest backend never allows.
func (c *Config) LocalAuth() bool {
	return c.Supabase.URL == "" && c.Data.Backend != BackendREST
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
