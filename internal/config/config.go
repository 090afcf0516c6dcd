package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Supported content store backends.
const (
	BackendGitHub = "github"
	BackendMinIO  = "minio"
	BackendMemory = "memory"
)

// ErrMissingCredentials is returned by Validate when the selected backend cannot authenticate.
var ErrMissingCredentials = errors.New("missing store credentials")

// GitHubConfig holds settings for the GitHub repository content API.
type GitHubConfig struct {
	Token      string
	Owner      string
	Repo       string
	Branch     string
	APIURL     string
	RawURL     string
	MaxRetries int
	TimeoutSec int
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost             string
	Port                string
	Backend             string
	LogLevel            string
	Timezone            string
	OperationTimeoutSec int
	ListConcurrency     int
	PostCacheSize       int
	TemplatesDir        string
	MaxBodyMB           int
	MemoryBaseURL       string
	GitHub              GitHubConfig
	MinIO               MinIOConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:             getEnv("APP_HOST", "localhost:8080"),
		Port:                getEnv("PORT", "8080"),
		Backend:             getEnv("STORE_BACKEND", BackendGitHub),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Timezone:            getEnv("APP_TIMEZONE", "UTC"),
		OperationTimeoutSec: getEnvInt("OPERATION_TIMEOUT_SEC", 120),
		ListConcurrency:     getEnvInt("LIST_CONCURRENCY", 8),
		PostCacheSize:       getEnvInt("POST_CACHE_SIZE", 256),
		TemplatesDir:        getEnv("TEMPLATES_DIR", ""),
		MaxBodyMB:           getEnvInt("MAX_BODY_MB", 100),
		MemoryBaseURL:       getEnv("MEMORY_BASE_URL", "memory://blog"),
		GitHub: GitHubConfig{
			Token:      getEnv("GITHUB_TOKEN", ""),
			Owner:      getEnv("GITHUB_OWNER", ""),
			Repo:       getEnv("GITHUB_REPO", ""),
			Branch:     getEnv("GITHUB_BRANCH", "main"),
			APIURL:     getEnv("GITHUB_API_URL", "https://api.github.com"),
			RawURL:     getEnv("GITHUB_RAW_URL", "https://raw.githubusercontent.com"),
			MaxRetries: getEnvInt("GITHUB_MAX_RETRIES", 3),
			TimeoutSec: getEnvInt("GITHUB_TIMEOUT_SEC", 30),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
	}
}

// BindFlags registers command-line overrides for the values most often changed per run.
// Defaults are the values already loaded from the environment.
func (c *AppConfig) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Port, "port", "p", c.Port, "HTTP listen port")
	fs.StringVar(&c.Backend, "backend", c.Backend, "content store backend (github, minio, memory)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.TemplatesDir, "templates", c.TemplatesDir, "directory of template files synced at startup")
	fs.StringVar(&c.GitHub.Owner, "owner", c.GitHub.Owner, "repository owner")
	fs.StringVar(&c.GitHub.Repo, "repo", c.GitHub.Repo, "repository name")
	fs.StringVar(&c.GitHub.Branch, "branch", c.GitHub.Branch, "repository branch")
	fs.IntVar(&c.OperationTimeoutSec, "timeout", c.OperationTimeoutSec, "per-operation timeout in seconds")
}

// Validate checks that the selected backend has everything it needs to talk to the store.
func (c *AppConfig) Validate() error {
	switch c.Backend {
	case BackendGitHub:
		if c.GitHub.Token == "" || c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			return fmt.Errorf("%w: GITHUB_TOKEN, GITHUB_OWNER and GITHUB_REPO are required", ErrMissingCredentials)
		}
	case BackendMinIO:
		if c.MinIO.Endpoint == "" || c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("%w: MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_BUCKET are required", ErrMissingCredentials)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
	if c.OperationTimeoutSec <= 0 {
		return fmt.Errorf("operation timeout must be positive, got %d", c.OperationTimeoutSec)
	}
	return nil
}

// OperationTimeout is the deadline applied to a single engine operation.
func (c *AppConfig) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutSec) * time.Second
}

// Location resolves the configured timezone, falling back to UTC.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
