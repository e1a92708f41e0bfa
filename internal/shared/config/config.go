package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// SwaggerFile is the OpenAPI document written by swag init.
	SwaggerFile string `mapstructure:"swagger_file"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json, console
	Output     string `mapstructure:"output"` // stdout, file
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig holds the analytics database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the database connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TasksConfig holds task manager configuration.
type TasksConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueCeiling    int           `mapstructure:"queue_ceiling"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	StepRetries     int           `mapstructure:"step_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
}

// ProvidersConfig holds provider resolver and vendor configuration.
type ProvidersConfig struct {
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	HealthCheckTimeout  time.Duration `mapstructure:"health_check_timeout"`
	FailureThreshold    uint32        `mapstructure:"failure_threshold"`
	BreakerTimeout      time.Duration `mapstructure:"breaker_timeout"`
	ImageCacheTTL       time.Duration `mapstructure:"image_cache_ttl"`

	OpenAI         VendorConfig `mapstructure:"openai"`
	Ollama         VendorConfig `mapstructure:"ollama"`
	ElevenLabs     VendorConfig `mapstructure:"elevenlabs"`
	OpenAITTS      VendorConfig `mapstructure:"openai_tts"`
	StreamElements VendorConfig `mapstructure:"streamelements"`
	Pexels         VendorConfig `mapstructure:"pexels"`
	Pixabay        VendorConfig `mapstructure:"pixabay"`
}

// VendorConfig holds one external provider's settings.
type VendorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	Voice   string `mapstructure:"voice"`
}

// StorageConfig holds media storage configuration.
type StorageConfig struct {
	Backend         string `mapstructure:"backend"` // local, s3
	LocalDir        string `mapstructure:"local_dir"`
	PublicURL       string `mapstructure:"public_url"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// ProgressConfig holds progress channel configuration.
type ProgressConfig struct {
	Shards           int           `mapstructure:"shards"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
}

// AnalyticsConfig holds analytics recorder configuration.
type AnalyticsConfig struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	TopSegments  int           `mapstructure:"top_segments"`
	SegmentWidth int           `mapstructure:"segment_width"` // seconds
}

// AuthConfig holds the admin credential configuration.
type AuthConfig struct {
	AdminPasswordHash string        `mapstructure:"admin_password_hash"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	TokenExpiry       time.Duration `mapstructure:"token_expiry"`
}

// RateLimitConfig holds submission rate limit configuration.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Loader reads configuration and keeps the underlying viper instance for reloads.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader. An empty file falls back to the standard search paths.
func NewLoader(file string) *Loader {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/clipforge")
	}

	setDefaults(v)

	v.SetEnvPrefix("CLIPFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// Load loads configuration from the default locations and environment.
func Load() (*Config, error) {
	return NewLoader("").Load()
}

// Load reads the config file (if any) and returns the merged configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	return l.unmarshal()
}

// ConfigFile returns the file in use, empty when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch re-reads the config file on change and hands the fresh config to onChange.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := l.unmarshal()
		if err != nil {
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applySecretOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applySecretOverrides reads credentials that are commonly injected as plain env vars.
func applySecretOverrides(cfg *Config) {
	overrides := map[string]*string{
		"CLIPFORGE_JWT_SECRET":          &cfg.Auth.JWTSecret,
		"CLIPFORGE_ADMIN_PASSWORD_HASH": &cfg.Auth.AdminPasswordHash,
		"CLIPFORGE_DB_PASSWORD":         &cfg.Database.Password,
		"CLIPFORGE_REDIS_PASSWORD":      &cfg.Redis.Password,
		"CLIPFORGE_STORAGE_SECRET_KEY":  &cfg.Storage.SecretAccessKey,
		"CLIPFORGE_OPENAI_API_KEY":      &cfg.Providers.OpenAI.APIKey,
		"CLIPFORGE_ELEVENLABS_API_KEY":  &cfg.Providers.ElevenLabs.APIKey,
		"CLIPFORGE_PEXELS_API_KEY":      &cfg.Providers.Pexels.APIKey,
		"CLIPFORGE_PIXABAY_API_KEY":     &cfg.Providers.Pixabay.APIKey,
	}
	for env, field := range overrides {
		if val := os.Getenv(env); val != "" {
			*field = val
		}
	}
	// The OpenAI key serves both the text and the speech endpoints.
	if cfg.Providers.OpenAITTS.APIKey == "" {
		cfg.Providers.OpenAITTS.APIKey = cfg.Providers.OpenAI.APIKey
	}
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be positive, got %d", c.Tasks.Workers)
	}
	if c.Tasks.QueueCeiling <= 0 {
		return fmt.Errorf("tasks.queue_ceiling must be positive, got %d", c.Tasks.QueueCeiling)
	}
	if c.Tasks.StepRetries < 1 {
		return fmt.Errorf("tasks.step_retries must be at least 1, got %d", c.Tasks.StepRetries)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case "local", "s3":
	default:
		return fmt.Errorf("storage.backend must be local or s3, got %q", c.Storage.Backend)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.swagger_file", "docs/swagger.json")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "data/logs/clipforge.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "clipforge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "data/clipforge.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Task defaults
	v.SetDefault("tasks.workers", 4)
	v.SetDefault("tasks.queue_ceiling", 100)
	v.SetDefault("tasks.retention", time.Hour)
	v.SetDefault("tasks.cleanup_interval", 5*time.Minute)
	v.SetDefault("tasks.step_retries", 3)
	v.SetDefault("tasks.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("tasks.retry_max_delay", 8*time.Second)
	v.SetDefault("tasks.provider_timeout", 60*time.Second)

	// Provider defaults
	v.SetDefault("providers.health_check_interval", 60*time.Second)
	v.SetDefault("providers.health_check_timeout", 10*time.Second)
	v.SetDefault("providers.failure_threshold", 5)
	v.SetDefault("providers.breaker_timeout", 30*time.Second)
	v.SetDefault("providers.image_cache_ttl", 30*time.Minute)
	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai_tts.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai_tts.model", "tts-1")
	v.SetDefault("providers.openai_tts.voice", "alloy")
	v.SetDefault("providers.ollama.base_url", "")
	v.SetDefault("providers.ollama.model", "llama3")
	v.SetDefault("providers.elevenlabs.base_url", "https://api.elevenlabs.io/v1")
	v.SetDefault("providers.elevenlabs.voice", "21m00Tcm4TlvDq8ikWAM")
	v.SetDefault("providers.streamelements.enabled", true)
	v.SetDefault("providers.streamelements.base_url", "https://api.streamelements.com/kappa/v2")
	v.SetDefault("providers.streamelements.voice", "Brian")
	v.SetDefault("providers.pexels.base_url", "https://api.pexels.com/v1")
	v.SetDefault("providers.pixabay.base_url", "https://pixabay.com/api")

	// Storage defaults
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data/media")
	v.SetDefault("storage.public_url", "/media")
	v.SetDefault("storage.region", "us-east-1")

	// Progress defaults
	v.SetDefault("progress.shards", 32)
	v.SetDefault("progress.subscriber_buffer", 16)
	v.SetDefault("progress.ping_interval", 30*time.Second)
	v.SetDefault("progress.write_timeout", 10*time.Second)

	// Analytics defaults
	v.SetDefault("analytics.buffer_size", 1000)
	v.SetDefault("analytics.write_timeout", 5*time.Second)
	v.SetDefault("analytics.top_segments", 5)
	v.SetDefault("analytics.segment_width", 10)

	// Auth defaults
	v.SetDefault("auth.token_expiry", 12*time.Hour)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.limit", 30)
	v.SetDefault("rate_limit.window", time.Minute)

	// CORS defaults
	v.SetDefault("cors.allow_origins", []string{"*"})

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "clipforge")
}
