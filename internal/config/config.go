package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/idea-hub/pkg/utils"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Auth         AuthConfig         `mapstructure:"auth"`
	SLA          SLAConfig          `mapstructure:"sla"`
	Notification NotificationConfig `mapstructure:"notification"`
	Lark         LarkConfig         `mapstructure:"lark"`
	Similarity   SimilarityConfig   `mapstructure:"similarity"`
	Pagination   PaginationConfig   `mapstructure:"pagination"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RateLimit is requests per second per client on mutating routes; 0 disables
	RateLimit   float64  `mapstructure:"rate_limit"`
	RateBurst   int      `mapstructure:"rate_burst"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// AuthConfig holds caller identity configuration
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	// AllowHeaderIdentity accepts X-User-* headers in place of a token. For
	// local development only.
	AllowHeaderIdentity bool `mapstructure:"allow_header_identity"`
}

// SLAConfig holds stage thresholds and the escalation sweep interval.
// DigestInterval of zero disables the admin overdue digest.
type SLAConfig struct {
	Analyst            time.Duration `mapstructure:"analyst"`
	Finance            time.Duration `mapstructure:"finance"`
	Developer          time.Duration `mapstructure:"developer"`
	EscalationInterval time.Duration `mapstructure:"escalation_interval"`
	DigestInterval     time.Duration `mapstructure:"digest_interval"`
}

// NotificationConfig holds queue and delivery configuration
type NotificationConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	PoolSize       int           `mapstructure:"pool_size"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	Channel        string        `mapstructure:"channel"`
	AdminRecipient string        `mapstructure:"admin_recipient"`
	TemplatesPath  string        `mapstructure:"templates_path"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// SimilarityConfig holds duplicate detection configuration
type SimilarityConfig struct {
	APIKey               string  `mapstructure:"api_key"`
	BaseURL              string  `mapstructure:"base_url"`
	Model                string  `mapstructure:"model"`
	DuplicateThreshold   float64 `mapstructure:"duplicate_threshold"`
	ImprovementThreshold float64 `mapstructure:"improvement_threshold"`
	CandidateWindow      int     `mapstructure:"candidate_window"`
}

// PaginationConfig holds list paging limits
type PaginationConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// DashboardConfig holds dashboard configuration
type DashboardConfig struct {
	LatestCount int `mapstructure:"latest_count"`
}

// Load loads configuration from file and environment variables. A .env file
// next to the working directory is applied to the environment first; an
// empty configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.path", "data/ideahub.db")
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 10*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Auth defaults
	v.SetDefault("auth.issuer", "idea-hub")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.allow_header_identity", false)

	// SLA defaults
	v.SetDefault("sla.analyst", 5*24*time.Hour)
	v.SetDefault("sla.finance", 5*24*time.Hour)
	v.SetDefault("sla.developer", 5*24*time.Hour)
	v.SetDefault("sla.escalation_interval", time.Hour)
	v.SetDefault("sla.digest_interval", 24*time.Hour)

	// Notification defaults
	v.SetDefault("notification.max_attempts", 3)
	v.SetDefault("notification.poll_interval", 5*time.Second)
	v.SetDefault("notification.batch_size", 50)
	v.SetDefault("notification.pool_size", 8)
	v.SetDefault("notification.send_timeout", 15*time.Second)
	v.SetDefault("notification.channel", "log")

	// Similarity defaults
	v.SetDefault("similarity.model", "text-embedding-3-small")
	v.SetDefault("similarity.duplicate_threshold", 0.8)
	v.SetDefault("similarity.improvement_threshold", 0.5)
	v.SetDefault("similarity.candidate_window", 200)

	v.SetDefault("pagination.default_limit", 50)
	v.SetDefault("pagination.max_limit", 100)
	v.SetDefault("dashboard.latest_count", 5)
}

// bindEnvVars binds environment variables to configuration. Any key can also
// be set as IDEAHUB_<SECTION>_<KEY>.
func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix("IDEAHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Sensitive credentials from environment
	_ = v.BindEnv("auth.jwt_secret", "IDEAHUB_JWT_SECRET")
	_ = v.BindEnv("database.path", "IDEAHUB_DB_PATH")
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("similarity.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("notification.admin_recipient", "IDEAHUB_ADMIN_EMAIL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" && !c.Auth.AllowHeaderIdentity {
		return fmt.Errorf("auth.jwt_secret is required unless auth.allow_header_identity is set")
	}

	if c.SLA.Analyst <= 0 || c.SLA.Finance <= 0 || c.SLA.Developer <= 0 {
		return fmt.Errorf("sla thresholds must be positive")
	}
	if c.SLA.EscalationInterval <= 0 {
		return fmt.Errorf("sla.escalation_interval must be positive")
	}
	if c.SLA.DigestInterval < 0 {
		return fmt.Errorf("sla.digest_interval must not be negative")
	}

	if c.Notification.MaxAttempts < 1 {
		return fmt.Errorf("notification.max_attempts must be at least 1")
	}
	switch c.Notification.Channel {
	case "log":
	case "lark":
		if c.Lark.AppID == "" || c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_id and lark.app_secret are required for the lark channel")
		}
	default:
		return fmt.Errorf("notification.channel must be log or lark, got %q", c.Notification.Channel)
	}
	if c.Notification.AdminRecipient != "" {
		if err := utils.ValidateEmail(c.Notification.AdminRecipient); err != nil {
			return fmt.Errorf("notification.admin_recipient: %w", err)
		}
	}

	s := c.Similarity
	if s.ImprovementThreshold < 0 || s.DuplicateThreshold > 1 || s.ImprovementThreshold > s.DuplicateThreshold {
		return fmt.Errorf("similarity thresholds must satisfy 0 <= improvement <= duplicate <= 1")
	}

	if c.Pagination.DefaultLimit < 1 || c.Pagination.MaxLimit < c.Pagination.DefaultLimit {
		return fmt.Errorf("pagination limits must satisfy 1 <= default_limit <= max_limit")
	}

	return nil
}

// Address returns host:port for the HTTP listener
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
