// Package config provides configuration loading, defaults, and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/wire"
	"github.com/spf13/viper"
)

// DefaultRequiredScopes are the Spotify permissions the shared service
// account must hold for the playlist assistant to work end to end. A token
// granted with fewer scopes is a registration problem, not a runtime one.
var DefaultRequiredScopes = []string{
	"user-read-private",
	"user-read-email",
	"playlist-read-private",
	"playlist-read-collaborative",
	"playlist-modify-public",
	"playlist-modify-private",
	"user-library-read",
	"user-library-modify",
	"user-top-read",
	"user-read-recently-played",
	"user-read-playback-state",
	"user-read-currently-playing",
	"user-follow-read",
	"user-follow-modify",
	"streaming",
	"app-remote-control",
	"ugc-image-upload",
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Spotify SpotifyConfig `mapstructure:"spotify"`
	Token   TokenConfig   `mapstructure:"token"`
}

type ServerConfig struct {
	Host                     string `mapstructure:"host"`
	Port                     int    `mapstructure:"port"`
	Mode                     string `mapstructure:"mode"`
	ReadHeaderTimeoutSeconds int    `mapstructure:"read_header_timeout"`
	IdleTimeoutSeconds       int    `mapstructure:"idle_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LogConfig struct {
	Level           string            `mapstructure:"level"`
	Format          string            `mapstructure:"format"`
	ServiceName     string            `mapstructure:"service_name"`
	Environment     string            `mapstructure:"env"`
	Caller          bool              `mapstructure:"caller"`
	StacktraceLevel string            `mapstructure:"stacktrace_level"`
	Output          LogOutputConfig   `mapstructure:"output"`
	Rotation        LogRotationConfig `mapstructure:"rotation"`
}

type LogOutputConfig struct {
	ToStdout bool   `mapstructure:"to_stdout"`
	ToFile   bool   `mapstructure:"to_file"`
	FilePath string `mapstructure:"file_path"`
}

type LogRotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
	LocalTime  bool `mapstructure:"local_time"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type RedisConfig struct {
	// Enabled=false forces the degraded path: no caching, no cross-process
	// locking, every caller refreshes directly against Spotify.
	Enabled             bool   `mapstructure:"enabled"`
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	Password            string `mapstructure:"password"`
	DB                  int    `mapstructure:"db"`
	DialTimeoutSeconds  int    `mapstructure:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
	PoolSize            int    `mapstructure:"pool_size"`
	MinIdleConns        int    `mapstructure:"min_idle_conns"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type SpotifyConfig struct {
	ClientID            string   `mapstructure:"client_id"`
	ClientSecret        string   `mapstructure:"client_secret"`
	ServiceRefreshToken string   `mapstructure:"service_refresh_token"`
	ServiceUserID       string   `mapstructure:"service_user_id"`
	TokenURL            string   `mapstructure:"token_url"`
	APIBaseURL          string   `mapstructure:"api_base_url"`
	RequiredScopes      []string `mapstructure:"required_scopes"`
}

type TokenConfig struct {
	RefreshThresholdSeconds   int    `mapstructure:"refresh_threshold_seconds"`
	LockTimeoutSeconds        int    `mapstructure:"lock_timeout_seconds"`
	RedisTTLBufferSeconds     int    `mapstructure:"redis_ttl_buffer_seconds"`
	RefreshHTTPTimeoutSeconds int    `mapstructure:"refresh_http_timeout_seconds"`
	RefreshMaxAttempts        int    `mapstructure:"refresh_max_attempts"`
	WarmRefreshCron           string `mapstructure:"warm_refresh_cron"`
}

func (c TokenConfig) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdSeconds) * time.Second
}

func (c TokenConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

func (c TokenConfig) RedisTTLBuffer() time.Duration {
	return time.Duration(c.RedisTTLBufferSeconds) * time.Second
}

func (c TokenConfig) RefreshHTTPTimeout() time.Duration {
	return time.Duration(c.RefreshHTTPTimeoutSeconds) * time.Second
}

// Load reads and validates the full configuration.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Config paths in priority order: DATA_DIR, docker data dir, cwd,
	// ./config, system dir.
	if dataDir := strings.TrimSpace(os.Getenv("DATA_DIR")); dataDir != "" {
		v.AddConfigPath(dataDir)
	}
	v.AddConfigPath("/app/data")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/melodia")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config error: %w", err)
		}
		// No config file: defaults plus environment variables.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}

	cfg.Server.Mode = strings.ToLower(strings.TrimSpace(cfg.Server.Mode))
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	cfg.Log.ServiceName = strings.TrimSpace(cfg.Log.ServiceName)
	cfg.Log.Environment = strings.TrimSpace(cfg.Log.Environment)
	cfg.Log.StacktraceLevel = strings.ToLower(strings.TrimSpace(cfg.Log.StacktraceLevel))
	cfg.Log.Output.FilePath = strings.TrimSpace(cfg.Log.Output.FilePath)
	cfg.CORS.AllowedOrigins = normalizeStringSlice(cfg.CORS.AllowedOrigins)
	cfg.Spotify.ClientID = strings.TrimSpace(cfg.Spotify.ClientID)
	cfg.Spotify.ClientSecret = strings.TrimSpace(cfg.Spotify.ClientSecret)
	cfg.Spotify.ServiceRefreshToken = strings.TrimSpace(cfg.Spotify.ServiceRefreshToken)
	cfg.Spotify.ServiceUserID = strings.TrimSpace(cfg.Spotify.ServiceUserID)
	cfg.Spotify.TokenURL = strings.TrimSpace(cfg.Spotify.TokenURL)
	cfg.Spotify.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.Spotify.APIBaseURL), "/")
	cfg.Spotify.RequiredScopes = normalizeStringSlice(cfg.Spotify.RequiredScopes)
	cfg.Token.WarmRefreshCron = strings.TrimSpace(cfg.Token.WarmRefreshCron)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config error: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_header_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.service_name", "melodia")
	v.SetDefault("log.env", "production")
	v.SetDefault("log.caller", true)
	v.SetDefault("log.stacktrace_level", "error")
	v.SetDefault("log.output.to_stdout", true)
	v.SetDefault("log.output.to_file", false)
	v.SetDefault("log.output.file_path", "")
	v.SetDefault("log.rotation.max_size_mb", 100)
	v.SetDefault("log.rotation.max_backups", 10)
	v.SetDefault("log.rotation.max_age_days", 7)
	v.SetDefault("log.rotation.compress", true)
	v.SetDefault("log.rotation.local_time", true)

	// CORS
	v.SetDefault("cors.allowed_origins", []string{})
	v.SetDefault("cors.allow_credentials", true)

	// Redis
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout_seconds", 5)
	v.SetDefault("redis.read_timeout_seconds", 3)
	v.SetDefault("redis.write_timeout_seconds", 3)
	v.SetDefault("redis.pool_size", 64)
	v.SetDefault("redis.min_idle_conns", 8)

	// Spotify
	v.SetDefault("spotify.client_id", "")
	v.SetDefault("spotify.client_secret", "")
	v.SetDefault("spotify.service_refresh_token", "")
	v.SetDefault("spotify.service_user_id", "")
	v.SetDefault("spotify.token_url", "https://accounts.spotify.com/api/token")
	v.SetDefault("spotify.api_base_url", "https://api.spotify.com/v1")
	v.SetDefault("spotify.required_scopes", DefaultRequiredScopes)

	// Token management
	v.SetDefault("token.refresh_threshold_seconds", 300)
	v.SetDefault("token.lock_timeout_seconds", 30)
	v.SetDefault("token.redis_ttl_buffer_seconds", 60)
	v.SetDefault("token.refresh_http_timeout_seconds", 10)
	v.SetDefault("token.refresh_max_attempts", 3)
	v.SetDefault("token.warm_refresh_cron", "@every 10m")
}

// Validate enforces the startup-time configuration contract. Missing static
// credentials abort startup; a service that cannot ever mint a token has
// nothing to serve.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		return fmt.Errorf("server.read_header_timeout must be positive")
	}
	if c.Server.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("server.idle_timeout must be positive")
	}

	if c.Redis.DialTimeoutSeconds <= 0 {
		return fmt.Errorf("redis.dial_timeout_seconds must be positive")
	}
	if c.Redis.ReadTimeoutSeconds <= 0 {
		return fmt.Errorf("redis.read_timeout_seconds must be positive")
	}
	if c.Redis.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("redis.write_timeout_seconds must be positive")
	}
	if c.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis.pool_size must be positive")
	}
	if c.Redis.MinIdleConns < 0 {
		return fmt.Errorf("redis.min_idle_conns must be non-negative")
	}
	if c.Redis.MinIdleConns > c.Redis.PoolSize {
		return fmt.Errorf("redis.min_idle_conns cannot exceed redis.pool_size")
	}

	if c.Spotify.ClientID == "" {
		return fmt.Errorf("spotify.client_id is required")
	}
	if c.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify.client_secret is required")
	}
	if c.Spotify.ServiceRefreshToken == "" {
		return fmt.Errorf("spotify.service_refresh_token is required")
	}
	if c.Spotify.TokenURL == "" {
		return fmt.Errorf("spotify.token_url is required")
	}
	if c.Spotify.APIBaseURL == "" {
		return fmt.Errorf("spotify.api_base_url is required")
	}

	if c.Token.RefreshThresholdSeconds <= 0 {
		return fmt.Errorf("token.refresh_threshold_seconds must be positive")
	}
	if c.Token.LockTimeoutSeconds <= 0 {
		return fmt.Errorf("token.lock_timeout_seconds must be positive")
	}
	if c.Token.RedisTTLBufferSeconds <= 0 {
		return fmt.Errorf("token.redis_ttl_buffer_seconds must be positive")
	}
	if c.Token.RedisTTLBufferSeconds >= c.Token.RefreshThresholdSeconds {
		return fmt.Errorf("token.redis_ttl_buffer_seconds must be less than token.refresh_threshold_seconds")
	}
	if c.Token.RefreshHTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("token.refresh_http_timeout_seconds must be positive")
	}
	if c.Token.RefreshMaxAttempts <= 0 {
		return fmt.Errorf("token.refresh_max_attempts must be positive")
	}
	return nil
}

func normalizeStringSlice(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ProviderSet is the Wire provider set for configuration.
var ProviderSet = wire.NewSet(Load)
