package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bind                       string `mapstructure:"bind" yaml:"bind"`
	Port                       int    `mapstructure:"port" yaml:"port"`
	Username                   string `mapstructure:"username" yaml:"username"`
	Password                   string `mapstructure:"password" yaml:"password"`
	PasswordHash               string `mapstructure:"password_hash" yaml:"password_hash"`
	AllowUnauthenticatedRemote bool   `mapstructure:"allow_unauthenticated_remote" yaml:"allow_unauthenticated_remote"`

	AppID       string `mapstructure:"app_id" yaml:"app_id"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`

	ScratchDir                 string `mapstructure:"scratch_dir" yaml:"scratch_dir"`
	MaxUploadMB                int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	AttachmentRetentionMinutes int    `mapstructure:"attachment_retention_minutes" yaml:"attachment_retention_minutes"`
	EntryTTLMinutes            int    `mapstructure:"entry_ttl_minutes" yaml:"entry_ttl_minutes"`
	PurgeIntervalSeconds       int    `mapstructure:"purge_interval_seconds" yaml:"purge_interval_seconds"`

	// CallbackTimeoutSeconds bounds a clipboard write or file reveal. Callback
	// commands are spawned detached and run to completion.
	CallbackTimeoutSeconds int `mapstructure:"callback_timeout_seconds" yaml:"callback_timeout_seconds"`
	ActionWorkers          int `mapstructure:"action_workers" yaml:"action_workers"`
	ActionQueueSize        int `mapstructure:"action_queue_size" yaml:"action_queue_size"`

	MaxConnections           int     `mapstructure:"max_connections" yaml:"max_connections"`
	RateLimitPerSecond       float64 `mapstructure:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateLimitBurst           int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	AuthMaxFailures          int     `mapstructure:"auth_max_failures" yaml:"auth_max_failures"`
	AuthFailureWindowSeconds int     `mapstructure:"auth_failure_window_seconds" yaml:"auth_failure_window_seconds"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		Bind:                       "127.0.0.1",
		Port:                       3000,
		AppID:                      "Toastd.NotificationServer",
		DisplayName:                "Notification Server",
		ScratchDir:                 filepath.Join(os.TempDir(), "toastd_assets"),
		MaxUploadMB:                32,
		AttachmentRetentionMinutes: 60,
		EntryTTLMinutes:            24 * 60,
		PurgeIntervalSeconds:       60,
		CallbackTimeoutSeconds:     60,
		ActionWorkers:              4,
		ActionQueueSize:            64,
		MaxConnections:             64,
		RateLimitPerSecond:         5,
		RateLimitBurst:             10,
		AuthMaxFailures:            5,
		AuthFailureWindowSeconds:   300,
		LogLevel:                   "info",
		LogFormat:                  "text",
		LogMaxSizeMB:               20,
		LogMaxBackups:              3,
	}
}

// Load reads cfgFile (or toastd.yaml from the config search path) and
// TOASTD_* environment variables on top of Default().
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("toastd")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TOASTD")
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindEnv registers every key so AutomaticEnv values reach Unmarshal even
// when the key is absent from the config file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"bind", "port", "username", "password", "password_hash", "allow_unauthenticated_remote",
		"app_id", "display_name", "scratch_dir", "max_upload_mb", "attachment_retention_minutes",
		"entry_ttl_minutes", "purge_interval_seconds", "callback_timeout_seconds",
		"action_workers", "action_queue_size", "max_connections", "rate_limit_per_second", "rate_limit_burst",
		"auth_max_failures", "auth_failure_window_seconds",
		"log_level", "log_format", "log_file", "log_max_size_mb", "log_max_backups",
	} {
		_ = v.BindEnv(key)
	}
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// HasCredentials reports whether remote callers can authenticate at all.
func (c *Config) HasCredentials() bool {
	return c.Username != "" && (c.Password != "" || c.PasswordHash != "")
}

// BindsLoopbackOnly reports whether the listen address is unreachable from
// other hosts.
func (c *Config) BindsLoopbackOnly() bool {
	if c.Bind == "localhost" {
		return true
	}
	ip := net.ParseIP(c.Bind)
	return ip != nil && ip.IsLoopback()
}

func (c *Config) EntryTTL() time.Duration {
	return time.Duration(c.EntryTTLMinutes) * time.Minute
}

func (c *Config) PurgeInterval() time.Duration {
	return time.Duration(c.PurgeIntervalSeconds) * time.Second
}

func (c *Config) AttachmentRetention() time.Duration {
	return time.Duration(c.AttachmentRetentionMinutes) * time.Minute
}

func (c *Config) CallbackTimeout() time.Duration {
	return time.Duration(c.CallbackTimeoutSeconds) * time.Second
}

func (c *Config) AuthFailureWindow() time.Duration {
	return time.Duration(c.AuthFailureWindowSeconds) * time.Second
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("AppData"), "toastd")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "toastd")
	default:
		if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
			return filepath.Join(dir, "toastd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "toastd")
	}
}
