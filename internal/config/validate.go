package config

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Out-of-range numbers are clamped to safe values; everything is logged as a
// warning and none of it prevents startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range, using 3000", c.Port))
		c.Port = 3000
	}

	if strings.TrimSpace(c.Bind) == "" {
		errs = append(errs, fmt.Errorf("bind is empty, using 127.0.0.1"))
		c.Bind = "127.0.0.1"
	}

	if c.AppID == "" {
		errs = append(errs, fmt.Errorf("app_id is empty, using default"))
		c.AppID = Default().AppID
	}
	for _, r := range c.AppID {
		if unicode.IsSpace(r) || r == '\\' {
			errs = append(errs, fmt.Errorf("app_id %q must not contain spaces or backslashes", c.AppID))
			break
		}
	}
	if c.DisplayName == "" {
		c.DisplayName = Default().DisplayName
	}

	if c.Username != "" && c.Password == "" && c.PasswordHash == "" {
		errs = append(errs, fmt.Errorf("username is set without password or password_hash; remote auth is disabled"))
	}
	if c.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.PasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("password_hash is not a bcrypt hash: %w", err))
		}
	}
	if !c.BindsLoopbackOnly() && !c.HasCredentials() {
		if c.AllowUnauthenticatedRemote {
			errs = append(errs, fmt.Errorf("bind %q is reachable remotely and allow_unauthenticated_remote is set; anyone on the network can run callback commands", c.Bind))
		} else {
			errs = append(errs, fmt.Errorf("bind %q is reachable remotely but no credentials are configured; remote requests will be denied", c.Bind))
		}
	}

	c.MaxUploadMB = clamp(&errs, "max_upload_mb", c.MaxUploadMB, 1, 512)
	c.AttachmentRetentionMinutes = clamp(&errs, "attachment_retention_minutes", c.AttachmentRetentionMinutes, 0, 7*24*60)
	c.EntryTTLMinutes = clamp(&errs, "entry_ttl_minutes", c.EntryTTLMinutes, 1, 7*24*60)
	c.PurgeIntervalSeconds = clamp(&errs, "purge_interval_seconds", c.PurgeIntervalSeconds, 5, 3600)
	c.CallbackTimeoutSeconds = clamp(&errs, "callback_timeout_seconds", c.CallbackTimeoutSeconds, 1, 3600)
	c.ActionWorkers = clamp(&errs, "action_workers", c.ActionWorkers, 1, 64)
	c.ActionQueueSize = clamp(&errs, "action_queue_size", c.ActionQueueSize, 1, 10000)
	c.MaxConnections = clamp(&errs, "max_connections", c.MaxConnections, 1, 4096)
	c.RateLimitBurst = clamp(&errs, "rate_limit_burst", c.RateLimitBurst, 1, 1000)
	c.AuthMaxFailures = clamp(&errs, "auth_max_failures", c.AuthMaxFailures, 1, 1000)
	c.AuthFailureWindowSeconds = clamp(&errs, "auth_failure_window_seconds", c.AuthFailureWindowSeconds, 1, 24*3600)

	if c.RateLimitPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit_per_second %.2f must be positive, using 5", c.RateLimitPerSecond))
		c.RateLimitPerSecond = 5
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}

func clamp(errs *[]error, name string, v, min, max int) int {
	if v < min {
		*errs = append(*errs, fmt.Errorf("%s %d is below minimum %d, clamping", name, v, min))
		return min
	}
	if v > max {
		*errs = append(*errs, fmt.Errorf("%s %d exceeds maximum %d, clamping", name, v, max))
		return max
	}
	return v
}
