package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Reminder controls the hourly check cadence and the grace window.
	Reminder ReminderConfig `json:"reminder"`

	// Notifier controls the async delivery pipeline. If omitted, the
	// notifier runs with built-in defaults.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Channels ChannelsConfig `json:"channels"`

	// Analysis controls the optional LLM review of the activity log.
	Analysis AnalysisConfig `json:"analysis,omitempty"`

	Pprof PprofConfig `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the activity log persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hourkeep.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ReminderConfig controls when the missed-hour check runs.
//
// CheckSpec is a standard 5-field cron expression (default "* * * * *").
// GraceMinutes is how many minutes past the top of the hour an unforced
// check is still allowed to remind (default 5).
type ReminderConfig struct {
	Enabled      bool   `json:"enabled"`
	CheckSpec    string `json:"check_spec,omitempty"`
	GraceMinutes int    `json:"grace_minutes,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// ChannelsConfig selects which delivery channels are active.
// With no channel enabled, reminders go to the console.
type ChannelsConfig struct {
	Console  ConsoleChannelConfig  `json:"console"`
	Command  CommandChannelConfig  `json:"command"`
	Telegram TelegramChannelConfig `json:"telegram"`
}

type ConsoleChannelConfig struct {
	Enabled bool `json:"enabled"`
}

// CommandChannelConfig runs an external program per notification.
// {title} and {body} in Args are substituted before exec.
type CommandChannelConfig struct {
	Enabled bool     `json:"enabled"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Timeout string   `json:"timeout,omitempty"` // Go duration string
}

type TelegramChannelConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
}

// AnalysisConfig configures the Gemini-backed activity analysis.
// APIKey falls back to the GEMINI_API_KEY environment variable.
type AnalysisConfig struct {
	Enabled bool   `json:"enabled"`
	Model   string `json:"model,omitempty"`   // default: "gemini-2.0-flash"
	APIKey  string `json:"api_key,omitempty"` // do not log
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Validate checks field-level consistency that the strict decoder cannot.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if c.Reminder.GraceMinutes < 0 || c.Reminder.GraceMinutes > 59 {
		return fmt.Errorf("reminder.grace_minutes: must be in [0, 59]")
	}
	if n := c.Notifier; n != nil {
		for _, f := range []struct{ path, raw string }{
			{"notifier.retry_base", n.RetryBase},
			{"notifier.retry_max_delay", n.RetryMaxDelay},
			{"notifier.dedup_window", n.DedupWindow},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}
	if c.Channels.Command.Enabled && strings.TrimSpace(c.Channels.Command.Command) == "" {
		return fmt.Errorf("channels.command: command is required when enabled")
	}
	if _, err := ParseDurationField("channels.command.timeout", c.Channels.Command.Timeout); err != nil {
		return err
	}
	if c.Channels.Telegram.Enabled {
		if strings.TrimSpace(c.Channels.Telegram.Token) == "" {
			return fmt.Errorf("channels.telegram: token is required when enabled")
		}
		if c.Channels.Telegram.ChatID == 0 {
			return fmt.Errorf("channels.telegram: chat_id is required when enabled")
		}
	}
	return nil
}
