package config

import (
	"reflect"
	"sort"
	"strings"

	logx "hourkeep/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage
	if strings.TrimSpace(oldCfg.Storage.Driver) != strings.TrimSpace(newCfg.Storage.Driver) ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Reminder
	if oldCfg.Reminder != newCfg.Reminder {
		changed = append(changed, "reminder")
		attrs = append(attrs,
			logx.Bool("reminder.enabled", newCfg.Reminder.Enabled),
			logx.String("reminder.check_spec", strings.TrimSpace(newCfg.Reminder.CheckSpec)),
			logx.Int("reminder.grace_minutes", newCfg.Reminder.GraceMinutes),
		)
	}

	// Notifier. Section may be nil (omitted); treat nil as runtime defaults
	// so omitting it compares equal to spelling the defaults out.
	defN := &NotifierConfig{
		Enabled:         true,
		Workers:         1,
		QueueSize:       64,
		RatePerSec:      2,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "10m",
		DedupMaxEntries: 500,
	}
	oldN := oldCfg.Notifier
	newN := newCfg.Notifier
	if oldN == nil {
		oldN = defN
	}
	if newN == nil {
		newN = defN
	}
	if !reflect.DeepEqual(*oldN, *newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
		)
	}

	// Channels (never log the telegram token)
	if oldCfg.Channels.Console != newCfg.Channels.Console ||
		!reflect.DeepEqual(oldCfg.Channels.Command, newCfg.Channels.Command) ||
		oldCfg.Channels.Telegram.Enabled != newCfg.Channels.Telegram.Enabled ||
		oldCfg.Channels.Telegram.ChatID != newCfg.Channels.Telegram.ChatID ||
		(strings.TrimSpace(oldCfg.Channels.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Channels.Telegram.Token) != "") {
		changed = append(changed, "channels")
		attrs = append(attrs,
			logx.Bool("channels.console", newCfg.Channels.Console.Enabled),
			logx.Bool("channels.command", newCfg.Channels.Command.Enabled),
			logx.Bool("channels.telegram", newCfg.Channels.Telegram.Enabled),
			logx.Bool("channels.telegram_token_set", strings.TrimSpace(newCfg.Channels.Telegram.Token) != ""),
		)
	}

	// Analysis (never log the api key)
	if oldCfg.Analysis != newCfg.Analysis {
		changed = append(changed, "analysis")
		attrs = append(attrs,
			logx.Bool("analysis.enabled", newCfg.Analysis.Enabled),
			logx.String("analysis.model", strings.TrimSpace(newCfg.Analysis.Model)),
			logx.Bool("analysis.key_set", strings.TrimSpace(newCfg.Analysis.APIKey) != ""),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		strings.TrimSpace(oldCfg.Pprof.Addr) != strings.TrimSpace(newCfg.Pprof.Addr) ||
		strings.TrimSpace(oldCfg.Pprof.Prefix) != strings.TrimSpace(newCfg.Pprof.Prefix) ||
		oldCfg.Pprof.AllowInsecure != newCfg.Pprof.AllowInsecure ||
		strings.TrimSpace(oldCfg.Pprof.ReadTimeout) != strings.TrimSpace(newCfg.Pprof.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.WriteTimeout) != strings.TrimSpace(newCfg.Pprof.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.IdleTimeout) != strings.TrimSpace(newCfg.Pprof.IdleTimeout) ||
		(strings.TrimSpace(oldCfg.Pprof.Token) != "") != (strings.TrimSpace(newCfg.Pprof.Token) != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
