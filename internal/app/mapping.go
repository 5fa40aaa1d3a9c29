package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"hourkeep/internal/analysis"
	"hourkeep/internal/config"
	"hourkeep/internal/notifier"
	"hourkeep/internal/observability/pprof"
	"hourkeep/internal/reminder"
	"hourkeep/internal/storage"
	"hourkeep/internal/transport"
	"hourkeep/internal/transport/command"
	"hourkeep/internal/transport/console"
	"hourkeep/internal/transport/telegram"
	logx "hourkeep/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = "./hourkeep.db"
		if driver == "file" {
			path = "./hourkeep_store"
		}
	}

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		// Omitted section means enabled with built-in defaults.
		return notifier.Config{Enabled: true}, nil
	}

	retryBase, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}

	return notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: nc.DedupMaxEntries,
	}, nil
}

func mapReminderConfig(cfg *config.Config) reminder.Config {
	return reminder.Config{
		Enabled:      cfg.Reminder.Enabled,
		CheckSpec:    cfg.Reminder.CheckSpec,
		GraceMinutes: cfg.Reminder.GraceMinutes,
	}
}

func mapAnalysisConfig(cfg *config.Config) (analysis.Config, error) {
	ac := cfg.Analysis
	key := strings.TrimSpace(ac.APIKey)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	}
	if ac.Enabled && key == "" {
		return analysis.Config{}, fmt.Errorf("analysis: api_key is required when enabled (or set GEMINI_API_KEY)")
	}
	return analysis.Config{
		Enabled: ac.Enabled,
		Model:   ac.Model,
		APIKey:  key,
	}, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	pc := cfg.Pprof
	rt, err := config.ParseDurationField("pprof.read_timeout", pc.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	wt, err := config.ParseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	it, err := config.ParseDurationField("pprof.idle_timeout", pc.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       pc.Enabled,
		Addr:          pc.Addr,
		Prefix:        pc.Prefix,
		Token:         pc.Token,
		AllowInsecure: pc.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

// buildChannels maps the channels config to delivery channels.
// With nothing enabled, reminders still reach the console.
func buildChannels(cfg *config.Config, log logx.Logger) ([]transport.Channel, error) {
	var out []transport.Channel

	cc := cfg.Channels
	if cc.Console.Enabled || (!cc.Command.Enabled && !cc.Telegram.Enabled) {
		// Reminders go to stderr so they never interleave with one-shot
		// output (-missed, -export) on stdout.
		out = append(out, console.New(os.Stderr))
	}
	if cc.Command.Enabled {
		timeout, err := config.ParseDurationField("channels.command.timeout", cc.Command.Timeout)
		if err != nil {
			return nil, err
		}
		ch, err := command.New(command.Config{
			Command: cc.Command.Command,
			Args:    cc.Command.Args,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if cc.Telegram.Enabled {
		ch, err := telegram.New(telegram.Config{
			Token:  cc.Telegram.Token,
			ChatID: cc.Telegram.ChatID,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}
