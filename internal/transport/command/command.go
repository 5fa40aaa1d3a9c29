// Package command delivers reminders by spawning a desktop notifier
// process (notify-send, terminal-notifier, dunstify, ...).
package command

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"hourkeep/internal/transport"
)

// Config describes the command to spawn. Occurrences of {title} and
// {body} in Args are replaced per notification.
//
// Example:
//
//	command: notify-send
//	args: ["-u", "normal", "{title}", "{body}"]
type Config struct {
	Command string
	Args    []string
	Timeout time.Duration // 0 means 10s
}

type Channel struct {
	cfg Config
}

func New(cfg Config) (*Channel, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("notify command is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Args) == 0 {
		cfg.Args = []string{"{title}", "{body}"}
	}
	return &Channel{cfg: cfg}, nil
}

func (c *Channel) Name() string { return "command" }

func (c *Channel) Send(ctx context.Context, n transport.Notification) error {
	args := make([]string, len(c.cfg.Args))
	for i, a := range c.cfg.Args {
		a = strings.ReplaceAll(a, "{title}", n.Title)
		a = strings.ReplaceAll(a, "{body}", n.Body)
		args[i] = a
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", c.cfg.Command, err, strings.TrimSpace(string(out)))
	}
	return nil
}
