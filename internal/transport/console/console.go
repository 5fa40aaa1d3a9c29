// Package console delivers reminders to a terminal stream.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"hourkeep/internal/transport"
)

type Channel struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a console channel writing to w; nil means stderr.
func New(w io.Writer) *Channel {
	if w == nil {
		w = os.Stderr
	}
	return &Channel{w: w}
}

func (c *Channel) Name() string { return "console" }

func (c *Channel) Send(ctx context.Context, n transport.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "\n*** %s ***\n%s\n", n.Title, n.Body)
	return err
}
