package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Notification is a single NOTIFY payload received on a channel
type Notification struct {
	Channel string
	Payload string
}

// Listen holds one pooled connection in LISTEN mode and calls fn for every
// notification until ctx is cancelled. A returned error from fn is passed to
// onErr and does not stop the loop.
func Listen(ctx context.Context, pool *pgxpool.Pool, channel string, fn func(context.Context, Notification) error, onErr func(error)) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		if err := fn(ctx, Notification{Channel: n.Channel, Payload: n.Payload}); err != nil && onErr != nil {
			onErr(err)
		}
	}
}
