package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type retryPolicy struct {
	attempts    int
	backoff     time.Duration
	isTransient func(error) bool
	logger      zerolog.Logger
}

// do runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget runs out. Backoff doubles after every transient failure.
func (p retryPolicy) do(ctx context.Context, op string, fn func() error) error {
	wait := p.backoff
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		err = fn()
		if err == nil || !p.isTransient(err) {
			return err
		}
		if attempt == p.attempts {
			break
		}
		p.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", wait).Msg("storage contention, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("db: %s: %w: %v", op, ErrContention, err)
}
