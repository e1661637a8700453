package idempotency

import (
	"context"
	"time"

	"casino-settlement/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Purger is implemented by backends that need an explicit retention sweep.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// RunJanitor purges expired records every interval until ctx is done.
// Expiry only stops deduplication; it never undoes an applied effect.
func RunJanitor(ctx context.Context, p Purger, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := p.Purge(ctx, now)
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				metrics.AddIdempotencyPurged(n)
				log.Debug().Int64("purged", n).Msg("idempotency records purged")
			}
		}
	}
}
