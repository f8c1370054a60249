package subscription

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"
)

// ExpireElapsed downgrades up to limit records whose paid period has ended. It returns
// how many records were changed. Individual failures are logged and skipped.
func ExpireElapsed(ctx context.Context, store Store, m *Manager, limit int) (int, error) {
	candidates, err := store.ListExpired(ctx, m.Catalog().Lowest().ID, m.Now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		changed := false
		_, err := Update(ctx, store, m, cand.UserID, func(cur *Record) (*Record, error) {
			next, ok := m.ExpireIfElapsed(cur)
			if !ok {
				return nil, nil
			}
			changed = true
			return next, nil
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return expired, err
			}
			log.Errorf("[ExpirySweep] Failed to expire subscription of user %d: %v", cand.UserID, err)
			continue
		}
		if changed {
			expired++
			log.Infof("[ExpirySweep] Subscription of user %d expired from %s", cand.UserID, cand.Tier)
		}
	}
	return expired, nil
}
