package scan

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/histsweep/histsweep/internal/store"
)

// Sweep replays every persisted message matching f in storage order
// through the compiled set, persisting each hit and invoking fn (if
// non-nil) as hits are found. It runs entirely against the store,
// independent of any worker pool. Returns the number of hits.
func Sweep(ctx context.Context, st store.Store, set *Set, f store.MessageFilter, fn func(store.MatchHit)) (int, error) {
	hits := 0
	err := st.ForEachMessage(ctx, f, func(m store.Message) error {
		for _, hit := range set.Scan(m) {
			if err := st.PutMatch(ctx, hit); err != nil {
				// One bad write should not end the sweep.
				logrus.WithError(err).WithFields(logrus.Fields{
					"account": hit.Account,
					"session": hit.SessionID,
					"message": hit.MessageID,
				}).Warn("failed to persist match")
				continue
			}
			hits++
			if fn != nil {
				fn(hit)
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return hits, fmt.Errorf("offline sweep: %w", err)
	}
	return hits, nil
}
