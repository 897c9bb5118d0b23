package ledger

import (
	"context"

	"github.com/suspectuso/commando-rewards/internal/storage"
)

// WatchAd credits one ad view unless the daily limit is reached
func (l *Ledger) WatchAd(ctx context.Context, userID int64) (*storage.User, error) {
	user, err := l.storage.RecordAdWatch(ctx, userID, l.cfg.AdReward, l.cfg.AdsDailyLimit, l.now())
	if err != nil {
		return nil, storageErr("record ad watch", err)
	}
	return user, nil
}

// ResetDailyAds zeroes the daily ad counters of every user
func (l *Ledger) ResetDailyAds(ctx context.Context) error {
	n, err := l.storage.ResetDailyAds(ctx)
	if err != nil {
		return persistErr("reset daily ads", err)
	}
	l.log.Info("daily ads reset", "users", n)
	return nil
}
