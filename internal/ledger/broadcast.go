package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suspectuso/commando-rewards/internal/metrics"
	"github.com/suspectuso/commando-rewards/internal/notifier"
)

// BroadcastResult counts deliveries of one broadcast
type BroadcastResult struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Broadcast is the pollable state of one broadcast
type Broadcast = Job[BroadcastResult]

// SendBroadcast starts delivering text to every non-banned user in the
// background. Only one broadcast runs at a time.
func (l *Ledger) SendBroadcast(ctx context.Context, adminID int64, text string) (Broadcast, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return Broadcast{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Broadcast{}, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	b, err := l.broadcasts.Start(ctx, text)
	if err != nil {
		return b, err
	}
	l.log.Info("broadcast started", "admin_id", adminID, "broadcast_id", b.ID)
	return b, nil
}

// BroadcastStatus returns the state of a broadcast for an admin
func (l *Ledger) BroadcastStatus(ctx context.Context, adminID int64, id string) (Broadcast, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return Broadcast{}, err
	}
	return l.broadcasts.Get(id)
}

// CancelBroadcast stops a running broadcast. Messages already sent stay sent.
func (l *Ledger) CancelBroadcast(ctx context.Context, adminID int64, id string) error {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return err
	}
	return l.broadcasts.Cancel(id)
}

func (l *Ledger) runBroadcast(ctx context.Context, id string, input any) (BroadcastResult, error) {
	var res BroadcastResult
	text, _ := input.(string)

	users, err := l.storage.ListUsers(ctx)
	if err != nil {
		return res, persistErr("list users", err)
	}

	err = func() error {
		for _, u := range users {
			if u.Banned {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			res.Total++
			if l.notify.User(ctx, u.ID, text) {
				res.Delivered++
				metrics.BroadcastMessagesTotal.WithLabelValues("delivered").Inc()
			} else {
				res.Failed++
				metrics.BroadcastMessagesTotal.WithLabelValues("failed").Inc()
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.cfg.BroadcastPacing):
			}
		}
		return nil
	}()

	l.log.Info("broadcast finished",
		"broadcast_id", id,
		"total", res.Total,
		"delivered", res.Delivered,
		"failed", res.Failed,
		"error", err,
	)
	l.notify.Operator(ctx, notifier.BroadcastFinished(id, res.Delivered, res.Failed, res.Total, errors.Is(err, context.Canceled)))
	return res, err
}
