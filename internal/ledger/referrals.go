package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/suspectuso/commando-rewards/internal/metrics"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

var errSelfReferral = fmt.Errorf("%w: self referral", ErrInvalidInput)

// referralKey is the ledger key of a referral credit. It depends only on the
// referred user so one user can be attributed at most once.
func referralKey(referredID int64) string {
	return fmt.Sprintf("referral:%d", referredID)
}

func isIgnoredClaim(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyProcessed)
}

func attributedTo(graph map[string][]int64, referredID int64) (string, bool) {
	for referrer, referred := range graph {
		if slices.Contains(referred, referredID) {
			return referrer, true
		}
	}
	return "", false
}

// attributeLocked credits referrerID for referredID inside tx and appends the
// referral edge to graph, saving it. The returned restore func writes the
// previous graph back and must be called if tx fails to commit. The caller
// holds the store lock.
func (l *Ledger) attributeLocked(
	ctx context.Context,
	tx *storage.Tx,
	graph map[string][]int64,
	referrerID, referredID int64,
) (*storage.User, func(), error) {
	if referrerID == referredID {
		return nil, nil, errSelfReferral
	}

	if _, err := tx.GetUser(ctx, referrerID); err != nil {
		return nil, nil, storageErr("get referrer", err)
	}

	if _, ok := attributedTo(graph, referredID); ok {
		return nil, nil, fmt.Errorf("referral edge: %w", ErrAlreadyProcessed)
	}

	reward := l.referralReward()
	isNew, err := tx.MarkCredit(ctx, referralKey(referredID), referrerID, reward, l.now())
	if err != nil {
		return nil, nil, persistErr("mark referral credit", err)
	}
	if !isNew {
		return nil, nil, fmt.Errorf("referral credit: %w", ErrAlreadyProcessed)
	}

	if err := tx.AddBalance(ctx, referrerID, reward, 1); err != nil {
		return nil, nil, storageErr("credit referrer", err)
	}

	key := idKey(referrerID)
	prev, had := graph[key]
	graph[key] = append(slices.Clone(prev), referredID)
	if err := l.stores.Referrals.SaveLocked(ctx, graph); err != nil {
		return nil, nil, persistErr("save referrals", err)
	}

	restore := func() {
		if had {
			graph[key] = prev
		} else {
			delete(graph, key)
		}
		if err := l.stores.Referrals.SaveLocked(ctx, graph); err != nil {
			l.log.Error("restore referrals after failed commit",
				"referrer_id", referrerID,
				"referred_id", referredID,
				"error", err,
			)
		}
	}

	referrer, err := tx.GetUser(ctx, referrerID)
	if err != nil {
		restore()
		return nil, nil, persistErr("reload referrer", err)
	}
	return referrer, restore, nil
}

// ProcessReferral credits referrerID for bringing userID. It shares the
// ledger key with promotion, so any combination of promotion and replayed
// requests credits a referral once. userID must be a confirmed user: a
// pending user's claim is settled by Promote under its own invitor.
func (l *Ledger) ProcessReferral(ctx context.Context, userID, referrerID int64) error {
	if userID <= 0 || referrerID <= 0 {
		return ErrInvalidInput
	}
	if userID == referrerID {
		return errSelfReferral
	}

	var referrer *storage.User
	err := l.lock.WithLock(func() error {
		graph, err := l.stores.Referrals.LoadLocked(ctx)
		if err != nil {
			return persistErr("load referrals", err)
		}

		tx, err := l.storage.Begin(ctx)
		if err != nil {
			return persistErr("begin referral", err)
		}
		defer tx.Rollback()

		if _, err := tx.GetUser(ctx, userID); err != nil {
			if pending, perr := l.stores.Pending.LoadLocked(ctx); perr == nil {
				if _, ok := pending[idKey(userID)]; ok {
					return fmt.Errorf("user %d awaits promotion: %w", userID, ErrNotFound)
				}
			}
			return storageErr("get referred user", err)
		}

		var restore func()
		referrer, restore, err = l.attributeLocked(ctx, tx, graph, referrerID, userID)
		if err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			restore()
			return persistErr("commit referral", err)
		}
		return nil
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		metrics.CreditsTotal.WithLabelValues("referral", "replayed").Inc()
	}
	if err != nil {
		return err
	}

	l.announceReferral(ctx, referrer, userID, "request")
	return nil
}

// Referral is one referred user as shown to the referrer
type Referral struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Referrals lists the users attributed to referrerID, in attribution order
func (l *Ledger) Referrals(ctx context.Context, referrerID int64) ([]Referral, error) {
	ids, _, err := l.stores.Referrals.Get(ctx, idKey(referrerID))
	if err != nil {
		return nil, persistErr("load referrals", err)
	}

	users, err := l.storage.GetUsers(ctx, ids)
	if err != nil {
		return nil, persistErr("get referred users", err)
	}
	names := make(map[int64]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}

	out := make([]Referral, 0, len(ids))
	for _, id := range ids {
		name := names[id]
		if name == "" {
			name = "---"
		}
		out = append(out, Referral{ID: id, Username: name})
	}
	return out, nil
}
