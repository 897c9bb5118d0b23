package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/commando-rewards/internal/metrics"
	"github.com/suspectuso/commando-rewards/internal/notifier"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

// PendingRegistration is an inbound user not yet confirmed by an
// authenticated request
type PendingRegistration struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Invitor   *int64    `json:"invitor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterPending stores or overwrites the pending entry for reg.ID. A user
// that is already confirmed yields ErrAlreadyProcessed and nothing is stored.
func (l *Ledger) RegisterPending(ctx context.Context, reg PendingRegistration) error {
	if reg.ID <= 0 {
		return ErrInvalidInput
	}

	exists, err := l.storage.UserExists(ctx, reg.ID)
	if err != nil {
		return persistErr("check user", err)
	}
	if exists {
		return ErrAlreadyProcessed
	}

	reg.CreatedAt = l.now()
	if err := l.stores.Pending.Set(ctx, idKey(reg.ID), reg); err != nil {
		return persistErr("store pending registration", err)
	}

	l.log.Info("pending registration stored",
		"user_id", reg.ID,
		"invitor", reg.Invitor,
	)
	return nil
}

// Promote confirms a pending user. The user row, the referrer credit and the
// referral edge land together or not at all. Promoting a confirmed user
// returns it unchanged.
func (l *Ledger) Promote(ctx context.Context, userID int64) (*storage.User, error) {
	var (
		user     *storage.User
		referrer *storage.User
		existed  bool
	)

	err := l.lock.WithLock(func() error {
		pending, err := l.stores.Pending.LoadLocked(ctx)
		if err != nil {
			return persistErr("load pending", err)
		}
		key := idKey(userID)

		user, err = l.storage.GetUser(ctx, userID)
		if err == nil {
			existed = true
			if _, stale := pending[key]; stale {
				delete(pending, key)
				if err := l.stores.Pending.SaveLocked(ctx, pending); err != nil {
					l.log.Warn("drop stale pending entry", "user_id", userID, "error", err)
				}
			}
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return persistErr("get user", err)
		}

		reg, ok := pending[key]
		if !ok {
			return ErrNotFound
		}

		graph, err := l.stores.Referrals.LoadLocked(ctx)
		if err != nil {
			return persistErr("load referrals", err)
		}

		tx, err := l.storage.Begin(ctx)
		if err != nil {
			return persistErr("begin promotion", err)
		}
		defer tx.Rollback()

		newUser := storage.NewUser{
			ID:        reg.ID,
			Username:  reg.Username,
			FirstName: reg.FirstName,
			LastName:  reg.LastName,
		}
		if _, err := tx.InsertUser(ctx, newUser, l.now()); err != nil {
			return persistErr("insert user", err)
		}

		var restore func()
		if reg.Invitor != nil {
			referrer, restore, err = l.attributeLocked(ctx, tx, graph, *reg.Invitor, userID)
			if isIgnoredClaim(err) {
				// Self-referral, unknown referrer or an already attributed
				// user still promotes, just without a credit.
				l.log.Info("referral claim ignored",
					"user_id", userID,
					"invitor", *reg.Invitor,
					"reason", err,
				)
				err = nil
			}
			if err != nil {
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			if restore != nil {
				restore()
			}
			return persistErr("commit promotion", err)
		}

		delete(pending, key)
		if err := l.stores.Pending.SaveLocked(ctx, pending); err != nil {
			// The user is confirmed; the next Promote drops the stale entry.
			l.log.Warn("remove pending entry", "user_id", userID, "error", err)
		}

		user, err = l.storage.GetUser(ctx, userID)
		if err != nil {
			return persistErr("get user", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.PromotionsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	if existed {
		metrics.PromotionsTotal.WithLabelValues("existing").Inc()
		return user, nil
	}

	metrics.PromotionsTotal.WithLabelValues("promoted").Inc()
	l.log.Info("user promoted", "user_id", userID)

	if referrer != nil {
		l.announceReferral(ctx, referrer, userID, "promotion")
	}
	return user, nil
}

func (l *Ledger) announceReferral(ctx context.Context, referrer *storage.User, referredID int64, source string) {
	metrics.CreditsTotal.WithLabelValues("referral", "granted").Inc()
	l.log.Info("referral credited",
		"referrer_id", referrer.ID,
		"referred_id", referredID,
		"source", source,
		"balance", referrer.Balance,
	)
	l.notify.Operator(ctx, notifier.ReferralCredited(referrer, referredID, l.referralReward(), source))
}

// UserView is the user payload returned to the web app
type UserView struct {
	User          *storage.User   `json:"user"`
	IsSubscribed  bool            `json:"isSubscribed"`
	MinWithdrawal decimal.Decimal `json:"min_withdrawal"`
}

// UserData promotes userID if needed and reports its subscription state
func (l *Ledger) UserData(ctx context.Context, userID int64) (*UserView, error) {
	user, err := l.Promote(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserView{
		User:          user,
		IsSubscribed:  l.verifier.IsSubscribed(ctx, userID),
		MinWithdrawal: l.Settings().MinWithdrawalAmount(),
	}, nil
}
