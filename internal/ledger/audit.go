package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/suspectuso/commando-rewards/internal/metrics"
	"github.com/suspectuso/commando-rewards/internal/notifier"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

// PenaltyRecord marks a (referrer, referred) pair as penalized. Its presence
// is terminal: the pair is never audited again.
type PenaltyRecord struct {
	ReferrerID int64     `json:"referrer_id"`
	ReferredID int64     `json:"referred_id"`
	AppliedAt  time.Time `json:"penalty_applied_at"`
	Action     string    `json:"action"`
}

// SweepResult counts what one audit sweep did
type SweepResult struct {
	Checked   int `json:"checked"`
	Penalized int `json:"penalized"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type referralPair struct {
	referrer int64
	referred int64
}

func penaltyKey(p referralPair) string {
	return fmt.Sprintf("%d_%d", p.referrer, p.referred)
}

// penaltyMarkerKey guards the balance change in the user ledger so a crash
// between the ledger commit and the penalty record cannot double-penalize.
func penaltyMarkerKey(p referralPair) string {
	return fmt.Sprintf("penalty:%d:%d", p.referrer, p.referred)
}

// unauditedPairs returns every referral pair without a penalty record, in
// stable order, and the number of pairs already penalized.
func (l *Ledger) unauditedPairs(ctx context.Context) ([]referralPair, int, error) {
	var (
		pairs   []referralPair
		skipped int
	)
	err := l.lock.WithLock(func() error {
		graph, err := l.stores.Referrals.LoadLocked(ctx)
		if err != nil {
			return err
		}
		penalties, err := l.stores.Penalties.LoadLocked(ctx)
		if err != nil {
			return err
		}

		referrers := make([]int64, 0, len(graph))
		for k := range graph {
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				l.log.Warn("skip malformed referrer key", "key", k)
				continue
			}
			referrers = append(referrers, id)
		}
		sort.Slice(referrers, func(i, j int) bool { return referrers[i] < referrers[j] })

		for _, referrer := range referrers {
			for _, referred := range graph[idKey(referrer)] {
				p := referralPair{referrer: referrer, referred: referred}
				if _, done := penalties[penaltyKey(p)]; done {
					skipped++
					continue
				}
				pairs = append(pairs, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, persistErr("load audit state", err)
	}
	return pairs, skipped, nil
}

// penalize revokes the referral credit of p. It returns the updated referrer
// and whether a balance change was applied by this call.
func (l *Ledger) penalize(ctx context.Context, p referralPair) (*storage.User, bool, error) {
	var (
		referrer *storage.User
		applied  bool
	)
	penalty := l.referralReward()

	err := l.lock.WithLock(func() error {
		penalties, err := l.stores.Penalties.LoadLocked(ctx)
		if err != nil {
			return persistErr("load penalties", err)
		}
		key := penaltyKey(p)
		if _, done := penalties[key]; done {
			return nil
		}

		tx, err := l.storage.Begin(ctx)
		if err != nil {
			return persistErr("begin penalty", err)
		}
		defer tx.Rollback()

		isNew, err := tx.MarkCredit(ctx, penaltyMarkerKey(p), p.referrer, penalty.Neg(), l.now())
		if err != nil {
			return persistErr("mark penalty", err)
		}
		if isNew {
			referrer, err = tx.ApplyPenalty(ctx, p.referrer, penalty, 1)
			if err != nil {
				return storageErr("apply penalty", err)
			}
			if err := tx.Commit(); err != nil {
				return persistErr("commit penalty", err)
			}
			applied = true
		} else {
			// Balance already changed by an interrupted sweep; only the
			// record is missing.
			l.log.Warn("repair penalty record",
				"referrer_id", p.referrer,
				"referred_id", p.referred,
			)
		}

		penalties[key] = PenaltyRecord{
			ReferrerID: p.referrer,
			ReferredID: p.referred,
			AppliedAt:  l.now(),
			Action:     fmt.Sprintf("deducted 1 invite and %s CMD", penalty),
		}
		if err := l.stores.Penalties.SaveLocked(ctx, penalties); err != nil {
			return persistErr("save penalty record", err)
		}
		return nil
	})
	return referrer, applied, err
}

// runSweep walks every unaudited referral pair and penalizes referrers whose
// referred user is no longer subscribed. The store lock is held only around
// local reads and writes, never across a membership lookup.
func (l *Ledger) runSweep(ctx context.Context, id string, _ any) (SweepResult, error) {
	started := time.Now()
	metrics.SweepsRunning.Inc()
	defer metrics.SweepsRunning.Dec()

	l.log.Info("audit sweep started", "sweep_id", id)
	l.notify.Operator(ctx, notifier.SweepStarted(id))

	res, err := l.sweep(ctx)

	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	l.log.Info("audit sweep finished",
		"sweep_id", id,
		"checked", res.Checked,
		"penalized", res.Penalized,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"error", err,
	)
	l.notify.Operator(ctx, notifier.SweepFinished(id, res.Checked, res.Penalized, res.Errors, errors.Is(err, context.Canceled)))
	return res, err
}

func (l *Ledger) sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	pairs, skipped, err := l.unauditedPairs(ctx)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped

	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.Checked++
		if l.verifier.IsSubscribed(ctx, p.referred) {
			continue
		}

		referrer, applied, err := l.penalize(ctx, p)
		if errors.Is(err, ErrPersistence) {
			return res, err
		}
		if err != nil {
			res.Errors++
			l.log.Error("penalize referrer",
				"referrer_id", p.referrer,
				"referred_id", p.referred,
				"error", err,
			)
			continue
		}
		if !applied {
			continue
		}

		res.Penalized++
		metrics.PenaltiesTotal.Inc()
		l.log.Info("penalty applied",
			"referrer_id", p.referrer,
			"referred_id", p.referred,
			"balance", referrer.Balance,
			"invites", referrer.Invites,
		)
		l.notifyPenalty(ctx, referrer, p.referred)

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(l.cfg.PenaltyPacing):
		}
	}
	return res, nil
}

func (l *Ledger) notifyPenalty(ctx context.Context, referrer *storage.User, referredID int64) {
	penalty := l.referralReward()
	l.notify.Operator(ctx, notifier.PenaltyApplied(referrer, referredID, penalty))

	name := strconv.FormatInt(referredID, 10)
	if referred, err := l.storage.GetUser(ctx, referredID); err == nil && referred.Username != "" {
		name = referred.Username
	}
	l.notify.User(ctx, referrer.ID, notifier.PenaltyNotice(name, penalty))
}

// Penalties returns every penalty record keyed by "<referrer>_<referred>"
func (l *Ledger) Penalties(ctx context.Context) (map[string]PenaltyRecord, error) {
	doc, err := l.stores.Penalties.Snapshot(ctx)
	if err != nil {
		return nil, persistErr("load penalties", err)
	}
	return doc, nil
}
