package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/commando-rewards/internal/metrics"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

func creditKind(key string) string {
	kind, _, _ := strings.Cut(key, ":")
	return kind
}

// CreditOnce credits amount to userID unless key has already produced a
// credit, in which case it returns ErrAlreadyCredited and changes nothing.
// The completion marker and the balance change commit together.
func (l *Ledger) CreditOnce(ctx context.Context, key string, amount decimal.Decimal, userID int64) (*storage.User, error) {
	if key == "" || !amount.IsPositive() || userID <= 0 {
		return nil, ErrInvalidInput
	}

	var user *storage.User
	err := l.storage.InTx(ctx, func(tx *storage.Tx) error {
		isNew, err := tx.MarkCredit(ctx, key, userID, amount, l.now())
		if err != nil {
			return persistErr("mark credit", err)
		}
		if !isNew {
			return ErrAlreadyCredited
		}
		if err := tx.AddBalance(ctx, userID, amount, 0); err != nil {
			return storageErr("credit balance", err)
		}
		user, err = tx.GetUser(ctx, userID)
		if err != nil {
			return persistErr("reload user", err)
		}
		return nil
	})

	kind := creditKind(key)
	if errors.Is(err, ErrAlreadyCredited) {
		metrics.CreditsTotal.WithLabelValues(kind, "replayed").Inc()
		return nil, err
	}
	if err != nil {
		metrics.CreditsTotal.WithLabelValues(kind, "error").Inc()
		return nil, commitErr("commit credit", err)
	}

	metrics.CreditsTotal.WithLabelValues(kind, "granted").Inc()
	l.log.Info("credit granted",
		"key", key,
		"user_id", userID,
		"amount", amount,
	)
	return user, nil
}
