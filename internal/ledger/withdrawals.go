package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tonkeeper/tongo/ton"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/notifier"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

// WithdrawalRequest is a user's payout request
type WithdrawalRequest struct {
	UserID  int64
	Amount  decimal.Decimal
	Method  string
	Address string
}

func isTONMethod(m config.PaymentMethod) bool {
	id := strings.ToLower(m.ID)
	return id == "ton" || strings.HasPrefix(id, "ton_") || strings.HasPrefix(id, "ton-")
}

// normalizeTONAddress accepts raw or user-friendly TON addresses and
// returns the non-bounceable mainnet form.
func normalizeTONAddress(addr string) (string, error) {
	acc, err := ton.ParseAccountID(strings.TrimSpace(addr))
	if err != nil {
		return "", fmt.Errorf("%w: bad TON address: %v", ErrInvalidInput, err)
	}
	return acc.ToHuman(false, false), nil
}

// RequestWithdrawal records a pending payout and notifies the payout chat.
// The balance is debited only when an admin accepts it.
func (l *Ledger) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*storage.Withdrawal, error) {
	settings := l.Settings()

	address := strings.TrimSpace(req.Address)
	if req.UserID <= 0 || req.Method == "" || address == "" || !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: userId, amount, method and address are required", ErrInvalidInput)
	}

	method, ok := settings.PaymentMethod(req.Method)
	if !ok {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, req.Method)
	}
	if isTONMethod(method) {
		var err error
		if address, err = normalizeTONAddress(address); err != nil {
			return nil, err
		}
	}

	if minAmount := settings.MinWithdrawalAmount(); req.Amount.LessThan(minAmount) {
		return nil, fmt.Errorf("%w: minimum withdrawal is %s CMD", ErrInvalidInput, minAmount)
	}

	user, err := l.storage.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, storageErr("get user", err)
	}
	if user.Banned {
		return nil, ErrUnauthorized
	}
	if user.Balance.LessThan(req.Amount) {
		return nil, ErrInsufficientBalance
	}

	w := &storage.Withdrawal{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Amount:    req.Amount,
		Method:    method.ID,
		Address:   address,
		Status:    storage.WithdrawalPending,
		CreatedAt: l.now(),
	}
	if err := l.storage.CreateWithdrawal(ctx, w); err != nil {
		return nil, storageErr("create withdrawal", err)
	}

	l.log.Info("withdrawal requested",
		"withdrawal_id", w.ID,
		"user_id", w.UserID,
		"amount", w.Amount,
		"method", w.Method,
	)
	l.notify.Withdrawals(ctx, notifier.WithdrawalRequested(w, user))
	return w, nil
}

// AcceptWithdrawal completes a pending payout and debits the user once
func (l *Ledger) AcceptWithdrawal(ctx context.Context, adminID int64, withdrawalID string) (*storage.Withdrawal, *storage.User, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return nil, nil, err
	}

	var (
		w    *storage.Withdrawal
		user *storage.User
	)
	err := l.storage.InTx(ctx, func(tx *storage.Tx) error {
		var err error
		w, err = tx.CompleteWithdrawal(ctx, withdrawalID, l.now())
		if err != nil {
			return storageErr("complete withdrawal", err)
		}
		if err := tx.DebitBalance(ctx, w.UserID, w.Amount); err != nil {
			return storageErr("debit balance", err)
		}
		user, err = tx.GetUser(ctx, w.UserID)
		if err != nil {
			return storageErr("reload user", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, commitErr("accept withdrawal", err)
	}

	l.log.Info("withdrawal accepted",
		"withdrawal_id", w.ID,
		"user_id", w.UserID,
		"admin_id", adminID,
		"balance", user.Balance,
	)
	l.notify.User(ctx, w.UserID, notifier.WithdrawalAccepted(w, user.Balance))
	return w, user, nil
}

// Withdrawals lists payouts with the given status
func (l *Ledger) Withdrawals(ctx context.Context, adminID int64, status string) ([]storage.Withdrawal, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	if status == "" {
		status = storage.WithdrawalPending
	}
	list, err := l.storage.ListWithdrawals(ctx, status)
	if err != nil {
		return nil, persistErr("list withdrawals", err)
	}
	return list, nil
}
