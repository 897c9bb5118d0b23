package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// --- Credit markers ---

// HasCredit reports whether key has already produced a credit
func (s *Storage) HasCredit(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM credit_markers WHERE ledger_key = ?", key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// CreditKeys returns the marker keys held by a user that start with prefix
func (s *Storage) CreditKeys(ctx context.Context, userID int64, prefix string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ledger_key FROM credit_markers WHERE user_id = ? AND substr(ledger_key, 1, ?) = ?",
		userID, len(prefix), prefix,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

// GetUser returns a user by ID inside the transaction
func (t *Tx) GetUser(ctx context.Context, userID int64) (*User, error) {
	return getUser(ctx, t.tx, userID)
}

// InsertUser creates a user, returns false if the ID already existed
func (t *Tx) InsertUser(ctx context.Context, u NewUser, now time.Time) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, username, first_name, last_name, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ID, nullString(u.Username), nullString(u.FirstName), nullString(u.LastName), now.Unix(),
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkCredit records a ledger key, returns true if it was new
func (t *Tx) MarkCredit(ctx context.Context, key string, userID int64, amount decimal.Decimal, now time.Time) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO credit_markers (ledger_key, user_id, amount, created_at)
		 VALUES (?, ?, ?, ?)`,
		key, userID, toUnits(amount), now.Unix(),
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// AddBalance adds amount and invites to a user
func (t *Tx) AddBalance(ctx context.Context, userID int64, amount decimal.Decimal, invites int) error {
	result, err := t.tx.ExecContext(ctx,
		"UPDATE users SET balance = balance + ?, invites = invites + ? WHERE id = ?",
		toUnits(amount), invites, userID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyPenalty subtracts amount and invites, flooring both at zero, and
// returns the updated user
func (t *Tx) ApplyPenalty(ctx context.Context, userID int64, amount decimal.Decimal, invites int) (*User, error) {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE users SET
			balance = MAX(0, balance - ?),
			invites = MAX(0, invites - ?)
		 WHERE id = ?`,
		toUnits(amount), invites, userID,
	)
	if err != nil {
		return nil, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrNotFound
	}
	return getUser(ctx, t.tx, userID)
}

// DebitBalance subtracts amount if the balance covers it
func (t *Tx) DebitBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	result, err := t.tx.ExecContext(ctx,
		"UPDATE users SET balance = balance - ? WHERE id = ? AND balance >= ?",
		toUnits(amount), userID, toUnits(amount),
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := getUser(ctx, t.tx, userID); err != nil {
			return err
		}
		return ErrInsufficientBalance
	}
	return nil
}

// --- Withdrawals ---

func scanWithdrawal(row rowScanner) (*Withdrawal, error) {
	var (
		w           Withdrawal
		amount      int64
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(&w.ID, &w.UserID, &amount, &w.Method, &w.Address, &w.Status, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	w.Amount = fromUnits(amount)
	w.CreatedAt = time.Unix(createdAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		w.CompletedAt = &t
	}
	return &w, nil
}

const withdrawalColumns = "id, user_id, amount, method, address, status, created_at, completed_at"

// CreateWithdrawal stores a pending withdrawal request
func (s *Storage) CreateWithdrawal(ctx context.Context, w *Withdrawal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO withdrawals (id, user_id, amount, method, address, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, toUnits(w.Amount), w.Method, w.Address, WithdrawalPending, w.CreatedAt.Unix(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrAlreadyExists
	}
	return err
}

// GetWithdrawal returns a withdrawal by ID
func (s *Storage) GetWithdrawal(ctx context.Context, id string) (*Withdrawal, error) {
	w, err := scanWithdrawal(s.db.QueryRowContext(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return w, err
}

// ListWithdrawals returns withdrawals with the given status, newest first
func (s *Storage) ListWithdrawals(ctx context.Context, status string) ([]Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE status = ? ORDER BY created_at DESC", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// CompleteWithdrawal moves a pending withdrawal to completed. A withdrawal
// that is already completed yields ErrAlreadyExists.
func (t *Tx) CompleteWithdrawal(ctx context.Context, id string, now time.Time) (*Withdrawal, error) {
	result, err := t.tx.ExecContext(ctx,
		"UPDATE withdrawals SET status = ?, completed_at = ? WHERE id = ? AND status = ?",
		WithdrawalCompleted, now.Unix(), id, WithdrawalPending,
	)
	if err != nil {
		return nil, err
	}

	w, err := scanWithdrawal(t.tx.QueryRowContext(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return w, ErrAlreadyExists
	}
	return w, nil
}
