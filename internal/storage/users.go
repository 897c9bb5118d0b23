package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const userColumns = `id, username, first_name, last_name, balance, invites, ads_watched_today,
	level, points, is_admin, banned, last_ad_watch, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                             User
		username, firstName, lastName sql.NullString
		balance                       int64
		lastAd                        sql.NullInt64
		createdAt                     int64
	)

	err := row.Scan(&u.ID, &username, &firstName, &lastName, &balance, &u.Invites, &u.AdsWatchedToday,
		&u.Level, &u.Points, &u.IsAdmin, &u.Banned, &lastAd, &createdAt)
	if err != nil {
		return nil, err
	}

	u.Username = username.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.Balance = fromUnits(balance)
	u.CreatedAt = time.Unix(createdAt, 0)
	if lastAd.Valid {
		t := time.Unix(lastAd.Int64, 0)
		u.LastAdWatch = &t
	}
	return &u, nil
}

func getUser(ctx context.Context, q querier, userID int64) (*User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return u, err
}

func queryUsers(ctx context.Context, q querier, query string, args ...any) ([]User, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- Reads ---

// GetUser returns a user by ID
func (s *Storage) GetUser(ctx context.Context, userID int64) (*User, error) {
	return getUser(ctx, s.db, userID)
}

// UserExists reports whether a confirmed user exists
func (s *Storage) UserExists(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = ?", userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ListUsers returns every user ordered by ID
func (s *Storage) ListUsers(ctx context.Context) ([]User, error) {
	return queryUsers(ctx, s.db, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

// GetUsers returns the users among ids that exist, in ID order
func (s *Storage) GetUsers(ctx context.Context, ids []int64) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return queryUsers(ctx, s.db,
		`SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders+`) ORDER BY id`, args...)
}

// TopByBalance returns the richest non-banned users
func (s *Storage) TopByBalance(ctx context.Context, limit int) ([]User, error) {
	return queryUsers(ctx, s.db,
		`SELECT `+userColumns+` FROM users WHERE banned = 0 ORDER BY balance DESC, id ASC LIMIT ?`, limit)
}

// --- Writes ---

// EnsureAdmin creates the user if missing and sets the admin flag
func (s *Storage) EnsureAdmin(ctx context.Context, userID int64, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, first_name, is_admin, created_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(id) DO UPDATE SET is_admin = 1`,
		userID, nullString(username), "Admin", time.Now().Unix(),
	)
	return err
}

// RecordAdWatch credits one ad view in a single statement. Level rises once
// points reach level*100.
func (s *Storage) RecordAdWatch(ctx context.Context, userID int64, reward decimal.Decimal, dailyLimit int, now time.Time) (*User, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET
			balance = balance + ?,
			ads_watched_today = ads_watched_today + 1,
			points = points + 1,
			level = CASE WHEN points + 1 >= level * 100 THEN level + 1 ELSE level END,
			last_ad_watch = ?
		 WHERE id = ? AND banned = 0 AND ads_watched_today < ?`,
		toUnits(reward), now.Unix(), userID, dailyLimit,
	)
	if err != nil {
		return nil, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := s.GetUser(ctx, userID); err != nil {
			return nil, err
		}
		return nil, ErrLimitReached
	}
	return s.GetUser(ctx, userID)
}

// ResetDailyAds zeroes every user's daily ad counter
func (s *Storage) ResetDailyAds(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "UPDATE users SET ads_watched_today = 0 WHERE ads_watched_today != 0")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type fieldKind int

const (
	fieldText fieldKind = iota
	fieldCount
	fieldFlag
	fieldMoney
)

var updatableFields = map[string]fieldKind{
	"username":          fieldText,
	"first_name":        fieldText,
	"last_name":         fieldText,
	"balance":           fieldMoney,
	"invites":           fieldCount,
	"ads_watched_today": fieldCount,
	"level":             fieldCount,
	"points":            fieldCount,
	"is_admin":          fieldFlag,
	"banned":            fieldFlag,
}

// UpdateUserField sets one whitelisted column
func (s *Storage) UpdateUserField(ctx context.Context, userID int64, field string, value any) error {
	kind, ok := updatableFields[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidField, field)
	}
	v, err := normalizeField(kind, value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidField, field, err)
	}

	// field is one of the whitelisted column names above
	result, err := s.db.ExecContext(ctx, "UPDATE users SET "+field+" = ? WHERE id = ?", v, userID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeField(kind fieldKind, value any) (any, error) {
	switch kind {
	case fieldText:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected string")
	case fieldMoney:
		d, err := toDecimal(value)
		if err != nil {
			return nil, err
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("must not be negative")
		}
		return toUnits(d), nil
	case fieldCount:
		d, err := toDecimal(value)
		if err != nil {
			return nil, err
		}
		if d.IsNegative() || !d.Equal(d.Truncate(0)) {
			return nil, fmt.Errorf("must be a non-negative integer")
		}
		return d.IntPart(), nil
	case fieldFlag:
		switch v := value.(type) {
		case bool:
			return v, nil
		case float64:
			return v != 0, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, err
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected boolean")
	}
	return nil, fmt.Errorf("unknown field kind")
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case decimal.Decimal:
		return v, nil
	}
	return decimal.Zero, fmt.Errorf("expected number")
}

// Stats aggregates dashboard counters relative to now
func (s *Storage) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Unix()

	var (
		st                    Stats
		invites, ads          sql.NullInt64
		withdrawn, balanceSum sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN last_ad_watch >= ? THEN 1 ELSE 0 END), 0),
			SUM(invites),
			SUM(ads_watched_today),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			SUM(balance)
		 FROM users`,
		dayStart, dayStart,
	).Scan(&st.TotalUsers, &st.ActiveToday, &invites, &ads, &st.TodaySignups, &balanceSum)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT SUM(amount) FROM withdrawals WHERE status = ?", WithdrawalCompleted,
	).Scan(&withdrawn)
	if err != nil {
		return nil, err
	}

	st.TotalInvites = int(invites.Int64)
	st.TodayAds = int(ads.Int64)
	st.TotalBalance = fromUnits(balanceSum.Int64)
	st.TotalWithdrawals = fromUnits(withdrawn.Int64)
	return &st, nil
}
