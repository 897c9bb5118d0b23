package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for money. Balance and
// amount columns hold integer units of 10^-MoneyScale.
const MoneyScale = 4

func toUnits(d decimal.Decimal) int64 {
	return d.Shift(MoneyScale).Round(0).IntPart()
}

func fromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -MoneyScale)
}

// User is a confirmed account in the ledger
type User struct {
	ID              int64           `json:"id"`
	Username        string          `json:"username"`
	FirstName       string          `json:"first_name"`
	LastName        string          `json:"last_name"`
	Balance         decimal.Decimal `json:"balance"`
	Invites         int             `json:"invites"`
	AdsWatchedToday int             `json:"ads_watched_today"`
	Level           int             `json:"level"`
	Points          int             `json:"points"`
	IsAdmin         bool            `json:"is_admin"`
	Banned          bool            `json:"banned"`
	LastAdWatch     *time.Time      `json:"last_ad_watch"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewUser holds the fields known at promotion time
type NewUser struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// CreditMarker records that a ledger key has already produced its balance change
type CreditMarker struct {
	Key       string
	UserID    int64
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Withdrawal is a payout request
type Withdrawal struct {
	ID          string          `json:"id"`
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Address     string          `json:"address"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Withdrawal statuses
const (
	WithdrawalPending   = "pending"
	WithdrawalCompleted = "completed"
)

// Stats is the admin dashboard summary
type Stats struct {
	TotalUsers       int             `json:"total_users"`
	ActiveToday      int             `json:"active_today"`
	TotalInvites     int             `json:"total_invites"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	TodayAds         int             `json:"today_ads"`
	TodaySignups     int             `json:"today_signups"`
	TotalBalance     decimal.Decimal `json:"total_balance"`
}
