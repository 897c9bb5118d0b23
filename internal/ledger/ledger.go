// Package ledger owns every balance-changing operation: pending
// registration and promotion, referral attribution, idempotent crediting,
// the referral audit and the payout flow. Request handlers and the bot call
// these entry points and never mutate the stores directly.
package ledger

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/persist"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

// Store names, used as file names (with .json) or redis hash suffixes
const (
	PendingStore   = "temp_users"
	ReferralStore  = "referrals"
	PenaltyStore   = "penalties_log"
	TaskStore      = "tasks"
	PartnerStore   = "partnership_requests"
	leaderboardDoc = "leaderboard.json"
)

// Verifier answers subscription questions. Implementations fail open.
type Verifier interface {
	IsSubscribed(ctx context.Context, userID int64) bool
	IsMember(ctx context.Context, userID int64, channelURL string) bool
}

// Notifier delivers best-effort messages
type Notifier interface {
	Operator(ctx context.Context, text string)
	Withdrawals(ctx context.Context, text string)
	User(ctx context.Context, userID int64, text string) bool
}

// Stores groups the keyed documents owned by the ledger. They must all be
// guarded by the same persist.Lock.
type Stores struct {
	Pending      *persist.Map[PendingRegistration]
	Referrals    *persist.Map[[]int64]
	Penalties    *persist.Map[PenaltyRecord]
	Tasks        *persist.Map[Task]
	Partnerships *persist.Map[PartnershipRequest]
}

// NewStores opens every ledger document through open, sharing lock
func NewStores(lock *persist.Lock, open func(name string) persist.Backend) Stores {
	return Stores{
		Pending:      persist.NewMap[PendingRegistration](open(PendingStore), lock),
		Referrals:    persist.NewMap[[]int64](open(ReferralStore), lock),
		Penalties:    persist.NewMap[PenaltyRecord](open(PenaltyStore), lock),
		Tasks:        persist.NewMap[Task](open(TaskStore), lock),
		Partnerships: persist.NewMap[PartnershipRequest](open(PartnerStore), lock),
	}
}

// Ledger coordinates the user ledger and the file stores
type Ledger struct {
	cfg        *config.Config
	storage    *storage.Storage
	stores     Stores
	lock       *persist.Lock
	verifier   Verifier
	notify     Notifier
	settings   *config.SettingsHolder
	sweeps     *Sweeper[SweepResult]
	broadcasts *Sweeper[BroadcastResult]
	log        *slog.Logger

	now func() time.Time
}

// New creates a new Ledger
func New(
	cfg *config.Config,
	store *storage.Storage,
	stores Stores,
	verifier Verifier,
	notify Notifier,
	settings *config.SettingsHolder,
	log *slog.Logger,
) *Ledger {
	l := &Ledger{
		cfg:      cfg,
		storage:  store,
		stores:   stores,
		lock:     stores.Pending.Lock(),
		verifier: verifier,
		notify:   notify,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
	l.sweeps = newSweeper("audit sweep", l.runSweep, log)
	l.broadcasts = newSweeper("broadcast", l.runBroadcast, log)
	return l
}

// Settings returns the live runtime settings
func (l *Ledger) Settings() *config.Settings {
	return l.settings.Load()
}

func (l *Ledger) referralReward() decimal.Decimal {
	return l.cfg.ReferralReward
}

func (l *Ledger) leaderboardPath() string {
	return filepath.Join(l.cfg.DataDir, leaderboardDoc)
}

func idKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
