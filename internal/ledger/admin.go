package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/notifier"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

// authorize returns the admin user or ErrUnauthorized
func (l *Ledger) authorize(ctx context.Context, adminID int64) (*storage.User, error) {
	if adminID <= 0 {
		return nil, ErrUnauthorized
	}
	admin, err := l.storage.GetUser(ctx, adminID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, persistErr("get admin", err)
	}
	if !admin.IsAdmin {
		return nil, ErrUnauthorized
	}
	return admin, nil
}

// ListUsers returns every user
func (l *Ledger) ListUsers(ctx context.Context, adminID int64) ([]storage.User, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	users, err := l.storage.ListUsers(ctx)
	if err != nil {
		return nil, persistErr("list users", err)
	}
	return users, nil
}

// UserInfo is the admin view of one user
type UserInfo struct {
	User       *storage.User `json:"user"`
	Referrals  []Referral    `json:"referrals"`
	Subscribed bool          `json:"isSubscribed"`
}

// UserInfo returns a user with its referrals and subscription state
func (l *Ledger) UserInfo(ctx context.Context, adminID, userID int64) (*UserInfo, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	user, err := l.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, storageErr("get user", err)
	}
	refs, err := l.Referrals(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserInfo{
		User:       user,
		Referrals:  refs,
		Subscribed: l.verifier.IsSubscribed(ctx, userID),
	}, nil
}

// UpdateUserField sets one whitelisted user column
func (l *Ledger) UpdateUserField(ctx context.Context, adminID, userID int64, field string, value any) (*storage.User, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	if err := l.storage.UpdateUserField(ctx, userID, field, value); err != nil {
		return nil, storageErr("update user", err)
	}

	l.log.Info("user field updated",
		"admin_id", adminID,
		"user_id", userID,
		"field", field,
	)
	user, err := l.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return user, nil
}

// Stats returns dashboard counters
func (l *Ledger) Stats(ctx context.Context, adminID int64) (*storage.Stats, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	st, err := l.storage.Stats(ctx, l.now())
	if err != nil {
		return nil, persistErr("stats", err)
	}
	return st, nil
}

// UpdateSettings validates and publishes new runtime settings
func (l *Ledger) UpdateSettings(ctx context.Context, adminID int64, next *config.Settings) error {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return err
	}
	if next == nil {
		return ErrInvalidInput
	}

	err := l.settings.Replace(next)
	if errors.Is(err, config.ErrInvalidSettings) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return persistErr("save settings", err)
	}

	l.log.Info("settings updated", "admin_id", adminID)
	l.notify.Operator(ctx, notifier.SettingsUpdated(adminID))
	return nil
}

// TriggerAudit starts a background audit sweep on behalf of an admin
func (l *Ledger) TriggerAudit(ctx context.Context, adminID int64) (Sweep, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return Sweep{}, err
	}
	sw, err := l.StartAuditSweep(ctx)
	if err != nil {
		return sw, err
	}
	l.log.Info("audit sweep triggered", "admin_id", adminID, "sweep_id", sw.ID)
	return sw, nil
}

// AuditStatus returns the state of a sweep for an admin
func (l *Ledger) AuditStatus(ctx context.Context, adminID int64, sweepID string) (Sweep, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return Sweep{}, err
	}
	return l.AuditSweep(sweepID)
}

// CancelAudit stops a running sweep on behalf of an admin
func (l *Ledger) CancelAudit(ctx context.Context, adminID int64, sweepID string) error {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return err
	}
	return l.CancelAuditSweep(sweepID)
}

// PenaltyLog returns the penalty records for an admin
func (l *Ledger) PenaltyLog(ctx context.Context, adminID int64) (map[string]PenaltyRecord, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	return l.Penalties(ctx)
}
