package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referred promotes userID as a referral of referrerID
func (e *testEnv) referred(t *testing.T, referrerID, userID int64) {
	t.Helper()
	e.register(t, userID, ptr(referrerID))
	_, err := e.ledger.Promote(context.Background(), userID)
	require.NoError(t, err)
}

func TestAuditSweep_PenalizesLapsedReferralOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "7", 1)
	env.referred(t, 10, 20)

	a := env.user(t, 10)
	require.Equal(t, "10", a.Balance.String())
	require.Equal(t, 2, a.Invites)

	env.verifier.setUnsubscribed(20)
	res, err := env.ledger.RunAuditSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, Penalized: 1}, res)

	a = env.user(t, 10)
	assert.Equal(t, "7", a.Balance.String())
	assert.Equal(t, 1, a.Invites)

	penalties, err := env.ledger.Penalties(ctx)
	require.NoError(t, err)
	rec, ok := penalties["10_20"]
	require.True(t, ok)
	assert.Equal(t, int64(10), rec.ReferrerID)
	assert.Equal(t, int64(20), rec.ReferredID)
	assert.False(t, rec.AppliedAt.IsZero())

	assert.Len(t, env.notify.users[10], 1)
	assert.Contains(t, env.notify.users[10][0], "user20")

	res, err = env.ledger.RunAuditSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Skipped: 1}, res)

	a = env.user(t, 10)
	assert.Equal(t, "7", a.Balance.String())
	assert.Equal(t, 1, a.Invites)
}

func TestAuditSweep_SubscribedReferralsUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, 10, "alice", "0", 0)
	env.referred(t, 10, 20)
	env.referred(t, 10, 21)

	res, err := env.ledger.RunAuditSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 2}, res)
	assert.Equal(t, "6", env.user(t, 10).Balance.String())
}

func TestAuditSweep_NeverNegative(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "0", 0)
	env.referred(t, 10, 20)
	env.referred(t, 10, 21)

	// Admin edits can leave the referrer below the penalty amount
	require.NoError(t, env.storage.UpdateUserField(ctx, 10, "balance", "1.5"))
	require.NoError(t, env.storage.UpdateUserField(ctx, 10, "invites", float64(1)))

	env.verifier.setUnsubscribed(20)
	env.verifier.setUnsubscribed(21)
	res, err := env.ledger.RunAuditSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Penalized)

	a := env.user(t, 10)
	assert.True(t, a.Balance.IsZero())
	assert.Equal(t, 0, a.Invites)
}

func TestAuditSweep_RepairsRecordWithoutPenalizingAgain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "7", 1)
	env.referred(t, 10, 20)
	env.verifier.setUnsubscribed(20)

	_, err := env.ledger.RunAuditSweep(ctx)
	require.NoError(t, err)

	// Simulate a crash after the ledger commit but before the record landed
	require.NoError(t, env.ledger.stores.Penalties.Update(ctx, func(doc map[string]PenaltyRecord) error {
		delete(doc, "10_20")
		return nil
	}))

	res, err := env.ledger.RunAuditSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Penalized)
	assert.Equal(t, "7", env.user(t, 10).Balance.String())

	penalties, err := env.ledger.Penalties(ctx)
	require.NoError(t, err)
	assert.Contains(t, penalties, "10_20")
}

func TestAuditSweep_MissingReferrerCountsAsError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.ledger.stores.Referrals.Set(ctx, "77", []int64{88}))
	env.verifier.setUnsubscribed(88)

	res, err := env.ledger.RunAuditSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, Errors: 1}, res)

	penalties, err := env.ledger.Penalties(ctx)
	require.NoError(t, err)
	assert.Empty(t, penalties)
}

func TestAuditSweep_StartAndEndNotifications(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ledger.RunAuditSweep(context.Background())
	require.NoError(t, err)

	env.notify.mu.Lock()
	defer env.notify.mu.Unlock()
	require.Len(t, env.notify.operator, 2)
	assert.Contains(t, env.notify.operator[0], "started")
	assert.Contains(t, env.notify.operator[1], "finished")
}

func TestSweeper_OneAtATimeAndCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "0", 0)
	env.referred(t, 10, 20)
	env.verifier.block = make(chan struct{})

	sw, err := env.ledger.StartAuditSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepRunning, sw.Status)
	assert.NotEmpty(t, sw.ID)

	_, err = env.ledger.StartAuditSweep(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, env.ledger.CancelAuditSweep(sw.ID))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	done, err := env.ledger.sweeps.Wait(waitCtx, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, SweepCancelled, done.Status)
	assert.NotNil(t, done.FinishedAt)
	assert.Equal(t, "3", env.user(t, 10).Balance.String())

	_, err = env.ledger.AuditSweep("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTriggerAudit_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 5, "user", "0", 0)
	env.seedAdmin(t, 1)

	_, err := env.ledger.TriggerAudit(ctx, 5)
	assert.ErrorIs(t, err, ErrUnauthorized)

	sw, err := env.ledger.TriggerAudit(ctx, 1)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = env.ledger.sweeps.Wait(waitCtx, sw.ID)
	require.NoError(t, err)

	got, err := env.ledger.AuditStatus(ctx, 1, sw.ID)
	require.NoError(t, err)
	assert.Equal(t, SweepDone, got.Status)
}

func TestPenaltyLog_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 5, "user", "0", 0)
	env.seedAdmin(t, 1)

	_, err := env.ledger.PenaltyLog(ctx, 5)
	assert.ErrorIs(t, err, ErrUnauthorized)

	records, err := env.ledger.PenaltyLog(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, records)
}
