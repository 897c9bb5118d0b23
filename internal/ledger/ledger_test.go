package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/persist"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

type fakeVerifier struct {
	mu           sync.Mutex
	unsubscribed map[int64]bool
	nonMember    map[string]bool
	calls        int
	block        chan struct{}
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{unsubscribed: map[int64]bool{}, nonMember: map[string]bool{}}
}

func (f *fakeVerifier) IsSubscribed(ctx context.Context, userID int64) bool {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return true
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return !f.unsubscribed[userID]
}

func (f *fakeVerifier) IsMember(ctx context.Context, userID int64, channelURL string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.nonMember[channelURL]
}

func (f *fakeVerifier) setUnsubscribed(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed[id] = true
}

type fakeNotifier struct {
	mu          sync.Mutex
	operator    []string
	withdrawals []string
	users       map[int64][]string
	unreachable map[int64]bool
}

func (f *fakeNotifier) Operator(ctx context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operator = append(f.operator, text)
}

func (f *fakeNotifier) Withdrawals(ctx context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawals = append(f.withdrawals, text)
}

func (f *fakeNotifier) User(ctx context.Context, userID int64, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable[userID] {
		return false
	}
	if f.users == nil {
		f.users = map[int64][]string{}
	}
	f.users[userID] = append(f.users[userID], text)
	return true
}

func (f *fakeNotifier) operatorCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.operator)
}

type testEnv struct {
	ledger   *Ledger
	storage  *storage.Storage
	verifier *fakeVerifier
	notify   *fakeNotifier
	dir      string
}

// failingBackend wraps a backend and fails every Save while fail is set
type failingBackend struct {
	persist.Backend
	mu   sync.Mutex
	fail bool
}

func (b *failingBackend) Save(ctx context.Context, doc map[string]json.RawMessage) error {
	b.mu.Lock()
	fail := b.fail
	b.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return b.Backend.Save(ctx, doc)
}

func (b *failingBackend) setFail(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = v
}

func testSettings() *config.Settings {
	return &config.Settings{
		MinWithdrawal:    10,
		RequiredChannels: []config.Channel{{URL: "https://t.me/COMMANDO_CRYPTO", Title: "Commando"}},
		PaymentMethods: []config.PaymentMethod{
			{ID: "ton", Name: "TON", Icon: "💎", Category: "crypto"},
			{ID: "usdt_bep20", Name: "USDT BEP20", Icon: "💵", Category: "crypto"},
		},
	}
}

func newTestEnv(t *testing.T, wrap ...func(name string, b persist.Backend) persist.Backend) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.New(filepath.Join(dir, "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		DataDir:         dir,
		ReferralReward:  decimal.NewFromInt(3),
		AdReward:        decimal.RequireFromString("0.05"),
		AdsDailyLimit:   50,
		LeaderboardSize: 10,
	}

	lock := &persist.Lock{}
	stores := NewStores(lock, func(name string) persist.Backend {
		var b persist.Backend = persist.NewFileBackend(filepath.Join(dir, name+".json"))
		for _, w := range wrap {
			b = w(name, b)
		}
		return b
	})

	env := &testEnv{
		storage:  store,
		verifier: newFakeVerifier(),
		notify:   &fakeNotifier{},
		dir:      dir,
	}
	settings := config.NewSettingsHolder(filepath.Join(dir, "settings.json"), testSettings())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.ledger = New(cfg, store, stores, env.verifier, env.notify, settings, log)
	return env
}

// seedUser creates a confirmed user with the given balance and invites
func (e *testEnv) seedUser(t *testing.T, id int64, username, balance string, invites int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.storage.InTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.InsertUser(ctx, storage.NewUser{ID: id, Username: username}, time.Now()); err != nil {
			return err
		}
		return tx.AddBalance(ctx, id, decimal.RequireFromString(balance), invites)
	}))
}

func (e *testEnv) seedAdmin(t *testing.T, id int64) {
	t.Helper()
	require.NoError(t, e.storage.EnsureAdmin(context.Background(), id, "admin"))
}

func (e *testEnv) user(t *testing.T, id int64) *storage.User {
	t.Helper()
	u, err := e.storage.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (e *testEnv) graph(t *testing.T) map[string][]int64 {
	t.Helper()
	doc, err := e.ledger.stores.Referrals.Snapshot(context.Background())
	require.NoError(t, err)
	return doc
}

func (e *testEnv) register(t *testing.T, id int64, invitor *int64) {
	t.Helper()
	require.NoError(t, e.ledger.RegisterPending(context.Background(), PendingRegistration{
		ID:        id,
		Username:  fmt.Sprintf("user%d", id),
		FirstName: "Test",
		Invitor:   invitor,
	}))
}

func ptr(v int64) *int64 { return &v }

func TestRegisterPending_LastWriteWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, 555, nil)
	env.register(t, 555, ptr(999))

	reg, ok, err := env.ledger.stores.Pending.Get(ctx, "555")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, reg.Invitor)
	assert.Equal(t, int64(999), *reg.Invitor)
}

func TestRegisterPending_ConfirmedUser(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, 1, "a", "0", 0)

	err := env.ledger.RegisterPending(context.Background(), PendingRegistration{ID: 1})
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	err = env.ledger.RegisterPending(context.Background(), PendingRegistration{ID: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPromote_CreditsReferrerOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "7", 1)
	env.register(t, 20, ptr(10))

	u, err := env.ledger.Promote(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, "user20", u.Username)

	a := env.user(t, 10)
	assert.Equal(t, "10", a.Balance.String())
	assert.Equal(t, 2, a.Invites)
	assert.Equal(t, []int64{20}, env.graph(t)["10"])
	assert.Equal(t, 1, env.notify.operatorCount())

	_, ok, err := env.ledger.stores.Pending.Get(ctx, "20")
	require.NoError(t, err)
	assert.False(t, ok, "pending entry must not survive promotion")
}

func TestPromote_TwiceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "0", 0)
	env.register(t, 20, ptr(10))

	first, err := env.ledger.Promote(ctx, 20)
	require.NoError(t, err)
	second, err := env.ledger.Promote(ctx, 20)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	a := env.user(t, 10)
	assert.Equal(t, "3", a.Balance.String())
	assert.Equal(t, 1, a.Invites)
	assert.Equal(t, []int64{20}, env.graph(t)["10"])
}

func TestPromote_SelfReferralIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, 30, ptr(30))

	u, err := env.ledger.Promote(context.Background(), 30)
	require.NoError(t, err)
	assert.True(t, u.Balance.IsZero())
	assert.Equal(t, 0, u.Invites)
	assert.Empty(t, env.graph(t))
	assert.Equal(t, 0, env.notify.operatorCount())
}

func TestPromote_UnknownReferrerIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, 555, ptr(999))

	u, err := env.ledger.Promote(ctx, 555)
	require.NoError(t, err)
	assert.Equal(t, int64(555), u.ID)
	assert.Empty(t, env.graph(t))

	has, err := env.storage.HasCredit(ctx, referralKey(555))
	require.NoError(t, err)
	assert.False(t, has)

	exists, err := env.storage.UserExists(ctx, 999)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPromote_UnknownUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ledger.Promote(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPromote_GraphWriteFailureLeavesNothing(t *testing.T) {
	var referrals *failingBackend
	env := newTestEnv(t, func(name string, b persist.Backend) persist.Backend {
		if name != ReferralStore {
			return b
		}
		referrals = &failingBackend{Backend: b}
		return referrals
	})
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "5", 0)
	env.register(t, 20, ptr(10))

	referrals.setFail(true)
	_, err := env.ledger.Promote(ctx, 20)
	require.ErrorIs(t, err, ErrPersistence)

	exists, err := env.storage.UserExists(ctx, 20)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, "5", env.user(t, 10).Balance.String())
	assert.Equal(t, 0, env.user(t, 10).Invites)

	// The pending entry survives, so a retry completes the promotion
	referrals.setFail(false)
	_, err = env.ledger.Promote(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, "8", env.user(t, 10).Balance.String())
	assert.Equal(t, []int64{20}, env.graph(t)["10"])
}

func TestPromote_ConcurrentReferrals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 1, "boss", "0", 0)

	const n = 15
	for i := int64(100); i < 100+n; i++ {
		env.register(t, i, ptr(1))
	}

	var wg sync.WaitGroup
	for i := int64(100); i < 100+n; i++ {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, err := env.ledger.Promote(ctx, id)
				assert.NoError(t, err)
			}(i)
		}
	}
	wg.Wait()

	boss := env.user(t, 1)
	assert.Equal(t, n, boss.Invites)
	assert.Equal(t, "45", boss.Balance.String())
	assert.Len(t, env.graph(t)["1"], n)
}

func TestProcessReferral_ReplayCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "0", 0)
	env.seedUser(t, 20, "carol", "0", 0)

	require.NoError(t, env.ledger.ProcessReferral(ctx, 20, 10))
	assert.ErrorIs(t, env.ledger.ProcessReferral(ctx, 20, 10), ErrAlreadyProcessed)

	a := env.user(t, 10)
	assert.Equal(t, "3", a.Balance.String())
	assert.Equal(t, 1, a.Invites)
	assert.Equal(t, []int64{20}, env.graph(t)["10"])
}

func TestProcessReferral_AfterPromotion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "0", 0)
	env.seedUser(t, 11, "bob", "0", 0)
	env.register(t, 20, ptr(10))

	_, err := env.ledger.Promote(ctx, 20)
	require.NoError(t, err)

	assert.ErrorIs(t, env.ledger.ProcessReferral(ctx, 20, 10), ErrAlreadyProcessed)
	assert.ErrorIs(t, env.ledger.ProcessReferral(ctx, 20, 11), ErrAlreadyProcessed, "no double attribution")
	assert.Equal(t, "3", env.user(t, 10).Balance.String())
	assert.True(t, env.user(t, 11).Balance.IsZero())
}

func TestProcessReferral_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "0", 0)

	assert.ErrorIs(t, env.ledger.ProcessReferral(ctx, 10, 10), ErrInvalidInput)
	assert.ErrorIs(t, env.ledger.ProcessReferral(ctx, 20, 999), ErrNotFound)
	assert.ErrorIs(t, env.ledger.ProcessReferral(ctx, 0, 10), ErrInvalidInput)
	assert.True(t, env.user(t, 10).Balance.IsZero())
}

func TestProcessReferral_UnknownReferredUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "0", 0)

	for id := int64(900000); id < 900005; id++ {
		assert.ErrorIs(t, env.ledger.ProcessReferral(ctx, id, 10), ErrNotFound)
	}

	a := env.user(t, 10)
	assert.True(t, a.Balance.IsZero())
	assert.Zero(t, a.Invites)
	assert.Empty(t, env.graph(t)["10"])
	has, err := env.storage.HasCredit(ctx, referralKey(900000))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestProcessReferral_PendingClaimKeepsInvitor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "0", 0)
	env.seedUser(t, 11, "bob", "0", 0)
	env.register(t, 20, ptr(10))

	assert.ErrorIs(t, env.ledger.ProcessReferral(ctx, 20, 11), ErrNotFound)

	_, err := env.ledger.Promote(ctx, 20)
	require.NoError(t, err)

	assert.Equal(t, "3", env.user(t, 10).Balance.String())
	assert.True(t, env.user(t, 11).Balance.IsZero())
	assert.Equal(t, []int64{20}, env.graph(t)["10"])
	assert.Empty(t, env.graph(t)["11"])
}

func TestReferrals_ListsUsernames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, "alice", "0", 0)
	env.register(t, 20, ptr(10))
	env.seedUser(t, 21, "", "0", 0)
	_, err := env.ledger.Promote(ctx, 20)
	require.NoError(t, err)
	require.NoError(t, env.ledger.ProcessReferral(ctx, 21, 10))

	refs, err := env.ledger.Referrals(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []Referral{{ID: 20, Username: "user20"}, {ID: 21, Username: "---"}}, refs)

	none, err := env.ledger.Referrals(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreditOnce_Replay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 1, "a", "1", 0)

	u, err := env.ledger.CreditOnce(ctx, "task:7:1", decimal.NewFromInt(2), 1)
	require.NoError(t, err)
	assert.Equal(t, "3", u.Balance.String())

	_, err = env.ledger.CreditOnce(ctx, "task:7:1", decimal.NewFromInt(2), 1)
	assert.ErrorIs(t, err, ErrAlreadyCredited)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, "3", env.user(t, 1).Balance.String())
}

func TestCreditOnce_UnknownUserLeavesNoMarker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.ledger.CreditOnce(ctx, "task:7:9", decimal.NewFromInt(2), 9)
	assert.ErrorIs(t, err, ErrNotFound)

	has, err := env.storage.HasCredit(ctx, "task:7:9")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = env.ledger.CreditOnce(ctx, "task:7:9", decimal.Zero, 9)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUserData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, 20, nil)
	env.verifier.setUnsubscribed(20)

	view, err := env.ledger.UserData(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(20), view.User.ID)
	assert.False(t, view.IsSubscribed)
	assert.Equal(t, "10", view.MinWithdrawal.String())

	_, err = env.ledger.UserData(ctx, 21)
	assert.ErrorIs(t, err, ErrNotFound)
}
