package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

const rawTONAddress = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"

func TestRequestWithdrawal_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 5, "u", "20", 0)

	cases := []struct {
		name string
		req  WithdrawalRequest
		want error
	}{
		{"below minimum", WithdrawalRequest{UserID: 5, Amount: decimal.NewFromInt(5), Method: "usdt_bep20", Address: "0xabc"}, ErrInvalidInput},
		{"unknown method", WithdrawalRequest{UserID: 5, Amount: decimal.NewFromInt(15), Method: "paypal", Address: "a@b"}, ErrInvalidInput},
		{"bad ton address", WithdrawalRequest{UserID: 5, Amount: decimal.NewFromInt(15), Method: "TON", Address: "not-an-address"}, ErrInvalidInput},
		{"insufficient", WithdrawalRequest{UserID: 5, Amount: decimal.NewFromInt(25), Method: "usdt_bep20", Address: "0xabc"}, ErrInsufficientBalance},
		{"unknown user", WithdrawalRequest{UserID: 6, Amount: decimal.NewFromInt(15), Method: "usdt_bep20", Address: "0xabc"}, ErrNotFound},
		{"missing address", WithdrawalRequest{UserID: 5, Amount: decimal.NewFromInt(15), Method: "usdt_bep20"}, ErrInvalidInput},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := env.ledger.RequestWithdrawal(ctx, c.req)
			assert.ErrorIs(t, err, c.want)
		})
	}
	assert.Empty(t, env.notify.withdrawals)
}

func TestRequestWithdrawal_TONAddressNormalized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 5, "u", "20", 0)

	w, err := env.ledger.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID: 5, Amount: decimal.NewFromInt(15), Method: "ton", Address: rawTONAddress,
	})
	require.NoError(t, err)
	assert.Equal(t, storage.WithdrawalPending, w.Status)
	assert.NotEqual(t, rawTONAddress, w.Address)
	assert.Len(t, w.Address, 48)

	// Requesting does not debit
	assert.Equal(t, "20", env.user(t, 5).Balance.String())
	assert.Len(t, env.notify.withdrawals, 1)
}

func TestAcceptWithdrawal_DebitsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAdmin(t, 1)
	env.seedUser(t, 5, "u", "20", 0)

	w, err := env.ledger.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID: 5, Amount: decimal.NewFromInt(15), Method: "usdt_bep20", Address: "0xabc",
	})
	require.NoError(t, err)

	_, _, err = env.ledger.AcceptWithdrawal(ctx, 5, w.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	done, user, err := env.ledger.AcceptWithdrawal(ctx, 1, w.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.WithdrawalCompleted, done.Status)
	assert.Equal(t, "5", user.Balance.String())

	_, _, err = env.ledger.AcceptWithdrawal(ctx, 1, w.ID)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, "5", env.user(t, 5).Balance.String())

	_, _, err = env.ledger.AcceptWithdrawal(ctx, 1, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	pending, err := env.ledger.Withdrawals(ctx, 1, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAcceptWithdrawal_BalanceSpentMeanwhile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAdmin(t, 1)
	env.seedUser(t, 5, "u", "20", 0)

	w, err := env.ledger.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID: 5, Amount: decimal.NewFromInt(15), Method: "usdt_bep20", Address: "0xabc",
	})
	require.NoError(t, err)
	_, err = env.ledger.UpdateUserField(ctx, 1, 5, "balance", "3")
	require.NoError(t, err)

	_, _, err = env.ledger.AcceptWithdrawal(ctx, 1, w.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	got, err := env.storage.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.WithdrawalPending, got.Status, "rolled back")
}

func TestUpdateSettings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAdmin(t, 1)

	next := testSettings()
	next.MinWithdrawal = 25
	require.NoError(t, env.ledger.UpdateSettings(ctx, 1, next))
	assert.Equal(t, "25", env.ledger.Settings().MinWithdrawalAmount().String())

	err := env.ledger.UpdateSettings(ctx, 1, &config.Settings{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "25", env.ledger.Settings().MinWithdrawalAmount().String())

	assert.ErrorIs(t, env.ledger.UpdateSettings(ctx, 2, next), ErrUnauthorized)
}

func TestAdminUserOps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAdmin(t, 1)
	env.seedUser(t, 10, "alice", "0", 0)
	env.referred(t, 10, 20)

	info, err := env.ledger.UserInfo(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "3", info.User.Balance.String())
	assert.Len(t, info.Referrals, 1)
	assert.True(t, info.Subscribed)

	_, err = env.ledger.UpdateUserField(ctx, 1, 10, "id", float64(3))
	assert.ErrorIs(t, err, ErrInvalidInput)

	u, err := env.ledger.UpdateUserField(ctx, 1, 10, "banned", true)
	require.NoError(t, err)
	assert.True(t, u.Banned)

	users, err := env.ledger.ListUsers(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, users, 3)

	st, err := env.ledger.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalUsers)

	_, err = env.ledger.ListUsers(ctx, 10)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	board, err := env.ledger.Leaderboard(ctx)
	require.NoError(t, err)
	assert.Empty(t, board)

	env.seedUser(t, 1, "a", "5", 0)
	env.seedUser(t, 2, "b", "9", 0)
	_, err = env.ledger.GenerateLeaderboard(ctx)
	require.NoError(t, err)

	board, err = env.ledger.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, int64(2), board[0].ID)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "9", board[0].Balance.String())
}
