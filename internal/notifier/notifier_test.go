package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

type sent struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeMessenger) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{chatID, text})
	return nil
}

func newTestNotifier(m Messenger, operator, withdraw int64) *Notifier {
	cfg := &config.Config{OperatorChatID: operator, WithdrawChatID: withdraw, NotifyTimeout: time.Second}
	return New(cfg, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNotifier_Routes(t *testing.T) {
	m := &fakeMessenger{}
	n := newTestNotifier(m, -100, -200)

	n.Operator(context.Background(), "op")
	n.Withdrawals(context.Background(), "pay")
	assert.True(t, n.User(context.Background(), 42, "hi"))

	require.Len(t, m.sent, 3)
	assert.Equal(t, sent{-100, "op"}, m.sent[0])
	assert.Equal(t, sent{-200, "pay"}, m.sent[1])
	assert.Equal(t, sent{42, "hi"}, m.sent[2])
}

func TestNotifier_NoChatConfigured(t *testing.T) {
	m := &fakeMessenger{}
	n := newTestNotifier(m, 0, 0)

	assert.False(t, n.send(context.Background(), 0, "x"))
	n.Operator(context.Background(), "op")
	assert.Empty(t, m.sent)
}

func TestNotifier_FailureIsAbsorbed(t *testing.T) {
	m := &fakeMessenger{err: errors.New("Forbidden: bot was blocked by the user")}
	n := newTestNotifier(m, -100, -100)

	assert.False(t, n.send(context.Background(), 7, "x"))
	assert.NotPanics(t, func() { n.User(context.Background(), 7, "x") })
}

func TestNotifier_OutlivesCancelledRequest(t *testing.T) {
	m := &fakeMessenger{}
	n := newTestNotifier(m, -100, -100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, n.send(ctx, 7, "x"))
}

func TestMessages(t *testing.T) {
	referrer := &storage.User{ID: 10, Username: "ali<", Balance: decimal.NewFromInt(7)}

	msg := PenaltyApplied(referrer, 20, decimal.NewFromInt(3))
	assert.Contains(t, msg, "tg://user?id=10")
	assert.Contains(t, msg, "ali&lt;")
	assert.Contains(t, msg, "<code>20</code>")
	assert.Contains(t, msg, "7 CMD")

	assert.Contains(t, PenaltyNotice("bob", decimal.NewFromInt(3)), "bob")
	assert.Contains(t, SweepFinished("abc", 5, 1, 0, true), "cancelled")

	w := &storage.Withdrawal{ID: "w1", Amount: decimal.RequireFromString("12.5"), Method: "TON", Address: "UQabc"}
	out := WithdrawalRequested(w, referrer)
	assert.Contains(t, out, "12.5 CMD")
	assert.Contains(t, out, "<code>w1</code>")
}

func TestPartnershipMessages(t *testing.T) {
	msg := PartnershipRequested("p1", 42, "", "News <daily>", "https://t.me/news", "")
	assert.Contains(t, msg, "tg://user?id=42")
	assert.Contains(t, msg, "News &lt;daily&gt;")
	assert.Contains(t, msg, "<code>p1</code>")
	assert.NotContains(t, msg, "Description")

	assert.Contains(t, BroadcastFinished("b1", 3, 1, 4, false), "Delivered: <b>3</b>")
	assert.NotEqual(t, PartnershipReviewed("x", true), PartnershipReviewed("x", false))
}
