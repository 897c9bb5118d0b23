package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/metrics"
)

// Messenger delivers a text message to a chat
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Notifier sends best-effort notifications to the operator, the payout chat
// and individual users. Delivery failures are logged and never returned.
type Notifier struct {
	messenger    Messenger
	operatorChat int64
	withdrawChat int64
	timeout      time.Duration
	log          *slog.Logger
}

// New creates a new Notifier
func New(cfg *config.Config, messenger Messenger, log *slog.Logger) *Notifier {
	return &Notifier{
		messenger:    messenger,
		operatorChat: cfg.OperatorChatID,
		withdrawChat: cfg.WithdrawChatID,
		timeout:      cfg.NotifyTimeout,
		log:          log,
	}
}

// Operator notifies the operator chat
func (n *Notifier) Operator(ctx context.Context, text string) {
	n.send(ctx, n.operatorChat, text)
}

// Withdrawals notifies the payout chat
func (n *Notifier) Withdrawals(ctx context.Context, text string) {
	n.send(ctx, n.withdrawChat, text)
}

// User notifies a single user and reports whether the message was delivered
func (n *Notifier) User(ctx context.Context, userID int64, text string) bool {
	return n.send(ctx, userID, text)
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) bool {
	if chatID == 0 {
		n.log.Debug("notification dropped: no chat configured")
		return false
	}

	// Delivery outlives the request that triggered it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.messenger.SendText(ctx, chatID, text); err != nil {
		metrics.NotificationsFailedTotal.Inc()
		n.log.Error("send notification",
			"chat_id", chatID,
			"error", err,
		)
		return false
	}
	return true
}
