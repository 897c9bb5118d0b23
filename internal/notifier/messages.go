package notifier

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/commando-rewards/internal/storage"
)

// Currency is the display unit of balances
const Currency = "CMD"

func userLink(id int64, name string) string {
	if name == "" {
		name = fmt.Sprint(id)
	}
	return fmt.Sprintf("<a href='tg://user?id=%d'>%s</a>", id, escape(name))
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func formatAmount(d decimal.Decimal) string {
	return d.Round(4).String() + " " + Currency
}

// ReferralCredited is the operator message for a granted referral reward
func ReferralCredited(referrer *storage.User, referredID int64, reward decimal.Decimal, source string) string {
	return fmt.Sprintf(
		"✅ <b>Referral applied</b> (%s)\n\n"+
			"Referrer: %s\n"+
			"Referred: <code>%d</code>\n"+
			"Reward: +%s, +1 invite\n"+
			"New balance: <b>%s</b>",
		source,
		userLink(referrer.ID, referrer.Username),
		referredID,
		formatAmount(reward),
		formatAmount(referrer.Balance),
	)
}

// PenaltyApplied is the operator message for a revoked referral
func PenaltyApplied(referrer *storage.User, referredID int64, penalty decimal.Decimal) string {
	return fmt.Sprintf(
		"🔻 <b>Referral audit penalty</b>\n\n"+
			"Referrer: %s\n"+
			"Referred (not subscribed): <code>%d</code>\n"+
			"Action: -1 invite, -%s\n"+
			"New balance: <b>%s</b>",
		userLink(referrer.ID, referrer.Username),
		referredID,
		formatAmount(penalty),
		formatAmount(referrer.Balance),
	)
}

// PenaltyNotice tells the referrer why points were removed
func PenaltyNotice(referredName string, penalty decimal.Decimal) string {
	return fmt.Sprintf("لقد تم حذف %s نقاط بسبب خروج %s من قنوات الاشتراك الاجباري 💔.",
		penalty.String(), escape(referredName))
}

// SweepStarted is the operator message sent before an audit sweep
func SweepStarted(id string) string {
	return fmt.Sprintf("🔍 Referral audit started\n<code>%s</code>", id)
}

// SweepFinished summarises an audit sweep
func SweepFinished(id string, checked, penalized, errors int, cancelled bool) string {
	status := "finished"
	if cancelled {
		status = "cancelled"
	}
	return fmt.Sprintf(
		"🏁 Referral audit %s\n<code>%s</code>\n\n"+
			"Checked: <b>%d</b>\n"+
			"Penalized: <b>%d</b>\n"+
			"Errors: <b>%d</b>",
		status, id, checked, penalized, errors,
	)
}

// WithdrawalRequested is the payout chat message for a new request
func WithdrawalRequested(w *storage.Withdrawal, user *storage.User) string {
	lines := []string{
		"💸 <b>Withdrawal request</b>",
		"",
		fmt.Sprintf("User: %s", userLink(user.ID, user.Username)),
		fmt.Sprintf("Amount: <b>%s</b>", formatAmount(w.Amount)),
		fmt.Sprintf("Method: %s", escape(w.Method)),
		fmt.Sprintf("Address: <code>%s</code>", escape(w.Address)),
		fmt.Sprintf("Balance: %s", formatAmount(user.Balance)),
		"",
		fmt.Sprintf("ID: <code>%s</code>", w.ID),
	}
	return strings.Join(lines, "\n")
}

// WithdrawalAccepted confirms a completed payout to the user
func WithdrawalAccepted(w *storage.Withdrawal, balance decimal.Decimal) string {
	return fmt.Sprintf(
		"✅ تم قبول طلب السحب الخاص بك\n\n"+
			"المبلغ: <b>%s</b>\n"+
			"الرصيد الجديد: <b>%s</b>",
		formatAmount(w.Amount), formatAmount(balance),
	)
}

// SettingsUpdated is the operator message after an admin changed settings
func SettingsUpdated(adminID int64) string {
	return fmt.Sprintf("⚙️ Admin <code>%d</code> updated system settings.", adminID)
}

// TaskDeleted is the operator message after an admin removed a task
func TaskDeleted(adminID int64, taskID int) string {
	return fmt.Sprintf("🗑 Admin <code>%d</code> deleted task <b>%d</b>.", adminID, taskID)
}

// BroadcastFinished summarises a broadcast for the operator
func BroadcastFinished(id string, delivered, failed, total int, cancelled bool) string {
	status := "finished"
	if cancelled {
		status = "cancelled"
	}
	return fmt.Sprintf(
		"📣 Broadcast %s\n<code>%s</code>\n\n"+
			"Delivered: <b>%d</b>\n"+
			"Failed: <b>%d</b>\n"+
			"Total: <b>%d</b>",
		status, id, delivered, failed, total,
	)
}

// PartnershipRequested is the operator message for a new channel partnership
func PartnershipRequested(id string, userID int64, username, name, link, description string) string {
	lines := []string{
		"🤝 <b>Partnership request</b>",
		"",
		fmt.Sprintf("User: %s", userLink(userID, username)),
		fmt.Sprintf("Channel: %s", escape(name)),
		fmt.Sprintf("Link: %s", escape(link)),
	}
	if description != "" {
		lines = append(lines, fmt.Sprintf("Description: %s", escape(description)))
	}
	lines = append(lines, "", fmt.Sprintf("ID: <code>%s</code>", id))
	return strings.Join(lines, "\n")
}

// PartnershipReviewed tells the requester how the admin decided
func PartnershipReviewed(channelName string, approved bool) string {
	if approved {
		return fmt.Sprintf("✅ تمت الموافقة على طلب الشراكة لقناة %s", escape(channelName))
	}
	return fmt.Sprintf("❌ تم رفض طلب الشراكة لقناة %s", escape(channelName))
}
