// Package membership decides whether a user satisfies the required channel
// subscriptions. Lookups that fail are treated as satisfied.
package membership

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/metrics"
)

// Member statuses that count as subscribed
const (
	StatusMember        = "member"
	StatusAdministrator = "administrator"
	StatusCreator       = "creator"
)

// MemberLookup asks the messaging platform for a user's status in a public chat.
type MemberLookup interface {
	ChatMemberStatus(ctx context.Context, chat string, userID int64) (string, error)
}

// ChannelSource returns the currently required channels.
type ChannelSource interface {
	Load() *config.Settings
}

// Verifier checks required channel membership
type Verifier struct {
	lookup   MemberLookup
	channels ChannelSource
	timeout  time.Duration
	log      *slog.Logger
}

// NewVerifier creates a new Verifier
func NewVerifier(lookup MemberLookup, channels ChannelSource, timeout time.Duration, log *slog.Logger) *Verifier {
	return &Verifier{
		lookup:   lookup,
		channels: channels,
		timeout:  timeout,
		log:      log,
	}
}

// ParseChannel extracts the public handle from a t.me link. checkable is
// false for external URLs, invite links and bot handles.
func ParseChannel(channelURL string) (handle string, checkable bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(channelURL), "https://t.me/")
	if !ok {
		rest, ok = strings.CutPrefix(strings.TrimSpace(channelURL), "http://t.me/")
	}
	if !ok {
		return "", false
	}

	rest = strings.SplitN(rest, "?", 2)[0]
	rest = strings.TrimSuffix(rest, "/")
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		rest = rest[i+1:]
	}
	handle = strings.TrimSpace(rest)

	switch {
	case handle == "":
		return "", false
	case strings.HasPrefix(handle, "+"), strings.EqualFold(handle, "joinchat"):
		return handle, false
	case strings.HasSuffix(strings.ToLower(handle), "bot"):
		return handle, false
	}
	return handle, true
}

// IsMember reports whether userID belongs to the channel behind channelURL.
func (v *Verifier) IsMember(ctx context.Context, userID int64, channelURL string) bool {
	handle, checkable := ParseChannel(channelURL)
	if !checkable {
		metrics.MembershipChecksTotal.WithLabelValues("skipped").Inc()
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	status, err := v.lookup.ChatMemberStatus(ctx, "@"+handle, userID)
	if err != nil {
		metrics.MembershipChecksTotal.WithLabelValues("fail_open").Inc()
		v.log.Warn("could not verify membership",
			"channel", handle,
			"user_id", userID,
			"error", err,
		)
		return true
	}

	switch status {
	case StatusMember, StatusAdministrator, StatusCreator:
		metrics.MembershipChecksTotal.WithLabelValues("member").Inc()
		return true
	}
	metrics.MembershipChecksTotal.WithLabelValues("not_member").Inc()
	return false
}

// IsSubscribed reports whether userID is a member of every required channel.
func (v *Verifier) IsSubscribed(ctx context.Context, userID int64) bool {
	for _, ch := range v.channels.Load().RequiredChannels {
		if !v.IsMember(ctx, userID, ch.URL) {
			return false
		}
	}
	return true
}
