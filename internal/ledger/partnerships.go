package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/suspectuso/commando-rewards/internal/metrics"
	"github.com/suspectuso/commando-rewards/internal/notifier"
)

// Partnership request states. Only pending requests can be reviewed.
const (
	PartnershipPending  = "pending"
	PartnershipApproved = "approved"
	PartnershipRejected = "rejected"
)

const (
	maxChannelName        = 128
	maxChannelDescription = 1024
)

// PartnershipRequest is a channel owner asking to be listed
type PartnershipRequest struct {
	ID                 string     `json:"id"`
	UserID             int64      `json:"user_id"`
	Username           string     `json:"username"`
	FirstName          string     `json:"first_name"`
	ChannelName        string     `json:"channel_name"`
	ChannelLink        string     `json:"channel_link"`
	ChannelDescription string     `json:"channel_description"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy         int64      `json:"reviewed_by,omitempty"`
}

// RequestPartnership records a partnership request from a confirmed user and
// tells the operator. A user may hold one pending request per channel link.
func (l *Ledger) RequestPartnership(ctx context.Context, userID int64, name, link, description string) (*PartnershipRequest, error) {
	name = strings.TrimSpace(name)
	link = strings.TrimSpace(link)
	description = strings.TrimSpace(description)
	if userID <= 0 || name == "" || link == "" {
		return nil, fmt.Errorf("%w: user_id, channel_name and channel_link are required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxChannelName || utf8.RuneCountInString(description) > maxChannelDescription {
		return nil, fmt.Errorf("%w: channel name or description too long", ErrInvalidInput)
	}

	user, err := l.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, storageErr("get user", err)
	}

	req := PartnershipRequest{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Username:           user.Username,
		FirstName:          user.FirstName,
		ChannelName:        name,
		ChannelLink:        link,
		ChannelDescription: description,
		Status:             PartnershipPending,
		CreatedAt:          l.now(),
	}
	err = l.stores.Partnerships.Update(ctx, func(doc map[string]PartnershipRequest) error {
		for _, existing := range doc {
			if existing.UserID == userID && existing.ChannelLink == link && existing.Status == PartnershipPending {
				return fmt.Errorf("pending request %s: %w", existing.ID, ErrAlreadyProcessed)
			}
		}
		doc[req.ID] = req
		return nil
	})
	if err != nil {
		return nil, commitErr("save partnership request", err)
	}

	metrics.PartnershipRequestsTotal.WithLabelValues(PartnershipPending).Inc()
	l.log.Info("partnership requested", "request_id", req.ID, "user_id", userID, "channel", link)
	l.notify.Operator(ctx, notifier.PartnershipRequested(req.ID, userID, user.Username, name, link, description))
	return &req, nil
}

// Partnerships lists partnership requests newest first. An empty status
// returns every request.
func (l *Ledger) Partnerships(ctx context.Context, adminID int64, status string) ([]PartnershipRequest, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return nil, err
	}

	doc, err := l.stores.Partnerships.Snapshot(ctx)
	if err != nil {
		return nil, persistErr("load partnership requests", err)
	}

	out := make([]PartnershipRequest, 0, len(doc))
	for _, req := range doc {
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ReviewPartnership approves or rejects a pending request and tells the
// requester
func (l *Ledger) ReviewPartnership(ctx context.Context, adminID int64, requestID, status string) (*PartnershipRequest, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	if status != PartnershipApproved && status != PartnershipRejected {
		return nil, fmt.Errorf("%w: status must be %s or %s", ErrInvalidInput, PartnershipApproved, PartnershipRejected)
	}

	var req PartnershipRequest
	err := l.stores.Partnerships.Update(ctx, func(doc map[string]PartnershipRequest) error {
		var ok bool
		req, ok = doc[requestID]
		if !ok {
			return ErrNotFound
		}
		if req.Status != PartnershipPending {
			return fmt.Errorf("request is %s: %w", req.Status, ErrAlreadyProcessed)
		}
		now := l.now()
		req.Status = status
		req.ReviewedAt = &now
		req.ReviewedBy = adminID
		doc[requestID] = req
		return nil
	})
	if err != nil {
		return nil, commitErr("review partnership request", err)
	}

	metrics.PartnershipRequestsTotal.WithLabelValues(status).Inc()
	l.log.Info("partnership reviewed", "request_id", requestID, "status", status, "admin_id", adminID)
	l.notify.User(ctx, req.UserID, notifier.PartnershipReviewed(req.ChannelName, status == PartnershipApproved))
	return &req, nil
}
