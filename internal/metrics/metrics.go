package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CreditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_credits_total",
			Help: "Credit requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	PromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_promotions_total",
			Help: "Promotions of pending users by outcome",
		},
		[]string{"outcome"},
	)

	PenaltiesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rewards_penalties_total",
			Help: "Referral penalties applied by audit sweeps",
		},
	)

	MembershipChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_membership_checks_total",
			Help: "Channel membership lookups by result",
		},
		[]string{"result"},
	)

	NotificationsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rewards_notifications_failed_total",
			Help: "Outbound notifications that could not be delivered",
		},
	)

	SweepsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rewards_audit_sweeps_running",
			Help: "Audit sweeps currently in progress",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rewards_audit_sweep_duration_seconds",
			Help:    "Duration of completed audit sweeps",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	BroadcastMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_broadcast_messages_total",
			Help: "Broadcast messages by delivery result",
		},
		[]string{"result"},
	)

	PartnershipRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_partnership_requests_total",
			Help: "Partnership requests by status transition",
		},
		[]string{"status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
