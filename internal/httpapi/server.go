package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/ledger"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

// Service is the ledger surface the web app and admin panel call into
type Service interface {
	UserData(ctx context.Context, userID int64) (*ledger.UserView, error)
	Referrals(ctx context.Context, referrerID int64) ([]ledger.Referral, error)
	ProcessReferral(ctx context.Context, userID, referrerID int64) error

	TasksFor(ctx context.Context, userID int64) ([]ledger.Task, error)
	CompleteTask(ctx context.Context, userID int64, taskID int) (*storage.User, *ledger.Task, error)
	CreateTask(ctx context.Context, adminID int64, t ledger.Task) (*ledger.Task, error)
	DeleteTask(ctx context.Context, adminID int64, taskID int) error

	WatchAd(ctx context.Context, userID int64) (*storage.User, error)
	Leaderboard(ctx context.Context) ([]ledger.LeaderboardEntry, error)
	GenerateLeaderboardAs(ctx context.Context, adminID int64) ([]ledger.LeaderboardEntry, error)

	RequestWithdrawal(ctx context.Context, req ledger.WithdrawalRequest) (*storage.Withdrawal, error)
	AcceptWithdrawal(ctx context.Context, adminID int64, withdrawalID string) (*storage.Withdrawal, *storage.User, error)
	Withdrawals(ctx context.Context, adminID int64, status string) ([]storage.Withdrawal, error)

	ListUsers(ctx context.Context, adminID int64) ([]storage.User, error)
	UserInfo(ctx context.Context, adminID, userID int64) (*ledger.UserInfo, error)
	UpdateUserField(ctx context.Context, adminID, userID int64, field string, value any) (*storage.User, error)
	Stats(ctx context.Context, adminID int64) (*storage.Stats, error)
	UpdateSettings(ctx context.Context, adminID int64, next *config.Settings) error
	TriggerAudit(ctx context.Context, adminID int64) (ledger.Sweep, error)
	AuditStatus(ctx context.Context, adminID int64, sweepID string) (ledger.Sweep, error)
	CancelAudit(ctx context.Context, adminID int64, sweepID string) error
	PenaltyLog(ctx context.Context, adminID int64) (map[string]ledger.PenaltyRecord, error)

	SendBroadcast(ctx context.Context, adminID int64, text string) (ledger.Broadcast, error)
	BroadcastStatus(ctx context.Context, adminID int64, id string) (ledger.Broadcast, error)
	CancelBroadcast(ctx context.Context, adminID int64, id string) error

	RequestPartnership(ctx context.Context, userID int64, name, link, description string) (*ledger.PartnershipRequest, error)
	Partnerships(ctx context.Context, adminID int64, status string) ([]ledger.PartnershipRequest, error)
	ReviewPartnership(ctx context.Context, adminID int64, requestID, status string) (*ledger.PartnershipRequest, error)
}

// Verifier answers the subscription endpoints
type Verifier interface {
	IsSubscribed(ctx context.Context, userID int64) bool
	IsMember(ctx context.Context, userID int64, channelURL string) bool
}

// Server serves the web app API
type Server struct {
	svc      Service
	verifier Verifier
	adminKey string
	log      *slog.Logger

	server *http.Server
}

// NewServer creates a new API server. A non-empty adminKey must accompany
// every /api/admin request.
func NewServer(svc Service, verifier Verifier, adminKey string, log *slog.Logger) *Server {
	return &Server{
		svc:      svc,
		verifier: verifier,
		adminKey: adminKey,
		log:      log,
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.instrument)
	r.Use(cors)

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/user-data", s.handleUserData)
		r.Post("/user-data", s.handleUserData)
		r.Get("/get_referrals", s.handleReferrals)
		r.Post("/get_referrals", s.handleReferrals)
		r.Post("/process-referral", s.handleProcessReferral)
		r.Post("/verify-subscription", s.handleVerifySubscription)
		r.Post("/verify-channel", s.handleVerifyChannel)

		r.Get("/tasks", s.handleTasks)
		r.Post("/tasks/complete", s.handleCompleteTask)
		r.Post("/tasks/create", s.handleCreateTask)

		r.Get("/watch-ad", s.handleWatchAd)
		r.Get("/leaderboard", s.handleLeaderboard)

		r.Post("/withdraw", s.handleWithdraw)
		r.Post("/withdraw_accept", s.handleWithdrawAccept)

		r.Post("/partnership-request", s.handlePartnershipRequest)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdminKey)
			r.Get("/users", s.handleAdminUsers)
			r.Post("/user-info", s.handleAdminUserInfo)
			r.Post("/update-user", s.handleAdminUpdateUser)
			r.Get("/stats", s.handleAdminStats)
			r.Post("/update-settings", s.handleAdminUpdateSettings)
			r.Post("/delete-task", s.handleAdminDeleteTask)
			r.Post("/generate-leaderboard", s.handleAdminGenerateLeaderboard)
			r.Get("/withdrawals", s.handleAdminWithdrawals)
			r.Post("/trigger-audit", s.handleAdminTriggerAudit)
			r.Get("/audit/{id}", s.handleAdminAuditStatus)
			r.Post("/audit/{id}/cancel", s.handleAdminAuditCancel)
			r.Get("/penalties", s.handleAdminPenalties)
			r.Post("/send-broadcast", s.handleAdminSendBroadcast)
			r.Get("/broadcast/{id}", s.handleAdminBroadcastStatus)
			r.Post("/broadcast/{id}/cancel", s.handleAdminBroadcastCancel)
			r.Get("/partnership-requests", s.handleAdminPartnerships)
			r.Post("/update-partnership", s.handleAdminUpdatePartnership)
		})
	})
	return r
}

// Start starts the API server and blocks until ctx is cancelled or the
// listener fails
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("starting api server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("api server shutdown", "error", err)
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
