package httpapi

import (
	"errors"
	"math"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/commando-rewards/internal/ledger"
)

func (s *Server) params(w http.ResponseWriter, r *http.Request) (*params, bool) {
	p, err := readParams(r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return p, true
}

func (s *Server) handleUserData(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	userID, ok := p.id("userId", "user_id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "User ID is required")
		return
	}

	view, err := s.svc.UserData(r.Context(), userID)
	if err != nil {
		s.fail(w, r, "user data", err)
		return
	}
	writeOK(w, envelope{
		"user":           view.User,
		"isSubscribed":   view.IsSubscribed,
		"min_withdrawal": view.MinWithdrawal,
	})
}

func (s *Server) handleReferrals(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	userID, ok := p.id("userId", "user_id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "User ID is required")
		return
	}

	refs, err := s.svc.Referrals(r.Context(), userID)
	if err != nil {
		s.fail(w, r, "get referrals", err)
		return
	}
	if refs == nil {
		refs = []ledger.Referral{}
	}
	writeOK(w, envelope{"referrals": refs, "count": len(refs)})
}

func (s *Server) handleProcessReferral(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	userID, okUser := p.id("userId")
	referrerID, okRef := p.id("referralId")
	if !okUser || !okRef {
		writeFailure(w, http.StatusBadRequest, "User ID and Referral ID are required")
		return
	}

	err := s.svc.ProcessReferral(r.Context(), userID, referrerID)
	if errors.Is(err, ledger.ErrAlreadyProcessed) {
		writeOK(w, envelope{"credited": false})
		return
	}
	if err != nil {
		s.fail(w, r, "process referral", err)
		return
	}
	writeOK(w, envelope{"credited": true})
}

func (s *Server) handleVerifySubscription(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	userID, ok := p.id("userId", "user_id")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "User ID is required")
		return
	}

	if !s.verifier.IsSubscribed(r.Context(), userID) {
		writeJSON(w, http.StatusOK, envelope{"success": false, "error": "User is not subscribed to all required channels"})
		return
	}
	writeOK(w, envelope{"message": "Subscription verified"})
}

func (s *Server) handleVerifyChannel(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	userID, ok := p.id("userId", "user_id")
	channel := p.str("channelUrl", "channel_url")
	if !ok || channel == "" {
		writeFailure(w, http.StatusBadRequest, "User ID and Channel URL are required")
		return
	}

	if !s.verifier.IsMember(r.Context(), userID, channel) {
		writeJSON(w, http.StatusOK, envelope{"success": false, "error": "User is not subscribed to this channel"})
		return
	}
	writeOK(w, envelope{"message": "Subscription verified"})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	userID, ok := p.id("user_id", "userId")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "user_id is required")
		return
	}

	tasks, err := s.svc.TasksFor(r.Context(), userID)
	if err != nil {
		s.fail(w, r, "list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []ledger.Task{}
	}
	writeOK(w, envelope{"tasks": tasks})
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	userID, okUser := p.id("user_id", "userId")
	taskID, okTask := taskIDParam(p)
	if !okUser || !okTask {
		writeFailure(w, http.StatusBadRequest, "user_id and task_id are required")
		return
	}

	user, task, err := s.svc.CompleteTask(r.Context(), userID, taskID)
	if err != nil {
		s.fail(w, r, "complete task", err)
		return
	}
	writeOK(w, envelope{"reward": task.Reward, "new_balance": user.Balance})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	reward, err := decimal.NewFromString(p.str("reward"))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Missing fields")
		return
	}
	adminID, _ := p.id("admin_id")

	task, err := s.svc.CreateTask(r.Context(), adminID, ledger.Task{
		Title:       p.str("title"),
		Description: p.str("description"),
		Reward:      reward,
		Channel:     p.str("channel"),
	})
	if err != nil {
		s.fail(w, r, "create task", err)
		return
	}
	writeOK(w, envelope{"task": task})
}

func (s *Server) handleWatchAd(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	userID, ok := p.id("telegram_id", "user_id", "userId")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "telegram_id is required")
		return
	}

	user, err := s.svc.WatchAd(r.Context(), userID)
	if err != nil {
		s.fail(w, r, "watch ad", err)
		return
	}
	writeOK(w, envelope{
		"new_balance":       user.Balance,
		"ads_watched_today": user.AdsWatchedToday,
		"level":             user.Level,
		"points":            user.Points,
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.Leaderboard(r.Context())
	if err != nil {
		s.fail(w, r, "leaderboard", err)
		return
	}
	if entries == nil {
		entries = []ledger.LeaderboardEntry{}
	}
	writeOK(w, envelope{"leaderboard": entries})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	userID, _ := p.id("userId", "user_id")
	amount, err := decimal.NewFromString(p.str("amount"))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	wd, err := s.svc.RequestWithdrawal(r.Context(), ledger.WithdrawalRequest{
		UserID:  userID,
		Amount:  amount,
		Method:  p.str("method"),
		Address: p.str("address"),
	})
	if err != nil {
		s.fail(w, r, "request withdrawal", err)
		return
	}
	writeOK(w, envelope{"withdrawal": wd})
}

func (s *Server) handleWithdrawAccept(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")
	id := p.str("withdrawal_id", "id")
	if id == "" {
		writeFailure(w, http.StatusBadRequest, "withdrawal_id is required")
		return
	}

	wd, user, err := s.svc.AcceptWithdrawal(r.Context(), adminID, id)
	if err != nil {
		s.fail(w, r, "accept withdrawal", err)
		return
	}
	writeOK(w, envelope{"withdrawal": wd, "new_balance": user.Balance})
}

func taskIDParam(p *params) (int, bool) {
	id, ok := p.id("task_id", "taskId")
	if !ok || id > math.MaxInt32 {
		return 0, false
	}
	return int(id), true
}

func (s *Server) handlePartnershipRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	userID, okUser := p.id("user_id", "userId")
	name, link := p.str("channel_name"), p.str("channel_link")
	if !okUser || name == "" || link == "" {
		writeFailure(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	req, err := s.svc.RequestPartnership(r.Context(), userID, name, link, p.str("channel_description"))
	if err != nil {
		s.fail(w, r, "partnership request", err)
		return
	}
	writeOK(w, envelope{"request": req, "message": "Partnership request sent to admin"})
}
