package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/ledger"
	"github.com/suspectuso/commando-rewards/internal/storage"
)

// Admin endpoints carry admin_id in the body or query. Authorisation is the
// ledger's job; a missing admin_id reaches it as 0 and is rejected there.

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	users, err := s.svc.ListUsers(r.Context(), adminID)
	if err != nil {
		s.fail(w, r, "list users", err)
		return
	}
	if users == nil {
		users = []storage.User{}
	}
	writeOK(w, envelope{"users": users, "count": len(users)})
}

func (s *Server) handleAdminUserInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")
	userID, ok := p.id("user_id", "userId")
	if !ok {
		writeFailure(w, http.StatusBadRequest, "user_id is required")
		return
	}

	info, err := s.svc.UserInfo(r.Context(), adminID, userID)
	if err != nil {
		s.fail(w, r, "user info", err)
		return
	}
	refs := info.Referrals
	if refs == nil {
		refs = []ledger.Referral{}
	}
	writeOK(w, envelope{
		"user":         info.User,
		"referrals":    refs,
		"isSubscribed": info.Subscribed,
	})
}

func (s *Server) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")
	userID, okUser := p.id("user_id", "userId")
	field := p.str("field")
	value, okValue := p.value("value")
	if !okUser || field == "" || !okValue {
		writeFailure(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	user, err := s.svc.UpdateUserField(r.Context(), adminID, userID, field, value)
	if err != nil {
		s.fail(w, r, "update user", err)
		return
	}
	writeOK(w, envelope{"user": user})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	stats, err := s.svc.Stats(r.Context(), adminID)
	if err != nil {
		s.fail(w, r, "stats", err)
		return
	}
	writeOK(w, envelope{"stats": stats})
}

func (s *Server) handleAdminUpdateSettings(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	var next config.Settings
	if err := p.decode(&next); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid settings")
		return
	}

	if err := s.svc.UpdateSettings(r.Context(), adminID, &next); err != nil {
		s.fail(w, r, "update settings", err)
		return
	}
	writeOK(w, envelope{"message": "Settings updated successfully"})
}

func (s *Server) handleAdminDeleteTask(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")
	taskID, ok := taskIDParam(p)
	if !ok {
		writeFailure(w, http.StatusBadRequest, "task_id is required")
		return
	}

	if err := s.svc.DeleteTask(r.Context(), adminID, taskID); err != nil {
		s.fail(w, r, "delete task", err)
		return
	}
	writeOK(w, envelope{"message": "Task deleted"})
}

func (s *Server) handleAdminGenerateLeaderboard(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	entries, err := s.svc.GenerateLeaderboardAs(r.Context(), adminID)
	if err != nil {
		s.fail(w, r, "generate leaderboard", err)
		return
	}
	if entries == nil {
		entries = []ledger.LeaderboardEntry{}
	}
	writeOK(w, envelope{"leaderboard": entries})
}

func (s *Server) handleAdminWithdrawals(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	list, err := s.svc.Withdrawals(r.Context(), adminID, p.str("status"))
	if err != nil {
		s.fail(w, r, "list withdrawals", err)
		return
	}
	if list == nil {
		list = []storage.Withdrawal{}
	}
	writeOK(w, envelope{"withdrawals": list})
}

func (s *Server) handleAdminTriggerAudit(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	sweep, err := s.svc.TriggerAudit(r.Context(), adminID)
	if err != nil {
		s.fail(w, r, "trigger audit", err)
		return
	}
	writeJSON(w, http.StatusAccepted, envelope{"success": true, "sweep": sweep})
}

func (s *Server) handleAdminAuditStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	sweep, err := s.svc.AuditStatus(r.Context(), adminID, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "audit status", err)
		return
	}
	writeOK(w, envelope{"sweep": sweep})
}

func (s *Server) handleAdminAuditCancel(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	if err := s.svc.CancelAudit(r.Context(), adminID, chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, "cancel audit", err)
		return
	}
	writeOK(w, envelope{"message": "Cancellation requested"})
}

func (s *Server) handleAdminPenalties(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	records, err := s.svc.PenaltyLog(r.Context(), adminID)
	if err != nil {
		s.fail(w, r, "penalty log", err)
		return
	}
	writeOK(w, envelope{"penalties": records, "count": len(records)})
}

func (s *Server) handleAdminSendBroadcast(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")
	message := p.str("message")
	if message == "" {
		writeFailure(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	b, err := s.svc.SendBroadcast(r.Context(), adminID, message)
	if err != nil {
		s.fail(w, r, "send broadcast", err)
		return
	}
	writeJSON(w, http.StatusAccepted, envelope{"success": true, "message": "Broadcast started", "broadcast": b})
}

func (s *Server) handleAdminBroadcastStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	b, err := s.svc.BroadcastStatus(r.Context(), adminID, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "broadcast status", err)
		return
	}
	writeOK(w, envelope{"broadcast": b})
}

func (s *Server) handleAdminBroadcastCancel(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	if err := s.svc.CancelBroadcast(r.Context(), adminID, chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, "cancel broadcast", err)
		return
	}
	writeOK(w, envelope{"message": "Cancellation requested"})
}

func (s *Server) handleAdminPartnerships(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")

	list, err := s.svc.Partnerships(r.Context(), adminID, p.str("status"))
	if err != nil {
		s.fail(w, r, "list partnership requests", err)
		return
	}
	if list == nil {
		list = []ledger.PartnershipRequest{}
	}
	writeOK(w, envelope{"requests": list})
}

func (s *Server) handleAdminUpdatePartnership(w http.ResponseWriter, r *http.Request) {
	p, ok := s.params(w, r)
	if !ok {
		return
	}
	adminID, _ := p.id("admin_id")
	requestID, status := p.str("request_id"), p.str("status")
	if requestID == "" || status == "" {
		writeFailure(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	req, err := s.svc.ReviewPartnership(r.Context(), adminID, requestID, status)
	if err != nil {
		s.fail(w, r, "update partnership", err)
		return
	}
	writeOK(w, envelope{"request": req, "message": "Partnership request " + req.Status})
}
