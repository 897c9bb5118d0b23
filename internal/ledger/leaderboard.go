package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/commando-rewards/internal/persist"
)

// LeaderboardEntry is one row of the published leaderboard
type LeaderboardEntry struct {
	Rank      int             `json:"rank"`
	ID        int64           `json:"id"`
	Username  string          `json:"username"`
	FirstName string          `json:"first_name"`
	Balance   decimal.Decimal `json:"balance"`
}

// GenerateLeaderboard snapshots the top non-banned users by balance
func (l *Ledger) GenerateLeaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	users, err := l.storage.TopByBalance(ctx, l.cfg.LeaderboardSize)
	if err != nil {
		return nil, persistErr("top users", err)
	}

	board := make([]LeaderboardEntry, 0, len(users))
	for i, u := range users {
		board = append(board, LeaderboardEntry{
			Rank:      i + 1,
			ID:        u.ID,
			Username:  u.Username,
			FirstName: u.FirstName,
			Balance:   u.Balance,
		})
	}

	if err := persist.WriteJSONAtomic(l.leaderboardPath(), board); err != nil {
		return nil, persistErr("write leaderboard", err)
	}
	l.log.Info("leaderboard generated", "entries", len(board))
	return board, nil
}

// GenerateLeaderboardAs is GenerateLeaderboard restricted to admins
func (l *Ledger) GenerateLeaderboardAs(ctx context.Context, adminID int64) ([]LeaderboardEntry, error) {
	if _, err := l.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	return l.GenerateLeaderboard(ctx)
}

// Leaderboard returns the last published snapshot, empty if none exists
func (l *Ledger) Leaderboard(_ context.Context) ([]LeaderboardEntry, error) {
	data, err := os.ReadFile(l.leaderboardPath())
	if errors.Is(err, os.ErrNotExist) {
		return []LeaderboardEntry{}, nil
	}
	if err != nil {
		return nil, persistErr("read leaderboard", err)
	}

	board := []LeaderboardEntry{}
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, persistErr("decode leaderboard", err)
	}
	return board, nil
}
