package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ADMIN_ID", "6434711549")
	t.Setenv("OPERATOR_CHAT_ID", "")
	t.Setenv("WITHDRAW_CHAT_ID", "")

	cfg := Load()

	assert.Equal(t, int64(6434711549), cfg.AdminID)
	assert.Equal(t, cfg.AdminID, cfg.OperatorChatID)
	assert.Equal(t, cfg.AdminID, cfg.WithdrawChatID)
	assert.Equal(t, "3", cfg.ReferralReward.String())
	assert.Equal(t, "0.05", cfg.AdReward.String())
	assert.Equal(t, 50, cfg.AdsDailyLimit)
	assert.Equal(t, 1500*time.Millisecond, cfg.PenaltyPacing)
	assert.Equal(t, 50*time.Millisecond, cfg.BroadcastPacing)
	assert.Equal(t, "file", cfg.StoreBackend)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("OPERATOR_CHAT_ID", "-1002894165549")
	t.Setenv("WITHDRAW_CHAT_ID", "-1002979951308")
	t.Setenv("VERIFY_TIMEOUT", "3s")
	t.Setenv("REFERRAL_REWARD", "2.5")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("HTTP_PORT", "not-a-number")

	cfg := Load()

	assert.Equal(t, int64(-1002894165549), cfg.OperatorChatID)
	assert.Equal(t, int64(-1002979951308), cfg.WithdrawChatID)
	assert.Equal(t, 3*time.Second, cfg.VerifyTimeout)
	assert.Equal(t, "2.5", cfg.ReferralReward.String())
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, 5000, cfg.HTTPPort)
}
