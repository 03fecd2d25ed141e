package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns Defaults() with the credential fields filled in so that
// Validate passes.
func validConfig() Config {
	cfg := Defaults()
	cfg.Kalshi.ApiKeyID = "key-id"
	cfg.Kalshi.RsaPrivateKeyPath = "/etc/kalshibot/key.pem"
	return cfg
}

// TestValidate_DefaultsWithCredentials verifies the shipped defaults are
// internally consistent.
func TestValidate_DefaultsWithCredentials(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

// TestValidate_MissingCredentials verifies the venue credential requirement.
func TestValidate_MissingCredentials(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kalshi: api_key_id")
}

// TestValidate_ContradictoryZScores verifies an exit threshold at or above
// the entry threshold is rejected outright, not clamped.
func TestValidate_ContradictoryZScores(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.StatArb.ZScoreExit = 2.5
	cfg.Strategy.StatArb.ZScoreThreshold = 2.0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zscore_exit")
	assert.Contains(t, err.Error(), "below zscore_threshold")
}

// TestValidate_PositionExceedsExposure verifies the cross-field cap ordering.
func TestValidate_PositionExceedsExposure(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.MaxPositionSize = 0.9
	cfg.Risk.MaxPortfolioExposure = 0.8

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_position_size must not exceed max_portfolio_exposure")
}

// TestValidate_CollectsAllErrors verifies every violation is reported in one
// pass rather than failing fast.
func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "loud"
	cfg.Risk.MaxDailyLoss = 0
	cfg.Strategy.SentimentEnsemble.VolumeThreshold = -1

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "log_level")
	assert.Contains(t, msg, "max_daily_loss")
	assert.Contains(t, msg, "volume_threshold")
	assert.GreaterOrEqual(t, strings.Count(msg, "\n"), 2)
}

// TestValidate_ThresholdBounds verifies probability-style fields stay in range.
func TestValidate_ThresholdBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.SentimentEnsemble.ConfidenceThreshold = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence_threshold")
}

// TestValidate_WeightSum verifies strategy weights cannot overcommit.
func TestValidate_WeightSum(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.Weights = map[string]float64{
		"sentiment_ensemble": 0.8,
		"stat_arb":           0.5,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to at most 1")
}

// TestValidate_UnknownStrategy verifies the closed strategy set.
func TestValidate_UnknownStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.Active = append(cfg.Strategy.Active, "momentum_chaser")

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "momentum_chaser")
}

// TestEnvOverrides verifies KALBOT_* variables replace file values.
func TestEnvOverrides(t *testing.T) {
	t.Setenv("KALBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("KALBOT_RISK_MAX_DAILY_TRADES", "7")
	t.Setenv("KALBOT_ENGINE_TRADING_INTERVAL", "90s")
	t.Setenv("KALBOT_STRATEGY_ACTIVE", "stat_arb, sentiment_ensemble")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 7, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 90*time.Second, cfg.Engine.TradingInterval.Duration)
	assert.Equal(t, []string{"stat_arb", "sentiment_ensemble"}, cfg.Strategy.Active)
}

// TestEnvOverrides_EmptyIgnored verifies unset variables leave defaults alone.
func TestEnvOverrides_EmptyIgnored(t *testing.T) {
	t.Setenv("KALBOT_REDIS_ADDR", "")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

// TestRedactedConfig verifies secrets never survive redaction and the copy is
// detached from the original.
func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Kalshi.KeyPassword = "hunter2"
	cfg.Postgres.Password = "pgpass"
	cfg.Notify.TelegramToken = "12345:token"
	cfg.Notify.Events = []string{"emergency_stop"}

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Kalshi.KeyPassword)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	red.Notify.Events[0] = "mutated"
	assert.Equal(t, "emergency_stop", cfg.Notify.Events[0])
}
