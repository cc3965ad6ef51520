package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8031", cfg.HTTPAddr)
	assert.Equal(t, 3, cfg.BankRetryMaxAttempts)
	assert.Equal(t, []int{400, 402, 403, 404, 409, 422}, cfg.BankDefiniteFailureStatuses)
	assert.True(t, cfg.BankHonorsIdempotency)
	assert.Equal(t, 30*time.Second, cfg.WithdrawalProcessingStale)
	assert.Equal(t, 5*time.Minute, cfg.WithdrawalProcessingTimeout)
	assert.Equal(t, 100, cfg.ExecutorBatchLimit)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BANK_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("BANK_DEFINITE_FAILURE_STATUSES", "400, 422")
	t.Setenv("BANK_HONORS_IDEMPOTENCY", "false")
	t.Setenv("BANK_MAX_RPS", "2.5")
	t.Setenv("WORKER_LOOP_INTERVAL", "10s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.BankRetryMaxAttempts)
	assert.Equal(t, []int{400, 422}, cfg.BankDefiniteFailureStatuses)
	assert.False(t, cfg.BankHonorsIdempotency)
	assert.Equal(t, 2.5, cfg.BankMaxRPS)
	assert.Equal(t, 10*time.Second, cfg.WorkerLoopInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero retry attempts", "BANK_RETRY_MAX_ATTEMPTS", "0"},
		{"negative rate limit", "BANK_MAX_RPS", "-1"},
		{"stale below floor", "WITHDRAWAL_PROCESSING_STALE", "10ms"},
		{"timeout below stale", "WITHDRAWAL_PROCESSING_TIMEOUT", "1s"},
		{"zero batch limit", "EXECUTOR_BATCH_LIMIT", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("X_STR", "hello")
	t.Setenv("X_INT", "42")
	t.Setenv("X_BAD_INT", "nope")
	t.Setenv("X_DUR", "150ms")
	t.Setenv("X_BOOL", "yes")

	assert.Equal(t, "hello", getEnv("X_STR", "d"))
	assert.Equal(t, "d", getEnv("X_MISSING", "d"))
	assert.Equal(t, 42, getEnvInt("X_INT", 1))
	assert.Equal(t, 1, getEnvInt("X_BAD_INT", 1))
	assert.Equal(t, 150*time.Millisecond, getEnvDuration("X_DUR", time.Second))
	assert.True(t, getEnvBool("X_BOOL", false))
	assert.False(t, getEnvBool("X_MISSING", false))

	t.Setenv("X_SLICE", "1,2, 3")
	assert.Equal(t, []int{1, 2, 3}, getEnvIntSlice("X_SLICE", nil))
	t.Setenv("X_SLICE", "1,oops")
	assert.Equal(t, []int{9}, getEnvIntSlice("X_SLICE", []int{9}))
}
