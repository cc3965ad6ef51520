package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr  string
	RedisAddr string
	RedisPass string

	BankBaseURL                 string
	BankTimeout                 time.Duration
	BankRetryMaxAttempts        int
	BankRetryBaseDelay          time.Duration
	BankRetryMaxDelay           time.Duration
	BankDefiniteFailureStatuses []int
	BankStatusURLTemplate       string
	BankHonorsIdempotency       bool
	BankMaxRPS                  float64
	BankRateLimitKey            string

	WithdrawalProcessingStale   time.Duration
	WithdrawalProcessingTimeout time.Duration

	ExecutorBatchLimit               int
	ExecutorLockContentionMaxRetries int
	ExecutorLockContentionBackoff    time.Duration

	WorkerLoopInterval     time.Duration
	WorkerStartupJitterMax time.Duration
	WorkerLoopJitterMax    time.Duration
}

func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8031"),
		RedisAddr: getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass: getEnv("REDIS_PASS", ""),

		BankBaseURL:                 getEnv("BANK_BASE_URL", "http://127.0.0.1:8010"),
		BankTimeout:                 getEnvDuration("BANK_TIMEOUT", 3*time.Second),
		BankRetryMaxAttempts:        getEnvInt("BANK_RETRY_MAX_ATTEMPTS", 3),
		BankRetryBaseDelay:          getEnvDuration("BANK_RETRY_BASE_DELAY", 200*time.Millisecond),
		BankRetryMaxDelay:           getEnvDuration("BANK_RETRY_MAX_DELAY", 3*time.Second),
		BankDefiniteFailureStatuses: getEnvIntSlice("BANK_DEFINITE_FAILURE_STATUSES", []int{400, 402, 403, 404, 409, 422}),
		BankStatusURLTemplate:       strings.TrimSpace(getEnv("BANK_STATUS_URL_TEMPLATE", "")),
		BankHonorsIdempotency:       getEnvBool("BANK_HONORS_IDEMPOTENCY", true),
		BankMaxRPS:                  getEnvFloat("BANK_MAX_RPS", 0),
		BankRateLimitKey:            getEnv("BANK_RATE_LIMIT_KEY", "wallet:bank:rate_limit"),

		WithdrawalProcessingStale:   getEnvDuration("WITHDRAWAL_PROCESSING_STALE", 30*time.Second),
		WithdrawalProcessingTimeout: getEnvDuration("WITHDRAWAL_PROCESSING_TIMEOUT", 5*time.Minute),

		ExecutorBatchLimit:               getEnvInt("EXECUTOR_BATCH_LIMIT", 100),
		ExecutorLockContentionMaxRetries: getEnvInt("EXECUTOR_LOCK_CONTENTION_MAX_RETRIES", 3),
		ExecutorLockContentionBackoff:    getEnvDuration("EXECUTOR_LOCK_CONTENTION_BACKOFF", 100*time.Millisecond),

		WorkerLoopInterval:     getEnvDuration("WORKER_LOOP_INTERVAL", 5*time.Second),
		WorkerStartupJitterMax: getEnvDuration("WORKER_STARTUP_JITTER_MAX", 2*time.Second),
		WorkerLoopJitterMax:    getEnvDuration("WORKER_LOOP_JITTER_MAX", 1*time.Second),
	}
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.BankTimeout <= 0 {
		return fmt.Errorf("BANK_TIMEOUT must be greater than zero")
	}
	if c.BankRetryMaxAttempts < 1 {
		return fmt.Errorf("BANK_RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.BankRetryBaseDelay < 0 || c.BankRetryMaxDelay < 0 {
		return fmt.Errorf("bank retry delays must be >= 0")
	}
	if c.BankRetryMaxDelay < c.BankRetryBaseDelay {
		return fmt.Errorf("BANK_RETRY_MAX_DELAY must be >= BANK_RETRY_BASE_DELAY")
	}
	if c.BankMaxRPS < 0 {
		return fmt.Errorf("BANK_MAX_RPS must be >= 0")
	}
	if c.WithdrawalProcessingStale < time.Second {
		return fmt.Errorf("WITHDRAWAL_PROCESSING_STALE must be >= 1s")
	}
	if c.WithdrawalProcessingTimeout < c.WithdrawalProcessingStale {
		return fmt.Errorf("WITHDRAWAL_PROCESSING_TIMEOUT must be >= WITHDRAWAL_PROCESSING_STALE")
	}
	if c.ExecutorBatchLimit < 1 {
		return fmt.Errorf("EXECUTOR_BATCH_LIMIT must be >= 1")
	}
	if c.ExecutorLockContentionMaxRetries < 0 {
		return fmt.Errorf("EXECUTOR_LOCK_CONTENTION_MAX_RETRIES must be >= 0")
	}
	if c.WorkerLoopInterval < 0 || c.WorkerStartupJitterMax < 0 || c.WorkerLoopJitterMax < 0 {
		return fmt.Errorf("worker intervals must be >= 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvIntSlice(key string, fallback []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return fallback
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
