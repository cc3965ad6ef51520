package bank

import (
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"wallet-service/internal/ratelimit"

	"go.uber.org/zap"
)

// Config carries the gateway knobs from AppConfig. Classification of HTTP
// statuses into definite failures is a deployment policy, not a hard-coded
// assumption.
type Config struct {
	BaseURL                 string
	StatusURLTemplate       string
	Timeout                 time.Duration
	RetryMaxAttempts        int
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	DefiniteFailureStatuses []int
}

type BankClient struct {
	baseURL           string
	statusURLTemplate string
	httpClient        *http.Client
	limiter           ratelimit.Limiter
	logger            *zap.Logger

	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	definiteStatus map[int]bool

	// injectable for tests
	sleep     func(d time.Duration)
	randFloat func() float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewBankClient(cfg Config, limiter ratelimit.Limiter, logger *zap.Logger) *BankClient {
	definite := make(map[int]bool, len(cfg.DefiniteFailureStatuses))
	for _, code := range cfg.DefiniteFailureStatuses {
		definite[code] = true
	}
	c := &BankClient{
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		statusURLTemplate: cfg.StatusURLTemplate,
		httpClient:        &http.Client{Timeout: cfg.Timeout},
		limiter:           limiter,
		logger:            logger,
		maxAttempts:       cfg.RetryMaxAttempts,
		baseDelay:         cfg.RetryBaseDelay,
		maxDelay:          cfg.RetryMaxDelay,
		definiteStatus:    definite,
		sleep:             time.Sleep,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.randFloat = func() float64 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.rng.Float64()
	}
	return c
}

// backoffDelay computes the sleep before retry attempt n (1-based): a
// uniformly random duration between zero and min(maxDelay, base*2^(n-1)).
// Full jitter keeps concurrent retriers from synchronizing on the bank.
func (c *BankClient) backoffDelay(attempt int) time.Duration {
	cap := c.baseDelay
	for i := 1; i < attempt; i++ {
		cap *= 2
		if cap >= c.maxDelay {
			cap = c.maxDelay
			break
		}
	}
	if cap <= 0 {
		return 0
	}
	return time.Duration(c.randFloat() * float64(cap))
}
