package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"wallet-service/internal/domain"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type transferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	WalletOwnerRef string `json:"wallet_owner_ref"`
	Amount         int64  `json:"amount"`
}

// transferResponse covers the bank's known reply shapes. Anything that does
// not decode into a clear success or a clear rejection is Ambiguous.
type transferResponse struct {
	Status        interface{} `json:"status"`
	Data          string      `json:"data"`
	Reference     string      `json:"reference"`
	BankReference string      `json:"bank_reference"`
	TransferID    string      `json:"transfer_id"`
	ErrorReason   string      `json:"error_reason"`
}

// bodyStatusOK reports whether the body-level status field confirms success.
// The bank echoes 200 as a JSON number or a string; anything else, including
// a missing field, is not a confirmed success.
func (t *transferResponse) bodyStatusOK() bool {
	switch v := t.Status.(type) {
	case float64:
		return v == 200
	case string:
		return strings.TrimSpace(v) == "200"
	}
	return false
}

func (t *transferResponse) reference(fallback string) string {
	for _, ref := range []string{t.Reference, t.BankReference, t.TransferID} {
		if ref != "" {
			return ref
		}
	}
	return fallback
}

// Transfer performs the outbound transfer call: up to maxAttempts attempts,
// retrying only timeout and connection-level failures, with full-jitter
// backoff and a shared rate-limit slot before every attempt.
func (c *BankClient) Transfer(ctx context.Context, idempotencyKey, walletRef string, amount int64) domain.TransferResult {
	payload, err := json.Marshal(transferRequest{
		IdempotencyKey: idempotencyKey,
		WalletOwnerRef: walletRef,
		Amount:         amount,
	})
	if err != nil {
		return domain.UnknownResult(fmt.Sprintf("marshal_request: %v", err))
	}

	c.logger.Info("bank transfer request",
		zap.String("idempotency_key", idempotencyKey),
		zap.String("wallet_owner_ref", walletRef),
		zap.Int64("amount", amount))

	resp, body, err := c.postWithRetry(ctx, c.baseURL+"/transfers", payload, idempotencyKey)
	if err != nil {
		c.logger.Warn("bank transfer network failure",
			zap.String("idempotency_key", idempotencyKey),
			zap.Error(err))
		// Exhausted retries: cannot distinguish "never reached the bank"
		// from "reached the bank but response lost".
		return domain.UnknownResult("network_error")
	}

	result := c.classify(resp.StatusCode, body, idempotencyKey)
	switch result.Outcome {
	case domain.OutcomeSuccess:
		c.logger.Info("bank transfer success",
			zap.String("idempotency_key", idempotencyKey),
			zap.String("reference", result.Reference))
	case domain.OutcomeFailure:
		c.logger.Warn("bank transfer rejected",
			zap.String("idempotency_key", idempotencyKey),
			zap.String("reason", result.Reason))
	default:
		c.logger.Warn("bank transfer outcome ambiguous",
			zap.String("idempotency_key", idempotencyKey),
			zap.Int("http_status", resp.StatusCode),
			zap.String("reason", result.Reason))
	}
	return result
}

func (c *BankClient) postWithRetry(ctx context.Context, url string, payload []byte, idempotencyKey string) (*http.Response, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
		req.Header.Set("X-Request-ID", ulid.Make().String())

		resp, err := c.httpClient.Do(req)
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr == nil {
				return resp, body, nil
			}
			err = readErr
		}

		// Timeouts and connection-level failures are the only retryable
		// errors; the request may be re-sent because the bank dedupes on
		// the idempotency key header.
		lastErr = err
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if attempt < c.maxAttempts {
			delay := c.backoffDelay(attempt)
			c.logger.Warn("bank request retry",
				zap.String("idempotency_key", idempotencyKey),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err))
			c.sleep(delay)
		}
	}
	return nil, nil, lastErr
}

// classify maps one HTTP response to Success, Failure or Unknown. Any shape
// that cannot be confidently read as a clear success or an explicit rejection
// is Unknown: under-trusting an unclear response is safer than a refund that
// double-pays.
func (c *BankClient) classify(httpStatus int, body []byte, fallbackRef string) domain.TransferResult {
	var parsed transferResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.UnknownResult(fmt.Sprintf("invalid_json_response_http_%d", httpStatus))
	}

	httpSuccess := httpStatus >= 200 && httpStatus < 300
	state := strings.ToLower(strings.TrimSpace(parsed.Data))

	// Success needs both the body status echo and the data marker; a body
	// missing either is not trusted as a confirmed transfer.
	if httpSuccess && state == "success" && parsed.bodyStatusOK() {
		return domain.TransferResult{
			Outcome:   domain.OutcomeSuccess,
			Reference: parsed.reference(fallbackRef),
		}
	}

	if c.definiteStatus[httpStatus] {
		reason := parsed.ErrorReason
		if reason == "" {
			reason = state
		}
		if reason != "" {
			return domain.TransferResult{Outcome: domain.OutcomeFailure, Reason: reason}
		}
		// Listed status but no explicit rejection payload.
		return domain.UnknownResult(fmt.Sprintf("unclassified_rejection_http_%d", httpStatus))
	}

	reason := parsed.ErrorReason
	if reason == "" {
		reason = fmt.Sprintf("upstream_status_%d", httpStatus)
	}
	return domain.UnknownResult(reason)
}
