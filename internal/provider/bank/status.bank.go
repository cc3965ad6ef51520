package bank

import (
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

// CanQueryStatus reports whether a status-lookup endpoint is configured for
// this deployment. Without it, UNKNOWN transactions stay queued.
func (c *BankClient) CanQueryStatus() bool {
	return c.statusURLTemplate != ""
}

type statusResponse struct {
	Data          string `json:"data"`
	Reference     string `json:"reference"`
	BankReference string `json:"bank_reference"`
	ErrorReason   string `json:"error_reason"`
}

// QueryStatus asks the bank for the final state of an earlier transfer, keyed
// by the stored reference (falling back to the idempotency key). Used only by
// the reconciliation sweep.
func (c *BankClient) QueryStatus(ctx context.Context, idempotencyKey, reference string) domain.TransferResult {
	lookupRef := reference
	if lookupRef == "" {
		lookupRef = idempotencyKey
	}
	url := strings.Replace(c.statusURLTemplate, "{reference}", lookupRef, 1)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return domain.UnknownResult(fmt.Sprintf("rate_limiter: %v", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return domain.UnknownResult(fmt.Sprintf("build_request: %v", err))
		}
		req.Header.Set("X-Request-ID", ulid.Make().String())

		resp, err := c.httpClient.Do(req)
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr == nil {
				return c.classifyStatus(resp.StatusCode, body, idempotencyKey)
			}
			err = readErr
		}

		lastErr = err
		if ctx.Err() != nil {
			return domain.UnknownResult("context_canceled")
		}
		if attempt < c.maxAttempts {
			c.sleep(c.backoffDelay(attempt))
		}
	}

	c.logger.Warn("bank status lookup network failure",
		zap.String("idempotency_key", idempotencyKey),
		zap.Error(lastErr))
	return domain.UnknownResult("network_error")
}

func (c *BankClient) classifyStatus(httpStatus int, body []byte, fallbackRef string) domain.TransferResult {
	// A lookup 404 means the bank never registered the transfer: a
	// confirmed failure, safe to refund.
	if httpStatus == http.StatusNotFound {
		return domain.TransferResult{Outcome: domain.OutcomeFailure, Reason: "transfer_not_found"}
	}

	var parsed statusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.UnknownResult(fmt.Sprintf("invalid_json_response_http_%d", httpStatus))
	}

	if httpStatus < 200 || httpStatus >= 300 {
		return domain.UnknownResult(fmt.Sprintf("upstream_status_%d", httpStatus))
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Data)) {
	case "success", "succeeded":
		ref := parsed.Reference
		if ref == "" {
			ref = parsed.BankReference
		}
		if ref == "" {
			ref = fallbackRef
		}
		return domain.TransferResult{Outcome: domain.OutcomeSuccess, Reference: ref}
	case "failed", "not_found":
		reason := parsed.ErrorReason
		if reason == "" {
			reason = "transfer_" + strings.ToLower(strings.TrimSpace(parsed.Data))
		}
		return domain.TransferResult{Outcome: domain.OutcomeFailure, Reason: reason}
	default:
		return domain.UnknownResult("status_still_pending")
	}
}
