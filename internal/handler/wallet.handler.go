package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/repository"
	"wallet-service/internal/usecase"
	"wallet-service/pkg/response"
	"wallet-service/pkg/xerrors"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WalletHandler struct {
	walletUC     *usecase.WalletUsecase
	withdrawalUC *usecase.WithdrawalUsecase
	logger       *zap.Logger
}

func NewWalletHandler(
	walletUC *usecase.WalletUsecase,
	withdrawalUC *usecase.WithdrawalUsecase,
	logger *zap.Logger,
) *WalletHandler {
	return &WalletHandler{
		walletUC:     walletUC,
		withdrawalUC: withdrawalUC,
		logger:       logger,
	}
}

type depositRequest struct {
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type withdrawalRequest struct {
	Amount         int64     `json:"amount"`
	ExecuteAt      time.Time `json:"execute_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

type transactionJSON struct {
	ID            int64      `json:"id"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	ExecuteAt     *time.Time `json:"execute_at,omitempty"`
	BankReference *string    `json:"bank_reference,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toTransactionJSON(t *domain.Transaction) transactionJSON {
	return transactionJSON{
		ID:            t.ID,
		Kind:          string(t.Kind),
		Status:        string(t.Status),
		Amount:        t.Amount,
		ExecuteAt:     t.ExecuteAt,
		BankReference: t.BankReference,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func walletRefFromURL(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "walletID"))
}

// resolveIdempotencyKey accepts the key from the Idempotency-Key header or
// the request body. When both are present they must agree.
func resolveIdempotencyKey(headerKey, bodyKey string) (string, error) {
	headerKey = strings.TrimSpace(headerKey)
	bodyKey = strings.TrimSpace(bodyKey)

	switch {
	case headerKey == "" && bodyKey == "":
		return "", xerrors.ErrIdempotencyMissing
	case headerKey != "" && bodyKey != "" && headerKey != bodyKey:
		return "", xerrors.ErrIdempotencyMismatch
	case headerKey != "":
		return headerKey, nil
	default:
		return bodyKey, nil
	}
}

func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	walletRef, err := walletRefFromURL(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid wallet id")
		return
	}

	var in depositRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key, err := resolveIdempotencyKey(r.Header.Get("Idempotency-Key"), in.IdempotencyKey)
	if err != nil {
		h.writeError(w, err)
		return
	}

	txn, created, err := h.walletUC.Deposit(r.Context(), walletRef, in.Amount, key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(w, status, toTransactionJSON(txn))
}

func (h *WalletHandler) ScheduleWithdrawal(w http.ResponseWriter, r *http.Request) {
	walletRef, err := walletRefFromURL(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid wallet id")
		return
	}

	var in withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key, err := resolveIdempotencyKey(r.Header.Get("Idempotency-Key"), in.IdempotencyKey)
	if err != nil {
		h.writeError(w, err)
		return
	}

	txn, created, err := h.withdrawalUC.Schedule(r.Context(), walletRef, in.Amount, in.ExecuteAt, key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(w, status, toTransactionJSON(txn))
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	walletRef, err := walletRefFromURL(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid wallet id")
		return
	}

	wallet, err := h.walletUC.GetWallet(r.Context(), walletRef)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"wallet_id":  wallet.ExternalID,
		"balance":    wallet.Balance,
		"created_at": wallet.CreatedAt,
		"updated_at": wallet.UpdatedAt,
	})
}

func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	walletRef, err := walletRefFromURL(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid wallet id")
		return
	}

	filter := repository.TransactionFilter{
		Kind:   domain.TransactionKind(strings.ToUpper(r.URL.Query().Get("kind"))),
		Status: domain.TransactionStatus(strings.ToUpper(r.URL.Query().Get("status"))),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		response.Error(w, http.StatusBadRequest, "invalid kind filter")
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		response.Error(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	txns, err := h.walletUC.ListTransactions(r.Context(), walletRef, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]transactionJSON, 0, len(txns))
	for _, t := range txns {
		out = append(out, toTransactionJSON(t))
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"transactions": out,
		"count":        len(out),
	})
}

func (h *WalletHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, xerrors.ErrWalletNotFound),
		errors.Is(err, xerrors.ErrTransactionNotFound):
		response.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, xerrors.ErrIdempotencyConflict):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, xerrors.ErrInvalidAmount),
		errors.Is(err, xerrors.ErrInvalidExecuteAt),
		errors.Is(err, xerrors.ErrIdempotencyMissing),
		errors.Is(err, xerrors.ErrIdempotencyMismatch):
		response.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
