package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/services"
	"github.com/openbooks/ledgercore/src/utils"
)

type AccountHandler struct {
	accountService services.AccountService
}

func NewAccountHandler(service services.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: service,
	}
}

type createAccountRequest struct {
	AccountNumber  string          `json:"account_number"`
	Type           string          `json:"type"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Currency       string          `json:"currency"`
}

func (h *AccountHandler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.AccountNumber == "" {
		utils.SendJSONError(w, "account_number is required", http.StatusBadRequest)
		return
	}

	account, err := h.accountService.CreateAccount(r.Context(), req.AccountNumber, models.AccountType(req.Type), req.OpeningBalance, req.Currency)
	if err != nil {
		logger.L.Warn("Account creation failed", "accountNumber", req.AccountNumber, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Failed to create account: %v", err), accountErrorStatus(err))
		return
	}

	subject, _ := GetSubjectFromContext(r.Context())
	logger.L.Info("Account created", "accountID", account.ID, "accountNumber", account.AccountNumber, "subject", subject)
	utils.SendJSON(w, http.StatusCreated, account)
}

func (h *AccountHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	account, err := h.accountService.GetAccount(r.Context(), ref)
	if err != nil {
		if errors.Is(err, services.ErrAccountNotFound) {
			utils.SendJSONError(w, fmt.Sprintf("Account %s not found", ref), http.StatusNotFound)
			return
		}
		logger.L.Error("Error loading account", "ref", ref, "error", err)
		utils.SendJSONError(w, "An internal error occurred while loading the account", http.StatusInternalServerError)
		return
	}

	currentETag, etagErr := utils.GenerateETag(account)
	if etagErr != nil {
		logger.L.Error("Failed to generate ETag for account", "ref", ref, "error", etagErr)
	}

	w.Header().Set("Cache-Control", "no-cache, private")

	if etagErr == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("%q", currentETag)
		w.Header().Set("ETag", quotedETag)
		for _, clientETag := range strings.Split(r.Header.Get("If-None-Match"), ",") {
			if strings.TrimSpace(clientETag) == quotedETag {
				logger.L.Debug("ETag match for account", "ref", ref, "etag", currentETag)
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	utils.SendJSON(w, http.StatusOK, account)
}

type adjustBalanceRequest struct {
	NewBalance decimal.Decimal `json:"new_balance"`
	Reason     string          `json:"reason"`
}

func (h *AccountHandler) HandleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	var req adjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	account, err := h.accountService.AdjustBalance(r.Context(), accountID, req.NewBalance, req.Reason)
	if err != nil {
		logger.L.Warn("Balance adjustment failed", "accountID", accountID, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Failed to adjust balance: %v", err), accountErrorStatus(err))
		return
	}
	utils.SendJSON(w, http.StatusOK, account)
}

type holdRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *AccountHandler) HandleApplyHold(w http.ResponseWriter, r *http.Request) {
	h.handleHold(w, r, h.accountService.ApplyHold)
}

func (h *AccountHandler) HandleReleaseHold(w http.ResponseWriter, r *http.Request) {
	h.handleHold(w, r, h.accountService.ReleaseHold)
}

func (h *AccountHandler) handleHold(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Account, error)) {
	accountID := r.PathValue("id")
	var req holdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	account, err := op(r.Context(), accountID, req.Amount)
	if err != nil {
		logger.L.Warn("Hold operation failed", "accountID", accountID, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Hold operation failed: %v", err), accountErrorStatus(err))
		return
	}
	utils.SendJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	account, err := h.accountService.Deactivate(r.Context(), accountID)
	if err != nil {
		logger.L.Warn("Account deactivation failed", "accountID", accountID, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Failed to deactivate account: %v", err), accountErrorStatus(err))
		return
	}
	utils.SendJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) HandleReactivate(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	account, err := h.accountService.Reactivate(r.Context(), accountID)
	if err != nil {
		logger.L.Warn("Account reactivation failed", "accountID", accountID, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Failed to reactivate account: %v", err), accountErrorStatus(err))
		return
	}
	utils.SendJSON(w, http.StatusOK, account)
}

// accountErrorStatus maps account operation failures onto HTTP statuses.
func accountErrorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, models.ErrAccountInactive),
		errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrNonZeroBalance),
		errors.Is(err, models.ErrInvalidHoldAmount),
		errors.Is(err, models.ErrAdjustmentNeedsReason),
		errors.Is(err, models.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
