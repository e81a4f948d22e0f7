package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/services"
	"github.com/openbooks/ledgercore/src/utils"
)

type ReconciliationHandler struct {
	reconciliationService services.ReconciliationService
}

func NewReconciliationHandler(service services.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciliationService: service,
	}
}

type runReconciliationRequest struct {
	AccountID string `json:"account_id"`
	Date      string `json:"date"` // yyyy-mm-dd
}

func (h *ReconciliationHandler) HandleRunReconciliation(w http.ResponseWriter, r *http.Request) {
	var req runReconciliationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		utils.SendJSONError(w, "account_id is required", http.StatusBadRequest)
		return
	}
	date, err := utils.ParseDate(req.Date)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("invalid date %q, expected yyyy-mm-dd", req.Date), http.StatusBadRequest)
		return
	}

	report, err := h.reconciliationService.Reconcile(r.Context(), req.AccountID, date)
	if err != nil {
		if errors.Is(err, services.ErrAccountNotFound) {
			utils.SendJSONError(w, fmt.Sprintf("Account %s not found", req.AccountID), http.StatusNotFound)
			return
		}
		logger.L.Error("Reconciliation run failed", "accountID", req.AccountID, "date", req.Date, "error", err)
		utils.SendJSONError(w, "An internal error occurred while running the reconciliation", http.StatusInternalServerError)
		return
	}

	logger.L.Info("Reconciliation finished",
		"accountID", req.AccountID,
		"date", req.Date,
		"status", report.Status,
		"matched", report.MatchedCount,
		"discrepancy", report.DiscrepancyAmount)
	utils.SendJSON(w, http.StatusOK, report)
}

func (h *ReconciliationHandler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	date, err := utils.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		utils.SendJSONError(w, "invalid or missing 'date' query parameter, expected yyyy-mm-dd", http.StatusBadRequest)
		return
	}

	report, err := h.reconciliationService.GetReport(r.Context(), accountID, date)
	if err != nil {
		if errors.Is(err, services.ErrReconciliationNotFound) {
			utils.SendJSONError(w, "No reconciliation report for that account and date", http.StatusNotFound)
			return
		}
		logger.L.Error("Error loading reconciliation report", "accountID", accountID, "error", err)
		utils.SendJSONError(w, "An internal error occurred while loading the report", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, report)
}
