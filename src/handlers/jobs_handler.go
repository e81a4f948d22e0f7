package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/services"
	"github.com/openbooks/ledgercore/src/utils"
)

// JobsHandler exposes the scheduled operations (daily close, rate refresh)
// for manual and cron-driven runs, plus the read side of their outputs.
type JobsHandler struct {
	dailyBalanceService services.DailyBalanceService
	rateFeedService     services.RateFeedService
	uowFactory          services.UnitOfWorkFactory
}

func NewJobsHandler(dailyBalanceService services.DailyBalanceService, rateFeedService services.RateFeedService, uowFactory services.UnitOfWorkFactory) *JobsHandler {
	return &JobsHandler{
		dailyBalanceService: dailyBalanceService,
		rateFeedService:     rateFeedService,
		uowFactory:          uowFactory,
	}
}

type dailyCloseRequest struct {
	Date      string `json:"date"` // yyyy-mm-dd
	AccountID string `json:"account_id,omitempty"`
}

// HandleRunDailyClose rolls daily balances forward for one account or for
// every active account. Re-running a date is safe.
func (h *JobsHandler) HandleRunDailyClose(w http.ResponseWriter, r *http.Request) {
	var req dailyCloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	date, err := utils.ParseDate(req.Date)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("invalid date %q, expected yyyy-mm-dd", req.Date), http.StatusBadRequest)
		return
	}

	if req.AccountID != "" {
		balance, err := h.dailyBalanceService.CloseAccountDay(r.Context(), req.AccountID, date)
		if err != nil {
			if errors.Is(err, services.ErrAccountNotFound) {
				utils.SendJSONError(w, fmt.Sprintf("Account %s not found", req.AccountID), http.StatusNotFound)
				return
			}
			logger.L.Error("Daily close failed for account", "accountID", req.AccountID, "date", req.Date, "error", err)
			utils.SendJSONError(w, fmt.Sprintf("Daily close failed: %v", err), http.StatusInternalServerError)
			return
		}
		utils.SendJSON(w, http.StatusOK, balance)
		return
	}

	summary, err := h.dailyBalanceService.RunDailyClose(r.Context(), date)
	if err != nil {
		logger.L.Error("Daily close sweep failed", "date", req.Date, "error", err)
		utils.SendJSONError(w, "An internal error occurred while running the daily close", http.StatusInternalServerError)
		return
	}
	logger.L.Info("Daily close sweep finished", "date", req.Date, "closed", summary.AccountsClosed, "failed", summary.AccountsFailed)
	utils.SendJSON(w, http.StatusOK, summary)
}

func (h *JobsHandler) HandleRefreshRates(w http.ResponseWriter, r *http.Request) {
	saved, err := h.rateFeedService.RefreshRates(r.Context())
	if err != nil {
		logger.L.Error("Rate refresh failed", "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Rate refresh failed: %v", err), http.StatusBadGateway)
		return
	}
	logger.L.Info("Rate refresh finished", "saved", saved)
	utils.SendJSON(w, http.StatusOK, map[string]int{"saved": saved})
}

func (h *JobsHandler) HandleGetRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := strings.ToUpper(q.Get("from"))
	to := strings.ToUpper(q.Get("to"))
	if from == "" || to == "" {
		utils.SendJSONError(w, "'from' and 'to' query parameters are required", http.StatusBadRequest)
		return
	}
	asOf := time.Now().UTC()
	if dateStr := q.Get("date"); dateStr != "" {
		parsed, err := utils.ParseDate(dateStr)
		if err != nil {
			utils.SendJSONError(w, fmt.Sprintf("invalid date %q, expected yyyy-mm-dd", dateStr), http.StatusBadRequest)
			return
		}
		asOf = parsed
	}

	rate, err := h.rateFeedService.GetRate(r.Context(), from, to, asOf)
	if err != nil {
		if errors.Is(err, services.ErrRateNotFound) {
			utils.SendJSONError(w, fmt.Sprintf("No rate for %s/%s on or before %s", from, to, utils.FormatDate(asOf)), http.StatusNotFound)
			return
		}
		logger.L.Error("Rate lookup failed", "from", from, "to", to, "error", err)
		utils.SendJSONError(w, "An internal error occurred while looking up the rate", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]string{"from": from, "to": to, "as_of": utils.FormatDate(asOf), "rate": rate.String()})
}

func (h *JobsHandler) HandleGetDailyBalance(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	date, err := utils.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		utils.SendJSONError(w, "invalid or missing 'date' query parameter, expected yyyy-mm-dd", http.StatusBadRequest)
		return
	}

	uow, err := h.uowFactory.Begin(r.Context())
	if err != nil {
		logger.L.Error("Error starting read transaction", "error", err)
		utils.SendJSONError(w, "An internal error occurred", http.StatusInternalServerError)
		return
	}
	defer uow.Rollback()

	balance, err := uow.DailyBalances().Find(accountID, date)
	if err != nil {
		if errors.Is(err, services.ErrDailyBalanceNotFound) {
			utils.SendJSONError(w, "No daily balance for that account and date", http.StatusNotFound)
			return
		}
		logger.L.Error("Error loading daily balance", "accountID", accountID, "error", err)
		utils.SendJSONError(w, "An internal error occurred while loading the daily balance", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, balance)
}
