package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/services"
	"github.com/openbooks/ledgercore/src/utils"
)

type TransactionHandler struct {
	uowFactory services.UnitOfWorkFactory
}

func NewTransactionHandler(uowFactory services.UnitOfWorkFactory) *TransactionHandler {
	return &TransactionHandler{
		uowFactory: uowFactory,
	}
}

func (h *TransactionHandler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	uow, err := h.uowFactory.Begin(r.Context())
	if err != nil {
		logger.L.Error("Error starting read transaction", "error", err)
		utils.SendJSONError(w, "An internal error occurred", http.StatusInternalServerError)
		return
	}
	defer uow.Rollback()

	tx, err := uow.Transactions().FindByID(id)
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			utils.SendJSONError(w, fmt.Sprintf("Transaction %s not found", id), http.StatusNotFound)
			return
		}
		logger.L.Error("Error loading transaction", "transactionID", id, "error", err)
		utils.SendJSONError(w, "An internal error occurred while loading the transaction", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, tx)
}

// HandleSearchTransactions serves the paged filter search. All filters come
// from query parameters; dates are yyyy-mm-dd and bound value dates.
func (h *TransactionHandler) HandleSearchTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	uow, err := h.uowFactory.Begin(r.Context())
	if err != nil {
		logger.L.Error("Error starting read transaction", "error", err)
		utils.SendJSONError(w, "An internal error occurred", http.StatusInternalServerError)
		return
	}
	defer uow.Rollback()

	page, err := uow.Transactions().Search(filter)
	if err != nil {
		logger.L.Error("Transaction search failed", "accountID", filter.AccountID, "error", err)
		utils.SendJSONError(w, "An internal error occurred while searching transactions", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, page)
}

func filterFromQuery(r *http.Request) (services.TransactionFilter, error) {
	q := r.URL.Query()
	filter := services.TransactionFilter{
		AccountID: q.Get("account_id"),
		Type:      models.TransactionType(strings.ToLower(q.Get("type"))),
		Status:    models.TransactionStatus(strings.ToLower(q.Get("status"))),
		Category:  q.Get("category"),
		Text:      q.Get("text"),
	}

	if from := q.Get("from"); from != "" {
		parsed, err := utils.ParseDate(from)
		if err != nil {
			return filter, fmt.Errorf("invalid 'from' date %q, expected yyyy-mm-dd", from)
		}
		filter.From = parsed
	}
	if to := q.Get("to"); to != "" {
		parsed, err := utils.ParseDate(to)
		if err != nil {
			return filter, fmt.Errorf("invalid 'to' date %q, expected yyyy-mm-dd", to)
		}
		filter.To = parsed
	}
	if page := q.Get("page"); page != "" {
		parsed, err := strconv.Atoi(page)
		if err != nil || parsed < 1 {
			return filter, fmt.Errorf("invalid 'page' value %q", page)
		}
		filter.Page = parsed
	}
	if size := q.Get("page_size"); size != "" {
		parsed, err := strconv.Atoi(size)
		if err != nil || parsed < 1 {
			return filter, fmt.Errorf("invalid 'page_size' value %q", size)
		}
		filter.PageSize = parsed
	}
	return filter, nil
}
