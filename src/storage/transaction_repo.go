package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/services"
	"github.com/openbooks/ledgercore/src/utils"
)

type transactionRepo struct {
	tx *sql.Tx
}

const transactionColumns = `id, external_id, source, account_id, type, status, amount, currency,
	original_amount, original_currency, exchange_rate_used, value_date, booking_date,
	description, counterparty, category, hash, reconciliation_id, created_at, updated_at`

func (r *transactionRepo) Create(tx *models.Transaction) error {
	var originalAmount, originalCurrency, rateUsed sql.NullString
	if tx.OriginalAmount != nil {
		originalAmount = sql.NullString{String: tx.OriginalAmount.Amount.String(), Valid: true}
		originalCurrency = sql.NullString{String: tx.OriginalAmount.Currency.Code, Valid: true}
	}
	if tx.ExchangeRateUsed != nil {
		rateUsed = sql.NullString{String: tx.ExchangeRateUsed.String(), Valid: true}
	}
	_, err := r.tx.Exec(`INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.ExternalID, tx.Source, tx.AccountID, string(tx.Type), string(tx.Status),
		tx.Amount.Amount.String(), tx.Amount.Currency.Code,
		originalAmount, originalCurrency, rateUsed,
		utils.FormatDate(tx.ValueDate), utils.FormatDate(tx.BookingDate),
		tx.Description, tx.Counterparty, tx.Category, tx.Hash, tx.ReconciliationID,
		tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error inserting transaction (%s, %s): %w", tx.ExternalID, tx.Source, err)
	}
	return nil
}

func (r *transactionRepo) Update(tx *models.Transaction) error {
	var originalAmount, originalCurrency, rateUsed sql.NullString
	if tx.OriginalAmount != nil {
		originalAmount = sql.NullString{String: tx.OriginalAmount.Amount.String(), Valid: true}
		originalCurrency = sql.NullString{String: tx.OriginalAmount.Currency.Code, Valid: true}
	}
	if tx.ExchangeRateUsed != nil {
		rateUsed = sql.NullString{String: tx.ExchangeRateUsed.String(), Valid: true}
	}
	_, err := r.tx.Exec(`UPDATE transactions
		SET status = ?, amount = ?, currency = ?, original_amount = ?, original_currency = ?,
			exchange_rate_used = ?, description = ?, counterparty = ?, category = ?,
			hash = ?, reconciliation_id = ?, updated_at = ?
		WHERE id = ?`,
		string(tx.Status), tx.Amount.Amount.String(), tx.Amount.Currency.Code,
		originalAmount, originalCurrency, rateUsed,
		tx.Description, tx.Counterparty, tx.Category,
		tx.Hash, tx.ReconciliationID, tx.UpdatedAt, tx.ID)
	if err != nil {
		return fmt.Errorf("error updating transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (r *transactionRepo) FindByID(id string) (*models.Transaction, error) {
	return r.findWhere("id = ?", id)
}

func (r *transactionRepo) FindByExternalID(externalID, source string) (*models.Transaction, error) {
	return r.findWhere("external_id = ? AND source = ?", externalID, source)
}

func (r *transactionRepo) FindByHash(hash string) (*models.Transaction, error) {
	return r.findWhere("hash = ?", hash)
}

func (r *transactionRepo) findWhere(condition string, args ...any) (*models.Transaction, error) {
	row := r.tx.QueryRow(`SELECT `+transactionColumns+` FROM transactions WHERE `+condition, args...)
	tx, err := scanTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", services.ErrTransactionNotFound, args)
	}
	return tx, err
}

func (r *transactionRepo) ListByAccountAndValueDate(accountID string, from, to time.Time, statuses []models.TransactionStatus) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE account_id = ? AND value_date >= ? AND value_date <= ?`
	args := []any{accountID, utils.FormatDate(from), utils.FormatDate(to)}
	if len(statuses) > 0 {
		placeholders := strings.Repeat("?,", len(statuses))
		query += ` AND status IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying transactions for account %s: %w", accountID, err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *transactionRepo) Search(filter services.TransactionFilter) (*services.TransactionPage, error) {
	var conditions []string
	var args []any
	if filter.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "value_date >= ?")
		args = append(args, utils.FormatDate(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "value_date <= ?")
		args = append(args, utils.FormatDate(filter.To))
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Text != "" {
		conditions = append(conditions, "(description LIKE ? OR counterparty LIKE ? OR external_id LIKE ?)")
		pattern := "%" + filter.Text + "%"
		args = append(args, pattern, pattern, pattern)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int
	if err := r.tx.QueryRow(`SELECT COUNT(*) FROM transactions`+where, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("error counting transactions: %w", err)
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	pagedArgs := append(args, pageSize, (page-1)*pageSize)
	rows, err := r.tx.Query(`SELECT `+transactionColumns+` FROM transactions`+where+
		` ORDER BY value_date DESC, created_at DESC LIMIT ? OFFSET ?`, pagedArgs...)
	if err != nil {
		return nil, fmt.Errorf("error searching transactions: %w", err)
	}
	defer rows.Close()

	items, err := collectTransactions(rows)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*models.Transaction{}
	}
	return &services.TransactionPage{Items: items, TotalCount: totalCount}, nil
}

func collectTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(scan func(dest ...any) error) (*models.Transaction, error) {
	var (
		tx                                      models.Transaction
		txType, status, amountStr, currencyCode string
		originalAmount, originalCurrency, rate  sql.NullString
		valueDateStr, bookingDateStr            string
		description, counterparty, category     sql.NullString
		reconciliationID                        sql.NullString
	)
	if err := scan(&tx.ID, &tx.ExternalID, &tx.Source, &tx.AccountID, &txType, &status,
		&amountStr, &currencyCode, &originalAmount, &originalCurrency, &rate,
		&valueDateStr, &bookingDateStr, &description, &counterparty, &category,
		&tx.Hash, &reconciliationID, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for transaction %s: %w", tx.ID, err)
	}
	tx.Type = models.TransactionType(txType)
	tx.Status = models.TransactionStatus(status)
	tx.Amount = models.Money{Amount: amount, Currency: models.LookupCurrency(currencyCode)}

	if originalAmount.Valid && originalCurrency.Valid {
		origAmount, err := decimal.NewFromString(originalAmount.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt original amount for transaction %s: %w", tx.ID, err)
		}
		original := models.Money{Amount: origAmount, Currency: models.LookupCurrency(originalCurrency.String)}
		tx.OriginalAmount = &original
	}
	if rate.Valid {
		rateUsed, err := decimal.NewFromString(rate.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt exchange rate for transaction %s: %w", tx.ID, err)
		}
		tx.ExchangeRateUsed = &rateUsed
	}

	if tx.ValueDate, err = utils.ParseDate(valueDateStr); err != nil {
		return nil, fmt.Errorf("corrupt value date for transaction %s: %w", tx.ID, err)
	}
	if tx.BookingDate, err = utils.ParseDate(bookingDateStr); err != nil {
		return nil, fmt.Errorf("corrupt booking date for transaction %s: %w", tx.ID, err)
	}
	tx.Description = description.String
	tx.Counterparty = counterparty.String
	tx.Category = category.String
	tx.ReconciliationID = reconciliationID.String
	return &tx, nil
}
