package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/services"
	"github.com/openbooks/ledgercore/src/utils"
)

type dailyBalanceRepo struct {
	tx *sql.Tx
}

func (r *dailyBalanceRepo) Find(accountID string, date time.Time) (*models.DailyBalance, error) {
	row := r.tx.QueryRow(`SELECT account_id, date, opening_balance, closing_balance,
			total_debits, total_credits, transaction_count, is_reconciled, updated_at
		FROM daily_balances WHERE account_id = ? AND date = ?`,
		accountID, utils.FormatDate(date))

	var (
		balance                           models.DailyBalance
		dateStr                           string
		opening, closing, debits, credits string
	)
	err := row.Scan(&balance.AccountID, &dateStr, &opening, &closing, &debits, &credits,
		&balance.TransactionCount, &balance.IsReconciled, &balance.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s on %s", services.ErrDailyBalanceNotFound, accountID, utils.FormatDate(date))
	}
	if err != nil {
		return nil, fmt.Errorf("error loading daily balance for account %s: %w", accountID, err)
	}

	if balance.Date, err = utils.ParseDate(dateStr); err != nil {
		return nil, fmt.Errorf("corrupt daily balance date for account %s: %w", accountID, err)
	}
	if balance.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
		return nil, fmt.Errorf("corrupt opening balance for account %s: %w", accountID, err)
	}
	if balance.ClosingBalance, err = decimal.NewFromString(closing); err != nil {
		return nil, fmt.Errorf("corrupt closing balance for account %s: %w", accountID, err)
	}
	if balance.TotalDebits, err = decimal.NewFromString(debits); err != nil {
		return nil, fmt.Errorf("corrupt total debits for account %s: %w", accountID, err)
	}
	if balance.TotalCredits, err = decimal.NewFromString(credits); err != nil {
		return nil, fmt.Errorf("corrupt total credits for account %s: %w", accountID, err)
	}
	return &balance, nil
}

func (r *dailyBalanceRepo) Upsert(balance *models.DailyBalance) error {
	_, err := r.tx.Exec(`INSERT INTO daily_balances
			(account_id, date, opening_balance, closing_balance, total_debits, total_credits, transaction_count, is_reconciled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, date) DO UPDATE SET
			opening_balance = excluded.opening_balance,
			closing_balance = excluded.closing_balance,
			total_debits = excluded.total_debits,
			total_credits = excluded.total_credits,
			transaction_count = excluded.transaction_count,
			is_reconciled = excluded.is_reconciled,
			updated_at = excluded.updated_at`,
		balance.AccountID, utils.FormatDate(balance.Date),
		balance.OpeningBalance.String(), balance.ClosingBalance.String(),
		balance.TotalDebits.String(), balance.TotalCredits.String(),
		balance.TransactionCount, balance.IsReconciled, balance.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting daily balance for account %s: %w", balance.AccountID, err)
	}
	return nil
}
