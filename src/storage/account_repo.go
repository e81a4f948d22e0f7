package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/services"
)

type accountRepo struct {
	tx *sql.Tx
}

const accountColumns = `id, account_number, type, currency, current_balance, available_balance, is_active, version, created_at, updated_at`

func (r *accountRepo) Create(account *models.Account) error {
	_, err := r.tx.Exec(`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.AccountNumber, string(account.Type), account.Currency.Code,
		account.CurrentBalance.Amount.String(), account.AvailableBalance.Amount.String(),
		account.IsActive, account.Version, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error inserting account %s: %w", account.AccountNumber, err)
	}
	account.MarkPersisted()
	return nil
}

func (r *accountRepo) FindByID(id string) (*models.Account, error) {
	return r.findWhere("id = ?", id)
}

func (r *accountRepo) FindByNumber(accountNumber string) (*models.Account, error) {
	return r.findWhere("account_number = ?", accountNumber)
}

func (r *accountRepo) findWhere(condition string, arg any) (*models.Account, error) {
	row := r.tx.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE `+condition, arg)
	account, err := scanAccount(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", services.ErrAccountNotFound, arg)
	}
	return account, err
}

func (r *accountRepo) ListActive() ([]*models.Account, error) {
	rows, err := r.tx.Query(`SELECT ` + accountColumns + ` FROM accounts WHERE is_active = TRUE ORDER BY account_number ASC`)
	if err != nil {
		return nil, fmt.Errorf("error querying active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// Save writes the aggregate conditionally on the version it was loaded with.
// Zero rows affected means another writer got there first; the caller must
// re-read and retry, the stale state is never applied.
func (r *accountRepo) Save(account *models.Account) error {
	result, err := r.tx.Exec(`UPDATE accounts
		SET current_balance = ?, available_balance = ?, is_active = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		account.CurrentBalance.Amount.String(), account.AvailableBalance.Amount.String(),
		account.IsActive, account.Version, account.UpdatedAt,
		account.ID, account.LoadedVersion())
	if err != nil {
		return fmt.Errorf("error updating account %s: %w", account.AccountNumber, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking account update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %s at version %d: %w", account.AccountNumber, account.LoadedVersion(), models.ErrConcurrentModification)
	}
	account.MarkPersisted()
	return nil
}

func scanAccount(scan func(dest ...any) error) (*models.Account, error) {
	var (
		account            models.Account
		accType            string
		currencyCode       string
		currentBalanceStr  string
		availableBalance   string
		version            int64
		createdAt, updated time.Time
	)
	if err := scan(&account.ID, &account.AccountNumber, &accType, &currencyCode,
		&currentBalanceStr, &availableBalance, &account.IsActive, &version, &createdAt, &updated); err != nil {
		return nil, err
	}
	currency := models.LookupCurrency(currencyCode)
	current, err := decimal.NewFromString(currentBalanceStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt current balance for account %s: %w", account.ID, err)
	}
	available, err := decimal.NewFromString(availableBalance)
	if err != nil {
		return nil, fmt.Errorf("corrupt available balance for account %s: %w", account.ID, err)
	}
	account.Type = models.AccountType(accType)
	account.Currency = currency
	account.CurrentBalance = models.Money{Amount: current, Currency: currency}
	account.AvailableBalance = models.Money{Amount: available, Currency: currency}
	account.CreatedAt = createdAt
	account.UpdatedAt = updated
	account.RestoreVersion(version)
	return &account, nil
}
