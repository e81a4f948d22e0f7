// Package storage implements the service repository interfaces on sqlite.
// All writes flow through a unit of work wrapping one database transaction;
// monetary amounts are persisted as decimal strings so they round-trip
// exactly.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openbooks/ledgercore/src/services"
)

type uowFactory struct {
	db *sql.DB
}

// NewUnitOfWorkFactory builds the sqlite-backed unit-of-work factory.
func NewUnitOfWorkFactory(db *sql.DB) services.UnitOfWorkFactory {
	return &uowFactory{db: db}
}

func (f *uowFactory) Begin(ctx context.Context) (services.UnitOfWork, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning database transaction: %w", err)
	}
	return &unitOfWork{tx: tx}, nil
}

type unitOfWork struct {
	tx   *sql.Tx
	done bool
}

func (u *unitOfWork) Transactions() services.TransactionRepository {
	return &transactionRepo{tx: u.tx}
}

func (u *unitOfWork) Accounts() services.AccountRepository {
	return &accountRepo{tx: u.tx}
}

func (u *unitOfWork) DailyBalances() services.DailyBalanceRepository {
	return &dailyBalanceRepo{tx: u.tx}
}

func (u *unitOfWork) ExchangeRates() services.ExchangeRateRepository {
	return &exchangeRateRepo{tx: u.tx}
}

func (u *unitOfWork) Reconciliations() services.ReconciliationRepository {
	return &reconciliationRepo{tx: u.tx}
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Commit()
}

// Rollback after Commit is a no-op, so services can defer it unconditionally.
func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback()
}
