package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/models"
)

// Coarse service-level sentinels, wrapped with detail at call sites.
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrRateNotFound           = errors.New("exchange rate not found")
	ErrDailyBalanceNotFound   = errors.New("daily balance not found")
	ErrReconciliationNotFound = errors.New("reconciliation not found")
	ErrBatchAborted           = errors.New("batch aborted")
	ErrParsingFailed          = errors.New("failed to parse input file")
)

// TransactionFilter is the paged search input for the transaction repository.
type TransactionFilter struct {
	AccountID string
	From      time.Time
	To        time.Time
	Type      models.TransactionType
	Status    models.TransactionStatus
	Category  string
	Text      string
	Page      int
	PageSize  int
}

// TransactionPage is one page of search results plus the unpaged total.
type TransactionPage struct {
	Items      []*models.Transaction `json:"items"`
	TotalCount int                   `json:"total_count"`
}

type TransactionRepository interface {
	Create(tx *models.Transaction) error
	Update(tx *models.Transaction) error
	FindByID(id string) (*models.Transaction, error)
	FindByExternalID(externalID, source string) (*models.Transaction, error)
	FindByHash(hash string) (*models.Transaction, error)
	ListByAccountAndValueDate(accountID string, from, to time.Time, statuses []models.TransactionStatus) ([]*models.Transaction, error)
	Search(filter TransactionFilter) (*TransactionPage, error)
}

// AccountRepository persists account aggregates. Save must be a conditional
// write on the version token: a stale aggregate fails with
// models.ErrConcurrentModification, never a silent overwrite.
type AccountRepository interface {
	Create(account *models.Account) error
	FindByID(id string) (*models.Account, error)
	FindByNumber(accountNumber string) (*models.Account, error)
	ListActive() ([]*models.Account, error)
	Save(account *models.Account) error
}

type DailyBalanceRepository interface {
	Find(accountID string, date time.Time) (*models.DailyBalance, error)
	Upsert(balance *models.DailyBalance) error
}

// ExchangeRate is a stored conversion rate effective from a given date.
type ExchangeRate struct {
	From          string
	To            string
	Rate          decimal.Decimal
	EffectiveDate time.Time
}

// ExchangeRateRepository serves the latest rate with effectiveDate <= asOf.
type ExchangeRateRepository interface {
	GetRate(from, to string, asOf time.Time) (*ExchangeRate, error)
	Save(rate ExchangeRate) error
}

type ReconciliationRepository interface {
	FindByAccountAndDate(accountID string, date time.Time) (*models.Reconciliation, error)
	Upsert(reconciliation *models.Reconciliation) error
}

// UnitOfWork scopes repositories to one atomic group of writes.
type UnitOfWork interface {
	Transactions() TransactionRepository
	Accounts() AccountRepository
	DailyBalances() DailyBalanceRepository
	ExchangeRates() ExchangeRateRepository
	Reconciliations() ReconciliationRepository
	Commit() error
	Rollback() error
}

type UnitOfWorkFactory interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// StatementProvider supplies the external record set for a reconciliation
// window. Implemented outside the engine (bank APIs, statement files).
type StatementProvider interface {
	FetchRecords(ctx context.Context, accountID string, date time.Time) ([]models.ExternalRecord, error)
}

// RateQuote is one rate observation from an external feed.
type RateQuote struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Rate decimal.Decimal `json:"rate"`
}

// RateProvider is the external exchange-rate feed consumed by the scheduled
// refresh job.
type RateProvider interface {
	FetchRates(ctx context.Context, base string, symbols []string) ([]RateQuote, error)
}

// AlertSender delivers escalation notices for integrity findings. Failures
// are logged, never fatal to the job that raised the alert.
type AlertSender interface {
	SendAlert(ctx context.Context, subject, body string) error
}
