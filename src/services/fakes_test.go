package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/utils"
)

// memStore is the shared backing state of the in-memory fakes. Every unit of
// work handed out by fakeUOWFactory operates on the same store, so tests can
// observe state across service calls.
type memStore struct {
	accounts          map[string]*models.Account // by id
	accountVersions   map[string]int64           // last persisted version, for the conditional write
	transactions      map[string]*models.Transaction
	transactionByKey  map[string]*models.Transaction // externalID|source
	dailyBalances     map[string]*models.DailyBalance
	rates             []ExchangeRate
	reconciliations   map[string]*models.Reconciliation
	failBeginWithErr  error
	failCreateTxnWith error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:         make(map[string]*models.Account),
		accountVersions:  make(map[string]int64),
		transactions:     make(map[string]*models.Transaction),
		transactionByKey: make(map[string]*models.Transaction),
		dailyBalances:    make(map[string]*models.DailyBalance),
		reconciliations:  make(map[string]*models.Reconciliation),
	}
}

func (s *memStore) addAccount(account *models.Account) {
	s.accounts[account.ID] = account
	s.accountVersions[account.ID] = account.Version
	account.MarkPersisted()
}

func dayKey(accountID string, date time.Time) string {
	return accountID + "|" + utils.FormatDate(date)
}

func mustDate(s string) time.Time {
	date, err := utils.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return date
}

type fakeUOWFactory struct {
	store *memStore
}

func (f *fakeUOWFactory) Begin(ctx context.Context) (UnitOfWork, error) {
	if f.store.failBeginWithErr != nil {
		return nil, f.store.failBeginWithErr
	}
	return &fakeUOW{store: f.store}, nil
}

type fakeUOW struct {
	store *memStore
}

func (u *fakeUOW) Transactions() TransactionRepository       { return &fakeTransactionRepo{u.store} }
func (u *fakeUOW) Accounts() AccountRepository               { return &fakeAccountRepo{u.store} }
func (u *fakeUOW) DailyBalances() DailyBalanceRepository     { return &fakeDailyBalanceRepo{u.store} }
func (u *fakeUOW) ExchangeRates() ExchangeRateRepository     { return &fakeExchangeRateRepo{u.store} }
func (u *fakeUOW) Reconciliations() ReconciliationRepository { return &fakeReconciliationRepo{u.store} }
func (u *fakeUOW) Commit() error                             { return nil }
func (u *fakeUOW) Rollback() error                           { return nil }

type fakeTransactionRepo struct {
	store *memStore
}

func (r *fakeTransactionRepo) Create(tx *models.Transaction) error {
	if r.store.failCreateTxnWith != nil {
		return r.store.failCreateTxnWith
	}
	key := tx.ExternalID + "|" + tx.Source
	if _, exists := r.store.transactionByKey[key]; exists {
		return fmt.Errorf("constraint failed: UNIQUE constraint failed: transactions.external_id, transactions.source")
	}
	r.store.transactions[tx.ID] = tx
	r.store.transactionByKey[key] = tx
	return nil
}

func (r *fakeTransactionRepo) Update(tx *models.Transaction) error {
	if _, exists := r.store.transactions[tx.ID]; !exists {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrTransactionNotFound)
	}
	r.store.transactions[tx.ID] = tx
	return nil
}

func (r *fakeTransactionRepo) FindByID(id string) (*models.Transaction, error) {
	tx, ok := r.store.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrTransactionNotFound)
	}
	return tx, nil
}

func (r *fakeTransactionRepo) FindByExternalID(externalID, source string) (*models.Transaction, error) {
	tx, ok := r.store.transactionByKey[externalID+"|"+source]
	if !ok {
		return nil, fmt.Errorf("transaction (%s, %s): %w", externalID, source, ErrTransactionNotFound)
	}
	return tx, nil
}

func (r *fakeTransactionRepo) FindByHash(hash string) (*models.Transaction, error) {
	for _, tx := range r.store.transactions {
		if tx.Hash == hash {
			return tx, nil
		}
	}
	return nil, fmt.Errorf("hash %s: %w", hash, ErrTransactionNotFound)
}

func (r *fakeTransactionRepo) ListByAccountAndValueDate(accountID string, from, to time.Time, statuses []models.TransactionStatus) ([]*models.Transaction, error) {
	wanted := make(map[models.TransactionStatus]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}
	var out []*models.Transaction
	for _, tx := range r.store.transactions {
		if tx.AccountID != accountID || !wanted[tx.Status] {
			continue
		}
		if tx.ValueDate.Before(from) || tx.ValueDate.After(to) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *fakeTransactionRepo) Search(filter TransactionFilter) (*TransactionPage, error) {
	var items []*models.Transaction
	for _, tx := range r.store.transactions {
		if filter.AccountID != "" && tx.AccountID != filter.AccountID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		items = append(items, tx)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return &TransactionPage{Items: items, TotalCount: len(items)}, nil
}

type fakeAccountRepo struct {
	store *memStore
}

func (r *fakeAccountRepo) Create(account *models.Account) error {
	for _, existing := range r.store.accounts {
		if existing.AccountNumber == account.AccountNumber {
			return fmt.Errorf("constraint failed: UNIQUE constraint failed: accounts.account_number")
		}
	}
	r.store.addAccount(account)
	return nil
}

func (r *fakeAccountRepo) FindByID(id string) (*models.Account, error) {
	account, ok := r.store.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	return account, nil
}

func (r *fakeAccountRepo) FindByNumber(accountNumber string) (*models.Account, error) {
	for _, account := range r.store.accounts {
		if account.AccountNumber == accountNumber {
			return account, nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", accountNumber, ErrAccountNotFound)
}

func (r *fakeAccountRepo) ListActive() ([]*models.Account, error) {
	var out []*models.Account
	for _, account := range r.store.accounts {
		if account.IsActive {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountNumber < out[j].AccountNumber })
	return out, nil
}

// Save honors the conditional-write contract: the write succeeds only when the
// stored version still equals the version the aggregate was loaded at.
func (r *fakeAccountRepo) Save(account *models.Account) error {
	stored, ok := r.store.accountVersions[account.ID]
	if !ok {
		return fmt.Errorf("account %s: %w", account.ID, ErrAccountNotFound)
	}
	if stored != account.LoadedVersion() {
		return fmt.Errorf("account %s: %w", account.ID, models.ErrConcurrentModification)
	}
	r.store.accounts[account.ID] = account
	r.store.accountVersions[account.ID] = account.Version
	account.MarkPersisted()
	return nil
}

type fakeDailyBalanceRepo struct {
	store *memStore
}

func (r *fakeDailyBalanceRepo) Find(accountID string, date time.Time) (*models.DailyBalance, error) {
	balance, ok := r.store.dailyBalances[dayKey(accountID, date)]
	if !ok {
		return nil, fmt.Errorf("daily balance (%s, %s): %w", accountID, utils.FormatDate(date), ErrDailyBalanceNotFound)
	}
	return balance, nil
}

func (r *fakeDailyBalanceRepo) Upsert(balance *models.DailyBalance) error {
	r.store.dailyBalances[dayKey(balance.AccountID, balance.Date)] = balance
	return nil
}

type fakeExchangeRateRepo struct {
	store *memStore
}

func (r *fakeExchangeRateRepo) GetRate(from, to string, asOf time.Time) (*ExchangeRate, error) {
	var best *ExchangeRate
	for i := range r.store.rates {
		rate := r.store.rates[i]
		if rate.From != from || rate.To != to || rate.EffectiveDate.After(asOf) {
			continue
		}
		if best == nil || rate.EffectiveDate.After(best.EffectiveDate) {
			best = &r.store.rates[i]
		}
	}
	if best == nil {
		return nil, fmt.Errorf("rate %s->%s as of %s: %w", from, to, utils.FormatDate(asOf), ErrRateNotFound)
	}
	return best, nil
}

func (r *fakeExchangeRateRepo) Save(rate ExchangeRate) error {
	for i := range r.store.rates {
		existing := &r.store.rates[i]
		if existing.From == rate.From && existing.To == rate.To && existing.EffectiveDate.Equal(rate.EffectiveDate) {
			existing.Rate = rate.Rate
			return nil
		}
	}
	r.store.rates = append(r.store.rates, rate)
	return nil
}

type fakeReconciliationRepo struct {
	store *memStore
}

func (r *fakeReconciliationRepo) FindByAccountAndDate(accountID string, date time.Time) (*models.Reconciliation, error) {
	reconciliation, ok := r.store.reconciliations[dayKey(accountID, date)]
	if !ok {
		return nil, fmt.Errorf("reconciliation (%s, %s): %w", accountID, utils.FormatDate(date), ErrReconciliationNotFound)
	}
	return reconciliation, nil
}

func (r *fakeReconciliationRepo) Upsert(reconciliation *models.Reconciliation) error {
	r.store.reconciliations[dayKey(reconciliation.AccountID, reconciliation.Date)] = reconciliation
	return nil
}

// fakeStatementProvider serves a canned record set or a canned error.
type fakeStatementProvider struct {
	records []models.ExternalRecord
	err     error
}

func (p *fakeStatementProvider) FetchRecords(ctx context.Context, accountID string, date time.Time) ([]models.ExternalRecord, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.records, nil
}

// fakeRateProvider serves canned quotes.
type fakeRateProvider struct {
	quotes []RateQuote
	err    error
	calls  int
}

func (p *fakeRateProvider) FetchRates(ctx context.Context, base string, symbols []string) ([]RateQuote, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.quotes, nil
}

// fakeAlertSender records alerts instead of delivering them.
type fakeAlertSender struct {
	subjects []string
}

func (a *fakeAlertSender) SendAlert(ctx context.Context, subject, body string) error {
	a.subjects = append(a.subjects, subject)
	return nil
}
