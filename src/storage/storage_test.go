package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbooks/ledgercore/src/database"
	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/services"
)

var storageDate = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func newTestFactory(t *testing.T) services.UnitOfWorkFactory {
	t.Helper()
	if logger.L == nil {
		logger.InitLogger("error")
	}
	database.InitDB(":memory:")
	t.Cleanup(func() { database.DB.Close() })
	return NewUnitOfWorkFactory(database.DB)
}

func begin(t *testing.T, factory services.UnitOfWorkFactory) services.UnitOfWork {
	t.Helper()
	uow, err := factory.Begin(context.Background())
	require.NoError(t, err)
	return uow
}

func createAccount(t *testing.T, factory services.UnitOfWorkFactory, number string) *models.Account {
	t.Helper()
	account, err := models.NewAccount(number, models.AccountTypeChecking, models.MustMoney("100.00", "EUR"))
	require.NoError(t, err)
	uow := begin(t, factory)
	defer uow.Rollback()
	require.NoError(t, uow.Accounts().Create(account))
	require.NoError(t, uow.Commit())
	return account
}

func createPosted(t *testing.T, factory services.UnitOfWorkFactory, accountID, externalID, amount string, valueDate time.Time) *models.Transaction {
	t.Helper()
	tx, err := models.NewTransaction(externalID, "bank_a", accountID, models.TransactionTypeAdjustment,
		models.MustMoney(amount, "EUR"), valueDate, time.Time{})
	require.NoError(t, err)
	require.NoError(t, tx.MarkProcessing())
	require.NoError(t, tx.MarkValidated())
	require.NoError(t, tx.MarkPosted())

	uow := begin(t, factory)
	defer uow.Rollback()
	require.NoError(t, uow.Transactions().Create(tx))
	require.NoError(t, uow.Commit())
	return tx
}

func TestAccountRepo_RoundTrip(t *testing.T) {
	factory := newTestFactory(t)
	account := createAccount(t, factory, "ACC-100")

	uow := begin(t, factory)
	defer uow.Rollback()

	loaded, err := uow.Accounts().FindByID(account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.AccountNumber, loaded.AccountNumber)
	assert.Equal(t, models.AccountTypeChecking, loaded.Type)
	assert.True(t, loaded.CurrentBalance.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "EUR", loaded.Currency.Code)
	assert.Equal(t, account.Version, loaded.Version)
	assert.Equal(t, loaded.Version, loaded.LoadedVersion())

	byNumber, err := uow.Accounts().FindByNumber("ACC-100")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byNumber.ID)

	_, err = uow.Accounts().FindByID("missing")
	assert.ErrorIs(t, err, services.ErrAccountNotFound)

	active, err := uow.Accounts().ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestAccountRepo_UniqueAccountNumber(t *testing.T) {
	factory := newTestFactory(t)
	createAccount(t, factory, "ACC-100")

	duplicate, err := models.NewAccount("ACC-100", models.AccountTypeSavings, models.MustMoney("0", "EUR"))
	require.NoError(t, err)

	uow := begin(t, factory)
	defer uow.Rollback()
	err = uow.Accounts().Create(duplicate)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "unique constraint failed")
}

func TestAccountRepo_ConditionalWrite(t *testing.T) {
	factory := newTestFactory(t)
	account := createAccount(t, factory, "ACC-100")

	// Two writers load the same version.
	uowA := begin(t, factory)
	first, err := uowA.Accounts().FindByID(account.ID)
	require.NoError(t, err)
	require.NoError(t, first.ApplyHold(models.MustMoney("10.00", "EUR")))
	require.NoError(t, uowA.Accounts().Save(first))
	require.NoError(t, uowA.Commit())

	// The second writer still carries the stale loaded version.
	uowB := begin(t, factory)
	defer uowB.Rollback()
	stale := account
	require.NoError(t, stale.ApplyHold(models.MustMoney("10.00", "EUR")))
	err = uowB.Accounts().Save(stale)
	assert.ErrorIs(t, err, models.ErrConcurrentModification)
}

func TestAccountRepo_SaveAdvancesLoadedVersion(t *testing.T) {
	factory := newTestFactory(t)
	account := createAccount(t, factory, "ACC-100")

	uow := begin(t, factory)
	loaded, err := uow.Accounts().FindByID(account.ID)
	require.NoError(t, err)
	require.NoError(t, loaded.ApplyHold(models.MustMoney("5.00", "EUR")))
	require.NoError(t, uow.Accounts().Save(loaded))
	// A second command in the same unit of work saves against the new token.
	require.NoError(t, loaded.ReleaseHold(models.MustMoney("5.00", "EUR")))
	require.NoError(t, uow.Accounts().Save(loaded))
	require.NoError(t, uow.Commit())

	check := begin(t, factory)
	defer check.Rollback()
	final, err := check.Accounts().FindByID(account.ID)
	require.NoError(t, err)
	assert.Equal(t, loaded.Version, final.Version)
}

func TestTransactionRepo_RoundTrip(t *testing.T) {
	factory := newTestFactory(t)
	account := createAccount(t, factory, "ACC-100")
	tx := createPosted(t, factory, account.ID, "T1", "42.50", storageDate)

	uow := begin(t, factory)
	defer uow.Rollback()

	loaded, err := uow.Transactions().FindByID(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ExternalID, loaded.ExternalID)
	assert.Equal(t, models.StatusPosted, loaded.Status)
	assert.True(t, loaded.Amount.Amount.Equal(decimal.RequireFromString("42.5")))
	assert.Equal(t, "EUR", loaded.Amount.Currency.Code)
	assert.Equal(t, tx.Hash, loaded.Hash)
	assert.True(t, loaded.ValueDate.Equal(storageDate))
	assert.Nil(t, loaded.OriginalAmount)
	assert.Nil(t, loaded.ExchangeRateUsed)

	byKey, err := uow.Transactions().FindByExternalID("T1", "bank_a")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byKey.ID)

	byHash, err := uow.Transactions().FindByHash(tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byHash.ID)

	_, err = uow.Transactions().FindByExternalID("T1", "bank_b")
	assert.ErrorIs(t, err, services.ErrTransactionNotFound)
}

func TestTransactionRepo_ConversionFieldsRoundTrip(t *testing.T) {
	factory := newTestFactory(t)
	account := createAccount(t, factory, "ACC-100")

	tx, err := models.NewTransaction("T1", "bank_a", account.ID, models.TransactionTypeDeposit,
		models.MustMoney("100.00", "USD"), storageDate, time.Time{})
	require.NoError(t, err)
	require.NoError(t, tx.ApplyCurrencyConversion(models.LookupCurrency("EUR"), decimal.RequireFromString("0.92")))

	uow := begin(t, factory)
	require.NoError(t, uow.Transactions().Create(tx))
	require.NoError(t, uow.Commit())

	check := begin(t, factory)
	defer check.Rollback()
	loaded, err := check.Transactions().FindByID(tx.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.OriginalAmount)
	assert.True(t, loaded.OriginalAmount.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "USD", loaded.OriginalAmount.Currency.Code)
	require.NotNil(t, loaded.ExchangeRateUsed)
	assert.True(t, loaded.ExchangeRateUsed.Equal(decimal.RequireFromString("0.92")))
	assert.True(t, loaded.Amount.Amount.Equal(decimal.RequireFromString("92")))
}

func TestTransactionRepo_UniqueIdempotencyKey(t *testing.T) {
	factory := newTestFactory(t)
	account := createAccount(t, factory, "ACC-100")
	createPosted(t, factory, account.ID, "T1", "10.00", storageDate)

	clash, err := models.NewTransaction("T1", "bank_a", account.ID, models.TransactionTypeAdjustment,
		models.MustMoney("99.00", "EUR"), storageDate, time.Time{})
	require.NoError(t, err)

	uow := begin(t, factory)
	defer uow.Rollback()
	err = uow.Transactions().Create(clash)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "unique constraint failed")

	// Same external id under another source is a different movement.
	otherSource, err := models.NewTransaction("T1", "bank_b", account.ID, models.TransactionTypeAdjustment,
		models.MustMoney("99.00", "EUR"), storageDate, time.Time{})
	require.NoError(t, err)
	assert.NoError(t, uow.Transactions().Create(otherSource))
}

func TestTransactionRepo_ListByAccountAndValueDate(t *testing.T) {
	factory := newTestFactory(t)
	account := createAccount(t, factory, "ACC-100")
	first := createPosted(t, factory, account.ID, "T1", "10.00", storageDate)
	second := createPosted(t, factory, account.ID, "T2", "20.00", storageDate)
	createPosted(t, factory, account.ID, "T3", "30.00", storageDate.AddDate(0, 0, 1))

	// A pending transaction on the date must not appear.
	pending, err := models.NewTransaction("T4", "bank_a", account.ID, models.TransactionTypeAdjustment,
		models.MustMoney("5.00", "EUR"), storageDate, time.Time{})
	require.NoError(t, err)
	setup := begin(t, factory)
	require.NoError(t, setup.Transactions().Create(pending))
	require.NoError(t, setup.Commit())

	uow := begin(t, factory)
	defer uow.Rollback()
	listed, err := uow.Transactions().ListByAccountAndValueDate(account.ID, storageDate, storageDate,
		[]models.TransactionStatus{models.StatusPosted, models.StatusReconciled})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, first.ID, listed[0].ID, "creation order is preserved")
	assert.Equal(t, second.ID, listed[1].ID)
}

func TestTransactionRepo_Search(t *testing.T) {
	factory := newTestFactory(t)
	account := createAccount(t, factory, "ACC-100")
	other := createAccount(t, factory, "ACC-200")
	for i, externalID := range []string{"T1", "T2", "T3"} {
		createPosted(t, factory, account.ID, externalID, "10.00", storageDate.AddDate(0, 0, i))
	}
	createPosted(t, factory, other.ID, "T9", "10.00", storageDate)

	uow := begin(t, factory)
	defer uow.Rollback()

	page, err := uow.Transactions().Search(services.TransactionFilter{AccountID: account.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	assert.Len(t, page.Items, 3)

	paged, err := uow.Transactions().Search(services.TransactionFilter{AccountID: account.ID, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, paged.TotalCount)
	assert.Len(t, paged.Items, 1)

	dated, err := uow.Transactions().Search(services.TransactionFilter{
		AccountID: account.ID,
		From:      storageDate.AddDate(0, 0, 1),
		To:        storageDate.AddDate(0, 0, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dated.TotalCount)

	empty, err := uow.Transactions().Search(services.TransactionFilter{AccountID: "missing"})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalCount)
	assert.NotNil(t, empty.Items, "empty result is an empty slice, not null")
}

func TestDailyBalanceRepo_Upsert(t *testing.T) {
	factory := newTestFactory(t)
	account := createAccount(t, factory, "ACC-100")

	balance := &models.DailyBalance{
		AccountID:        account.ID,
		Date:             storageDate,
		OpeningBalance:   decimal.NewFromInt(100),
		ClosingBalance:   decimal.NewFromInt(80),
		TotalDebits:      decimal.NewFromInt(-30),
		TotalCredits:     decimal.NewFromInt(10),
		TransactionCount: 2,
		UpdatedAt:        time.Now().UTC(),
	}
	uow := begin(t, factory)
	require.NoError(t, uow.DailyBalances().Upsert(balance))
	require.NoError(t, uow.Commit())

	// Rerun with different figures replaces the row.
	balance.ClosingBalance = decimal.NewFromInt(85)
	balance.TotalCredits = decimal.NewFromInt(15)
	rerun := begin(t, factory)
	require.NoError(t, rerun.DailyBalances().Upsert(balance))
	require.NoError(t, rerun.Commit())

	check := begin(t, factory)
	defer check.Rollback()
	loaded, err := check.DailyBalances().Find(account.ID, storageDate)
	require.NoError(t, err)
	assert.True(t, loaded.ClosingBalance.Equal(decimal.NewFromInt(85)))
	assert.True(t, loaded.TotalDebits.Equal(decimal.NewFromInt(-30)))

	_, err = check.DailyBalances().Find(account.ID, storageDate.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, services.ErrDailyBalanceNotFound)
}

func TestExchangeRateRepo_LatestBefore(t *testing.T) {
	factory := newTestFactory(t)

	uow := begin(t, factory)
	for _, rate := range []services.ExchangeRate{
		{From: "EUR", To: "USD", Rate: decimal.RequireFromString("1.05"), EffectiveDate: storageDate.AddDate(0, 0, -9)},
		{From: "EUR", To: "USD", Rate: decimal.RequireFromString("1.08"), EffectiveDate: storageDate.AddDate(0, 0, -2)},
		{From: "EUR", To: "USD", Rate: decimal.RequireFromString("1.10"), EffectiveDate: storageDate.AddDate(0, 0, 5)},
	} {
		require.NoError(t, uow.ExchangeRates().Save(rate))
	}
	require.NoError(t, uow.Commit())

	check := begin(t, factory)
	defer check.Rollback()

	rate, err := check.ExchangeRates().GetRate("EUR", "USD", storageDate)
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.RequireFromString("1.08")))

	_, err = check.ExchangeRates().GetRate("EUR", "USD", storageDate.AddDate(0, 0, -20))
	assert.ErrorIs(t, err, services.ErrRateNotFound)

	// The database is limited to one connection, so the read transaction must
	// be released before the next unit of work can begin.
	require.NoError(t, check.Rollback())

	// Saving the same effective date again overwrites the rate.
	update := begin(t, factory)
	require.NoError(t, update.ExchangeRates().Save(services.ExchangeRate{
		From: "EUR", To: "USD", Rate: decimal.RequireFromString("1.09"), EffectiveDate: storageDate.AddDate(0, 0, -2),
	}))
	require.NoError(t, update.Commit())

	final := begin(t, factory)
	defer final.Rollback()
	updated, err := final.ExchangeRates().GetRate("EUR", "USD", storageDate)
	require.NoError(t, err)
	assert.True(t, updated.Rate.Equal(decimal.RequireFromString("1.09")))
}

func TestReconciliationRepo_UpsertReplaces(t *testing.T) {
	factory := newTestFactory(t)
	account := createAccount(t, factory, "ACC-100")

	first := models.NewReconciliation(account.ID, storageDate)
	first.Complete(2, 1, 0, decimal.RequireFromString("10"), decimal.RequireFromString("0.0001"))
	uow := begin(t, factory)
	require.NoError(t, uow.Reconciliations().Upsert(first))
	require.NoError(t, uow.Commit())

	second := models.NewReconciliation(account.ID, storageDate)
	second.Complete(3, 0, 0, decimal.Zero, decimal.RequireFromString("0.0001"))
	rerun := begin(t, factory)
	require.NoError(t, rerun.Reconciliations().Upsert(second))
	require.NoError(t, rerun.Commit())

	check := begin(t, factory)
	defer check.Rollback()
	loaded, err := check.Reconciliations().FindByAccountAndDate(account.ID, storageDate)
	require.NoError(t, err)
	assert.Equal(t, second.ID, loaded.ID, "the stored row carries the latest run's id")
	assert.Equal(t, models.ReconciliationCompleted, loaded.Status)
	assert.Equal(t, 3, loaded.MatchedCount)
	assert.True(t, loaded.DiscrepancyAmount.IsZero())

	_, err = check.Reconciliations().FindByAccountAndDate(account.ID, storageDate.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, services.ErrReconciliationNotFound)
}
