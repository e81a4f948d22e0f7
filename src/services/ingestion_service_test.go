package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbooks/ledgercore/src/models"
)

func newIngestionFixture(t *testing.T) (*memStore, IngestionService, *models.Account) {
	t.Helper()
	store := newMemStore()
	account, err := models.NewAccount("ACC-100", models.AccountTypeChecking, models.MustMoney("0", "USD"))
	require.NoError(t, err)
	store.addAccount(account)
	service := NewIngestionService(&fakeUOWFactory{store: store}, 1)
	return store, service, account
}

func depositDescriptor(externalID, accountRef, amount string) TransactionDescriptor {
	return TransactionDescriptor{
		ExternalID: externalID,
		AccountID:  accountRef,
		Type:       models.TransactionTypeDeposit,
		Amount:     mustDec(amount),
		Currency:   "USD",
		ValueDate:  "2025-03-10",
	}
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestProcessBatch_PostsCredit(t *testing.T) {
	store, service, account := newIngestionFixture(t)

	result, err := service.ProcessBatch(context.Background(), IngestionBatch{
		Source: "bank_a",
		Items:  []TransactionDescriptor{depositDescriptor("T1", account.ID, "100")},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.Duplicates)
	require.Len(t, result.Items, 1)
	assert.Equal(t, OutcomeAccepted, result.Items[0].Outcome)

	tx := store.transactions[result.Items[0].TransactionID]
	require.NotNil(t, tx)
	assert.Equal(t, models.StatusPosted, tx.Status)
	assert.True(t, account.CurrentBalance.Amount.Equal(mustDec("100")))
	assert.True(t, account.AvailableBalance.Amount.Equal(mustDec("100")))
}

func TestProcessBatch_ReingestIsPureNoOp(t *testing.T) {
	_, service, account := newIngestionFixture(t)
	batch := IngestionBatch{
		Source: "bank_a",
		Items: []TransactionDescriptor{
			depositDescriptor("T1", account.ID, "100"),
			depositDescriptor("T2", account.ID, "50"),
		},
	}

	first, err := service.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Succeeded)
	balanceAfterFirst := account.CurrentBalance.Amount

	second, err := service.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Succeeded)
	assert.Equal(t, 2, second.Duplicates)
	assert.Equal(t, 0, second.Failed)
	assert.True(t, account.CurrentBalance.Amount.Equal(balanceAfterFirst), "re-ingest must not move balances")
}

func TestProcessBatch_AccountNumberResolution(t *testing.T) {
	_, service, account := newIngestionFixture(t)

	result, err := service.ProcessBatch(context.Background(), IngestionBatch{
		Source: "bank_a",
		Items:  []TransactionDescriptor{depositDescriptor("T1", "ACC-100", "25")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.True(t, account.CurrentBalance.Amount.Equal(mustDec("25")))
}

func TestProcessBatch_SameAccountItemsAccumulate(t *testing.T) {
	_, service, account := newIngestionFixture(t)

	withdrawal := TransactionDescriptor{
		ExternalID: "T2",
		AccountID:  "ACC-100", // by number, same account as T1 by id
		Type:       models.TransactionTypeWithdrawal,
		Amount:     mustDec("-30"),
		Currency:   "USD",
		ValueDate:  "2025-03-10",
	}
	result, err := service.ProcessBatch(context.Background(), IngestionBatch{
		Source: "bank_a",
		Items:  []TransactionDescriptor{depositDescriptor("T1", account.ID, "100"), withdrawal},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.True(t, account.CurrentBalance.Amount.Equal(mustDec("70")))
}

func TestProcessBatch_ItemFailures(t *testing.T) {
	tests := []struct {
		name string
		item TransactionDescriptor
	}{
		{"missing account", depositDescriptor("T1", "no-such-account", "10")},
		{"missing external id", depositDescriptor("", "ACC-100", "10")},
		{"zero amount", depositDescriptor("T1", "ACC-100", "0")},
		{"bad currency", TransactionDescriptor{ExternalID: "T1", AccountID: "ACC-100", Type: models.TransactionTypeDeposit, Amount: mustDec("10"), Currency: "EURO", ValueDate: "2025-03-10"}},
		{"bad value date", TransactionDescriptor{ExternalID: "T1", AccountID: "ACC-100", Type: models.TransactionTypeDeposit, Amount: mustDec("10"), Currency: "USD", ValueDate: "10/03/2025"}},
		{"future value date", depositDescriptor("T1", "ACC-100", "10")},
		{"sign mismatch", TransactionDescriptor{ExternalID: "T1", AccountID: "ACC-100", Type: models.TransactionTypeDeposit, Amount: mustDec("-10"), Currency: "USD", ValueDate: "2025-03-10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, service, account := newIngestionFixture(t)
			item := tt.item
			if tt.name == "future value date" {
				item.ValueDate = "2099-01-01"
			}

			result, err := service.ProcessBatch(context.Background(), IngestionBatch{
				Source: "bank_a",
				Items:  []TransactionDescriptor{item},
			})
			require.NoError(t, err)
			assert.Equal(t, 1, result.Failed)
			assert.Equal(t, 0, result.Succeeded)
			assert.NotEmpty(t, result.Items[0].Error)
			assert.True(t, account.CurrentBalance.IsZero(), "failed item must not move balances")
		})
	}
}

func TestProcessBatch_FailedItemDoesNotStopBatch(t *testing.T) {
	_, service, account := newIngestionFixture(t)

	result, err := service.ProcessBatch(context.Background(), IngestionBatch{
		Source: "bank_a",
		Items: []TransactionDescriptor{
			depositDescriptor("T1", "no-such-account", "10"),
			depositDescriptor("T2", account.ID, "40"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Succeeded)
	assert.True(t, account.CurrentBalance.Amount.Equal(mustDec("40")))
}

func TestProcessBatch_FailOnFirstErrorAborts(t *testing.T) {
	_, service, account := newIngestionFixture(t)

	result, err := service.ProcessBatch(context.Background(), IngestionBatch{
		Source:           "bank_a",
		FailOnFirstError: true,
		Items: []TransactionDescriptor{
			depositDescriptor("T1", "no-such-account", "10"),
			depositDescriptor("T2", account.ID, "40"),
		},
	})
	assert.ErrorIs(t, err, ErrBatchAborted)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 1, "processing stops at the failing item")
}

func TestProcessBatch_CurrencyConversionWithStoredRate(t *testing.T) {
	store, service, _ := newIngestionFixture(t)
	store.rates = append(store.rates, ExchangeRate{
		From: "EUR", To: "USD", Rate: mustDec("1.0850"),
		EffectiveDate: mustDate("2025-03-01"),
	})

	original := mustDec("100")
	item := TransactionDescriptor{
		ExternalID:       "T1",
		AccountID:        "ACC-100",
		Type:             models.TransactionTypeDeposit,
		Amount:           mustDec("108.50"),
		Currency:         "USD",
		ValueDate:        "2025-03-10",
		OriginalAmount:   &original,
		OriginalCurrency: "EUR",
	}
	result, err := service.ProcessBatch(context.Background(), IngestionBatch{Source: "bank_a", Items: []TransactionDescriptor{item}})
	require.NoError(t, err)
	require.Equal(t, 1, result.Succeeded)

	tx := store.transactions[result.Items[0].TransactionID]
	require.NotNil(t, tx)
	assert.Equal(t, "USD", tx.Amount.Currency.Code)
	assert.True(t, tx.Amount.Amount.Equal(mustDec("108.50")))
	require.NotNil(t, tx.OriginalAmount)
	assert.Equal(t, "EUR", tx.OriginalAmount.Currency.Code)
	require.NotNil(t, tx.ExchangeRateUsed)
	assert.True(t, tx.ExchangeRateUsed.Equal(mustDec("1.0850")))
}

func TestProcessBatch_ImplicitRateFallback(t *testing.T) {
	store, service, _ := newIngestionFixture(t)

	original := mustDec("200")
	item := TransactionDescriptor{
		ExternalID:       "T1",
		AccountID:        "ACC-100",
		Type:             models.TransactionTypeDeposit,
		Amount:           mustDec("220"),
		Currency:         "USD",
		ValueDate:        "2025-03-10",
		OriginalAmount:   &original,
		OriginalCurrency: "EUR",
	}
	result, err := service.ProcessBatch(context.Background(), IngestionBatch{Source: "bank_a", Items: []TransactionDescriptor{item}})
	require.NoError(t, err)
	require.Equal(t, 1, result.Succeeded)

	tx := store.transactions[result.Items[0].TransactionID]
	require.NotNil(t, tx)
	require.NotNil(t, tx.ExchangeRateUsed)
	assert.True(t, tx.ExchangeRateUsed.Equal(mustDec("1.1")), "implicit rate is |amount/originalAmount|")
}

func TestReverseTransaction(t *testing.T) {
	store, service, account := newIngestionFixture(t)

	result, err := service.ProcessBatch(context.Background(), IngestionBatch{
		Source: "bank_a",
		Items:  []TransactionDescriptor{depositDescriptor("T1", account.ID, "100")},
	})
	require.NoError(t, err)
	originalID := result.Items[0].TransactionID

	reversal, err := service.ReverseTransaction(context.Background(), originalID, "ops correction")
	require.NoError(t, err)

	assert.Equal(t, models.TransactionTypeAdjustment, reversal.Type)
	assert.True(t, reversal.Amount.Amount.Equal(mustDec("-100")))
	assert.Equal(t, models.StatusPosted, reversal.Status)
	assert.Equal(t, models.StatusReversed, store.transactions[originalID].Status)
	assert.True(t, account.CurrentBalance.IsZero(), "reversal offsets the original amount")

	_, err = service.ReverseTransaction(context.Background(), originalID, "again")
	assert.Error(t, err, "a reversed transaction cannot be reversed twice")

	_, err = service.ReverseTransaction(context.Background(), "missing", "reason")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = service.ReverseTransaction(context.Background(), originalID, "  ")
	assert.Error(t, err, "reversal requires a reason")
}
