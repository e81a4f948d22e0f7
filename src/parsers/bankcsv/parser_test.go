package bankcsv

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/services"
)

func init() {
	logger.InitLogger("error")
}

func TestParse_HeaderMappedColumns(t *testing.T) {
	// Column order differs from the canonical one and extra columns are mixed in.
	input := strings.Join([]string{
		"Value_Date,ignored,Currency,Amount,Type,Account,External_ID,Description",
		"2025-03-10,x,EUR,\"1,250.00\",deposit,ACC-100,T1,salary",
		"2025-03-11,y,EUR,-42.50,withdrawal,ACC-100,T2,",
	}, "\n")

	parser := NewParser()
	descriptors, err := parser.Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	first := descriptors[0]
	assert.Equal(t, "T1", first.ExternalID)
	assert.Equal(t, "ACC-100", first.AccountID)
	assert.Equal(t, models.TransactionTypeDeposit, first.Type)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("1250.00")))
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, "2025-03-10", first.ValueDate)
	assert.Equal(t, "salary", first.Description)
	assert.Nil(t, first.OriginalAmount)

	second := descriptors[1]
	assert.Equal(t, "T2", second.ExternalID)
	assert.True(t, second.Amount.Equal(decimal.RequireFromString("-42.5")))
}

func TestParse_OriginalAmountColumn(t *testing.T) {
	input := strings.Join([]string{
		"external_id,account,type,amount,currency,value_date,original_amount,original_currency",
		"T1,ACC-100,deposit,92.00,EUR,2025-03-10,100.00,USD",
	}, "\n")

	descriptors, err := NewParser().Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	require.NotNil(t, descriptors[0].OriginalAmount)
	assert.True(t, descriptors[0].OriginalAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "USD", descriptors[0].OriginalCurrency)
}

func TestParse_MissingRequiredColumn(t *testing.T) {
	input := strings.Join([]string{
		"external_id,account,type,amount,currency",
		"T1,ACC-100,deposit,10.00,EUR",
	}, "\n")

	_, err := NewParser().Parse(strings.NewReader(input))
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrParsingFailed)
	assert.Contains(t, err.Error(), "value_date")
}

func TestParse_SkipsRowsWithBadAmounts(t *testing.T) {
	input := strings.Join([]string{
		"external_id,account,type,amount,currency,value_date",
		"T1,ACC-100,deposit,not-a-number,EUR,2025-03-10",
		"T2,ACC-100,deposit,10.00,EUR,2025-03-10",
		"T3,ACC-100,deposit,10.00,EUR,2025-03-10,extra-field",
	}, "\n")

	descriptors, err := NewParser().Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, "T2", descriptors[0].ExternalID)
	assert.Equal(t, "T3", descriptors[1].ExternalID)
}

func TestParse_EmptyBody(t *testing.T) {
	input := "external_id,account,type,amount,currency,value_date\n"
	descriptors, err := NewParser().Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Empty(t, descriptors)
}
