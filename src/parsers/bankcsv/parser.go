package bankcsv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/services"
)

// BankCSVParser reads the generic bank statement export format: a header row
// naming the columns, then one transaction per row. Column order is free;
// unknown columns are ignored.
type BankCSVParser struct{}

func NewParser() *BankCSVParser {
	return &BankCSVParser{}
}

func (p *BankCSVParser) Parse(file io.Reader) ([]services.TransactionDescriptor, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV header: %v", services.ErrParsingFailed, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"external_id", "account", "type", "amount", "currency", "value_date"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: CSV header is missing required column %q", services.ErrParsingFailed, required)
		}
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV records: %v", services.ErrParsingFailed, err)
	}

	field := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var descriptors []services.TransactionDescriptor
	for i, record := range records {
		amountStr := field(record, "amount")
		amount, err := decimal.NewFromString(strings.ReplaceAll(amountStr, ",", ""))
		if err != nil {
			logger.L.Warn("skipping CSV row with invalid amount",
				"row", i+2,
				"amount", amountStr)
			continue
		}

		descriptor := services.TransactionDescriptor{
			ExternalID:       field(record, "external_id"),
			AccountID:        field(record, "account"),
			Type:             models.TransactionType(strings.ToLower(field(record, "type"))),
			Amount:           amount,
			Currency:         field(record, "currency"),
			ValueDate:        field(record, "value_date"),
			BookingDate:      field(record, "booking_date"),
			Description:      field(record, "description"),
			Counterparty:     field(record, "counterparty"),
			Category:         field(record, "category"),
			OriginalCurrency: field(record, "original_currency"),
		}

		if originalStr := field(record, "original_amount"); originalStr != "" {
			original, err := decimal.NewFromString(strings.ReplaceAll(originalStr, ",", ""))
			if err != nil {
				logger.L.Warn("skipping CSV row with invalid original amount",
					"row", i+2,
					"original_amount", originalStr)
				continue
			}
			descriptor.OriginalAmount = &original
		}

		descriptors = append(descriptors, descriptor)
	}

	return descriptors, nil
}
