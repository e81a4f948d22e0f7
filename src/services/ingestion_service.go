package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/utils"
)

// TransactionDescriptor is one raw transaction entering the pipeline, as
// produced by a statement file parser or the batch API.
type TransactionDescriptor struct {
	ExternalID       string                 `json:"external_id"`
	AccountID        string                 `json:"account_id"` // account id or account number
	Type             models.TransactionType `json:"type"`
	Amount           decimal.Decimal        `json:"amount"`
	Currency         string                 `json:"currency"`
	ValueDate        string                 `json:"value_date"` // yyyy-mm-dd
	BookingDate      string                 `json:"booking_date,omitempty"`
	Description      string                 `json:"description,omitempty"`
	Counterparty     string                 `json:"counterparty,omitempty"`
	Category         string                 `json:"category,omitempty"`
	OriginalAmount   *decimal.Decimal       `json:"original_amount,omitempty"`
	OriginalCurrency string                 `json:"original_currency,omitempty"`
}

// IngestionBatch is one atomic unit of descriptors from a single source.
type IngestionBatch struct {
	Source           string                  `json:"source"`
	FailOnFirstError bool                    `json:"fail_on_first_error"`
	Items            []TransactionDescriptor `json:"items"`
}

type ItemOutcome string

const (
	OutcomeAccepted  ItemOutcome = "accepted"
	OutcomeDuplicate ItemOutcome = "duplicate"
	OutcomeFailed    ItemOutcome = "failed"
)

// ItemResult reports one descriptor's fate. Duplicates are successful no-ops,
// not errors.
type ItemResult struct {
	ExternalID    string      `json:"external_id"`
	Outcome       ItemOutcome `json:"outcome"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Error         string      `json:"error,omitempty"`
}

type BatchResult struct {
	BatchID    string       `json:"batch_id"`
	Source     string       `json:"source"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Duplicates int          `json:"duplicates"`
	Items      []ItemResult `json:"items"`
}

// IngestionService posts batches of transaction descriptors against accounts
// under the idempotency and atomicity contract.
type IngestionService interface {
	ProcessBatch(ctx context.Context, batch IngestionBatch) (*BatchResult, error)
	ReverseTransaction(ctx context.Context, transactionID, reason string) (*models.Transaction, error)
}

type ingestionServiceImpl struct {
	uowFactory         UnitOfWorkFactory
	maxFutureValueDays int
}

func NewIngestionService(uowFactory UnitOfWorkFactory, maxFutureValueDays int) IngestionService {
	return &ingestionServiceImpl{
		uowFactory:         uowFactory,
		maxFutureValueDays: maxFutureValueDays,
	}
}

var currencyCodePattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// ProcessBatch runs the whole batch inside one unit of work, sequentially and
// in batch order. Re-running an already accepted batch is a pure no-op: every
// previously accepted item comes back as a duplicate and no balance moves.
func (s *ingestionServiceImpl) ProcessBatch(ctx context.Context, batch IngestionBatch) (*BatchResult, error) {
	startTime := time.Now()
	result := &BatchResult{
		BatchID: uuid.NewString(),
		Source:  batch.Source,
		Items:   make([]ItemResult, 0, len(batch.Items)),
	}
	logger.L.Info("ProcessBatch START", "batchID", result.BatchID, "source", batch.Source, "items", len(batch.Items))

	if strings.TrimSpace(batch.Source) == "" {
		return nil, fmt.Errorf("%w: batch source is required", ErrBatchAborted)
	}

	uow, err := s.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning unit of work: %w", err)
	}
	defer uow.Rollback()

	// Accounts touched by this batch, keyed by resolved id. Items hitting the
	// same account must accumulate on one aggregate instance.
	accounts := make(map[string]*models.Account)

	for _, item := range batch.Items {
		itemResult, fatal := s.processItem(uow, batch.Source, item, accounts)
		result.Items = append(result.Items, itemResult)
		switch itemResult.Outcome {
		case OutcomeAccepted:
			result.Succeeded++
		case OutcomeDuplicate:
			result.Duplicates++
		case OutcomeFailed:
			result.Failed++
		}
		if fatal != nil {
			logger.L.Error("ProcessBatch fatal item error, rolling back", "batchID", result.BatchID, "externalID", item.ExternalID, "error", fatal)
			return nil, fatal
		}
		if itemResult.Outcome == OutcomeFailed && batch.FailOnFirstError {
			logger.L.Warn("ProcessBatch aborting on first error", "batchID", result.BatchID, "externalID", item.ExternalID, "error", itemResult.Error)
			return result, fmt.Errorf("%w: item %s: %s", ErrBatchAborted, item.ExternalID, itemResult.Error)
		}
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("error committing batch %s: %w", result.BatchID, err)
	}

	logger.L.Info("ProcessBatch END", "batchID", result.BatchID,
		"succeeded", result.Succeeded, "failed", result.Failed, "duplicates", result.Duplicates,
		"duration", time.Since(startTime))
	return result, nil
}

// processItem handles one descriptor. The second return value is non-nil only
// for infrastructure failures, which abort the whole batch; domain and
// validation failures are converted into the item result.
func (s *ingestionServiceImpl) processItem(uow UnitOfWork, source string, item TransactionDescriptor, accounts map[string]*models.Account) (result ItemResult, fatal error) {
	result = ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeFailed}

	// Unexpected panics in a single item count as failures, they must not take
	// the rest of the batch down unless failOnFirstError says so.
	defer func() {
		if r := recover(); r != nil {
			logger.L.Error("processItem panic recovered", "externalID", item.ExternalID, "panic", r)
			result = ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeFailed, Error: fmt.Sprintf("unexpected error: %v", r)}
			fatal = nil
		}
	}()

	// 1. Idempotency check on (externalId, source).
	existing, err := uow.Transactions().FindByExternalID(item.ExternalID, source)
	if err == nil {
		return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeDuplicate, TransactionID: existing.ID}, nil
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return result, fmt.Errorf("error checking idempotency key (%s, %s): %w", item.ExternalID, source, err)
	}

	// 2. Structural validation before any state mutation.
	valueDate, bookingDate, err := s.validateDescriptor(item)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	// 3. Resolve the target account.
	account, err := s.resolveAccount(uow, item.AccountID, accounts)
	if errors.Is(err, ErrAccountNotFound) {
		result.Error = fmt.Sprintf("account %s not found", item.AccountID)
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("error resolving account %s: %w", item.AccountID, err)
	}

	// 4. Construct the transaction, in the original currency when a conversion
	// is requested, so the conversion history lands on the aggregate.
	tx, err := s.buildTransaction(uow, source, item, valueDate, bookingDate)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	tx.SetMetadata(item.Description, item.Counterparty, item.Category)

	// 5. Stage before posting: an insert racing another batch on the unique
	// (external_id, source) key surfaces here as a duplicate, before any
	// balance has moved.
	if err := uow.Transactions().Create(tx); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint failed") {
			logger.L.Debug("Skipping duplicate transaction on ingest", "externalID", item.ExternalID, "source", source)
			return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeDuplicate}, nil
		}
		return result, fmt.Errorf("error inserting transaction %s: %w", item.ExternalID, err)
	}

	// 6. Validate, post against the account, persist. The account write is
	// conditional on the version token; a conflict means a concurrent writer
	// and aborts the batch so the caller can re-read and retry.
	if err := tx.MarkProcessing(); err != nil {
		result.Error = err.Error()
		return result, nil
	}
	if err := tx.MarkValidated(); err != nil {
		result.Error = err.Error()
		return result, nil
	}
	if err := account.ApplyTransaction(tx); err != nil {
		result.Error = err.Error()
		return result, nil
	}
	if err := tx.MarkPosted(); err != nil {
		result.Error = err.Error()
		return result, nil
	}
	if err := uow.Accounts().Save(account); err != nil {
		if errors.Is(err, models.ErrConcurrentModification) {
			return result, fmt.Errorf("account %s: %w", account.AccountNumber, err)
		}
		return result, fmt.Errorf("error saving account %s: %w", account.AccountNumber, err)
	}
	if err := uow.Transactions().Update(tx); err != nil {
		return result, fmt.Errorf("error updating transaction %s: %w", tx.ID, err)
	}

	for _, event := range account.DrainEvents() {
		logger.L.Debug("account event", "type", event.Type, "accountID", event.AccountID, "amount", event.Amount.String())
	}

	return ItemResult{ExternalID: item.ExternalID, Outcome: OutcomeAccepted, TransactionID: tx.ID}, nil
}

func (s *ingestionServiceImpl) validateDescriptor(item TransactionDescriptor) (valueDate, bookingDate time.Time, err error) {
	if strings.TrimSpace(item.ExternalID) == "" {
		return time.Time{}, time.Time{}, models.ErrMissingExternalID
	}
	if item.Amount.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("item %s: %w", item.ExternalID, models.ErrZeroAmount)
	}
	if !currencyCodePattern.MatchString(strings.TrimSpace(item.Currency)) {
		return time.Time{}, time.Time{}, fmt.Errorf("item %s: invalid currency code %q", item.ExternalID, item.Currency)
	}
	if item.OriginalCurrency != "" && !currencyCodePattern.MatchString(strings.TrimSpace(item.OriginalCurrency)) {
		return time.Time{}, time.Time{}, fmt.Errorf("item %s: invalid original currency code %q", item.ExternalID, item.OriginalCurrency)
	}

	valueDate, err = utils.ParseDate(item.ValueDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("item %s: invalid value date %q", item.ExternalID, item.ValueDate)
	}
	maxFuture := utils.StartOfDay(time.Now().UTC()).AddDate(0, 0, s.maxFutureValueDays)
	if valueDate.After(maxFuture) {
		return time.Time{}, time.Time{}, fmt.Errorf("item %s: value date %s is too far in the future", item.ExternalID, item.ValueDate)
	}

	if item.BookingDate != "" {
		bookingDate, err = utils.ParseDate(item.BookingDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("item %s: invalid booking date %q", item.ExternalID, item.BookingDate)
		}
	}
	return valueDate, bookingDate, nil
}

func (s *ingestionServiceImpl) resolveAccount(uow UnitOfWork, ref string, accounts map[string]*models.Account) (*models.Account, error) {
	if account, ok := accounts[ref]; ok {
		return account, nil
	}
	account, err := uow.Accounts().FindByID(ref)
	if errors.Is(err, ErrAccountNotFound) {
		account, err = uow.Accounts().FindByNumber(ref)
	}
	if err != nil {
		return nil, err
	}
	accounts[ref] = account
	accounts[account.ID] = account
	return account, nil
}

// buildTransaction constructs the aggregate via the type-checked factory and
// records the currency conversion when the descriptor carries an original
// amount. A missing stored rate never hard-fails the item: an implicit rate of
// |amount / originalAmount| is derived and logged at a lower severity.
func (s *ingestionServiceImpl) buildTransaction(uow UnitOfWork, source string, item TransactionDescriptor, valueDate, bookingDate time.Time) (*models.Transaction, error) {
	targetCurrency := models.LookupCurrency(item.Currency)

	if item.OriginalAmount == nil || item.OriginalCurrency == "" {
		amount := models.NewMoney(item.Amount, targetCurrency)
		return models.NewTransaction(item.ExternalID, source, item.AccountID, item.Type, amount, valueDate, bookingDate)
	}

	originalCurrency := models.LookupCurrency(item.OriginalCurrency)
	original := models.NewMoney(*item.OriginalAmount, originalCurrency)
	tx, err := models.NewTransaction(item.ExternalID, source, item.AccountID, item.Type, original, valueDate, bookingDate)
	if err != nil {
		return nil, err
	}

	var rate decimal.Decimal
	stored, err := uow.ExchangeRates().GetRate(originalCurrency.Code, targetCurrency.Code, valueDate)
	switch {
	case err == nil:
		rate = stored.Rate
	case errors.Is(err, ErrRateNotFound):
		if item.OriginalAmount.IsZero() {
			return nil, fmt.Errorf("item %s: cannot derive implicit rate from a zero original amount", item.ExternalID)
		}
		rate = item.Amount.Div(*item.OriginalAmount).Abs()
		logger.L.Warn("No stored exchange rate, deriving implicit rate",
			"externalID", item.ExternalID, "from", originalCurrency.Code, "to", targetCurrency.Code,
			"valueDate", item.ValueDate, "implicitRate", rate.String())
	default:
		return nil, fmt.Errorf("error resolving exchange rate %s->%s: %w", originalCurrency.Code, targetCurrency.Code, err)
	}

	if err := tx.ApplyCurrencyConversion(targetCurrency, rate); err != nil {
		return nil, err
	}
	return tx, nil
}

// ReverseTransaction reverses a posted or reconciled transaction by creating
// an offsetting adjustment; the original is never mutated in place beyond its
// status flip.
func (s *ingestionServiceImpl) ReverseTransaction(ctx context.Context, transactionID, reason string) (*models.Transaction, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("reversal requires a reason")
	}

	uow, err := s.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning unit of work: %w", err)
	}
	defer uow.Rollback()

	original, err := uow.Transactions().FindByID(transactionID)
	if err != nil {
		return nil, err
	}
	account, err := uow.Accounts().FindByID(original.AccountID)
	if err != nil {
		return nil, err
	}

	reversal, err := models.NewTransaction(
		"REV-"+original.ExternalID, original.Source, original.AccountID,
		models.TransactionTypeAdjustment, original.Amount.Negate(),
		original.ValueDate, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	reversal.SetMetadata(reason, original.Counterparty, "reversal")

	if err := original.Reverse(); err != nil {
		return nil, err
	}
	if err := uow.Transactions().Create(reversal); err != nil {
		return nil, fmt.Errorf("error inserting reversal for %s: %w", transactionID, err)
	}
	if err := reversal.MarkProcessing(); err != nil {
		return nil, err
	}
	if err := reversal.MarkValidated(); err != nil {
		return nil, err
	}
	if err := account.ApplyTransaction(reversal); err != nil {
		return nil, err
	}
	if err := reversal.MarkPosted(); err != nil {
		return nil, err
	}
	if err := uow.Accounts().Save(account); err != nil {
		return nil, err
	}
	if err := uow.Transactions().Update(reversal); err != nil {
		return nil, err
	}
	if err := uow.Transactions().Update(original); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("error committing reversal of %s: %w", transactionID, err)
	}

	logger.L.Info("Transaction reversed", "originalID", original.ID, "reversalID", reversal.ID, "reason", reason)
	return reversal, nil
}
