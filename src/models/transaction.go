package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit     TransactionType = "deposit"
	TransactionTypeWithdrawal  TransactionType = "withdrawal"
	TransactionTypeTransferIn  TransactionType = "transfer_in"
	TransactionTypeTransferOut TransactionType = "transfer_out"
	TransactionTypePayment     TransactionType = "payment"
	TransactionTypeFee         TransactionType = "fee"
	TransactionTypeInterest    TransactionType = "interest"
	TransactionTypeAdjustment  TransactionType = "adjustment"
)

// IsDebit reports whether the type must carry a strictly negative amount.
func (t TransactionType) IsDebit() bool {
	switch t {
	case TransactionTypeWithdrawal, TransactionTypeTransferOut, TransactionTypePayment, TransactionTypeFee:
		return true
	}
	return false
}

// IsCredit reports whether the type must carry a strictly positive amount.
func (t TransactionType) IsCredit() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeTransferIn, TransactionTypeInterest:
		return true
	}
	return false
}

// IsValid reports whether t is a known transaction type.
func (t TransactionType) IsValid() bool {
	return t.IsDebit() || t.IsCredit() || t == TransactionTypeAdjustment
}

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusValidated  TransactionStatus = "validated"
	StatusPosted     TransactionStatus = "posted"
	StatusReconciled TransactionStatus = "reconciled"
	StatusRejected   TransactionStatus = "rejected"
	StatusReversed   TransactionStatus = "reversed"
)

// allowedTransitions is the full transition table of the transaction state
// machine. Posting is the irreversible point: balances have been affected by
// the time the status flips to posted.
var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusProcessing, StatusRejected},
	StatusProcessing: {StatusValidated, StatusRejected},
	StatusValidated:  {StatusPosted, StatusRejected},
	StatusPosted:     {StatusReconciled, StatusReversed},
	StatusReconciled: {StatusReversed},
}

// Transaction is one monetary movement against an account. The
// (ExternalID, Source) pair is the idempotency key; Hash is a secondary
// duplicate signal over the transaction content.
type Transaction struct {
	ID               string            `json:"id"`
	ExternalID       string            `json:"external_id"`
	Source           string            `json:"source"`
	AccountID        string            `json:"account_id"`
	Type             TransactionType   `json:"type"`
	Status           TransactionStatus `json:"status"`
	Amount           Money             `json:"amount"`
	OriginalAmount   *Money            `json:"original_amount,omitempty"`
	ExchangeRateUsed *decimal.Decimal  `json:"exchange_rate_used,omitempty"`
	ValueDate        time.Time         `json:"value_date"`
	BookingDate      time.Time         `json:"booking_date"`
	Description      string            `json:"description,omitempty"`
	Counterparty     string            `json:"counterparty,omitempty"`
	Category         string            `json:"category,omitempty"`
	Hash             string            `json:"hash"`
	ReconciliationID string            `json:"reconciliation_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewTransaction is the type-checked factory for transactions. It enforces the
// sign invariant: debit-like types strictly negative, credit-like types
// strictly positive, adjustments merely non-zero.
func NewTransaction(externalID, source, accountID string, txType TransactionType, amount Money, valueDate, bookingDate time.Time) (*Transaction, error) {
	if externalID == "" || source == "" {
		return nil, ErrMissingExternalID
	}
	if accountID == "" {
		return nil, fmt.Errorf("transaction %s: account id is required", externalID)
	}
	if !txType.IsValid() {
		return nil, fmt.Errorf("transaction %s: unknown transaction type %q", externalID, txType)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("transaction %s: %w", externalID, ErrZeroAmount)
	}
	if txType.IsDebit() && !amount.IsNegative() {
		return nil, fmt.Errorf("transaction %s: %w: %s requires a negative amount", externalID, ErrAmountSignMismatch, txType)
	}
	if txType.IsCredit() && !amount.IsPositive() {
		return nil, fmt.Errorf("transaction %s: %w: %s requires a positive amount", externalID, ErrAmountSignMismatch, txType)
	}
	if bookingDate.IsZero() {
		bookingDate = valueDate
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:          uuid.NewString(),
		ExternalID:  externalID,
		Source:      source,
		AccountID:   accountID,
		Type:        txType,
		Status:      StatusPending,
		Amount:      amount,
		ValueDate:   valueDate,
		BookingDate: bookingDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx.Hash = tx.computeHash()
	return tx, nil
}

// computeHash digests the fields that identify the movement's content. It is
// recomputed whenever the amount changes (currency conversion).
func (tx *Transaction) computeHash() string {
	input := fmt.Sprintf("%s|%s|%s|%s", tx.ExternalID, tx.Amount.Amount.String(), tx.ValueDate.Format("2006-01-02"), tx.AccountID)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func (tx *Transaction) transition(to TransactionStatus) error {
	for _, allowed := range allowedTransitions[tx.Status] {
		if allowed == to {
			tx.Status = to
			tx.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, tx.Status, to)
}

func (tx *Transaction) MarkProcessing() error { return tx.transition(StatusProcessing) }
func (tx *Transaction) MarkValidated() error  { return tx.transition(StatusValidated) }

// MarkPosted flips the status after the amount has been applied to the
// account; the apply and the flip form one logical step in the pipeline.
func (tx *Transaction) MarkPosted() error { return tx.transition(StatusPosted) }

func (tx *Transaction) MarkReconciled(reconciliationID string) error {
	if err := tx.transition(StatusReconciled); err != nil {
		return err
	}
	tx.ReconciliationID = reconciliationID
	return nil
}

func (tx *Transaction) Reject(reason string) error {
	if err := tx.transition(StatusRejected); err != nil {
		return err
	}
	if reason != "" {
		tx.Description = reason
	}
	return nil
}

func (tx *Transaction) Reverse() error { return tx.transition(StatusReversed) }

// ApplyCurrencyConversion replaces the amount with its converted value,
// remembering the original amount and the rate used. Only permitted before
// validation settles the amount (pending or processing).
func (tx *Transaction) ApplyCurrencyConversion(target Currency, rate decimal.Decimal) error {
	if tx.Status != StatusPending && tx.Status != StatusProcessing {
		return fmt.Errorf("%w: status is %s", ErrConversionNotAllowed, tx.Status)
	}
	converted, err := tx.Amount.ConvertTo(target, rate)
	if err != nil {
		return err
	}
	original := tx.Amount
	tx.OriginalAmount = &original
	tx.ExchangeRateUsed = &rate
	tx.Amount = converted
	tx.Hash = tx.computeHash()
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

// SetMetadata attaches optional categorization fields. Empty values leave the
// existing field untouched.
func (tx *Transaction) SetMetadata(description, counterparty, category string) {
	if description != "" {
		tx.Description = description
	}
	if counterparty != "" {
		tx.Counterparty = counterparty
	}
	if category != "" {
		tx.Category = category
	}
}
