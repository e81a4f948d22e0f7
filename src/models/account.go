package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AccountType string

const (
	AccountTypeChecking   AccountType = "checking"
	AccountTypeSavings    AccountType = "savings"
	AccountTypeCreditCard AccountType = "credit_card"
	AccountTypeLoan       AccountType = "loan"
)

// AllowsNegativeBalance reports whether the account type may carry a negative
// current balance (credit lines and loans).
func (t AccountType) AllowsNegativeBalance() bool {
	return t == AccountTypeCreditCard || t == AccountTypeLoan
}

type AccountEventType string

const (
	EventTransactionApplied AccountEventType = "transaction_applied"
	EventHoldApplied        AccountEventType = "hold_applied"
	EventHoldReleased       AccountEventType = "hold_released"
	EventBalanceAdjusted    AccountEventType = "balance_adjusted"
	EventAccountDeactivated AccountEventType = "account_deactivated"
	EventAccountReactivated AccountEventType = "account_reactivated"
)

// AccountEvent records one state change produced by a command on the account.
// Events accumulate on the aggregate and are drained by the caller; there is
// no hidden event bus.
type AccountEvent struct {
	Type       AccountEventType
	AccountID  string
	Amount     Money
	Reason     string
	OccurredAt time.Time
}

// Account holds the current and available balances for one account. Version is
// the optimistic-concurrency token: it increments on every mutating command,
// and the storage layer must write conditionally on the previous value.
type Account struct {
	ID               string      `json:"id"`
	AccountNumber    string      `json:"account_number"`
	Type             AccountType `json:"type"`
	Currency         Currency    `json:"currency"`
	CurrentBalance   Money       `json:"current_balance"`
	AvailableBalance Money       `json:"available_balance"`
	IsActive         bool        `json:"is_active"`
	Version          int64       `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`

	// loadedVersion is the version the storage layer last read or wrote; the
	// conditional write compares against it.
	loadedVersion int64
	events        []AccountEvent
}

// LoadedVersion is the version token the aggregate carried when it was last
// loaded or persisted. The storage layer writes conditionally on it.
func (a *Account) LoadedVersion() int64 { return a.loadedVersion }

// MarkPersisted records that the current version has been written. Called by
// the storage layer only.
func (a *Account) MarkPersisted() { a.loadedVersion = a.Version }

// RestoreVersion sets both the version and the load marker when hydrating the
// aggregate from storage.
func (a *Account) RestoreVersion(version int64) {
	a.Version = version
	a.loadedVersion = version
}

// NewAccount creates an active account with an opening balance.
func NewAccount(accountNumber string, accType AccountType, opening Money) (*Account, error) {
	if strings.TrimSpace(accountNumber) == "" {
		return nil, fmt.Errorf("account number is required")
	}
	if opening.IsNegative() && !accType.AllowsNegativeBalance() {
		return nil, fmt.Errorf("account %s: %w: opening balance %s", accountNumber, ErrInsufficientFunds, opening)
	}
	now := time.Now().UTC()
	return &Account{
		ID:               uuid.NewString(),
		AccountNumber:    accountNumber,
		Type:             accType,
		Currency:         opening.Currency,
		CurrentBalance:   opening,
		AvailableBalance: opening,
		IsActive:         true,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (a *Account) touch() {
	a.Version++
	a.UpdatedAt = time.Now().UTC()
}

func (a *Account) record(eventType AccountEventType, amount Money, reason string) {
	a.events = append(a.events, AccountEvent{
		Type:       eventType,
		AccountID:  a.ID,
		Amount:     amount,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
}

// DrainEvents returns the accumulated events and clears the internal list.
func (a *Account) DrainEvents() []AccountEvent {
	events := a.events
	a.events = nil
	return events
}

// ApplyTransaction adds the transaction amount to both balances. This is the
// only path that changes CurrentBalance during normal posting.
func (a *Account) ApplyTransaction(tx *Transaction) error {
	if !a.IsActive {
		return fmt.Errorf("account %s: %w", a.AccountNumber, ErrAccountInactive)
	}
	if !tx.Amount.Currency.Equals(a.Currency) {
		return fmt.Errorf("account %s: %w: transaction in %s, account in %s",
			a.AccountNumber, ErrCurrencyMismatch, tx.Amount.Currency.Code, a.Currency.Code)
	}
	newCurrent, err := a.CurrentBalance.Add(tx.Amount)
	if err != nil {
		return err
	}
	if newCurrent.IsNegative() && !a.Type.AllowsNegativeBalance() {
		return fmt.Errorf("account %s: %w: balance %s, transaction %s",
			a.AccountNumber, ErrInsufficientFunds, a.CurrentBalance, tx.Amount)
	}
	newAvailable, err := a.AvailableBalance.Add(tx.Amount)
	if err != nil {
		return err
	}
	a.CurrentBalance = newCurrent
	a.AvailableBalance = newAvailable
	a.touch()
	a.record(EventTransactionApplied, tx.Amount, tx.ExternalID)
	return nil
}

// ApplyHold reserves part of the available balance without touching the
// current balance.
func (a *Account) ApplyHold(amount Money) error {
	if !a.IsActive {
		return fmt.Errorf("account %s: %w", a.AccountNumber, ErrAccountInactive)
	}
	if !amount.IsPositive() {
		return ErrInvalidHoldAmount
	}
	newAvailable, err := a.AvailableBalance.Subtract(amount)
	if err != nil {
		return err
	}
	if newAvailable.IsNegative() && !a.Type.AllowsNegativeBalance() {
		return fmt.Errorf("account %s: %w: available %s, hold %s",
			a.AccountNumber, ErrInsufficientFunds, a.AvailableBalance, amount)
	}
	a.AvailableBalance = newAvailable
	a.touch()
	a.record(EventHoldApplied, amount, "")
	return nil
}

// ReleaseHold returns a previously held amount to the available balance. The
// available balance never exceeds the current balance, except on credit-type
// accounts.
func (a *Account) ReleaseHold(amount Money) error {
	if !amount.IsPositive() {
		return ErrInvalidHoldAmount
	}
	newAvailable, err := a.AvailableBalance.Add(amount)
	if err != nil {
		return err
	}
	if !a.Type.AllowsNegativeBalance() && newAvailable.Amount.GreaterThan(a.CurrentBalance.Amount) {
		newAvailable = a.CurrentBalance
	}
	a.AvailableBalance = newAvailable
	a.touch()
	a.record(EventHoldReleased, amount, "")
	return nil
}

// AdjustBalance is the administrative override used by reconciliation-driven
// corrections; normal posting never calls it. Both balances are set directly.
func (a *Account) AdjustBalance(newBalance Money, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrAdjustmentNeedsReason
	}
	if !newBalance.Currency.Equals(a.Currency) {
		return fmt.Errorf("account %s: %w", a.AccountNumber, ErrCurrencyMismatch)
	}
	a.CurrentBalance = newBalance
	a.AvailableBalance = newBalance
	a.touch()
	a.record(EventBalanceAdjusted, newBalance, reason)
	return nil
}

// Deactivate closes the account. Only allowed at an exactly zero balance.
func (a *Account) Deactivate() error {
	if !a.CurrentBalance.IsZero() {
		return fmt.Errorf("account %s: %w: balance is %s", a.AccountNumber, ErrNonZeroBalance, a.CurrentBalance)
	}
	a.IsActive = false
	a.touch()
	a.record(EventAccountDeactivated, a.CurrentBalance, "")
	return nil
}

// Reactivate reopens a previously deactivated account.
func (a *Account) Reactivate() {
	a.IsActive = true
	a.touch()
	a.record(EventAccountReactivated, a.CurrentBalance, "")
}
