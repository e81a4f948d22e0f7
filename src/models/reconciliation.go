package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReconciliationStatus string

const (
	ReconciliationPending                    ReconciliationStatus = "pending"
	ReconciliationCompleted                  ReconciliationStatus = "completed"
	ReconciliationCompletedWithDiscrepancies ReconciliationStatus = "completed_with_discrepancies"
	ReconciliationFailed                     ReconciliationStatus = "failed"
)

// Reconciliation is the report of matching internal transactions against an
// external statement for one (account, date). It always terminates in one of
// the completed states or failed; it never stays pending on discrepancies.
type Reconciliation struct {
	ID                string               `json:"id"`
	AccountID         string               `json:"account_id"`
	Date              time.Time            `json:"date"`
	Status            ReconciliationStatus `json:"status"`
	MatchedCount      int                  `json:"matched_count"`
	UnmatchedInternal int                  `json:"unmatched_internal"`
	UnmatchedExternal int                  `json:"unmatched_external"`
	DiscrepancyAmount decimal.Decimal      `json:"discrepancy_amount"`
	Detail            string               `json:"detail,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

func NewReconciliation(accountID string, date time.Time) *Reconciliation {
	now := time.Now().UTC()
	return &Reconciliation{
		ID:                uuid.NewString(),
		AccountID:         accountID,
		Date:              date,
		Status:            ReconciliationPending,
		DiscrepancyAmount: decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Complete finalizes the report. Unmatched records on either side, or a
// discrepancy beyond tolerance, mark the run as completed-with-discrepancies.
func (r *Reconciliation) Complete(matched, unmatchedInternal, unmatchedExternal int, discrepancy, tolerance decimal.Decimal) {
	r.MatchedCount = matched
	r.UnmatchedInternal = unmatchedInternal
	r.UnmatchedExternal = unmatchedExternal
	r.DiscrepancyAmount = discrepancy
	if unmatchedInternal == 0 && unmatchedExternal == 0 && discrepancy.Abs().LessThanOrEqual(tolerance) {
		r.Status = ReconciliationCompleted
	} else {
		r.Status = ReconciliationCompletedWithDiscrepancies
	}
	r.UpdatedAt = time.Now().UTC()
}

func (r *Reconciliation) Fail(detail string) {
	r.Status = ReconciliationFailed
	r.Detail = detail
	r.UpdatedAt = time.Now().UTC()
}

// ExternalRecord is one line of an external statement, as supplied by the
// statement provider for a reconciliation window.
type ExternalRecord struct {
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
}

// dailyBalanceEpsilon bounds the closing-balance identity check.
var dailyBalanceEpsilon = decimal.New(1, -4)

// DailyBalance is the per-account per-day roll-forward row. Debits are stored
// negative, so closing = opening + credits + debits.
type DailyBalance struct {
	AccountID        string          `json:"account_id"`
	Date             time.Time       `json:"date"`
	OpeningBalance   decimal.Decimal `json:"opening_balance"`
	ClosingBalance   decimal.Decimal `json:"closing_balance"`
	TotalDebits      decimal.Decimal `json:"total_debits"`
	TotalCredits     decimal.Decimal `json:"total_credits"`
	TransactionCount int             `json:"transaction_count"`
	IsReconciled     bool            `json:"is_reconciled"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Validate checks the roll-forward identity within the fixed epsilon.
func (d DailyBalance) Validate() error {
	expected := d.OpeningBalance.Add(d.TotalCredits).Add(d.TotalDebits)
	if d.ClosingBalance.Sub(expected).Abs().GreaterThan(dailyBalanceEpsilon) {
		return fmt.Errorf("daily balance for account %s on %s: closing %s does not equal opening %s + credits %s + debits %s",
			d.AccountID, d.Date.Format("2006-01-02"), d.ClosingBalance, d.OpeningBalance, d.TotalCredits, d.TotalDebits)
	}
	return nil
}
