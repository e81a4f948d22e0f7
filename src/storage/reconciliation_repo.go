package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/services"
	"github.com/openbooks/ledgercore/src/utils"
)

type reconciliationRepo struct {
	tx *sql.Tx
}

func (r *reconciliationRepo) FindByAccountAndDate(accountID string, date time.Time) (*models.Reconciliation, error) {
	row := r.tx.QueryRow(`SELECT id, account_id, date, status, matched_count,
			unmatched_internal, unmatched_external, discrepancy_amount, detail, created_at, updated_at
		FROM reconciliations WHERE account_id = ? AND date = ?`,
		accountID, utils.FormatDate(date))

	var (
		reconciliation  models.Reconciliation
		status, dateStr string
		discrepancyStr  string
		detail          sql.NullString
	)
	err := row.Scan(&reconciliation.ID, &reconciliation.AccountID, &dateStr, &status,
		&reconciliation.MatchedCount, &reconciliation.UnmatchedInternal, &reconciliation.UnmatchedExternal,
		&discrepancyStr, &detail, &reconciliation.CreatedAt, &reconciliation.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s on %s", services.ErrReconciliationNotFound, accountID, utils.FormatDate(date))
	}
	if err != nil {
		return nil, fmt.Errorf("error loading reconciliation for account %s: %w", accountID, err)
	}

	reconciliation.Status = models.ReconciliationStatus(status)
	reconciliation.Detail = detail.String
	if reconciliation.Date, err = utils.ParseDate(dateStr); err != nil {
		return nil, fmt.Errorf("corrupt reconciliation date for account %s: %w", accountID, err)
	}
	if reconciliation.DiscrepancyAmount, err = decimal.NewFromString(discrepancyStr); err != nil {
		return nil, fmt.Errorf("corrupt discrepancy amount for account %s: %w", accountID, err)
	}
	return &reconciliation, nil
}

// Upsert keeps one row per (account, date): re-running a reconciliation
// replaces the previous report, including its id, so transactions tagged
// during the re-run always reference the stored row.
func (r *reconciliationRepo) Upsert(reconciliation *models.Reconciliation) error {
	_, err := r.tx.Exec(`INSERT INTO reconciliations
			(id, account_id, date, status, matched_count, unmatched_internal, unmatched_external, discrepancy_amount, detail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, date) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			matched_count = excluded.matched_count,
			unmatched_internal = excluded.unmatched_internal,
			unmatched_external = excluded.unmatched_external,
			discrepancy_amount = excluded.discrepancy_amount,
			detail = excluded.detail,
			updated_at = excluded.updated_at`,
		reconciliation.ID, reconciliation.AccountID, utils.FormatDate(reconciliation.Date),
		string(reconciliation.Status), reconciliation.MatchedCount,
		reconciliation.UnmatchedInternal, reconciliation.UnmatchedExternal,
		reconciliation.DiscrepancyAmount.String(), reconciliation.Detail,
		reconciliation.CreatedAt, reconciliation.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting reconciliation for account %s: %w", reconciliation.AccountID, err)
	}
	return nil
}
