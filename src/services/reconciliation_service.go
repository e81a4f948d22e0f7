package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/models"
)

// ReconciliationService matches internal posted transactions against an
// external statement for one (account, date) and records the outcome. A run
// always terminates with a report; discrepancies are findings, not errors.
type ReconciliationService interface {
	Reconcile(ctx context.Context, accountID string, date time.Time) (*models.Reconciliation, error)
	GetReport(ctx context.Context, accountID string, date time.Time) (*models.Reconciliation, error)
}

type reconciliationServiceImpl struct {
	uowFactory          UnitOfWorkFactory
	statements          StatementProvider
	alerts              AlertSender
	tolerance           decimal.Decimal
	escalationThreshold decimal.Decimal
}

func NewReconciliationService(
	uowFactory UnitOfWorkFactory,
	statements StatementProvider,
	alerts AlertSender,
	tolerance decimal.Decimal,
	escalationThreshold decimal.Decimal,
) ReconciliationService {
	return &reconciliationServiceImpl{
		uowFactory:          uowFactory,
		statements:          statements,
		alerts:              alerts,
		tolerance:           tolerance,
		escalationThreshold: escalationThreshold,
	}
}

func (s *reconciliationServiceImpl) Reconcile(ctx context.Context, accountID string, date time.Time) (*models.Reconciliation, error) {
	startTime := time.Now()
	logger.L.Info("Reconcile START", "accountID", accountID, "date", date.Format("2006-01-02"))

	uow, err := s.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning unit of work: %w", err)
	}
	defer uow.Rollback()

	reconciliation := models.NewReconciliation(accountID, date)

	internal, err := uow.Transactions().ListByAccountAndValueDate(accountID, date, date,
		[]models.TransactionStatus{models.StatusPosted, models.StatusReconciled})
	if err != nil {
		return nil, fmt.Errorf("error loading internal transactions for account %s: %w", accountID, err)
	}

	external, err := s.statements.FetchRecords(ctx, accountID, date)
	if err != nil {
		// The provider being down is still a terminal report, never a hang.
		logger.L.Error("Statement provider failed, recording failed reconciliation", "accountID", accountID, "error", err)
		reconciliation.Fail(fmt.Sprintf("statement provider: %v", err))
		if upsertErr := uow.Reconciliations().Upsert(reconciliation); upsertErr != nil {
			return nil, fmt.Errorf("error recording failed reconciliation: %w", upsertErr)
		}
		if commitErr := uow.Commit(); commitErr != nil {
			return nil, fmt.Errorf("error committing failed reconciliation: %w", commitErr)
		}
		return reconciliation, nil
	}

	matched, unmatchedInternal, unmatchedExternal, discrepancy, matchErr := s.match(uow, reconciliation, internal, external)
	if matchErr != nil {
		return nil, matchErr
	}
	reconciliation.Complete(matched, unmatchedInternal, unmatchedExternal, discrepancy, s.tolerance)

	if err := uow.Reconciliations().Upsert(reconciliation); err != nil {
		return nil, fmt.Errorf("error upserting reconciliation for account %s: %w", accountID, err)
	}
	if err := s.flagDailyBalance(uow, accountID, date, reconciliation.Status == models.ReconciliationCompleted); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("error committing reconciliation for account %s: %w", accountID, err)
	}

	if discrepancy.Abs().GreaterThan(s.escalationThreshold) {
		s.escalate(ctx, reconciliation)
	}

	logger.L.Info("Reconcile END", "accountID", accountID, "status", reconciliation.Status,
		"matched", matched, "unmatchedInternal", unmatchedInternal, "unmatchedExternal", unmatchedExternal,
		"discrepancy", discrepancy.String(), "duration", time.Since(startTime))
	return reconciliation, nil
}

// match pairs each external record greedily against an unconsumed internal
// transaction of equal amount within the period. Among several same-amount
// candidates the earliest-created transaction wins, so reruns are
// deterministic. Unmatched records are reported per side: a shortfall on
// either side is meaningful on its own.
func (s *reconciliationServiceImpl) match(uow UnitOfWork, reconciliation *models.Reconciliation, internal []*models.Transaction, external []models.ExternalRecord) (matched, unmatchedInternal, unmatchedExternal int, discrepancy decimal.Decimal, err error) {
	candidates := make([]*models.Transaction, len(internal))
	copy(candidates, internal)
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	consumed := make(map[string]bool)
	for _, record := range external {
		for _, tx := range candidates {
			if consumed[tx.ID] || !tx.Amount.Amount.Equal(record.Amount) {
				continue
			}
			consumed[tx.ID] = true
			matched++
			if tx.Status == models.StatusPosted {
				if markErr := tx.MarkReconciled(reconciliation.ID); markErr != nil {
					return 0, 0, 0, decimal.Zero, fmt.Errorf("error marking transaction %s reconciled: %w", tx.ID, markErr)
				}
				if updateErr := uow.Transactions().Update(tx); updateErr != nil {
					return 0, 0, 0, decimal.Zero, fmt.Errorf("error persisting reconciled transaction %s: %w", tx.ID, updateErr)
				}
			}
			break
		}
	}

	internalTotal := decimal.Zero
	for _, tx := range internal {
		internalTotal = internalTotal.Add(tx.Amount.Amount)
		if !consumed[tx.ID] {
			unmatchedInternal++
		}
	}
	externalTotal := decimal.Zero
	for _, record := range external {
		externalTotal = externalTotal.Add(record.Amount)
	}
	unmatchedExternal = len(external) - matched

	return matched, unmatchedInternal, unmatchedExternal, internalTotal.Sub(externalTotal), nil
}

// flagDailyBalance marks the corresponding roll-forward row as reconciled when
// the run completed clean. A missing row just means the daily close has not
// run yet for that date.
func (s *reconciliationServiceImpl) flagDailyBalance(uow UnitOfWork, accountID string, date time.Time, clean bool) error {
	balance, err := uow.DailyBalances().Find(accountID, date)
	if errors.Is(err, ErrDailyBalanceNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error loading daily balance for account %s: %w", accountID, err)
	}
	balance.IsReconciled = clean
	if err := uow.DailyBalances().Upsert(balance); err != nil {
		return fmt.Errorf("error flagging daily balance for account %s: %w", accountID, err)
	}
	return nil
}

// escalate surfaces a large discrepancy for investigation. It never blocks
// completion: alert failures are logged and dropped.
func (s *reconciliationServiceImpl) escalate(ctx context.Context, reconciliation *models.Reconciliation) {
	subject := fmt.Sprintf("Reconciliation discrepancy on account %s (%s)",
		reconciliation.AccountID, reconciliation.Date.Format("2006-01-02"))
	body := fmt.Sprintf(
		"Reconciliation %s finished with status %s.\n\nMatched: %d\nUnmatched internal: %d\nUnmatched external: %d\nDiscrepancy amount: %s\n",
		reconciliation.ID, reconciliation.Status, reconciliation.MatchedCount,
		reconciliation.UnmatchedInternal, reconciliation.UnmatchedExternal,
		reconciliation.DiscrepancyAmount.String())
	if err := s.alerts.SendAlert(ctx, subject, body); err != nil {
		logger.L.Error("Failed to send discrepancy alert", "reconciliationID", reconciliation.ID, "error", err)
	}
}

func (s *reconciliationServiceImpl) GetReport(ctx context.Context, accountID string, date time.Time) (*models.Reconciliation, error) {
	uow, err := s.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning unit of work: %w", err)
	}
	defer uow.Rollback()
	return uow.Reconciliations().FindByAccountAndDate(accountID, date)
}
