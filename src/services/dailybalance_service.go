package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/utils"
)

// DailyCloseSummary aggregates one sweep of the roll-forward job.
type DailyCloseSummary struct {
	Date           string `json:"date"`
	AccountsClosed int    `json:"accounts_closed"`
	AccountsFailed int    `json:"accounts_failed"`
	DriftsDetected int    `json:"drifts_detected"`
}

// DailyBalanceService computes opening/closing balances per account per day
// from posted transactions, carrying forward the prior day's close. Both
// entrypoints are idempotent: rerunning a close for the same date updates the
// existing row in place.
type DailyBalanceService interface {
	RunDailyClose(ctx context.Context, date time.Time) (*DailyCloseSummary, error)
	CloseAccountDay(ctx context.Context, accountID string, date time.Time) (*models.DailyBalance, error)
}

type dailyBalanceServiceImpl struct {
	uowFactory UnitOfWorkFactory
	alerts     AlertSender
	tolerance  decimal.Decimal
}

func NewDailyBalanceService(uowFactory UnitOfWorkFactory, alerts AlertSender, tolerance decimal.Decimal) DailyBalanceService {
	return &dailyBalanceServiceImpl{uowFactory: uowFactory, alerts: alerts, tolerance: tolerance}
}

// RunDailyClose sweeps every active account for the target date. Per-account
// failures are logged and counted, they do not stop the sweep.
func (s *dailyBalanceServiceImpl) RunDailyClose(ctx context.Context, date time.Time) (*DailyCloseSummary, error) {
	startTime := time.Now()
	day := utils.StartOfDay(date)
	logger.L.Info("RunDailyClose START", "date", day.Format("2006-01-02"))

	uow, err := s.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning unit of work: %w", err)
	}
	accounts, err := uow.Accounts().ListActive()
	uow.Rollback()
	if err != nil {
		return nil, fmt.Errorf("error listing active accounts: %w", err)
	}

	summary := &DailyCloseSummary{Date: day.Format("2006-01-02")}
	for _, account := range accounts {
		balance, err := s.CloseAccountDay(ctx, account.ID, day)
		if err != nil {
			logger.L.Error("Daily close failed for account", "accountID", account.ID, "date", summary.Date, "error", err)
			summary.AccountsFailed++
			continue
		}
		summary.AccountsClosed++
		if s.detectDrift(ctx, account, balance) {
			summary.DriftsDetected++
		}
	}

	logger.L.Info("RunDailyClose END", "date", summary.Date,
		"closed", summary.AccountsClosed, "failed", summary.AccountsFailed,
		"drifts", summary.DriftsDetected, "duration", time.Since(startTime))
	return summary, nil
}

// CloseAccountDay computes and upserts the roll-forward row for one account
// and date. Safe to re-run for the same (account, date) key.
func (s *dailyBalanceServiceImpl) CloseAccountDay(ctx context.Context, accountID string, date time.Time) (*models.DailyBalance, error) {
	day := utils.StartOfDay(date)

	uow, err := s.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning unit of work: %w", err)
	}
	defer uow.Rollback()

	if _, err := uow.Accounts().FindByID(accountID); err != nil {
		return nil, err
	}

	opening := decimal.Zero
	prior, err := uow.DailyBalances().Find(accountID, day.AddDate(0, 0, -1))
	switch {
	case err == nil:
		opening = prior.ClosingBalance
	case errors.Is(err, ErrDailyBalanceNotFound):
		// First close for this account: start from zero.
	default:
		return nil, fmt.Errorf("error loading prior daily balance for account %s: %w", accountID, err)
	}

	transactions, err := uow.Transactions().ListByAccountAndValueDate(accountID, day, day,
		[]models.TransactionStatus{models.StatusPosted, models.StatusReconciled})
	if err != nil {
		return nil, fmt.Errorf("error loading transactions for account %s: %w", accountID, err)
	}

	totalDebits, totalCredits := decimal.Zero, decimal.Zero
	for _, tx := range transactions {
		if tx.Amount.IsNegative() {
			totalDebits = totalDebits.Add(tx.Amount.Amount)
		} else {
			totalCredits = totalCredits.Add(tx.Amount.Amount)
		}
	}

	balance := &models.DailyBalance{
		AccountID:        accountID,
		Date:             day,
		OpeningBalance:   opening,
		ClosingBalance:   opening.Add(totalCredits).Add(totalDebits),
		TotalDebits:      totalDebits,
		TotalCredits:     totalCredits,
		TransactionCount: len(transactions),
		UpdatedAt:        time.Now().UTC(),
	}
	if err := balance.Validate(); err != nil {
		return nil, err
	}
	if err := uow.DailyBalances().Upsert(balance); err != nil {
		return nil, fmt.Errorf("error upserting daily balance for account %s: %w", accountID, err)
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("error committing daily close for account %s: %w", accountID, err)
	}
	return balance, nil
}

// detectDrift compares the computed close against the account's live balance.
// A mismatch beyond tolerance is a finding to investigate, never a failure of
// the close itself.
func (s *dailyBalanceServiceImpl) detectDrift(ctx context.Context, account *models.Account, balance *models.DailyBalance) bool {
	drift := account.CurrentBalance.Amount.Sub(balance.ClosingBalance)
	if drift.Abs().LessThanOrEqual(s.tolerance) {
		return false
	}
	logger.L.Warn("Daily close drift detected",
		"accountID", account.ID, "date", balance.Date.Format("2006-01-02"),
		"liveBalance", account.CurrentBalance.Amount.String(),
		"computedClosing", balance.ClosingBalance.String(), "drift", drift.String())
	subject := fmt.Sprintf("Daily close drift on account %s (%s)", account.AccountNumber, balance.Date.Format("2006-01-02"))
	body := fmt.Sprintf("Computed closing balance %s differs from live balance %s by %s.\n",
		balance.ClosingBalance.String(), account.CurrentBalance.Amount.String(), drift.String())
	if err := s.alerts.SendAlert(ctx, subject, body); err != nil {
		logger.L.Error("Failed to send drift alert", "accountID", account.ID, "error", err)
	}
	return true
}
