package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/models"
)

// AccountService exposes account lifecycle commands. Every mutation loads the
// aggregate, applies the command, and saves conditionally on the version
// token; a models.ErrConcurrentModification means the caller must re-read and
// retry, the service never retries with stale state on its own.
type AccountService interface {
	CreateAccount(ctx context.Context, accountNumber string, accType models.AccountType, opening decimal.Decimal, currencyCode string) (*models.Account, error)
	GetAccount(ctx context.Context, ref string) (*models.Account, error)
	AdjustBalance(ctx context.Context, accountID string, newBalance decimal.Decimal, reason string) (*models.Account, error)
	ApplyHold(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Account, error)
	ReleaseHold(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Account, error)
	Deactivate(ctx context.Context, accountID string) (*models.Account, error)
	Reactivate(ctx context.Context, accountID string) (*models.Account, error)
}

type accountServiceImpl struct {
	uowFactory UnitOfWorkFactory
}

func NewAccountService(uowFactory UnitOfWorkFactory) AccountService {
	return &accountServiceImpl{uowFactory: uowFactory}
}

func (s *accountServiceImpl) CreateAccount(ctx context.Context, accountNumber string, accType models.AccountType, opening decimal.Decimal, currencyCode string) (*models.Account, error) {
	account, err := models.NewAccount(accountNumber, accType, models.NewMoney(opening, models.LookupCurrency(currencyCode)))
	if err != nil {
		return nil, err
	}

	uow, err := s.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning unit of work: %w", err)
	}
	defer uow.Rollback()

	if err := uow.Accounts().Create(account); err != nil {
		return nil, fmt.Errorf("error creating account %s: %w", accountNumber, err)
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("error committing account %s: %w", accountNumber, err)
	}
	logger.L.Info("Account created", "accountID", account.ID, "accountNumber", accountNumber, "type", accType)
	return account, nil
}

func (s *accountServiceImpl) GetAccount(ctx context.Context, ref string) (*models.Account, error) {
	uow, err := s.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning unit of work: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.Accounts().FindByID(ref)
	if errors.Is(err, ErrAccountNotFound) {
		return uow.Accounts().FindByNumber(ref)
	}
	return account, err
}

// mutate runs one command against a freshly loaded aggregate inside a unit of
// work, then saves with the conditional version write.
func (s *accountServiceImpl) mutate(ctx context.Context, accountID string, command func(*models.Account) error) (*models.Account, error) {
	uow, err := s.uowFactory.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error beginning unit of work: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.Accounts().FindByID(accountID)
	if err != nil {
		return nil, err
	}
	if err := command(account); err != nil {
		return nil, err
	}
	if err := uow.Accounts().Save(account); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("error committing account %s: %w", accountID, err)
	}
	for _, event := range account.DrainEvents() {
		logger.L.Info("account event", "type", event.Type, "accountID", event.AccountID, "amount", event.Amount.String(), "reason", event.Reason)
	}
	return account, nil
}

func (s *accountServiceImpl) AdjustBalance(ctx context.Context, accountID string, newBalance decimal.Decimal, reason string) (*models.Account, error) {
	return s.mutate(ctx, accountID, func(account *models.Account) error {
		return account.AdjustBalance(models.NewMoney(newBalance, account.Currency), reason)
	})
}

func (s *accountServiceImpl) ApplyHold(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Account, error) {
	return s.mutate(ctx, accountID, func(account *models.Account) error {
		return account.ApplyHold(models.NewMoney(amount, account.Currency))
	})
}

func (s *accountServiceImpl) ReleaseHold(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Account, error) {
	return s.mutate(ctx, accountID, func(account *models.Account) error {
		return account.ReleaseHold(models.NewMoney(amount, account.Currency))
	})
}

func (s *accountServiceImpl) Deactivate(ctx context.Context, accountID string) (*models.Account, error) {
	return s.mutate(ctx, accountID, func(account *models.Account) error {
		return account.Deactivate()
	})
}

func (s *accountServiceImpl) Reactivate(ctx context.Context, accountID string) (*models.Account, error) {
	return s.mutate(ctx, accountID, func(account *models.Account) error {
		account.Reactivate()
		return nil
	})
}
