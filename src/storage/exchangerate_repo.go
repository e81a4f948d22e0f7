package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/services"
	"github.com/openbooks/ledgercore/src/utils"
)

type exchangeRateRepo struct {
	tx *sql.Tx
}

// GetRate returns the latest rate with effective_date <= asOf.
func (r *exchangeRateRepo) GetRate(from, to string, asOf time.Time) (*services.ExchangeRate, error) {
	row := r.tx.QueryRow(`SELECT from_currency, to_currency, rate, effective_date
		FROM exchange_rates
		WHERE from_currency = ? AND to_currency = ? AND effective_date <= ?
		ORDER BY effective_date DESC LIMIT 1`,
		from, to, utils.FormatDate(asOf))

	var (
		rate             services.ExchangeRate
		rateStr, dateStr string
	)
	err := row.Scan(&rate.From, &rate.To, &rateStr, &dateStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s->%s as of %s", services.ErrRateNotFound, from, to, utils.FormatDate(asOf))
	}
	if err != nil {
		return nil, fmt.Errorf("error loading exchange rate %s->%s: %w", from, to, err)
	}
	if rate.Rate, err = decimal.NewFromString(rateStr); err != nil {
		return nil, fmt.Errorf("corrupt exchange rate %s->%s: %w", from, to, err)
	}
	if rate.EffectiveDate, err = utils.ParseDate(dateStr); err != nil {
		return nil, fmt.Errorf("corrupt exchange rate date %s->%s: %w", from, to, err)
	}
	return &rate, nil
}

func (r *exchangeRateRepo) Save(rate services.ExchangeRate) error {
	_, err := r.tx.Exec(`INSERT INTO exchange_rates (from_currency, to_currency, rate, effective_date, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(from_currency, to_currency, effective_date) DO UPDATE SET rate = excluded.rate`,
		rate.From, rate.To, rate.Rate.String(), utils.FormatDate(rate.EffectiveDate), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("error saving exchange rate %s->%s: %w", rate.From, rate.To, err)
	}
	return nil
}
