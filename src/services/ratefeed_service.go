package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/utils"
)

const rateCacheExpiration = 15 * time.Minute

// RateFeedService refreshes exchange rates from the external feed and serves
// latest-before lookups through a read-through cache. RefreshRates is the
// idempotent body of the scheduled refresh job.
type RateFeedService interface {
	RefreshRates(ctx context.Context) (int, error)
	GetRate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error)
}

type rateFeedServiceImpl struct {
	uowFactory UnitOfWorkFactory
	provider   RateProvider
	rateCache  *cache.Cache
	base       string
	targets    []string
}

func NewRateFeedService(uowFactory UnitOfWorkFactory, provider RateProvider, rateCache *cache.Cache, base string, targets []string) RateFeedService {
	return &rateFeedServiceImpl{
		uowFactory: uowFactory,
		provider:   provider,
		rateCache:  rateCache,
		base:       strings.ToUpper(base),
		targets:    targets,
	}
}

// RefreshRates pulls quotes for the configured base and targets, stores them
// effective today, and primes the cache. Re-running for the same day upserts
// the same rows.
func (s *rateFeedServiceImpl) RefreshRates(ctx context.Context) (int, error) {
	startTime := time.Now()
	logger.L.Info("RefreshRates START", "base", s.base, "targets", s.targets)

	quotes, err := s.provider.FetchRates(ctx, s.base, s.targets)
	if err != nil {
		return 0, fmt.Errorf("error fetching rates from provider: %w", err)
	}

	uow, err := s.uowFactory.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning unit of work: %w", err)
	}
	defer uow.Rollback()

	today := utils.StartOfDay(time.Now().UTC())
	saved := 0
	for _, quote := range quotes {
		if quote.Rate.Sign() <= 0 {
			logger.L.Warn("Skipping non-positive rate quote", "from", quote.From, "to", quote.To, "rate", quote.Rate.String())
			continue
		}
		rate := ExchangeRate{
			From:          strings.ToUpper(quote.From),
			To:            strings.ToUpper(quote.To),
			Rate:          quote.Rate,
			EffectiveDate: today,
		}
		if err := uow.ExchangeRates().Save(rate); err != nil {
			return 0, fmt.Errorf("error saving rate %s->%s: %w", rate.From, rate.To, err)
		}
		s.rateCache.Set(rateCacheKey(rate.From, rate.To, today), rate.Rate, rateCacheExpiration)
		saved++
	}

	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("error committing rate refresh: %w", err)
	}
	logger.L.Info("RefreshRates END", "saved", saved, "duration", time.Since(startTime))
	return saved, nil
}

// GetRate returns the latest stored rate effective on or before asOf.
func (s *rateFeedServiceImpl) GetRate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	day := utils.StartOfDay(asOf)
	cacheKey := rateCacheKey(from, to, day)
	if cached, found := s.rateCache.Get(cacheKey); found {
		return cached.(decimal.Decimal), nil
	}

	uow, err := s.uowFactory.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("error beginning unit of work: %w", err)
	}
	defer uow.Rollback()

	stored, err := uow.ExchangeRates().GetRate(from, to, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	s.rateCache.Set(cacheKey, stored.Rate, rateCacheExpiration)
	return stored.Rate, nil
}

func rateCacheKey(from, to string, day time.Time) string {
	return fmt.Sprintf("rate_%s_%s_%s", from, to, day.Format("2006-01-02"))
}
