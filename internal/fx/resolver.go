package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-crm/meridian/internal/observability"
	"github.com/meridian-crm/meridian/internal/shared"
)

// RepositoryPort defines rate table access for the resolver.
type RepositoryPort interface {
	LookupRate(ctx context.Context, code string, date time.Time) (float64, error)
}

// Resolver converts amounts between payment, USD, pledge and plan currencies
// using the dated rate table. Lookups are cached per (currency, date) and a
// missing rate degrades to 1.0 instead of blocking the write.
type Resolver struct {
	repo    RepositoryPort
	cache   *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewResolver constructs a resolver. cache and metrics may be nil.
func NewResolver(repo RepositoryPort, cache *redis.Client, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		repo:    repo,
		cache:   cache,
		ttl:     6 * time.Hour,
		logger:  logger,
		metrics: metrics,
	}
}

// WithCacheTTL overrides the rate cache lifetime. Zero or negative is ignored.
func (r *Resolver) WithCacheTTL(ttl time.Duration) *Resolver {
	if ttl > 0 {
		r.ttl = ttl
	}
	return r
}

func rateCacheKey(code string, date time.Time) string {
	return fmt.Sprintf("fx:rate:%s:%s", code, DateKey(date))
}

// Rate resolves the USD-based rate for a currency on a date. USD is 1.0 by
// definition. A missing table entry returns {1.0, Degraded: true}; the
// degraded result is logged and counted but never cached, so a late rate
// insert is picked up on the next lookup.
func (r *Resolver) Rate(ctx context.Context, code string, date time.Time) (Rate, error) {
	if code == USD {
		return Rate{Value: 1.0}, nil
	}

	key := rateCacheKey(code, date)
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
			if value, perr := strconv.ParseFloat(cached, 64); perr == nil {
				return Rate{Value: value}, nil
			}
		}
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		return r.repo.LookupRate(ctx, code, date)
	})
	if err != nil {
		if errors.Is(err, shared.ErrRateUnavailable) {
			if r.logger != nil {
				r.logger.Warn("exchange rate missing, falling back to 1.0",
					slog.String("currency", code),
					slog.String("date", DateKey(date)))
			}
			r.metrics.ObserveRateFallback(code)
			return Rate{Value: 1.0, Degraded: true}, nil
		}
		return Rate{}, err
	}

	value := shared.Round4(result.(float64))
	if r.cache != nil {
		_ = r.cache.Set(ctx, key, strconv.FormatFloat(value, 'f', -1, 64), r.ttl).Err()
	}
	return Rate{Value: value}, nil
}

// ToUSD converts an amount from the given currency into USD.
func (r *Resolver) ToUSD(ctx context.Context, amount float64, code string, date time.Time) (Conversion, error) {
	rate, err := r.Rate(ctx, code, date)
	if err != nil {
		return Conversion{}, err
	}
	return Conversion{
		Amount:   shared.Round2(amount / rate.Value),
		Rate:     rate.Value,
		Degraded: rate.Degraded,
	}, nil
}

// Convert converts an amount between two currencies via the USD pivot.
// Identity when the currencies match.
func (r *Resolver) Convert(ctx context.Context, amount float64, from, to string, date time.Time) (Conversion, error) {
	if from == to {
		return Conversion{Amount: shared.Round2(amount), Rate: 1.0}, nil
	}

	fromRate, err := r.Rate(ctx, from, date)
	if err != nil {
		return Conversion{}, err
	}
	toRate, err := r.Rate(ctx, to, date)
	if err != nil {
		return Conversion{}, err
	}

	usd := amount / fromRate.Value
	return Conversion{
		Amount:   shared.Round2(usd * toRate.Value),
		Rate:     shared.Round4(toRate.Value / fromRate.Value),
		Degraded: fromRate.Degraded || toRate.Degraded,
	}, nil
}

// CrossRate returns rate(to)/rate(from) rounded to 4 decimal places, the
// factor persisted on direct payments as exchangeRateToPledgeCurrency.
func (r *Resolver) CrossRate(ctx context.Context, from, to string, date time.Time) (Rate, error) {
	if from == to {
		return Rate{Value: 1.0}, nil
	}
	fromRate, err := r.Rate(ctx, from, date)
	if err != nil {
		return Rate{}, err
	}
	toRate, err := r.Rate(ctx, to, date)
	if err != nil {
		return Rate{}, err
	}
	return Rate{
		Value:    shared.Round4(toRate.Value / fromRate.Value),
		Degraded: fromRate.Degraded || toRate.Degraded,
	}, nil
}
