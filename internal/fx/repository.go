package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/meridian/internal/shared"
)

// Repository provides PostgreSQL backed access to the dated rate table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LookupRate returns the USD-based rate for currency on the given date, or the
// most recent earlier entry. Missing entirely maps to shared.ErrRateUnavailable.
func (r *Repository) LookupRate(ctx context.Context, code string, date time.Time) (float64, error) {
	const query = `
		SELECT rate
		FROM exchange_rates
		WHERE base_currency = $1 AND target_currency = $2 AND date <= $3
		ORDER BY date DESC
		LIMIT 1`

	var rate float64
	err := r.pool.QueryRow(ctx, query, USD, code, date).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s on %s", shared.ErrRateUnavailable, code, DateKey(date))
	}
	if err != nil {
		return 0, fmt.Errorf("fx: lookup rate %s: %w", code, err)
	}
	return rate, nil
}

// UpsertRate writes a rate table entry, replacing any prior value for the
// same (base, target, date) key.
func (r *Repository) UpsertRate(ctx context.Context, entry ExchangeRate) error {
	const query = `
		INSERT INTO exchange_rates (base_currency, target_currency, date, rate, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (base_currency, target_currency, date)
		DO UPDATE SET rate = EXCLUDED.rate`

	if _, err := r.pool.Exec(ctx, query, entry.BaseCurrency, entry.TargetCurrency, entry.Date, entry.Rate); err != nil {
		return fmt.Errorf("fx: upsert rate: %w", err)
	}
	return nil
}
