package plans

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/meridian/internal/platform/db"
)

// Repository provides PostgreSQL backed access to pledge and plan aggregates.
// Methods take a db.Querier so they run equally inside a payment mutation's
// transaction or standalone.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Pool exposes the underlying pool for standalone resync transactions.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// GetPledge loads a pledge by id; nil when absent.
func (r *Repository) GetPledge(ctx context.Context, q db.Querier, id int64) (*Pledge, error) {
	const query = `
		SELECT id, contact_id, currency, original_amount, total_paid, balance, updated_at
		FROM pledges WHERE id = $1`

	var p Pledge
	err := q.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.ContactID, &p.Currency, &p.OriginalAmount, &p.TotalPaid, &p.Balance, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("plans: get pledge: %w", err)
	}
	return &p, nil
}

// SumReceivedForPledge resums every received amount currently applied to the
// pledge, in pledge currency: direct received payments plus allocations of
// received split payments. Full resum, not incremental, so the aggregate
// converges after edits, deletions and bulk corrections.
func (r *Repository) SumReceivedForPledge(ctx context.Context, q db.Querier, pledgeID int64) (float64, error) {
	const query = `
		SELECT
			COALESCE((
				SELECT SUM(COALESCE(p.amount_in_pledge_currency, p.amount))
				FROM payments p
				WHERE p.pledge_id = $1 AND p.received_date IS NOT NULL
			), 0)
			+
			COALESCE((
				SELECT SUM(COALESCE(a.allocated_amount_in_pledge_currency, a.allocated_amount))
				FROM allocations a
				JOIN payments p ON p.id = a.payment_id
				WHERE a.pledge_id = $1 AND p.received_date IS NOT NULL
			), 0)`

	var sum float64
	if err := q.QueryRow(ctx, query, pledgeID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("plans: sum received for pledge %d: %w", pledgeID, err)
	}
	return sum, nil
}

// UpdatePledgeTotals writes the recomputed aggregates.
func (r *Repository) UpdatePledgeTotals(ctx context.Context, q db.Querier, pledgeID int64, totalPaid, balance float64) error {
	const query = `
		UPDATE pledges SET total_paid = $2, balance = $3, updated_at = NOW()
		WHERE id = $1`

	if _, err := q.Exec(ctx, query, pledgeID, totalPaid, balance); err != nil {
		return fmt.Errorf("plans: update pledge totals: %w", err)
	}
	return nil
}

// GetPlanByPledge loads the payment plan linked to a pledge; nil when none.
func (r *Repository) GetPlanByPledge(ctx context.Context, q db.Querier, pledgeID int64) (*PaymentPlan, error) {
	const query = `
		SELECT id, pledge_id, currency, total_amount, installment_amount,
		       number_of_installments, total_paid, installments_paid, remaining_amount, updated_at
		FROM payment_plans WHERE pledge_id = $1`

	var p PaymentPlan
	err := q.QueryRow(ctx, query, pledgeID).Scan(
		&p.ID, &p.PledgeID, &p.Currency, &p.TotalAmount, &p.InstallmentAmount,
		&p.NumberOfInstallments, &p.TotalPaid, &p.InstallmentsPaid, &p.RemainingAmount, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("plans: get plan for pledge %d: %w", pledgeID, err)
	}
	return &p, nil
}

// SumReceivedForPlan resums settled payments and allocations tied to the plan,
// returning the total in plan currency and the settled entry count.
func (r *Repository) SumReceivedForPlan(ctx context.Context, q db.Querier, planID int64) (float64, int, error) {
	const query = `
		SELECT
			COALESCE(SUM(COALESCE(p.amount_in_plan_currency, p.amount)), 0),
			COUNT(*)
		FROM payments p
		WHERE p.payment_plan_id = $1 AND p.received_date IS NOT NULL`

	var total float64
	var count int
	if err := q.QueryRow(ctx, query, planID).Scan(&total, &count); err != nil {
		return 0, 0, fmt.Errorf("plans: sum received for plan %d: %w", planID, err)
	}
	return total, count, nil
}

// UpdatePlanTotals writes the recomputed plan aggregates.
func (r *Repository) UpdatePlanTotals(ctx context.Context, q db.Querier, planID int64, totalPaid float64, installmentsPaid int, remaining float64) error {
	const query = `
		UPDATE payment_plans
		SET total_paid = $2, installments_paid = $3, remaining_amount = $4, updated_at = NOW()
		WHERE id = $1`

	if _, err := q.Exec(ctx, query, planID, totalPaid, installmentsPaid, remaining); err != nil {
		return fmt.Errorf("plans: update plan totals: %w", err)
	}
	return nil
}

// ListPledgeIDs returns every pledge id, used by the integrity scan and the
// bulk recompute script.
func (r *Repository) ListPledgeIDs(ctx context.Context, q db.Querier) ([]int64, error) {
	rows, err := q.Query(ctx, `SELECT id FROM pledges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("plans: list pledge ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("plans: scan pledge id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
