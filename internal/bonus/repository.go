package bonus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/meridian/internal/platform/db"
	"github.com/meridian-crm/meridian/internal/shared"
)

// Repository provides PostgreSQL backed persistence for solicitors, bonus
// rules and bonus calculations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetSolicitor loads a solicitor by id; nil when absent.
func (r *Repository) GetSolicitor(ctx context.Context, id int64) (*Solicitor, error) {
	const query = `
		SELECT id, contact_id, commission_rate, status, created_at, updated_at
		FROM solicitors WHERE id = $1`

	var s Solicitor
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.ContactID, &s.CommissionRate, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bonus: get solicitor: %w", err)
	}
	return &s, nil
}

// ListRules returns all rules owned by a solicitor. Selection filters run in
// memory so the priority/effective-from tie-break lives in one place.
func (r *Repository) ListRules(ctx context.Context, solicitorID int64) ([]Rule, error) {
	const query = `
		SELECT id, solicitor_id, percentage, payment_type, min_amount, max_amount,
		       effective_from, effective_to, priority, is_active
		FROM bonus_rules WHERE solicitor_id = $1`

	rows, err := r.pool.Query(ctx, query, solicitorID)
	if err != nil {
		return nil, fmt.Errorf("bonus: list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(
			&rule.ID, &rule.SolicitorID, &rule.Percentage, &rule.PaymentType,
			&rule.MinAmount, &rule.MaxAmount, &rule.EffectiveFrom, &rule.EffectiveTo,
			&rule.Priority, &rule.IsActive); err != nil {
			return nil, fmt.Errorf("bonus: scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// GetPaymentInfo loads the payment fields needed for bonus evaluation.
func (r *Repository) GetPaymentInfo(ctx context.Context, paymentID int64) (*PaymentInfo, error) {
	const query = `SELECT id, amount, payment_date, solicitor_id FROM payments WHERE id = $1`

	var info PaymentInfo
	err := r.pool.QueryRow(ctx, query, paymentID).Scan(
		&info.PaymentID, &info.Amount, &info.PaymentDate, &info.SolicitorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bonus: get payment info: %w", err)
	}
	return &info, nil
}

// ReplaceCalculation upserts the calculation for a payment and mirrors the
// solicitor/bonus fields onto the payment row, atomically. A nil eval clears
// the calculation and the mirrored fields. The mirror bumps the payment
// version so editors holding a pre-assignment read conflict instead of
// silently reverting the solicitor. Paid calculations are terminal; replacing
// one returns shared.ErrConflict.
func (r *Repository) ReplaceCalculation(ctx context.Context, paymentID, solicitorID int64, eval *Evaluation) (*Calculation, error) {
	var calc *Calculation
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var paid bool
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(bool_or(is_paid), FALSE)
			FROM bonus_calculations WHERE payment_id = $1`, paymentID).Scan(&paid)
		if err != nil {
			return fmt.Errorf("bonus: check paid calculation: %w", err)
		}
		if paid {
			return fmt.Errorf("%w: bonus calculation for payment %d is already paid", shared.ErrConflict, paymentID)
		}

		if eval == nil {
			if _, err := tx.Exec(ctx, `
				DELETE FROM bonus_calculations
				WHERE payment_id = $1 AND is_paid = FALSE`, paymentID); err != nil {
				return fmt.Errorf("bonus: clear calculation: %w", err)
			}
			_, err := tx.Exec(ctx, `
				UPDATE payments
				SET solicitor_id = $2, bonus_percentage = NULL, bonus_amount = NULL,
				    bonus_rule_id = NULL, version = version + 1, updated_at = NOW()
				WHERE id = $1`, paymentID, solicitorID)
			if err != nil {
				return fmt.Errorf("bonus: clear payment bonus fields: %w", err)
			}
			return nil
		}

		const upsert = `
			INSERT INTO bonus_calculations
				(payment_id, solicitor_id, rule_id, percentage, amount, is_paid, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, NOW(), NOW())
			ON CONFLICT (payment_id) DO UPDATE SET
				solicitor_id = EXCLUDED.solicitor_id,
				rule_id = EXCLUDED.rule_id,
				percentage = EXCLUDED.percentage,
				amount = EXCLUDED.amount,
				updated_at = NOW()
			WHERE bonus_calculations.is_paid = FALSE
			RETURNING id, payment_id, solicitor_id, rule_id, percentage, amount,
			          is_paid, paid_at, created_at, updated_at`

		var c Calculation
		err = tx.QueryRow(ctx, upsert, paymentID, solicitorID, eval.RuleID, eval.Percentage, eval.Amount).Scan(
			&c.ID, &c.PaymentID, &c.SolicitorID, &c.RuleID, &c.Percentage, &c.Amount,
			&c.IsPaid, &c.PaidAt, &c.CreatedAt, &c.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: bonus calculation for payment %d is already paid", shared.ErrConflict, paymentID)
		}
		if err != nil {
			return fmt.Errorf("bonus: upsert calculation: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE payments
			SET solicitor_id = $2, bonus_percentage = $3, bonus_amount = $4,
			    bonus_rule_id = $5, version = version + 1, updated_at = NOW()
			WHERE id = $1`, paymentID, solicitorID, eval.Percentage, eval.Amount, eval.RuleID)
		if err != nil {
			return fmt.Errorf("bonus: mirror payment bonus fields: %w", err)
		}

		calc = &c
		return nil
	})
	return calc, err
}

// GetCalculationByPayment loads the calculation keyed on payment_id; nil when
// absent.
func (r *Repository) GetCalculationByPayment(ctx context.Context, paymentID int64) (*Calculation, error) {
	const query = `
		SELECT id, payment_id, solicitor_id, rule_id, percentage, amount,
		       is_paid, paid_at, created_at, updated_at
		FROM bonus_calculations WHERE payment_id = $1`

	var c Calculation
	err := r.pool.QueryRow(ctx, query, paymentID).Scan(
		&c.ID, &c.PaymentID, &c.SolicitorID, &c.RuleID, &c.Percentage, &c.Amount,
		&c.IsPaid, &c.PaidAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bonus: get calculation by payment: %w", err)
	}
	return &c, nil
}

// GetCalculation loads a calculation by id; nil when absent.
func (r *Repository) GetCalculation(ctx context.Context, id int64) (*Calculation, error) {
	const query = `
		SELECT id, payment_id, solicitor_id, rule_id, percentage, amount,
		       is_paid, paid_at, created_at, updated_at
		FROM bonus_calculations WHERE id = $1`

	var c Calculation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.PaymentID, &c.SolicitorID, &c.RuleID, &c.Percentage, &c.Amount,
		&c.IsPaid, &c.PaidAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bonus: get calculation: %w", err)
	}
	return &c, nil
}

// MarkCalculationPaid flips the terminal paid flag.
func (r *Repository) MarkCalculationPaid(ctx context.Context, id int64, paidAt time.Time) (*Calculation, error) {
	const query = `
		UPDATE bonus_calculations
		SET is_paid = TRUE, paid_at = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, payment_id, solicitor_id, rule_id, percentage, amount,
		          is_paid, paid_at, created_at, updated_at`

	var c Calculation
	err := r.pool.QueryRow(ctx, query, id, paidAt).Scan(
		&c.ID, &c.PaymentID, &c.SolicitorID, &c.RuleID, &c.Percentage, &c.Amount,
		&c.IsPaid, &c.PaidAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("bonus: mark paid: %w", err)
	}
	return &c, nil
}
