package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/meridian/internal/plans"
	"github.com/meridian-crm/meridian/internal/platform/db"
	"github.com/meridian-crm/meridian/internal/shared"
)

// Repository provides PostgreSQL backed access to payments and allocations.
// Mutations commit atomically with the pledge aggregate resync: pledge locks
// are taken before the transaction opens, the resync runs inside it.
type Repository struct {
	pool   *pgxpool.Pool
	locker *shared.PledgeLocker
	resync *plans.Service
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, locker *shared.PledgeLocker, resync *plans.Service) *Repository {
	return &Repository{pool: pool, locker: locker, resync: resync}
}

const paymentColumns = `
	id, pledge_id, payment_plan_id, installment_schedule_id,
	amount, currency, amount_usd, amount_in_pledge_currency, amount_in_plan_currency, exchange_rate,
	payment_date, received_date, is_split_payment, is_third_party_payment, payer_contact_id,
	solicitor_id, bonus_percentage, bonus_amount, bonus_rule_id,
	receipt_number, receipt_type, receipt_issued, version, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.PledgeID, &p.PaymentPlanID, &p.InstallmentScheduleID,
		&p.Amount, &p.Currency, &p.AmountUSD, &p.AmountInPledgeCurrency, &p.AmountInPlanCurrency, &p.ExchangeRate,
		&p.PaymentDate, &p.ReceivedDate, &p.IsSplit, &p.IsThirdParty, &p.PayerContactID,
		&p.SolicitorID, &p.BonusPercentage, &p.BonusAmount, &p.BonusRuleID,
		&p.ReceiptNumber, &p.ReceiptType, &p.ReceiptIssued, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Get loads a payment with its allocations.
func (r *Repository) Get(ctx context.Context, id int64) (*Payment, []Allocation, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("payments: get %d: %w", id, err)
	}

	allocations, err := r.listAllocations(ctx, r.pool, id)
	if err != nil {
		return nil, nil, err
	}
	return p, allocations, nil
}

func (r *Repository) listAllocations(ctx context.Context, q db.Querier, paymentID int64) ([]Allocation, error) {
	const query = `
		SELECT id, payment_id, pledge_id, installment_schedule_id,
		       allocated_amount, currency, allocated_amount_usd, allocated_amount_in_pledge_currency,
		       receipt_number, receipt_type, receipt_issued, payer_contact_id
		FROM allocations WHERE payment_id = $1 ORDER BY id`

	rows, err := q.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("payments: list allocations for %d: %w", paymentID, err)
	}
	defer rows.Close()

	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(
			&a.ID, &a.PaymentID, &a.PledgeID, &a.InstallmentScheduleID,
			&a.AllocatedAmount, &a.Currency, &a.AllocatedAmountUSD, &a.AllocatedAmountInPledgeCurrency,
			&a.ReceiptNumber, &a.ReceiptType, &a.ReceiptIssued, &a.PayerContactID); err != nil {
			return nil, fmt.Errorf("payments: scan allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetPledges loads the referenced pledges keyed by id. Missing ids are simply
// absent from the map; the ledger validation reports them.
func (r *Repository) GetPledges(ctx context.Context, ids []int64) (map[int64]Pledge, error) {
	out := make(map[int64]Pledge, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	const query = `
		SELECT id, contact_id, currency, original_amount, total_paid, balance
		FROM pledges WHERE id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("payments: get pledges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Pledge
		if err := rows.Scan(&p.ID, &p.ContactID, &p.Currency, &p.OriginalAmount, &p.TotalPaid, &p.Balance); err != nil {
			return nil, fmt.Errorf("payments: scan pledge: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// GetContacts loads contacts keyed by id.
func (r *Repository) GetContacts(ctx context.Context, ids []int64) (map[int64]Contact, error) {
	out := make(map[int64]Contact, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT id, name FROM contacts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("payments: get contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("payments: scan contact: %w", err)
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// GetPlanCurrency returns the currency of a payment plan.
func (r *Repository) GetPlanCurrency(ctx context.Context, planID int64) (string, error) {
	var currency string
	err := r.pool.QueryRow(ctx, `SELECT currency FROM payment_plans WHERE id = $1`, planID).Scan(&currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: payment plan %d", shared.ErrNotFound, planID)
	}
	if err != nil {
		return "", fmt.Errorf("payments: get plan currency: %w", err)
	}
	return currency, nil
}

// Create inserts the payment, its allocations and the bonus calculation, then
// resums every touched pledge, all in one transaction.
func (r *Repository) Create(ctx context.Context, m Mutation) (*Payment, []Allocation, error) {
	return r.commit(ctx, m, func(ctx context.Context, tx pgx.Tx, m *Mutation) error {
		p := &m.Draft.Payment

		const query = `
			INSERT INTO payments (
				pledge_id, payment_plan_id, installment_schedule_id,
				amount, currency, amount_usd, amount_in_pledge_currency, amount_in_plan_currency, exchange_rate,
				payment_date, received_date, is_split_payment, is_third_party_payment, payer_contact_id,
				solicitor_id, bonus_percentage, bonus_amount, bonus_rule_id,
				receipt_number, receipt_type, receipt_issued, version, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21, 1, NOW(), NOW()
			)
			RETURNING id, version, created_at, updated_at`

		err := tx.QueryRow(ctx, query,
			p.PledgeID, p.PaymentPlanID, p.InstallmentScheduleID,
			p.Amount, p.Currency, p.AmountUSD, p.AmountInPledgeCurrency, p.AmountInPlanCurrency, p.ExchangeRate,
			p.PaymentDate, p.ReceivedDate, p.IsSplit, p.IsThirdParty, p.PayerContactID,
			p.SolicitorID, p.BonusPercentage, p.BonusAmount, p.BonusRuleID,
			p.ReceiptNumber, p.ReceiptType, p.ReceiptIssued,
		).Scan(&p.ID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("payments: insert: %w", translateConstraint(err))
		}
		return r.writeAllocations(ctx, tx, m)
	})
}

// Update rewrites the payment under its optimistic version, replaces the
// allocation set and resums every touched pledge, all in one transaction.
func (r *Repository) Update(ctx context.Context, m Mutation) (*Payment, []Allocation, error) {
	return r.commit(ctx, m, func(ctx context.Context, tx pgx.Tx, m *Mutation) error {
		p := &m.Draft.Payment

		const query = `
			UPDATE payments SET
				pledge_id = $2, payment_plan_id = $3, installment_schedule_id = $4,
				amount = $5, currency = $6, amount_usd = $7, amount_in_pledge_currency = $8,
				amount_in_plan_currency = $9, exchange_rate = $10,
				payment_date = $11, received_date = $12, is_split_payment = $13,
				is_third_party_payment = $14, payer_contact_id = $15,
				solicitor_id = $16, bonus_percentage = $17, bonus_amount = $18, bonus_rule_id = $19,
				receipt_number = $20, receipt_type = $21, receipt_issued = $22,
				version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $23
			RETURNING version, created_at, updated_at`

		err := tx.QueryRow(ctx, query,
			p.ID, p.PledgeID, p.PaymentPlanID, p.InstallmentScheduleID,
			p.Amount, p.Currency, p.AmountUSD, p.AmountInPledgeCurrency,
			p.AmountInPlanCurrency, p.ExchangeRate,
			p.PaymentDate, p.ReceivedDate, p.IsSplit,
			p.IsThirdParty, p.PayerContactID,
			p.SolicitorID, p.BonusPercentage, p.BonusAmount, p.BonusRuleID,
			p.ReceiptNumber, p.ReceiptType, p.ReceiptIssued,
			m.ExpectedVersion,
		).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.staleOrMissing(ctx, tx, p.ID)
		}
		if err != nil {
			return fmt.Errorf("payments: update %d: %w", p.ID, translateConstraint(err))
		}

		if _, err := tx.Exec(ctx, `DELETE FROM allocations WHERE payment_id = $1`, p.ID); err != nil {
			return fmt.Errorf("payments: clear allocations for %d: %w", p.ID, err)
		}
		return r.writeAllocations(ctx, tx, m)
	})
}

// Delete removes the payment, its allocations and its bonus calculation, then
// resums the pledges it used to contribute to.
func (r *Repository) Delete(ctx context.Context, id, expectedVersion int64, touchedPledges []int64) error {
	release, err := r.locker.AcquireAll(ctx, touchedPledges)
	if err != nil {
		return err
	}
	defer release()

	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM allocations WHERE payment_id = $1`, id); err != nil {
			return fmt.Errorf("payments: delete allocations for %d: %w", id, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM bonus_calculations WHERE payment_id = $1`, id); err != nil {
			return fmt.Errorf("payments: delete bonus calculation for %d: %w", id, err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM payments WHERE id = $1 AND version = $2`, id, expectedVersion)
		if err != nil {
			return fmt.Errorf("payments: delete %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return r.staleOrMissing(ctx, tx, id)
		}

		for _, pledgeID := range touchedPledges {
			if err := r.resync.ResyncPledgeTx(ctx, tx, pledgeID); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindPossibleDuplicates lists other payments benefiting the contact on the
// same date with the same amount.
func (r *Repository) FindPossibleDuplicates(ctx context.Context, contactID int64, date time.Time, amount float64) ([]Payment, error) {
	query := `
		SELECT DISTINCT ON (p.id) ` + prefixColumns("p", paymentColumns) + `
		FROM payments p
		LEFT JOIN allocations a ON a.payment_id = p.id
		LEFT JOIN pledges ap ON ap.id = a.pledge_id
		LEFT JOIN pledges dp ON dp.id = p.pledge_id
		WHERE p.payment_date = $2 AND p.amount = $3
		  AND (ap.contact_id = $1 OR dp.contact_id = $1)
		ORDER BY p.id`

	rows, err := r.pool.Query(ctx, query, contactID, date, amount)
	if err != nil {
		return nil, fmt.Errorf("payments: find duplicates: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("payments: scan duplicate: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// commit wraps a mutation body with the pledge locks, the transaction, the
// bonus calculation sync and the aggregate resync.
func (r *Repository) commit(ctx context.Context, m Mutation, body func(context.Context, pgx.Tx, *Mutation) error) (*Payment, []Allocation, error) {
	release, err := r.locker.AcquireAll(ctx, m.TouchedPledges)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := body(ctx, tx, &m); err != nil {
			return err
		}
		if err := r.syncBonusCalculation(ctx, tx, &m); err != nil {
			return err
		}
		for _, pledgeID := range m.TouchedPledges {
			if err := r.resync.ResyncPledgeTx(ctx, tx, pledgeID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &m.Draft.Payment, m.Draft.Allocations, nil
}

func (r *Repository) writeAllocations(ctx context.Context, tx pgx.Tx, m *Mutation) error {
	const query = `
		INSERT INTO allocations (
			payment_id, pledge_id, installment_schedule_id,
			allocated_amount, currency, allocated_amount_usd, allocated_amount_in_pledge_currency,
			receipt_number, receipt_type, receipt_issued, payer_contact_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	for i := range m.Draft.Allocations {
		a := &m.Draft.Allocations[i]
		a.PaymentID = m.Draft.Payment.ID
		err := tx.QueryRow(ctx, query,
			a.PaymentID, a.PledgeID, a.InstallmentScheduleID,
			a.AllocatedAmount, a.Currency, a.AllocatedAmountUSD, a.AllocatedAmountInPledgeCurrency,
			a.ReceiptNumber, a.ReceiptType, a.ReceiptIssued, a.PayerContactID,
		).Scan(&a.ID)
		if err != nil {
			return fmt.Errorf("payments: insert allocation for pledge %d: %w", a.PledgeID, translateConstraint(err))
		}
	}
	return nil
}

// syncBonusCalculation keeps the one-to-one calculation row in step with the
// payment: upserted while a rule matches, removed once no solicitor remains.
func (r *Repository) syncBonusCalculation(ctx context.Context, tx pgx.Tx, m *Mutation) error {
	p := m.Draft.Payment
	if m.Bonus == nil {
		if p.SolicitorID != nil {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM bonus_calculations WHERE payment_id = $1 AND is_paid = FALSE`, p.ID); err != nil {
			return fmt.Errorf("payments: clear bonus calculation for %d: %w", p.ID, err)
		}
		return nil
	}

	const query = `
		INSERT INTO bonus_calculations (payment_id, solicitor_id, rule_id, percentage, amount, is_paid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW(), NOW())
		ON CONFLICT (payment_id) DO UPDATE SET
			solicitor_id = EXCLUDED.solicitor_id, rule_id = EXCLUDED.rule_id,
			percentage = EXCLUDED.percentage, amount = EXCLUDED.amount, updated_at = NOW()
		WHERE bonus_calculations.is_paid = FALSE`

	if _, err := tx.Exec(ctx, query, p.ID, p.SolicitorID, m.Bonus.RuleID, m.Bonus.Percentage, m.Bonus.Amount); err != nil {
		return fmt.Errorf("payments: upsert bonus calculation for %d: %w", p.ID, err)
	}
	return nil
}

// staleOrMissing distinguishes a stale optimistic version from a deleted row.
func (r *Repository) staleOrMissing(ctx context.Context, q db.Querier, id int64) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("payments: check %d: %w", id, err)
	}
	if exists {
		return fmt.Errorf("%w: payment %d was modified concurrently", shared.ErrConflict, id)
	}
	return fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
}

func translateConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
