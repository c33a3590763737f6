package donations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-crm/meridian/internal/shared"
)

// Repository provides PostgreSQL backed access to manual donations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a manual donation by id.
func (r *Repository) Get(ctx context.Context, id int64) (*ManualDonation, error) {
	const query = `
		SELECT id, contact_id, amount, currency, amount_usd, donation_date,
		       solicitor_id, bonus_percentage, bonus_amount, bonus_rule_id, notes,
		       created_at, updated_at
		FROM manual_donations WHERE id = $1`

	var d ManualDonation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.ContactID, &d.Amount, &d.Currency, &d.AmountUSD, &d.DonationDate,
		&d.SolicitorID, &d.BonusPercentage, &d.BonusAmount, &d.BonusRuleID, &d.Notes,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: manual donation %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("donations: get %d: %w", id, err)
	}
	return &d, nil
}

// ContactExists reports whether a contact row exists.
func (r *Repository) ContactExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM contacts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("donations: check contact %d: %w", id, err)
	}
	return exists, nil
}

// Create inserts a manual donation and fills its generated fields.
func (r *Repository) Create(ctx context.Context, d *ManualDonation) error {
	const query = `
		INSERT INTO manual_donations (
			contact_id, amount, currency, amount_usd, donation_date,
			solicitor_id, bonus_percentage, bonus_amount, bonus_rule_id, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		d.ContactID, d.Amount, d.Currency, d.AmountUSD, d.DonationDate,
		d.SolicitorID, d.BonusPercentage, d.BonusAmount, d.BonusRuleID, d.Notes,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("donations: insert: %w", err)
	}
	return nil
}

// Delete removes a manual donation.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM manual_donations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("donations: delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: manual donation %d", shared.ErrNotFound, id)
	}
	return nil
}
