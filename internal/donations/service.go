package donations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-crm/meridian/internal/bonus"
	"github.com/meridian-crm/meridian/internal/fx"
	"github.com/meridian-crm/meridian/internal/shared"
)

// CreateSpec describes a new manual donation.
type CreateSpec struct {
	ContactID    int64
	Amount       float64
	Currency     string
	DonationDate time.Time
	SolicitorID  *int64
	Notes        *string
}

// ConverterPort resolves the USD amount for a donation.
type ConverterPort interface {
	ToUSD(ctx context.Context, amount float64, code string, date time.Time) (fx.Conversion, error)
}

// BonusPort evaluates donation-kind bonus rules.
type BonusPort interface {
	EvaluateForAmount(ctx context.Context, solicitorID int64, amount float64, date time.Time, kind bonus.Kind) (*bonus.Evaluation, error)
}

// RepositoryPort defines data access for manual donations.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (*ManualDonation, error)
	ContactExists(ctx context.Context, id int64) (bool, error)
	Create(ctx context.Context, d *ManualDonation) error
	Delete(ctx context.Context, id int64) error
}

// Service records manual donations with their derived USD amount and
// solicitor bonus.
type Service struct {
	repo      RepositoryPort
	converter ConverterPort
	bonus     BonusPort
	logger    *slog.Logger
}

// NewService builds a Service instance. bonus may be nil when no solicitor
// workflow is wired.
func NewService(repo RepositoryPort, converter ConverterPort, bonus BonusPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, converter: converter, bonus: bonus, logger: logger}
}

// Create validates and records a manual donation.
func (s *Service) Create(ctx context.Context, spec CreateSpec) (*ManualDonation, error) {
	if err := fx.ValidateCurrency(spec.Currency); err != nil {
		return nil, err
	}
	if spec.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	exists, err := s.repo.ContactExists(ctx, spec.ContactID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: contact %d", shared.ErrNotFound, spec.ContactID)
	}

	donation := ManualDonation{
		ContactID:    spec.ContactID,
		Amount:       shared.Round2(spec.Amount),
		Currency:     spec.Currency,
		DonationDate: spec.DonationDate,
		SolicitorID:  spec.SolicitorID,
		Notes:        spec.Notes,
	}

	usd, err := s.converter.ToUSD(ctx, donation.Amount, donation.Currency, donation.DonationDate)
	if err != nil {
		return nil, err
	}
	donation.AmountUSD = &usd.Amount

	if donation.SolicitorID != nil && s.bonus != nil {
		eval, err := s.bonus.EvaluateForAmount(ctx, *donation.SolicitorID, donation.Amount, donation.DonationDate, bonus.KindDonation)
		if err != nil {
			return nil, err
		}
		if eval != nil {
			donation.BonusRuleID = &eval.RuleID
			donation.BonusPercentage = &eval.Percentage
			donation.BonusAmount = &eval.Amount
		}
	}

	if err := s.repo.Create(ctx, &donation); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("manual donation recorded",
			slog.Int64("donation_id", donation.ID),
			slog.Int64("contact_id", donation.ContactID),
			slog.Float64("amount", donation.Amount),
			slog.String("currency", donation.Currency))
	}
	return &donation, nil
}

// Get loads a manual donation.
func (s *Service) Get(ctx context.Context, id int64) (*ManualDonation, error) {
	return s.repo.Get(ctx, id)
}

// Delete removes a manual donation. Nothing to resync: donations never feed
// pledge aggregates.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}
