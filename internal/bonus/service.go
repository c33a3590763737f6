package bonus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-crm/meridian/internal/observability"
	"github.com/meridian-crm/meridian/internal/shared"
)

// PaymentInfo is the slice of a payment the calculator needs.
type PaymentInfo struct {
	PaymentID   int64
	Amount      float64
	PaymentDate time.Time
	SolicitorID *int64
}

// RepositoryPort defines data access for solicitors, rules and calculations.
type RepositoryPort interface {
	GetSolicitor(ctx context.Context, id int64) (*Solicitor, error)
	ListRules(ctx context.Context, solicitorID int64) ([]Rule, error)
	GetPaymentInfo(ctx context.Context, paymentID int64) (*PaymentInfo, error)
	// ReplaceCalculation upserts the calculation for its payment (unique on
	// payment_id) and mirrors the solicitor/bonus fields onto the payment row
	// in the same transaction, bumping the payment version. A nil eval clears
	// both. Replacing a paid calculation fails with shared.ErrConflict.
	ReplaceCalculation(ctx context.Context, paymentID, solicitorID int64, eval *Evaluation) (*Calculation, error)
	GetCalculation(ctx context.Context, id int64) (*Calculation, error)
	GetCalculationByPayment(ctx context.Context, paymentID int64) (*Calculation, error)
	MarkCalculationPaid(ctx context.Context, id int64, paidAt time.Time) (*Calculation, error)
}

// Service handles solicitor bonus workflows.
type Service struct {
	repo    RepositoryPort
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, logger: logger, metrics: metrics}
}

// EvaluateForAmount selects and computes a bonus for an arbitrary amount, used
// by payment and donation writes to derive their denormalised bonus fields.
// Nil when the solicitor has no matching rule.
func (s *Service) EvaluateForAmount(ctx context.Context, solicitorID int64, amount float64, date time.Time, kind Kind) (*Evaluation, error) {
	solicitor, err := s.repo.GetSolicitor(ctx, solicitorID)
	if err != nil {
		return nil, err
	}
	if solicitor == nil {
		return nil, fmt.Errorf("%w: solicitor %d", shared.ErrNotFound, solicitorID)
	}
	rules, err := s.repo.ListRules(ctx, solicitorID)
	if err != nil {
		return nil, err
	}
	return Evaluate(rules, amount, date, kind), nil
}

// AssignSolicitor attaches a solicitor to a payment and computes its bonus.
// Any prior calculation for the payment is replaced, never duplicated. A paid
// calculation is terminal and blocks reassignment.
func (s *Service) AssignSolicitor(ctx context.Context, paymentID, solicitorID int64) (*Calculation, error) {
	info, err := s.repo.GetPaymentInfo(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: payment %d", shared.ErrNotFound, paymentID)
	}

	existing, err := s.repo.GetCalculationByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsPaid {
		return nil, fmt.Errorf("%w: bonus calculation for payment %d is already paid", shared.ErrConflict, paymentID)
	}

	eval, err := s.EvaluateForAmount(ctx, solicitorID, info.Amount, info.PaymentDate, KindPayment)
	if err != nil {
		return nil, err
	}

	calc, err := s.repo.ReplaceCalculation(ctx, paymentID, solicitorID, eval)
	if err != nil {
		return nil, err
	}
	if calc != nil {
		s.metrics.ObserveBonusCalculation()
	}
	return calc, nil
}

// Recalculate recomputes the bonus for a payment's current solicitor and
// amount, replacing the stored calculation.
func (s *Service) Recalculate(ctx context.Context, paymentID int64) (*Calculation, error) {
	info, err := s.repo.GetPaymentInfo(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: payment %d", shared.ErrNotFound, paymentID)
	}
	if info.SolicitorID == nil {
		return nil, fmt.Errorf("%w: payment %d has no solicitor", shared.ErrValidation, paymentID)
	}
	return s.AssignSolicitor(ctx, paymentID, *info.SolicitorID)
}

// MarkPaid transitions a calculation to its terminal paid state. Calling it
// again on a paid calculation is an error, not a silent no-op.
func (s *Service) MarkPaid(ctx context.Context, calculationID int64) (*Calculation, error) {
	calc, err := s.repo.GetCalculation(ctx, calculationID)
	if err != nil {
		return nil, err
	}
	if calc == nil {
		return nil, fmt.Errorf("%w: bonus calculation %d", shared.ErrNotFound, calculationID)
	}
	if calc.IsPaid {
		return nil, fmt.Errorf("%w: bonus calculation %d is already paid", shared.ErrConflict, calculationID)
	}
	return s.repo.MarkCalculationPaid(ctx, calculationID, time.Now())
}
