package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-crm/meridian/internal/fx"
	"github.com/meridian-crm/meridian/internal/shared"
)

// AllocationSpec describes one allocation in a create or update request.
type AllocationSpec struct {
	PledgeID              int64
	Amount                float64
	InstallmentScheduleID *int64
	ReceiptNumber         *string
	ReceiptType           *string
	ReceiptIssued         bool
	PayerContactID        *int64
}

// CreateSpec describes a new payment. Exactly one of PledgeID (direct) or
// Allocations (split) must be set.
type CreateSpec struct {
	PledgeID              *int64
	Allocations           []AllocationSpec
	Amount                float64
	Currency              string
	PaymentDate           time.Time
	ReceivedDate          *time.Time
	PaymentPlanID         *int64
	InstallmentScheduleID *int64
	IsThirdParty          bool
	PayerContactID        *int64
	SolicitorID           *int64
	ReceiptNumber         *string
	ReceiptType           *string
	ReceiptIssued         bool
}

// UpdatePatch amends an existing payment. Version carries the optimistic
// concurrency token the caller read; a stale token is rejected with
// shared.ErrConflict before anything is written.
type UpdatePatch struct {
	Version        int64
	Amount         *float64
	Currency       *string
	PaymentDate    *time.Time
	ReceivedDate   *time.Time
	PledgeID       *int64
	Allocations    *[]AllocationSpec
	AutoAdjust     bool
	Strategy       Strategy
	IsThirdParty   *bool
	PayerContactID *int64
}

// BonusEvaluation carries the selected rule outcome for denormalising onto
// the payment row.
type BonusEvaluation struct {
	RuleID     int64
	Percentage float64
	Amount     float64
}

// BonusPort evaluates the applicable bonus rule for a solicitor and amount.
type BonusPort interface {
	Evaluate(ctx context.Context, solicitorID int64, amount float64, date time.Time) (*BonusEvaluation, error)
}

// ConverterPort resolves amounts across payment, USD, pledge and plan
// currencies.
type ConverterPort interface {
	ToUSD(ctx context.Context, amount float64, code string, date time.Time) (fx.Conversion, error)
	Convert(ctx context.Context, amount float64, from, to string, date time.Time) (fx.Conversion, error)
	CrossRate(ctx context.Context, from, to string, date time.Time) (fx.Rate, error)
}

// Mutation is the unit handed to the repository: the validated draft plus
// everything that must commit with it.
type Mutation struct {
	Draft           Draft
	ExpectedVersion int64
	Bonus           *BonusEvaluation
	// TouchedPledges lists every pledge whose aggregates must be resummed in
	// the same transaction. Empty when the payment is not settled.
	TouchedPledges []int64
}

// RepositoryPort defines data access for payments.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (*Payment, []Allocation, error)
	GetPledges(ctx context.Context, ids []int64) (map[int64]Pledge, error)
	GetContacts(ctx context.Context, ids []int64) (map[int64]Contact, error)
	GetPlanCurrency(ctx context.Context, planID int64) (string, error)
	Create(ctx context.Context, m Mutation) (*Payment, []Allocation, error)
	Update(ctx context.Context, m Mutation) (*Payment, []Allocation, error)
	Delete(ctx context.Context, id, expectedVersion int64, touchedPledges []int64) error
	FindPossibleDuplicates(ctx context.Context, contactID int64, date time.Time, amount float64) ([]Payment, error)
}

// Service orchestrates payment mutations: ledger validation, currency
// resolution, bonus derivation and the atomic commit with aggregate resync.
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

// CreatePayment validates and commits a new direct or split payment.
func (s *Service) CreatePayment(ctx context.Context, spec CreateSpec) (*Payment, []Allocation, error) {
	if err := fx.ValidateCurrency(spec.Currency); err != nil {
		return nil, nil, err
	}
	if spec.Amount <= 0 {
		return nil, nil, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if spec.PledgeID != nil && len(spec.Allocations) > 0 {
		return nil, nil, fmt.Errorf("%w: payment cannot be both direct and split", shared.ErrValidation)
	}

	draft := Draft{
		Payment: Payment{
			PledgeID:              spec.PledgeID,
			PaymentPlanID:         spec.PaymentPlanID,
			InstallmentScheduleID: spec.InstallmentScheduleID,
			Amount:                shared.Round2(spec.Amount),
			Currency:              spec.Currency,
			PaymentDate:           spec.PaymentDate,
			ReceivedDate:          spec.ReceivedDate,
			IsSplit:               spec.PledgeID == nil,
			IsThirdParty:          spec.IsThirdParty,
			PayerContactID:        spec.PayerContactID,
			SolicitorID:           spec.SolicitorID,
			ReceiptNumber:         spec.ReceiptNumber,
			ReceiptType:           spec.ReceiptType,
			ReceiptIssued:         spec.ReceiptIssued,
		},
	}
	for _, a := range spec.Allocations {
		draft = AddAllocation(draft, Allocation{
			PledgeID:              a.PledgeID,
			AllocatedAmount:       shared.Round2(a.Amount),
			InstallmentScheduleID: a.InstallmentScheduleID,
			ReceiptNumber:         a.ReceiptNumber,
			ReceiptType:           a.ReceiptType,
			ReceiptIssued:         a.ReceiptIssued,
			PayerContactID:        a.PayerContactID,
		})
	}

	m, err := s.prepare(ctx, draft, 0)
	if err != nil {
		return nil, nil, err
	}
	return s.repo.Create(ctx, m)
}

// UpdatePayment amends a payment under its optimistic version. When the
// amount of a split payment changes and AutoAdjust is requested, allocations
// are redistributed with the selected strategy before validation.
func (s *Service) UpdatePayment(ctx context.Context, id int64, patch UpdatePatch) (*Payment, []Allocation, error) {
	current, allocations, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if current.Version != patch.Version {
		return nil, nil, fmt.Errorf("%w: payment %d was modified concurrently", shared.ErrConflict, id)
	}

	draft := Draft{Payment: *current, Allocations: allocations}
	oldTouched := touchedPledges(draft)

	if patch.Currency != nil && *patch.Currency != draft.Payment.Currency {
		if err := fx.ValidateCurrency(*patch.Currency); err != nil {
			return nil, nil, err
		}
		draft.Payment.Currency = *patch.Currency
		for i := range draft.Allocations {
			draft.Allocations[i].Currency = *patch.Currency
		}
	}
	if patch.PaymentDate != nil {
		draft.Payment.PaymentDate = *patch.PaymentDate
	}
	if patch.ReceivedDate != nil {
		draft.Payment.ReceivedDate = patch.ReceivedDate
	}
	if patch.PledgeID != nil {
		if draft.Payment.IsSplit {
			return nil, nil, fmt.Errorf("%w: cannot retarget a split payment; edit its allocations", shared.ErrValidation)
		}
		draft.Payment.PledgeID = patch.PledgeID
	}
	if patch.IsThirdParty != nil {
		draft.Payment.IsThirdParty = *patch.IsThirdParty
	}
	if patch.PayerContactID != nil {
		draft.Payment.PayerContactID = patch.PayerContactID
	}

	if patch.Allocations != nil {
		draft.Allocations = nil
		for _, a := range *patch.Allocations {
			draft = AddAllocation(draft, Allocation{
				PledgeID:              a.PledgeID,
				AllocatedAmount:       shared.Round2(a.Amount),
				InstallmentScheduleID: a.InstallmentScheduleID,
				ReceiptNumber:         a.ReceiptNumber,
				ReceiptType:           a.ReceiptType,
				ReceiptIssued:         a.ReceiptIssued,
				PayerContactID:        a.PayerContactID,
			})
		}
	}

	if patch.Amount != nil {
		newAmount := shared.Round2(*patch.Amount)
		if newAmount <= 0 {
			return nil, nil, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
		}
		if draft.Payment.IsSplit && patch.AutoAdjust && patch.Allocations == nil {
			strategy := patch.Strategy
			if strategy == "" {
				strategy = StrategyProportional
			}
			adjusted, err := Redistribute(draft.Allocations, newAmount, strategy)
			if err != nil {
				return nil, nil, err
			}
			draft.Allocations = adjusted
		}
		draft.Payment.Amount = newAmount
	}

	m, err := s.prepare(ctx, draft, patch.Version)
	if err != nil {
		return nil, nil, err
	}
	m.TouchedPledges = unionPledges(m.TouchedPledges, oldTouched)
	return s.repo.Update(ctx, m)
}

// DeletePayment removes a payment and its allocations after reversing their
// aggregate contribution via the full resum.
func (s *Service) DeletePayment(ctx context.Context, id, version int64) error {
	current, allocations, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Version != version {
		return fmt.Errorf("%w: payment %d was modified concurrently", shared.ErrConflict, id)
	}
	draft := Draft{Payment: *current, Allocations: allocations}
	return s.repo.Delete(ctx, id, version, touchedPledges(draft))
}

// ConvertToSplit rewrites a direct payment into split shape with a single
// seeded allocation.
func (s *Service) ConvertToSplit(ctx context.Context, id int64) (*Payment, []Allocation, error) {
	current, allocations, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	draft, err := ConvertToSplit(Draft{Payment: *current, Allocations: allocations})
	if err != nil {
		return nil, nil, err
	}
	m, err := s.prepare(ctx, draft, current.Version)
	if err != nil {
		return nil, nil, err
	}
	return s.repo.Update(ctx, m)
}

// ConvertToDirect collapses a split payment back onto one pledge. The other
// allocations' receipt metadata is discarded permanently; it is logged here
// so it remains recoverable from the audit trail.
func (s *Service) ConvertToDirect(ctx context.Context, id, targetPledgeID int64) (*Payment, []Allocation, error) {
	current, allocations, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	for _, a := range allocations {
		if a.PledgeID == targetPledgeID {
			continue
		}
		if s.logger != nil {
			s.logger.Info("discarding allocation on undo-split",
				slog.Int64("payment_id", id),
				slog.Int64("pledge_id", a.PledgeID),
				slog.Float64("allocated_amount", a.AllocatedAmount),
				slog.Any("receipt_number", a.ReceiptNumber))
		}
	}

	before := Draft{Payment: *current, Allocations: allocations}
	draft, err := ConvertToDirect(before, targetPledgeID)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.prepare(ctx, draft, current.Version)
	if err != nil {
		return nil, nil, err
	}
	// the abandoned pledges still need their aggregates resummed
	m.TouchedPledges = unionPledges(m.TouchedPledges, touchedPledges(before))
	return s.repo.Update(ctx, m)
}

// Attribution computes the viewer-relative label for a payment.
func (s *Service) Attribution(ctx context.Context, paymentID, viewerContactID int64) (Attribution, error) {
	payment, allocations, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return Attribution{}, err
	}
	draft := Draft{Payment: *payment, Allocations: allocations}

	pledges, err := s.repo.GetPledges(ctx, pledgeIDs(draft))
	if err != nil {
		return Attribution{}, err
	}

	contactIDs := BeneficiaryContacts(allocations, pledges)
	if payment.PledgeID != nil {
		if pledge, ok := pledges[*payment.PledgeID]; ok {
			contactIDs = append(contactIDs, pledge.ContactID)
		}
	}
	if payment.PayerContactID != nil {
		contactIDs = append(contactIDs, *payment.PayerContactID)
	}
	contacts, err := s.repo.GetContacts(ctx, contactIDs)
	if err != nil {
		return Attribution{}, err
	}

	return ResolveAttribution(*payment, allocations, pledges, contacts, viewerContactID), nil
}

// FindPossibleDuplicates surfaces payments sharing a contact, date and
// amount. Advisory only: the match ignores allocation identity, so two
// genuinely distinct split payments can collide here. Never used to reject
// writes.
func (s *Service) FindPossibleDuplicates(ctx context.Context, contactID int64, date time.Time, amount float64) ([]Payment, error) {
	return s.repo.FindPossibleDuplicates(ctx, contactID, date, amount)
}

// prepare runs the shared tail of every mutation: pledge lookup, ledger
// validation, currency resolution and bonus derivation.
func (s *Service) prepare(ctx context.Context, draft Draft, expectedVersion int64) (Mutation, error) {
	pledges, err := s.repo.GetPledges(ctx, pledgeIDs(draft))
	if err != nil {
		return Mutation{}, err
	}
	if err := Validate(draft, pledges); err != nil {
		return Mutation{}, err
	}
	if err := s.resolveAmounts(ctx, &draft, pledges); err != nil {
		return Mutation{}, err
	}

	m := Mutation{
		Draft:           draft,
		ExpectedVersion: expectedVersion,
		TouchedPledges:  touchedPledges(draft),
	}

	if draft.Payment.SolicitorID != nil && s.bonus != nil {
		eval, err := s.bonus.Evaluate(ctx, *draft.Payment.SolicitorID, draft.Payment.Amount, draft.Payment.PaymentDate)
		if err != nil {
			return Mutation{}, err
		}
		m.Bonus = eval
		if eval != nil {
			m.Draft.Payment.BonusRuleID = &eval.RuleID
			m.Draft.Payment.BonusPercentage = &eval.Percentage
			m.Draft.Payment.BonusAmount = &eval.Amount
		} else {
			m.Draft.Payment.BonusRuleID = nil
			m.Draft.Payment.BonusPercentage = nil
			m.Draft.Payment.BonusAmount = nil
		}
	}

	return m, nil
}

// resolveAmounts fills the derived currency fields. Direct payments carry
// pledge-currency fields at the payment level; split payments leave those
// undefined and carry them per allocation instead, each against its own
// pledge's currency.
func (s *Service) resolveAmounts(ctx context.Context, d *Draft, pledges map[int64]Pledge) error {
	date := d.Payment.EntryDate()

	usd, err := s.converter.ToUSD(ctx, d.Payment.Amount, d.Payment.Currency, date)
	if err != nil {
		return err
	}
	d.Payment.AmountUSD = &usd.Amount

	if !d.Payment.IsSplit && d.Payment.PledgeID != nil {
		pledge := pledges[*d.Payment.PledgeID]
		conv, err := s.converter.Convert(ctx, d.Payment.Amount, d.Payment.Currency, pledge.Currency, date)
		if err != nil {
			return err
		}
		rate, err := s.converter.CrossRate(ctx, d.Payment.Currency, pledge.Currency, date)
		if err != nil {
			return err
		}
		d.Payment.AmountInPledgeCurrency = &conv.Amount
		d.Payment.ExchangeRate = &rate.Value
	} else {
		d.Payment.AmountInPledgeCurrency = nil
		d.Payment.ExchangeRate = nil
		for i := range d.Allocations {
			a := &d.Allocations[i]
			ausd, err := s.converter.ToUSD(ctx, a.AllocatedAmount, a.Currency, date)
			if err != nil {
				return err
			}
			a.AllocatedAmountUSD = &ausd.Amount

			pledge := pledges[a.PledgeID]
			conv, err := s.converter.Convert(ctx, a.AllocatedAmount, a.Currency, pledge.Currency, date)
			if err != nil {
				return err
			}
			a.AllocatedAmountInPledgeCurrency = &conv.Amount
		}
	}

	if d.Payment.PaymentPlanID != nil {
		planCurrency, err := s.repo.GetPlanCurrency(ctx, *d.Payment.PaymentPlanID)
		if err != nil {
			return err
		}
		conv, err := s.converter.Convert(ctx, d.Payment.Amount, d.Payment.Currency, planCurrency, date)
		if err != nil {
			return err
		}
		d.Payment.AmountInPlanCurrency = &conv.Amount
	} else {
		d.Payment.AmountInPlanCurrency = nil
	}

	return nil
}

// pledgeIDs collects every pledge the draft references.
func pledgeIDs(d Draft) []int64 {
	var ids []int64
	if d.Payment.PledgeID != nil {
		ids = append(ids, *d.Payment.PledgeID)
	}
	for _, a := range d.Allocations {
		ids = append(ids, a.PledgeID)
	}
	return ids
}

// touchedPledges lists the pledges whose aggregates a commit must resum.
// Unsettled drafts touch nothing: the resum only counts received entries.
func touchedPledges(d Draft) []int64 {
	if !d.Payment.Settled() {
		return nil
	}
	return pledgeIDs(d)
}

func unionPledges(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	var out []int64
	for _, id := range append(append([]int64(nil), a...), b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
