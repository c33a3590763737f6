package payments

import (
	"fmt"

	"github.com/meridian-crm/meridian/internal/shared"
)

// Draft is an uncommitted payment plus its allocation list. Ledger operations
// are pure: they take a draft and return a new one, with no hidden
// recomputation between steps. Nothing is persisted until the service commits.
type Draft struct {
	Payment     Payment
	Allocations []Allocation
}

// IsDirect reports whether the draft is in direct (single pledge) shape.
func (d Draft) IsDirect() bool {
	return !d.Payment.IsSplit
}

// Validate enforces the ledger invariants against the draft:
// allocations sum to the payment amount within tolerance, every allocation
// carries the payment currency, the direct/split shape is structurally valid,
// referenced pledges exist, and third-party payments name a payer.
func Validate(d Draft, pledges map[int64]Pledge) error {
	p := d.Payment

	if p.IsThirdParty && p.PayerContactID == nil {
		return fmt.Errorf("%w: third-party payment requires a payer contact", shared.ErrValidation)
	}

	if !p.IsSplit {
		if p.PledgeID == nil {
			return fmt.Errorf("%w: direct payment requires a pledge", shared.ErrValidation)
		}
		if len(d.Allocations) > 0 {
			return fmt.Errorf("%w: direct payment must not carry allocations", shared.ErrValidation)
		}
		if _, ok := pledges[*p.PledgeID]; !ok {
			return fmt.Errorf("%w: pledge %d", shared.ErrNotFound, *p.PledgeID)
		}
		return nil
	}

	if p.PledgeID != nil {
		return fmt.Errorf("%w: split payment must not reference a pledge directly", shared.ErrValidation)
	}
	if len(d.Allocations) == 0 {
		return fmt.Errorf("%w: split payment requires at least one allocation", shared.ErrValidation)
	}

	for _, a := range d.Allocations {
		if _, ok := pledges[a.PledgeID]; !ok {
			return fmt.Errorf("%w: pledge %d", shared.ErrNotFound, a.PledgeID)
		}
		if a.Currency != p.Currency {
			return fmt.Errorf("%w: allocation currency %s must equal payment currency %s",
				shared.ErrValidation, a.Currency, p.Currency)
		}
		if a.AllocatedAmount <= 0 {
			return fmt.Errorf("%w: allocated amount must be positive", shared.ErrValidation)
		}
	}

	if sum := AllocationSum(d.Allocations); !shared.AmountsEqual(sum, p.Amount) {
		return fmt.Errorf("%w: total allocated amount must equal payment amount (allocated %.2f, payment %.2f)",
			shared.ErrValidation, sum, p.Amount)
	}

	return nil
}

// ConvertToSplit turns a direct payment into a split one by seeding a single
// allocation carrying the full amount and the payment's receipt fields. The
// payment-level pledge reference and pledge-currency derived fields are
// cleared; those now live per allocation.
func ConvertToSplit(d Draft) (Draft, error) {
	if d.Payment.IsSplit {
		return Draft{}, fmt.Errorf("%w: payment is already split", shared.ErrValidation)
	}
	if d.Payment.PledgeID == nil {
		return Draft{}, fmt.Errorf("%w: direct payment has no pledge to seed from", shared.ErrValidation)
	}

	seed := Allocation{
		PaymentID:                       d.Payment.ID,
		PledgeID:                        *d.Payment.PledgeID,
		InstallmentScheduleID:           d.Payment.InstallmentScheduleID,
		AllocatedAmount:                 d.Payment.Amount,
		Currency:                        d.Payment.Currency,
		AllocatedAmountUSD:              d.Payment.AmountUSD,
		AllocatedAmountInPledgeCurrency: d.Payment.AmountInPledgeCurrency,
		ReceiptNumber:                   d.Payment.ReceiptNumber,
		ReceiptType:                     d.Payment.ReceiptType,
		ReceiptIssued:                   d.Payment.ReceiptIssued,
		PayerContactID:                  d.Payment.PayerContactID,
	}

	out := d
	out.Payment.IsSplit = true
	out.Payment.PledgeID = nil
	out.Payment.AmountInPledgeCurrency = nil
	out.Payment.ExchangeRate = nil
	out.Allocations = []Allocation{seed}
	return out, nil
}

// ConvertToDirect collapses a split payment back to direct shape against the
// allocation matching targetPledgeID. The matching allocation's receipt
// fields are copied onto the payment; every other allocation, receipts
// included, is discarded. One-way: the discarded metadata is unrecoverable.
func ConvertToDirect(d Draft, targetPledgeID int64) (Draft, error) {
	if !d.Payment.IsSplit {
		return Draft{}, fmt.Errorf("%w: payment is not split", shared.ErrValidation)
	}

	var target *Allocation
	for i := range d.Allocations {
		if d.Allocations[i].PledgeID == targetPledgeID {
			target = &d.Allocations[i]
			break
		}
	}
	if target == nil {
		return Draft{}, fmt.Errorf("%w: no allocation for pledge %d", shared.ErrNotFound, targetPledgeID)
	}

	out := d
	out.Payment.IsSplit = false
	out.Payment.PledgeID = &target.PledgeID
	out.Payment.InstallmentScheduleID = target.InstallmentScheduleID
	out.Payment.ReceiptNumber = target.ReceiptNumber
	out.Payment.ReceiptType = target.ReceiptType
	out.Payment.ReceiptIssued = target.ReceiptIssued
	out.Payment.AmountInPledgeCurrency = nil
	out.Payment.ExchangeRate = nil
	out.Allocations = nil
	return out, nil
}

// AddAllocation appends an allocation to the draft, forcing the payment
// currency onto it. Validate must run before commit.
func AddAllocation(d Draft, a Allocation) Draft {
	a.PaymentID = d.Payment.ID
	a.Currency = d.Payment.Currency
	out := d
	out.Allocations = append(append([]Allocation(nil), d.Allocations...), a)
	return out
}

// RemoveAllocation drops the allocation for the given pledge. Validate must
// run before commit.
func RemoveAllocation(d Draft, pledgeID int64) Draft {
	out := d
	out.Allocations = nil
	for _, a := range d.Allocations {
		if a.PledgeID != pledgeID {
			out.Allocations = append(out.Allocations, a)
		}
	}
	return out
}
