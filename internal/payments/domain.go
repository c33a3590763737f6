package payments

import (
	"slices"
	"time"
)

// Strategy selects how allocations are recomputed when a split payment's
// total changes.
type Strategy string

const (
	// StrategyProportional preserves each allocation's share of the old total.
	StrategyProportional Strategy = "proportional"
	// StrategyEqual divides the new total evenly across allocations.
	StrategyEqual Strategy = "equal"
	// StrategyCustom leaves allocations untouched for manual editing.
	StrategyCustom Strategy = "custom"
)

// Payment is a received amount applied against one pledge (direct) or
// distributed across several (split). Exactly one of the two shapes holds at
// any time: direct carries PledgeID and no allocations, split carries
// allocations and a nil PledgeID.
type Payment struct {
	ID                     int64
	PledgeID               *int64
	PaymentPlanID          *int64
	InstallmentScheduleID  *int64
	Amount                 float64
	Currency               string
	AmountUSD              *float64
	AmountInPledgeCurrency *float64
	AmountInPlanCurrency   *float64
	ExchangeRate           *float64
	PaymentDate            time.Time
	ReceivedDate           *time.Time
	IsSplit                bool
	IsThirdParty           bool
	PayerContactID         *int64
	SolicitorID            *int64
	BonusPercentage        *float64
	BonusAmount            *float64
	BonusRuleID            *int64
	ReceiptNumber          *string
	ReceiptType            *string
	ReceiptIssued          bool
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Settled reports whether the payment has a received date.
func (p Payment) Settled() bool {
	return p.ReceivedDate != nil
}

// EntryDate is the date used for exchange-rate lookups: the settlement date
// when present, the payment date otherwise.
func (p Payment) EntryDate() time.Time {
	if p.ReceivedDate != nil {
		return *p.ReceivedDate
	}
	return p.PaymentDate
}

// Allocation is the portion of a split payment applied to one pledge. Its
// currency always equals the parent payment's currency.
type Allocation struct {
	ID                              int64
	PaymentID                       int64
	PledgeID                        int64
	InstallmentScheduleID           *int64
	AllocatedAmount                 float64
	Currency                        string
	AllocatedAmountUSD              *float64
	AllocatedAmountInPledgeCurrency *float64
	ReceiptNumber                   *string
	ReceiptType                     *string
	ReceiptIssued                   bool
	PayerContactID                  *int64
}

// Pledge is a read-only projection of a contact's giving commitment.
type Pledge struct {
	ID             int64
	ContactID      int64
	Currency       string
	OriginalAmount float64
	TotalPaid      float64
	Balance        float64
}

// Contact is a read-only projection used for attribution labels.
type Contact struct {
	ID   int64
	Name string
}

// AllocationSum returns the total allocated amount across allocations.
func AllocationSum(allocations []Allocation) float64 {
	var sum float64
	for _, a := range allocations {
		sum += a.AllocatedAmount
	}
	return sum
}

// BeneficiaryContacts returns the distinct pledge-owner contact ids across
// allocations, in ascending order.
func BeneficiaryContacts(allocations []Allocation, pledges map[int64]Pledge) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, a := range allocations {
		pledge, ok := pledges[a.PledgeID]
		if !ok {
			continue
		}
		if _, dup := seen[pledge.ContactID]; dup {
			continue
		}
		seen[pledge.ContactID] = struct{}{}
		out = append(out, pledge.ContactID)
	}
	slices.Sort(out)
	return out
}

// IsMultiContact reports whether allocations span pledges owned by more than
// one contact. Derived, never stored.
func IsMultiContact(allocations []Allocation, pledges map[int64]Pledge) bool {
	return len(BeneficiaryContacts(allocations, pledges)) > 1
}

// GroupByContact groups allocations by pledge-owner contact. This is the only
// contact-grouped view of the allocation set; the list itself is never
// duplicated into per-contact state.
func GroupByContact(allocations []Allocation, pledges map[int64]Pledge) map[int64][]Allocation {
	out := make(map[int64][]Allocation)
	for _, a := range allocations {
		pledge, ok := pledges[a.PledgeID]
		if !ok {
			continue
		}
		out[pledge.ContactID] = append(out[pledge.ContactID], a)
	}
	return out
}
