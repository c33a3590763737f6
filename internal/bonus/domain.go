package bonus

import "time"

// Kind scopes a bonus rule to a class of incoming money.
type Kind string

const (
	// KindPayment covers pledge payments, direct or split.
	KindPayment Kind = "payment"
	// KindDonation covers manual donations outside the allocation ledger.
	KindDonation Kind = "donation"
	// KindBoth matches either.
	KindBoth Kind = "both"
)

// SolicitorStatus enumerates solicitor states.
type SolicitorStatus string

const (
	SolicitorActive   SolicitorStatus = "ACTIVE"
	SolicitorInactive SolicitorStatus = "INACTIVE"
)

// Solicitor is a fundraiser linked to a contact, entitled to commission.
type Solicitor struct {
	ID             int64
	ContactID      int64
	CommissionRate float64
	Status         SolicitorStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Rule is a solicitor's commission policy. A rule applies when it is active,
// the payment date falls inside its effective window, the amount is inside
// its bounds, and its payment-type scope matches.
type Rule struct {
	ID            int64
	SolicitorID   int64
	Percentage    float64
	PaymentType   Kind
	MinAmount     *float64
	MaxAmount     *float64
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Priority      int
	IsActive      bool
}

// Calculation is the computed commission for one payment. At most one exists
// per payment; recalculation replaces the prior record. Paid is terminal.
type Calculation struct {
	ID          int64
	PaymentID   int64
	SolicitorID int64
	RuleID      *int64
	Percentage  float64
	Amount      float64
	IsPaid      bool
	PaidAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Evaluation is the outcome of rule selection for an amount/date/kind triple.
type Evaluation struct {
	RuleID     int64
	Percentage float64
	Amount     float64
}
