package donations

import "time"

// ManualDonation is a standalone gift recorded outside the pledge ledger. It
// never carries allocations and never feeds pledge or plan aggregates; its
// only derived fields are the USD amount and the solicitor bonus.
type ManualDonation struct {
	ID              int64
	ContactID       int64
	Amount          float64
	Currency        string
	AmountUSD       *float64
	DonationDate    time.Time
	SolicitorID     *int64
	BonusPercentage *float64
	BonusAmount     *float64
	BonusRuleID     *int64
	Notes           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
