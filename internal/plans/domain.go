package plans

import "time"

// Pledge carries the aggregate totals owned by the synchronizer. Balance is
// always originalAmount minus totalPaid, in the pledge's own currency.
type Pledge struct {
	ID             int64
	ContactID      int64
	Currency       string
	OriginalAmount float64
	TotalPaid      float64
	Balance        float64
	UpdatedAt      time.Time
}

// PaymentPlan is a scheduled series of expected payments against a pledge.
// Its totals are derived from settled payments and never edited directly.
type PaymentPlan struct {
	ID                   int64
	PledgeID             int64
	Currency             string
	TotalAmount          float64
	InstallmentAmount    float64
	NumberOfInstallments int
	TotalPaid            float64
	InstallmentsPaid     int
	RemainingAmount      float64
	UpdatedAt            time.Time
}
