package payments

import "time"

type allocationRequest struct {
	PledgeID              int64   `json:"pledge_id" validate:"required,gt=0"`
	Amount                float64 `json:"amount" validate:"required,gt=0"`
	InstallmentScheduleID *int64  `json:"installment_schedule_id,omitempty"`
	ReceiptNumber         *string `json:"receipt_number,omitempty"`
	ReceiptType           *string `json:"receipt_type,omitempty"`
	ReceiptIssued         bool    `json:"receipt_issued"`
	PayerContactID        *int64  `json:"payer_contact_id,omitempty"`
}

type createPaymentRequest struct {
	PledgeID              *int64              `json:"pledge_id,omitempty"`
	Allocations           []allocationRequest `json:"allocations,omitempty" validate:"dive"`
	Amount                float64             `json:"amount" validate:"required,gt=0"`
	Currency              string              `json:"currency" validate:"required,len=3"`
	PaymentDate           time.Time           `json:"payment_date" validate:"required"`
	ReceivedDate          *time.Time          `json:"received_date,omitempty"`
	PaymentPlanID         *int64              `json:"payment_plan_id,omitempty"`
	InstallmentScheduleID *int64              `json:"installment_schedule_id,omitempty"`
	IsThirdParty          bool                `json:"is_third_party_payment"`
	PayerContactID        *int64              `json:"payer_contact_id,omitempty"`
	SolicitorID           *int64              `json:"solicitor_id,omitempty"`
	ReceiptNumber         *string             `json:"receipt_number,omitempty"`
	ReceiptType           *string             `json:"receipt_type,omitempty"`
	ReceiptIssued         bool                `json:"receipt_issued"`
}

type updatePaymentRequest struct {
	Version        int64                `json:"version" validate:"required,gt=0"`
	Amount         *float64             `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Currency       *string              `json:"currency,omitempty" validate:"omitempty,len=3"`
	PaymentDate    *time.Time           `json:"payment_date,omitempty"`
	ReceivedDate   *time.Time           `json:"received_date,omitempty"`
	PledgeID       *int64               `json:"pledge_id,omitempty"`
	Allocations    *[]allocationRequest `json:"allocations,omitempty" validate:"omitempty,dive"`
	AutoAdjust     bool                 `json:"auto_adjust_allocations"`
	Strategy       string               `json:"redistribution_strategy,omitempty" validate:"omitempty,oneof=proportional equal custom"`
	IsThirdParty   *bool                `json:"is_third_party_payment,omitempty"`
	PayerContactID *int64               `json:"payer_contact_id,omitempty"`
}

type deletePaymentRequest struct {
	Version int64 `json:"version" validate:"required,gt=0"`
}

type convertToDirectRequest struct {
	PledgeID int64 `json:"pledge_id" validate:"required,gt=0"`
}

type paymentResponse struct {
	Payment     paymentBody      `json:"payment"`
	Allocations []allocationBody `json:"allocations,omitempty"`
}

type paymentBody struct {
	ID                     int64      `json:"id"`
	PledgeID               *int64     `json:"pledge_id,omitempty"`
	PaymentPlanID          *int64     `json:"payment_plan_id,omitempty"`
	InstallmentScheduleID  *int64     `json:"installment_schedule_id,omitempty"`
	Amount                 float64    `json:"amount"`
	Currency               string     `json:"currency"`
	AmountUSD              *float64   `json:"amount_usd,omitempty"`
	AmountInPledgeCurrency *float64   `json:"amount_in_pledge_currency,omitempty"`
	AmountInPlanCurrency   *float64   `json:"amount_in_plan_currency,omitempty"`
	ExchangeRate           *float64   `json:"exchange_rate,omitempty"`
	PaymentDate            time.Time  `json:"payment_date"`
	ReceivedDate           *time.Time `json:"received_date,omitempty"`
	IsSplit                bool       `json:"is_split_payment"`
	IsThirdParty           bool       `json:"is_third_party_payment"`
	PayerContactID         *int64     `json:"payer_contact_id,omitempty"`
	SolicitorID            *int64     `json:"solicitor_id,omitempty"`
	BonusPercentage        *float64   `json:"bonus_percentage,omitempty"`
	BonusAmount            *float64   `json:"bonus_amount,omitempty"`
	BonusRuleID            *int64     `json:"bonus_rule_id,omitempty"`
	ReceiptNumber          *string    `json:"receipt_number,omitempty"`
	ReceiptType            *string    `json:"receipt_type,omitempty"`
	ReceiptIssued          bool       `json:"receipt_issued"`
	Version                int64      `json:"version"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

type allocationBody struct {
	ID                              int64    `json:"id"`
	PledgeID                        int64    `json:"pledge_id"`
	InstallmentScheduleID           *int64   `json:"installment_schedule_id,omitempty"`
	AllocatedAmount                 float64  `json:"allocated_amount"`
	Currency                        string   `json:"currency"`
	AllocatedAmountUSD              *float64 `json:"allocated_amount_usd,omitempty"`
	AllocatedAmountInPledgeCurrency *float64 `json:"allocated_amount_in_pledge_currency,omitempty"`
	ReceiptNumber                   *string  `json:"receipt_number,omitempty"`
	ReceiptType                     *string  `json:"receipt_type,omitempty"`
	ReceiptIssued                   bool     `json:"receipt_issued"`
	PayerContactID                  *int64   `json:"payer_contact_id,omitempty"`
}

type attributionResponse struct {
	Kind          string        `json:"kind"`
	Payer         contactBody   `json:"payer"`
	Beneficiaries []contactBody `json:"beneficiaries"`
}

type contactBody struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

func toAllocationSpecs(in []allocationRequest) []AllocationSpec {
	out := make([]AllocationSpec, 0, len(in))
	for _, a := range in {
		out = append(out, AllocationSpec{
			PledgeID:              a.PledgeID,
			Amount:                a.Amount,
			InstallmentScheduleID: a.InstallmentScheduleID,
			ReceiptNumber:         a.ReceiptNumber,
			ReceiptType:           a.ReceiptType,
			ReceiptIssued:         a.ReceiptIssued,
			PayerContactID:        a.PayerContactID,
		})
	}
	return out
}

func toPaymentResponse(p *Payment, allocations []Allocation) paymentResponse {
	resp := paymentResponse{Payment: paymentBody{
		ID:                     p.ID,
		PledgeID:               p.PledgeID,
		PaymentPlanID:          p.PaymentPlanID,
		InstallmentScheduleID:  p.InstallmentScheduleID,
		Amount:                 p.Amount,
		Currency:               p.Currency,
		AmountUSD:              p.AmountUSD,
		AmountInPledgeCurrency: p.AmountInPledgeCurrency,
		AmountInPlanCurrency:   p.AmountInPlanCurrency,
		ExchangeRate:           p.ExchangeRate,
		PaymentDate:            p.PaymentDate,
		ReceivedDate:           p.ReceivedDate,
		IsSplit:                p.IsSplit,
		IsThirdParty:           p.IsThirdParty,
		PayerContactID:         p.PayerContactID,
		SolicitorID:            p.SolicitorID,
		BonusPercentage:        p.BonusPercentage,
		BonusAmount:            p.BonusAmount,
		BonusRuleID:            p.BonusRuleID,
		ReceiptNumber:          p.ReceiptNumber,
		ReceiptType:            p.ReceiptType,
		ReceiptIssued:          p.ReceiptIssued,
		Version:                p.Version,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}}
	for _, a := range allocations {
		resp.Allocations = append(resp.Allocations, allocationBody{
			ID:                              a.ID,
			PledgeID:                        a.PledgeID,
			InstallmentScheduleID:           a.InstallmentScheduleID,
			AllocatedAmount:                 a.AllocatedAmount,
			Currency:                        a.Currency,
			AllocatedAmountUSD:              a.AllocatedAmountUSD,
			AllocatedAmountInPledgeCurrency: a.AllocatedAmountInPledgeCurrency,
			ReceiptNumber:                   a.ReceiptNumber,
			ReceiptType:                     a.ReceiptType,
			ReceiptIssued:                   a.ReceiptIssued,
			PayerContactID:                  a.PayerContactID,
		})
	}
	return resp
}

func toAttributionResponse(a Attribution) attributionResponse {
	resp := attributionResponse{
		Kind:          string(a.Kind),
		Payer:         contactBody{ID: a.Payer.ID, Name: a.Payer.Name},
		Beneficiaries: make([]contactBody, 0, len(a.Beneficiaries)),
	}
	for _, c := range a.Beneficiaries {
		resp.Beneficiaries = append(resp.Beneficiaries, contactBody{ID: c.ID, Name: c.Name})
	}
	return resp
}
