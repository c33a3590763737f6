package payments

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-crm/meridian/internal/fx"
	"github.com/meridian-crm/meridian/internal/shared"
)

type memoryPaymentsRepo struct {
	payments       map[int64]*Payment
	allocations    map[int64][]Allocation
	pledges        map[int64]Pledge
	contacts       map[int64]Contact
	planCurrencies map[int64]string
	nextID         int64
	lastTouched    []int64
	lastBonus      *BonusEvaluation
}

func newPaymentsFixture() *memoryPaymentsRepo {
	return &memoryPaymentsRepo{
		payments:    map[int64]*Payment{},
		allocations: map[int64][]Allocation{},
		pledges: map[int64]Pledge{
			1:  {ID: 1, ContactID: 100, Currency: "USD", OriginalAmount: 5000},
			2:  {ID: 2, ContactID: 200, Currency: "USD", OriginalAmount: 3000},
			3:  {ID: 3, ContactID: 300, Currency: "EUR", OriginalAmount: 2000},
			10: {ID: 10, ContactID: 100, Currency: "ILS", OriginalAmount: 7000},
		},
		contacts: map[int64]Contact{
			100: {ID: 100, Name: "Avery Stone"},
			200: {ID: 200, Name: "Blair Quinn"},
			300: {ID: 300, Name: "Casey Reed"},
			500: {ID: 500, Name: "Drew Vale"},
		},
		planCurrencies: map[int64]string{9: "EUR"},
		nextID:         1000,
	}
}

func (r *memoryPaymentsRepo) Get(ctx context.Context, id int64) (*Payment, []Allocation, error) {
	p, ok := r.payments[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
	}
	cp := *p
	return &cp, append([]Allocation(nil), r.allocations[id]...), nil
}

func (r *memoryPaymentsRepo) GetPledges(ctx context.Context, ids []int64) (map[int64]Pledge, error) {
	out := make(map[int64]Pledge)
	for _, id := range ids {
		if p, ok := r.pledges[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *memoryPaymentsRepo) GetContacts(ctx context.Context, ids []int64) (map[int64]Contact, error) {
	out := make(map[int64]Contact)
	for _, id := range ids {
		if c, ok := r.contacts[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (r *memoryPaymentsRepo) GetPlanCurrency(ctx context.Context, planID int64) (string, error) {
	currency, ok := r.planCurrencies[planID]
	if !ok {
		return "", fmt.Errorf("%w: payment plan %d", shared.ErrNotFound, planID)
	}
	return currency, nil
}

func (r *memoryPaymentsRepo) store(m Mutation) (*Payment, []Allocation, error) {
	p := m.Draft.Payment
	r.payments[p.ID] = &p
	r.allocations[p.ID] = append([]Allocation(nil), m.Draft.Allocations...)
	r.lastTouched = m.TouchedPledges
	r.lastBonus = m.Bonus
	cp := p
	return &cp, append([]Allocation(nil), m.Draft.Allocations...), nil
}

func (r *memoryPaymentsRepo) Create(ctx context.Context, m Mutation) (*Payment, []Allocation, error) {
	r.nextID++
	m.Draft.Payment.ID = r.nextID
	m.Draft.Payment.Version = 1
	return r.store(m)
}

func (r *memoryPaymentsRepo) Update(ctx context.Context, m Mutation) (*Payment, []Allocation, error) {
	current, ok := r.payments[m.Draft.Payment.ID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: payment %d", shared.ErrNotFound, m.Draft.Payment.ID)
	}
	if current.Version != m.ExpectedVersion {
		return nil, nil, fmt.Errorf("%w: payment %d was modified concurrently", shared.ErrConflict, m.Draft.Payment.ID)
	}
	m.Draft.Payment.Version = current.Version + 1
	return r.store(m)
}

func (r *memoryPaymentsRepo) Delete(ctx context.Context, id, expectedVersion int64, touchedPledges []int64) error {
	current, ok := r.payments[id]
	if !ok {
		return fmt.Errorf("%w: payment %d", shared.ErrNotFound, id)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: payment %d was modified concurrently", shared.ErrConflict, id)
	}
	delete(r.payments, id)
	delete(r.allocations, id)
	r.lastTouched = touchedPledges
	return nil
}

func (r *memoryPaymentsRepo) FindPossibleDuplicates(ctx context.Context, contactID int64, date time.Time, amount float64) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.Amount == amount && p.PaymentDate.Equal(date) {
			out = append(out, *p)
		}
	}
	return out, nil
}

// fixedConverter resolves from a static per-USD rate table, mirroring the
// live resolver's USD pivot.
type fixedConverter struct {
	rates map[string]float64
}

func (c fixedConverter) rate(code string) float64 {
	if code == fx.USD {
		return 1
	}
	if r, ok := c.rates[code]; ok {
		return r
	}
	return 1
}

func (c fixedConverter) ToUSD(ctx context.Context, amount float64, code string, date time.Time) (fx.Conversion, error) {
	return fx.Conversion{Amount: shared.Round2(amount / c.rate(code)), Rate: c.rate(code)}, nil
}

func (c fixedConverter) Convert(ctx context.Context, amount float64, from, to string, date time.Time) (fx.Conversion, error) {
	if from == to {
		return fx.Conversion{Amount: shared.Round2(amount), Rate: 1}, nil
	}
	usd := amount / c.rate(from)
	return fx.Conversion{Amount: shared.Round2(usd * c.rate(to))}, nil
}

func (c fixedConverter) CrossRate(ctx context.Context, from, to string, date time.Time) (fx.Rate, error) {
	return fx.Rate{Value: shared.Round4(c.rate(to) / c.rate(from))}, nil
}

type stubBonus struct {
	eval  *BonusEvaluation
	calls int
}

func (b *stubBonus) Evaluate(ctx context.Context, solicitorID int64, amount float64, date time.Time) (*BonusEvaluation, error) {
	b.calls++
	return b.eval, nil
}

func newTestService(repo *memoryPaymentsRepo, bonus BonusPort) *Service {
	converter := fixedConverter{rates: map[string]float64{"ILS": 3.5, "EUR": 0.875}}
	return NewService(repo, converter, bonus, nil)
}

var march1 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestCreateSplitPaymentResolvesAmounts(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	payment, allocations, err := svc.CreatePayment(context.Background(), CreateSpec{
		Allocations: []AllocationSpec{
			{PledgeID: 1, Amount: 600},
			{PledgeID: 3, Amount: 400},
		},
		Amount:       1000,
		Currency:     "USD",
		PaymentDate:  march1,
		ReceivedDate: &march1,
	})
	require.NoError(t, err)
	require.True(t, payment.IsSplit)
	require.Nil(t, payment.PledgeID)
	require.NotNil(t, payment.AmountUSD)
	require.Equal(t, 1000.0, *payment.AmountUSD)
	// split payments never carry payment-level pledge currency fields
	require.Nil(t, payment.AmountInPledgeCurrency)
	require.Nil(t, payment.ExchangeRate)

	require.Len(t, allocations, 2)
	require.Equal(t, 600.0, *allocations[0].AllocatedAmountUSD)
	require.Equal(t, 600.0, *allocations[0].AllocatedAmountInPledgeCurrency)
	// pledge 3 is in EUR at 0.875 per USD
	require.Equal(t, 350.0, *allocations[1].AllocatedAmountInPledgeCurrency)

	require.ElementsMatch(t, []int64{1, 3}, repo.lastTouched)
}

func TestCreateDirectPaymentCrossCurrency(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	pledgeID := int64(10) // ILS pledge
	payment, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		PledgeID:     &pledgeID,
		Amount:       700,
		Currency:     "ILS",
		PaymentDate:  march1,
		ReceivedDate: &march1,
	})
	require.NoError(t, err)
	require.Equal(t, 200.0, *payment.AmountUSD)
	require.Equal(t, 700.0, *payment.AmountInPledgeCurrency)
	require.Equal(t, 1.0, *payment.ExchangeRate)
}

func TestCreatePaymentSumMismatchRejected(t *testing.T) {
	svc := newTestService(newPaymentsFixture(), nil)

	_, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		Allocations: []AllocationSpec{{PledgeID: 1, Amount: 600}, {PledgeID: 2, Amount: 300}},
		Amount:      1000,
		Currency:    "USD",
		PaymentDate: march1,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorContains(t, err, "total allocated amount must equal payment amount")
}

func TestCreateUnsettledPaymentTouchesNoPledges(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	pledgeID := int64(1)
	_, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		PledgeID:    &pledgeID,
		Amount:      100,
		Currency:    "USD",
		PaymentDate: march1,
	})
	require.NoError(t, err)
	require.Empty(t, repo.lastTouched)
}

func TestCreatePaymentWithPlanCurrency(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	pledgeID := int64(1)
	planID := int64(9) // EUR plan
	payment, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		PledgeID:      &pledgeID,
		PaymentPlanID: &planID,
		Amount:        200,
		Currency:      "USD",
		PaymentDate:   march1,
	})
	require.NoError(t, err)
	require.Equal(t, 175.0, *payment.AmountInPlanCurrency)
}

func TestCreatePaymentBonusDerived(t *testing.T) {
	repo := newPaymentsFixture()
	bonus := &stubBonus{eval: &BonusEvaluation{RuleID: 7, Percentage: 5, Amount: 25}}
	svc := newTestService(repo, bonus)

	pledgeID := int64(1)
	solicitorID := int64(42)
	payment, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		PledgeID:    &pledgeID,
		SolicitorID: &solicitorID,
		Amount:      500,
		Currency:    "USD",
		PaymentDate: march1,
	})
	require.NoError(t, err)
	require.Equal(t, 1, bonus.calls)
	require.Equal(t, int64(7), *payment.BonusRuleID)
	require.Equal(t, 5.0, *payment.BonusPercentage)
	require.Equal(t, 25.0, *payment.BonusAmount)
	require.NotNil(t, repo.lastBonus)
	require.Equal(t, 25.0, repo.lastBonus.Amount)
}

func TestUpdateAmountAutoAdjustProportional(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	created, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		Allocations:  []AllocationSpec{{PledgeID: 1, Amount: 600}, {PledgeID: 2, Amount: 400}},
		Amount:       1000,
		Currency:     "USD",
		PaymentDate:  march1,
		ReceivedDate: &march1,
	})
	require.NoError(t, err)

	newAmount := 1200.0
	payment, allocations, err := svc.UpdatePayment(context.Background(), created.ID, UpdatePatch{
		Version:    created.Version,
		Amount:     &newAmount,
		AutoAdjust: true,
		Strategy:   StrategyProportional,
	})
	require.NoError(t, err)
	require.Equal(t, 1200.0, payment.Amount)
	require.Equal(t, 720.0, allocations[0].AllocatedAmount)
	require.Equal(t, 480.0, allocations[1].AllocatedAmount)
	require.Equal(t, created.Version+1, payment.Version)
}

func TestUpdateAmountWithoutAdjustRejected(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	created, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		Allocations: []AllocationSpec{{PledgeID: 1, Amount: 600}, {PledgeID: 2, Amount: 400}},
		Amount:      1000,
		Currency:    "USD",
		PaymentDate: march1,
	})
	require.NoError(t, err)

	newAmount := 1200.0
	_, _, err = svc.UpdatePayment(context.Background(), created.ID, UpdatePatch{
		Version: created.Version,
		Amount:  &newAmount,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	pledgeID := int64(1)
	created, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		PledgeID:    &pledgeID,
		Amount:      100,
		Currency:    "USD",
		PaymentDate: march1,
	})
	require.NoError(t, err)

	newAmount := 150.0
	_, _, err = svc.UpdatePayment(context.Background(), created.ID, UpdatePatch{
		Version: created.Version + 5,
		Amount:  &newAmount,
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestUpdateAfterSolicitorAssignmentConflicts(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	pledgeID := int64(1)
	created, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		PledgeID:    &pledgeID,
		Amount:      500,
		Currency:    "USD",
		PaymentDate: march1,
	})
	require.NoError(t, err)

	// a solicitor assignment mirrors onto the payment row and bumps its
	// version while the editor still holds the pre-assignment read
	solicitorID := int64(42)
	repo.payments[created.ID].SolicitorID = &solicitorID
	repo.payments[created.ID].Version++

	newAmount := 600.0
	_, _, err = svc.UpdatePayment(context.Background(), created.ID, UpdatePatch{
		Version: created.Version,
		Amount:  &newAmount,
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, solicitorID, *repo.payments[created.ID].SolicitorID, "stale draft must not revert the assignment")
}

func TestUpdateSettlementTouchesPledges(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	pledgeID := int64(1)
	created, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		PledgeID:    &pledgeID,
		Amount:      100,
		Currency:    "USD",
		PaymentDate: march1,
	})
	require.NoError(t, err)
	require.Empty(t, repo.lastTouched)

	_, _, err = svc.UpdatePayment(context.Background(), created.ID, UpdatePatch{
		Version:      created.Version,
		ReceivedDate: &march1,
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1}, repo.lastTouched)
}

func TestDeleteSettledPaymentTouchesPledges(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	created, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		Allocations:  []AllocationSpec{{PledgeID: 1, Amount: 600}, {PledgeID: 2, Amount: 400}},
		Amount:       1000,
		Currency:     "USD",
		PaymentDate:  march1,
		ReceivedDate: &march1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeletePayment(context.Background(), created.ID, created.Version))
	require.ElementsMatch(t, []int64{1, 2}, repo.lastTouched)

	_, _, err = repo.Get(context.Background(), created.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestServiceConvertToDirectKeepsTargetReceipt(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	receiptA := "R-A"
	receiptB := "R-B"
	created, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		Allocations: []AllocationSpec{
			{PledgeID: 1, Amount: 600, ReceiptNumber: &receiptA},
			{PledgeID: 2, Amount: 400, ReceiptNumber: &receiptB},
		},
		Amount:       1000,
		Currency:     "USD",
		PaymentDate:  march1,
		ReceivedDate: &march1,
	})
	require.NoError(t, err)

	payment, allocations, err := svc.ConvertToDirect(context.Background(), created.ID, 2)
	require.NoError(t, err)
	require.False(t, payment.IsSplit)
	require.Equal(t, int64(2), *payment.PledgeID)
	require.Equal(t, "R-B", *payment.ReceiptNumber)
	require.Equal(t, 1000.0, payment.Amount)
	require.Empty(t, allocations)
	// the abandoned pledge still gets resummed
	require.ElementsMatch(t, []int64{1, 2}, repo.lastTouched)
}

func TestConvertToSplitSeedsAllocation(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	pledgeID := int64(1)
	created, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		PledgeID:     &pledgeID,
		Amount:       250,
		Currency:     "USD",
		PaymentDate:  march1,
		ReceivedDate: &march1,
	})
	require.NoError(t, err)

	payment, allocations, err := svc.ConvertToSplit(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, payment.IsSplit)
	require.Nil(t, payment.PledgeID)
	require.Len(t, allocations, 1)
	require.Equal(t, int64(1), allocations[0].PledgeID)
	require.Equal(t, 250.0, allocations[0].AllocatedAmount)
}

func TestAttributionThroughService(t *testing.T) {
	repo := newPaymentsFixture()
	svc := newTestService(repo, nil)

	payerID := int64(500)
	created, _, err := svc.CreatePayment(context.Background(), CreateSpec{
		Allocations:    []AllocationSpec{{PledgeID: 1, Amount: 600}, {PledgeID: 2, Amount: 400}},
		Amount:         1000,
		Currency:       "USD",
		PaymentDate:    march1,
		IsThirdParty:   true,
		PayerContactID: &payerID,
	})
	require.NoError(t, err)

	fromPayer, err := svc.Attribution(context.Background(), created.ID, 500)
	require.NoError(t, err)
	require.Equal(t, AttributionPaidFor, fromPayer.Kind)
	require.Equal(t, "Drew Vale", fromPayer.Payer.Name)
	require.Len(t, fromPayer.Beneficiaries, 2)

	fromBeneficiary, err := svc.Attribution(context.Background(), created.ID, 200)
	require.NoError(t, err)
	require.Equal(t, AttributionPaidBy, fromBeneficiary.Kind)
}
