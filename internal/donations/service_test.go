package donations

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-crm/meridian/internal/bonus"
	"github.com/meridian-crm/meridian/internal/fx"
	"github.com/meridian-crm/meridian/internal/shared"
)

type memoryDonationsRepo struct {
	donations map[int64]*ManualDonation
	contacts  map[int64]bool
	nextID    int64
}

func (r *memoryDonationsRepo) Get(ctx context.Context, id int64) (*ManualDonation, error) {
	d, ok := r.donations[id]
	if !ok {
		return nil, fmt.Errorf("%w: manual donation %d", shared.ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

func (r *memoryDonationsRepo) ContactExists(ctx context.Context, id int64) (bool, error) {
	return r.contacts[id], nil
}

func (r *memoryDonationsRepo) Create(ctx context.Context, d *ManualDonation) error {
	r.nextID++
	d.ID = r.nextID
	cp := *d
	r.donations[d.ID] = &cp
	return nil
}

func (r *memoryDonationsRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.donations[id]; !ok {
		return fmt.Errorf("%w: manual donation %d", shared.ErrNotFound, id)
	}
	delete(r.donations, id)
	return nil
}

type fixedConverter struct{ perUSD map[string]float64 }

func (c fixedConverter) ToUSD(ctx context.Context, amount float64, code string, date time.Time) (fx.Conversion, error) {
	rate := 1.0
	if r, ok := c.perUSD[code]; ok {
		rate = r
	}
	return fx.Conversion{Amount: shared.Round2(amount / rate), Rate: rate}, nil
}

type stubBonus struct {
	eval     *bonus.Evaluation
	lastKind bonus.Kind
}

func (b *stubBonus) EvaluateForAmount(ctx context.Context, solicitorID int64, amount float64, date time.Time, kind bonus.Kind) (*bonus.Evaluation, error) {
	b.lastKind = kind
	return b.eval, nil
}

func newDonationsFixture() *memoryDonationsRepo {
	return &memoryDonationsRepo{
		donations: map[int64]*ManualDonation{},
		contacts:  map[int64]bool{100: true},
	}
}

var april1 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func TestCreateDonationResolvesUSD(t *testing.T) {
	repo := newDonationsFixture()
	svc := NewService(repo, fixedConverter{perUSD: map[string]float64{"ILS": 3.5}}, nil, nil)

	donation, err := svc.Create(context.Background(), CreateSpec{
		ContactID:    100,
		Amount:       700,
		Currency:     "ILS",
		DonationDate: april1,
	})
	require.NoError(t, err)
	require.NotZero(t, donation.ID)
	require.Equal(t, 200.0, *donation.AmountUSD)
}

func TestCreateDonationUnknownContact(t *testing.T) {
	svc := NewService(newDonationsFixture(), fixedConverter{}, nil, nil)

	_, err := svc.Create(context.Background(), CreateSpec{
		ContactID:    999,
		Amount:       50,
		Currency:     "USD",
		DonationDate: april1,
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateDonationInvalidAmount(t *testing.T) {
	svc := NewService(newDonationsFixture(), fixedConverter{}, nil, nil)

	_, err := svc.Create(context.Background(), CreateSpec{
		ContactID:    100,
		Amount:       -10,
		Currency:     "USD",
		DonationDate: april1,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateDonationDerivesBonusAsDonationKind(t *testing.T) {
	repo := newDonationsFixture()
	bonusPort := &stubBonus{eval: &bonus.Evaluation{RuleID: 3, Percentage: 10, Amount: 50}}
	svc := NewService(repo, fixedConverter{}, bonusPort, nil)

	solicitorID := int64(42)
	donation, err := svc.Create(context.Background(), CreateSpec{
		ContactID:    100,
		Amount:       500,
		Currency:     "USD",
		DonationDate: april1,
		SolicitorID:  &solicitorID,
	})
	require.NoError(t, err)
	require.Equal(t, bonus.KindDonation, bonusPort.lastKind)
	require.Equal(t, int64(3), *donation.BonusRuleID)
	require.Equal(t, 50.0, *donation.BonusAmount)
}

func TestDeleteDonation(t *testing.T) {
	repo := newDonationsFixture()
	svc := NewService(repo, fixedConverter{}, nil, nil)

	donation, err := svc.Create(context.Background(), CreateSpec{
		ContactID:    100,
		Amount:       25,
		Currency:     "USD",
		DonationDate: april1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), donation.ID))
	_, err = svc.Get(context.Background(), donation.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
