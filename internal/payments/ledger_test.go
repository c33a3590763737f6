package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-crm/meridian/internal/shared"
)

func ptrI64(v int64) *int64          { return &v }
func ptrStr(v string) *string        { return &v }
func ptrF64(v float64) *float64      { return &v }
func ptrTime(v time.Time) *time.Time { return &v }

var testPledges = map[int64]Pledge{
	1:  {ID: 1, ContactID: 100, Currency: "USD", OriginalAmount: 5000},
	2:  {ID: 2, ContactID: 200, Currency: "USD", OriginalAmount: 3000},
	10: {ID: 10, ContactID: 100, Currency: "USD", OriginalAmount: 1000},
	11: {ID: 11, ContactID: 300, Currency: "USD", OriginalAmount: 2000},
}

func splitDraft(amount float64, allocs ...Allocation) Draft {
	return Draft{
		Payment: Payment{
			ID:          1,
			Amount:      amount,
			Currency:    "USD",
			PaymentDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			IsSplit:     true,
		},
		Allocations: allocs,
	}
}

func TestValidateSplitPasses(t *testing.T) {
	d := splitDraft(1000,
		Allocation{PledgeID: 1, AllocatedAmount: 600, Currency: "USD"},
		Allocation{PledgeID: 2, AllocatedAmount: 400, Currency: "USD"},
	)
	require.NoError(t, Validate(d, testPledges))
}

func TestValidateSplitSumMismatch(t *testing.T) {
	d := splitDraft(1000,
		Allocation{PledgeID: 1, AllocatedAmount: 600, Currency: "USD"},
		Allocation{PledgeID: 2, AllocatedAmount: 350, Currency: "USD"},
	)
	err := Validate(d, testPledges)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "total allocated amount must equal payment amount")
}

func TestValidateSplitWithinTolerance(t *testing.T) {
	d := splitDraft(100,
		Allocation{PledgeID: 1, AllocatedAmount: 33.34, Currency: "USD"},
		Allocation{PledgeID: 2, AllocatedAmount: 33.33, Currency: "USD"},
		Allocation{PledgeID: 10, AllocatedAmount: 33.33, Currency: "USD"},
	)
	require.NoError(t, Validate(d, testPledges))
}

func TestValidateCurrencyMismatch(t *testing.T) {
	d := splitDraft(1000,
		Allocation{PledgeID: 1, AllocatedAmount: 1000, Currency: "EUR"},
	)
	err := Validate(d, testPledges)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "currency")
}

func TestValidateDirectAndSplitShapes(t *testing.T) {
	direct := Draft{Payment: Payment{Amount: 100, Currency: "USD", PledgeID: ptrI64(1)}}
	require.NoError(t, Validate(direct, testPledges))

	// direct with allocations is structurally invalid
	bad := direct
	bad.Allocations = []Allocation{{PledgeID: 2, AllocatedAmount: 100, Currency: "USD"}}
	require.ErrorIs(t, Validate(bad, testPledges), shared.ErrValidation)

	// split referencing a pledge directly is structurally invalid
	s := splitDraft(100, Allocation{PledgeID: 1, AllocatedAmount: 100, Currency: "USD"})
	s.Payment.PledgeID = ptrI64(1)
	require.ErrorIs(t, Validate(s, testPledges), shared.ErrValidation)

	// split with no allocations
	empty := splitDraft(100)
	require.ErrorIs(t, Validate(empty, testPledges), shared.ErrValidation)
}

func TestValidateUnknownPledge(t *testing.T) {
	d := splitDraft(100, Allocation{PledgeID: 99, AllocatedAmount: 100, Currency: "USD"})
	require.ErrorIs(t, Validate(d, testPledges), shared.ErrNotFound)
}

func TestValidateThirdPartyRequiresPayer(t *testing.T) {
	d := Draft{Payment: Payment{Amount: 100, Currency: "USD", PledgeID: ptrI64(1), IsThirdParty: true}}
	require.ErrorIs(t, Validate(d, testPledges), shared.ErrValidation)

	d.Payment.PayerContactID = ptrI64(500)
	require.NoError(t, Validate(d, testPledges))
}

func TestConvertToSplitSeedsFullAmount(t *testing.T) {
	d := Draft{Payment: Payment{
		ID:            7,
		Amount:        250,
		Currency:      "USD",
		PledgeID:      ptrI64(1),
		ReceiptNumber: ptrStr("R-42"),
		ReceiptType:   ptrStr("tax"),
		ReceiptIssued: true,
	}}

	out, err := ConvertToSplit(d)
	require.NoError(t, err)
	require.True(t, out.Payment.IsSplit)
	require.Nil(t, out.Payment.PledgeID)
	require.Len(t, out.Allocations, 1)

	seed := out.Allocations[0]
	require.Equal(t, int64(1), seed.PledgeID)
	require.Equal(t, 250.0, seed.AllocatedAmount)
	require.Equal(t, "USD", seed.Currency)
	require.Equal(t, "R-42", *seed.ReceiptNumber)
	require.True(t, seed.ReceiptIssued)

	require.NoError(t, Validate(out, testPledges))

	_, err = ConvertToSplit(out)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConvertToDirectKeepsTargetReceipt(t *testing.T) {
	d := splitDraft(1000,
		Allocation{PledgeID: 10, AllocatedAmount: 300, Currency: "USD", ReceiptNumber: ptrStr("A")},
		Allocation{PledgeID: 11, AllocatedAmount: 700, Currency: "USD", ReceiptNumber: ptrStr("B"), ReceiptIssued: true},
	)

	out, err := ConvertToDirect(d, 11)
	require.NoError(t, err)
	require.False(t, out.Payment.IsSplit)
	require.Equal(t, int64(11), *out.Payment.PledgeID)
	require.Equal(t, 1000.0, out.Payment.Amount)
	require.Empty(t, out.Allocations)
	require.Equal(t, "B", *out.Payment.ReceiptNumber)
	require.True(t, out.Payment.ReceiptIssued)

	require.NoError(t, Validate(out, testPledges))
}

func TestConvertToDirectUnknownPledge(t *testing.T) {
	d := splitDraft(1000, Allocation{PledgeID: 10, AllocatedAmount: 1000, Currency: "USD"})
	_, err := ConvertToDirect(d, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAddRemoveAllocation(t *testing.T) {
	d := splitDraft(1000, Allocation{PledgeID: 1, AllocatedAmount: 1000, Currency: "USD"})

	d2 := AddAllocation(d, Allocation{PledgeID: 2, AllocatedAmount: 200, Currency: "EUR"})
	require.Len(t, d2.Allocations, 2)
	require.Equal(t, "USD", d2.Allocations[1].Currency, "payment currency is forced onto new allocations")
	require.Len(t, d.Allocations, 1, "input draft is not mutated")

	d3 := RemoveAllocation(d2, 1)
	require.Len(t, d3.Allocations, 1)
	require.Equal(t, int64(2), d3.Allocations[0].PledgeID)
}

func TestMultiContactIsDerived(t *testing.T) {
	same := []Allocation{
		{PledgeID: 1, AllocatedAmount: 50, Currency: "USD"},
		{PledgeID: 10, AllocatedAmount: 50, Currency: "USD"},
	}
	require.False(t, IsMultiContact(same, testPledges), "pledges 1 and 10 share contact 100")

	mixed := []Allocation{
		{PledgeID: 1, AllocatedAmount: 50, Currency: "USD"},
		{PledgeID: 11, AllocatedAmount: 50, Currency: "USD"},
	}
	require.True(t, IsMultiContact(mixed, testPledges))

	groups := GroupByContact(mixed, testPledges)
	require.Len(t, groups, 2)
	require.Len(t, groups[100], 1)
	require.Len(t, groups[300], 1)
}
