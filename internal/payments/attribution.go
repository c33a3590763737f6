package payments

// AttributionKind labels the viewer's relationship to a payment.
type AttributionKind string

const (
	// AttributionPaidFor is shown to the payer: "you paid for these contacts".
	AttributionPaidFor AttributionKind = "paid_for"
	// AttributionPaidBy is shown to a beneficiary: "paid by this contact".
	AttributionPaidBy AttributionKind = "paid_by"
	// AttributionThirdParty is the neutral payer-to-beneficiaries summary.
	AttributionThirdParty AttributionKind = "third_party"
)

// Attribution is a perspective-dependent label for a payment. It is a pure
// read-side transform and is never persisted.
type Attribution struct {
	Kind          AttributionKind
	Payer         Contact
	Beneficiaries []Contact
}

// ResolveAttribution computes the viewer-relative label for a payment. The
// payer is always the single payerContactID on the parent payment, falling
// back to the sole beneficiary when absent (a self-paid payment); a payment
// charges exactly one payer even when it benefits many contacts.
func ResolveAttribution(p Payment, allocations []Allocation, pledges map[int64]Pledge, contacts map[int64]Contact, viewerID int64) Attribution {
	var beneficiaryIDs []int64
	if p.IsSplit {
		beneficiaryIDs = BeneficiaryContacts(allocations, pledges)
	} else if p.PledgeID != nil {
		if pledge, ok := pledges[*p.PledgeID]; ok {
			beneficiaryIDs = []int64{pledge.ContactID}
		}
	}

	payerID := int64(0)
	if p.PayerContactID != nil {
		payerID = *p.PayerContactID
	} else if len(beneficiaryIDs) > 0 {
		payerID = beneficiaryIDs[0]
	}

	beneficiaries := make([]Contact, 0, len(beneficiaryIDs))
	for _, id := range beneficiaryIDs {
		beneficiaries = append(beneficiaries, contactRef(contacts, id))
	}

	kind := AttributionThirdParty
	if viewerID == payerID {
		kind = AttributionPaidFor
	} else {
		for _, id := range beneficiaryIDs {
			if id == viewerID {
				kind = AttributionPaidBy
				break
			}
		}
	}

	return Attribution{
		Kind:          kind,
		Payer:         contactRef(contacts, payerID),
		Beneficiaries: beneficiaries,
	}
}

func contactRef(contacts map[int64]Contact, id int64) Contact {
	if c, ok := contacts[id]; ok {
		return c
	}
	return Contact{ID: id}
}
