package fx

import (
	"fmt"
	"time"

	"golang.org/x/text/currency"

	"github.com/meridian-crm/meridian/internal/shared"
)

// USD is the pivot currency for all conversion chains.
const USD = "USD"

// ExchangeRate is a dated conversion factor: units of TargetCurrency per one
// unit of BaseCurrency. The engine stores rates against a USD base.
type ExchangeRate struct {
	ID             int64
	BaseCurrency   string
	TargetCurrency string
	Date           time.Time
	Rate           float64
	CreatedAt      time.Time
}

// Rate is a resolved exchange rate. Degraded marks the documented 1.0
// fallback for a missing table entry.
type Rate struct {
	Value    float64
	Degraded bool
}

// Conversion is a resolved monetary conversion. Amount is rounded half-up to
// 2 decimal places, Rate to 4; rounding happens here and nowhere else.
type Conversion struct {
	Amount   float64
	Rate     float64
	Degraded bool
}

// ValidateCurrency checks that code is a well-formed ISO 4217 currency.
func ValidateCurrency(code string) error {
	if _, err := currency.ParseISO(code); err != nil {
		return fmt.Errorf("%w: unknown currency %q", shared.ErrValidation, code)
	}
	return nil
}

// DateKey normalises a timestamp to the calendar date used by the rate table.
func DateKey(date time.Time) string {
	return date.Format("2006-01-02")
}
