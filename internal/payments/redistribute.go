package payments

import (
	"fmt"
	"math"

	"github.com/meridian-crm/meridian/internal/shared"
)

// Redistribute recomputes allocation amounts for a new payment total using the
// selected strategy. The input slice is never mutated.
//
// After the strategy runs, any residual above shared.ResidualTolerance between
// the new total and the rounded sum is added to the first allocation so the
// sum lands exactly on the new total. Applying the same (newTotal, strategy)
// to the result a second time is a no-op.
func Redistribute(allocations []Allocation, newTotal float64, strategy Strategy) ([]Allocation, error) {
	out := append([]Allocation(nil), allocations...)
	if len(out) == 0 {
		return out, nil
	}

	switch strategy {
	case StrategyProportional:
		oldTotal := AllocationSum(out)
		if oldTotal == 0 {
			return nil, fmt.Errorf("%w: proportional redistribution requires a non-zero prior total", shared.ErrValidation)
		}
		for i := range out {
			out[i].AllocatedAmount = shared.Round2(newTotal * (out[i].AllocatedAmount / oldTotal))
		}
	case StrategyEqual:
		share := shared.Round2(newTotal / float64(len(out)))
		for i := range out {
			out[i].AllocatedAmount = share
		}
	case StrategyCustom:
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown redistribution strategy %q", shared.ErrValidation, strategy)
	}

	if residual := newTotal - AllocationSum(out); math.Abs(residual) > shared.ResidualTolerance {
		out[0].AllocatedAmount = shared.Round2(out[0].AllocatedAmount + residual)
	}

	return out, nil
}
