package workflow

import (
	"sort"

	"bitbucket.org/mmdatafocus/stockbill_backend/models"
	"bitbucket.org/mmdatafocus/stockbill_backend/utils"
	"github.com/shopspring/decimal"
)

// StockAllocation is one planned deduction: draw Qty from the lot StockId at
// the lot's unit price.
type StockAllocation struct {
	StockId string
	Qty     decimal.Decimal
	Amount  decimal.Decimal
}

// AllocateStock plans how a requested quantity is covered by the candidate
// lots. It walks the lots in policy order, taking min(lot remaining, still
// needed) from each, and returns deductions summing to exactly the requested
// quantity.
//
// It is pure: no store access, no mutation of the candidates. If the
// candidates cannot cover the request it returns InsufficientStockError with
// the shortfall, allocating nothing.
func AllocateStock(key models.StockKey, candidates []*models.Stock, requested decimal.Decimal, policy models.DeductionPolicy) ([]StockAllocation, error) {
	if requested.LessThanOrEqual(decimal.Zero) {
		return nil, utils.NewValidationError("qty", "must be greater than zero")
	}

	available := decimal.Zero
	for _, stock := range candidates {
		if stock.Remaining.IsPositive() {
			available = available.Add(stock.Remaining)
		}
	}
	if available.LessThan(requested) {
		return nil, &utils.InsufficientStockError{
			Product:   key.Product,
			Type:      key.Type,
			Place:     key.Place,
			Unit:      key.Unit,
			Requested: requested,
			Available: available,
			Shortfall: requested.Sub(available),
		}
	}

	ordered := sortCandidates(candidates, policy)

	allocations := make([]StockAllocation, 0, 1)
	needed := requested
	for _, stock := range ordered {
		if !needed.IsPositive() {
			break
		}
		if !stock.Remaining.IsPositive() {
			continue
		}
		deduct := decimal.Min(stock.Remaining, needed)
		allocations = append(allocations, StockAllocation{
			StockId: stock.ID,
			Qty:     deduct,
			Amount:  stock.Amount,
		})
		needed = needed.Sub(deduct)
	}

	return allocations, nil
}

// sortCandidates orders lots for consumption: intake date ascending for FIFO,
// descending for LIFO, id ascending as the tie-break for equal dates. The
// input slice is left untouched.
func sortCandidates(candidates []*models.Stock, policy models.DeductionPolicy) []*models.Stock {
	ordered := make([]*models.Stock, len(candidates))
	copy(ordered, candidates)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.ReceivedDate.Equal(b.ReceivedDate) {
			if policy == models.DeductionPolicyLIFO {
				return a.ReceivedDate.After(b.ReceivedDate)
			}
			return a.ReceivedDate.Before(b.ReceivedDate)
		}
		return a.ID < b.ID
	})
	return ordered
}
