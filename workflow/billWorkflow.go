package workflow

import (
	"context"
	"errors"
	"strings"

	"bitbucket.org/mmdatafocus/stockbill_backend/config"
	"bitbucket.org/mmdatafocus/stockbill_backend/models"
	"bitbucket.org/mmdatafocus/stockbill_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CreateBill validates a requested bill, plans all stock deductions in memory
// and commits the bill, its items and the lot decrements as one unit.
//
// One commit moves through Validating -> Allocating -> Committing. The first
// two stages write nothing: a malformed request or an uncoverable line rejects
// the whole bill with the store untouched. Only the commit stage performs
// writes, and the enclosing transaction rolls every one of them back on a
// write fault, so a failed commit is safe to resubmit.
func CreateBill(ctx context.Context, logger *logrus.Logger, input *models.NewBill, policy models.DeductionPolicy) (*models.Bill, error) {
	db := config.GetDB()

	// Validating
	if err := validateNewBill(input); err != nil {
		return nil, err
	}

	tx := db.WithContext(ctx).Begin()
	// Always rollback on early-return or panic; rollback after a successful
	// commit is a no-op.
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	// Allocating: lines are resolved sequentially against per-key snapshots,
	// so stock taken by an earlier line of this bill is no longer offered to a
	// later one. Store rows stay untouched until every line has a plan.
	snapshots := make(map[models.StockKey][]*models.Stock)
	var allocations []StockAllocation
	var items []models.BillItem
	grandTotal := decimal.Zero

	for _, line := range input.Items {
		key := line.Key()
		candidates, ok := snapshots[key]
		if !ok {
			loaded, err := models.GetDeductibleStocks(tx, key, policy)
			if err != nil {
				config.LogError(logger, "billWorkflow.go", "CreateBill", "GetDeductibleStocks", key, err)
				return nil, err
			}
			candidates = make([]*models.Stock, len(loaded))
			for i, stock := range loaded {
				snapshot := *stock
				candidates[i] = &snapshot
			}
			snapshots[key] = candidates
		}

		lineAllocations, err := AllocateStock(key, candidates, line.Qty, policy)
		if err != nil {
			return nil, err
		}

		for _, alloc := range lineAllocations {
			for _, stock := range candidates {
				if stock.ID == alloc.StockId {
					stock.Remaining = stock.Remaining.Sub(alloc.Qty)
					break
				}
			}

			total := alloc.Qty.Mul(alloc.Amount)
			items = append(items, models.BillItem{
				ID:      models.NewRecordId(),
				StockId: alloc.StockId,
				Product: key.Product,
				Type:    key.Type,
				Place:   key.Place,
				Unit:    key.Unit,
				Qty:     alloc.Qty,
				Amount:  alloc.Amount,
				Total:   total,
			})
			grandTotal = grandTotal.Add(total)
		}
		allocations = append(allocations, lineAllocations...)
	}

	// Committing
	bill := models.Bill{
		ID:         models.NewRecordId(),
		BillNumber: strings.TrimSpace(input.BillNumber),
		BillDate:   models.NormalizeDate(input.BillDate),
		GrandTotal: grandTotal,
	}
	if err := tx.Create(&bill).Error; err != nil {
		config.LogError(logger, "billWorkflow.go", "CreateBill", "Create Bill", bill, err)
		return nil, &utils.CommitError{Err: err}
	}

	for i := range items {
		items[i].BillId = bill.ID
	}
	if err := tx.Create(&items).Error; err != nil {
		config.LogError(logger, "billWorkflow.go", "CreateBill", "Create BillItems", bill.ID, err)
		return nil, &utils.CommitError{Err: err}
	}

	for _, alloc := range allocations {
		if err := models.ApplyStockDeduction(tx, alloc.StockId, alloc.Qty); err != nil {
			config.LogError(logger, "billWorkflow.go", "CreateBill", "ApplyStockDeduction", alloc, err)
			if errors.Is(err, utils.ErrInvalidDeduction) {
				// The plan was computed from this transaction's own snapshot,
				// so a deduction that no longer fits is a bug, not contention.
				return nil, err
			}
			return nil, &utils.CommitError{Err: err}
		}
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "billWorkflow.go", "CreateBill", "Commit", bill.ID, err)
		return nil, &utils.CommitError{Err: err}
	}

	bill.Items = items
	return &bill, nil
}

func validateNewBill(input *models.NewBill) error {
	if input == nil {
		return utils.NewValidationError("", "request body is required")
	}
	if strings.TrimSpace(input.BillNumber) == "" {
		return utils.NewValidationError("bill_number", "must not be empty")
	}
	if input.BillDate.IsZero() {
		return utils.NewValidationError("bill_date", "must be a valid date")
	}
	if len(input.Items) == 0 {
		return utils.NewValidationError("items", "at least one line is required")
	}
	for _, item := range input.Items {
		if strings.TrimSpace(item.Product) == "" {
			return utils.NewValidationError("items.product", "must not be empty")
		}
		if item.Qty.LessThanOrEqual(decimal.Zero) {
			return utils.NewValidationError("items.qty", "must be greater than zero")
		}
	}
	return nil
}
