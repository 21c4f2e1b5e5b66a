package models_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/stockbill_backend/config"
	"bitbucket.org/mmdatafocus/stockbill_backend/models"
	"bitbucket.org/mmdatafocus/stockbill_backend/utils"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "test.db"))
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
}

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("parse date %s: %v", value, err)
	}
	return d
}

func intake(t *testing.T, product string, qty int64, amount int64, date string) *models.Stock {
	t.Helper()
	stock, err := models.CreateStock(context.Background(), &models.NewStock{
		Product:      product,
		Type:         "Std",
		Place:        "WarehouseX",
		Unit:         "pcs",
		Qty:          decimal.NewFromInt(qty),
		Amount:       decimal.NewFromInt(amount),
		ReceivedDate: mustDate(t, date),
	})
	if err != nil {
		t.Fatalf("CreateStock: %v", err)
	}
	return stock
}

func widgetKey() models.StockKey {
	return models.StockKey{Product: "Widget", Type: "Std", Place: "WarehouseX", Unit: "pcs"}
}

func TestCreateStockSetsRemainingAndTotal(t *testing.T) {
	setupTestDB(t)

	stock := intake(t, "Widget", 10, 5, "2025-01-01")

	if !stock.Remaining.Equal(stock.Qty) {
		t.Fatalf("new lot must start fully unconsumed, remaining %s qty %s", stock.Remaining, stock.Qty)
	}
	if !stock.Total.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected total 50, got %s", stock.Total)
	}
	if stock.ID == "" {
		t.Fatalf("lot must get an id")
	}
}

func TestCreateStockValidation(t *testing.T) {
	setupTestDB(t)

	cases := []struct {
		name  string
		input *models.NewStock
	}{
		{"empty product", &models.NewStock{
			Product: "  ", Qty: decimal.NewFromInt(1), ReceivedDate: mustDate(t, "2025-01-01"),
		}},
		{"zero qty", &models.NewStock{
			Product: "Widget", Qty: decimal.Zero, ReceivedDate: mustDate(t, "2025-01-01"),
		}},
		{"negative amount", &models.NewStock{
			Product: "Widget", Qty: decimal.NewFromInt(1), Amount: decimal.NewFromInt(-1),
			ReceivedDate: mustDate(t, "2025-01-01"),
		}},
		{"zero date", &models.NewStock{
			Product: "Widget", Qty: decimal.NewFromInt(1),
		}},
	}

	for _, tc := range cases {
		_, err := models.CreateStock(context.Background(), tc.input)
		var validationErr *utils.ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestApplyStockDeductionGuards(t *testing.T) {
	setupTestDB(t)
	db := config.GetDB()

	stock := intake(t, "Widget", 10, 5, "2025-01-01")

	if err := models.ApplyStockDeduction(db, stock.ID, decimal.NewFromInt(-1)); !errors.Is(err, utils.ErrInvalidDeduction) {
		t.Fatalf("negative deduction must fail, got %v", err)
	}
	if err := models.ApplyStockDeduction(db, stock.ID, decimal.NewFromInt(11)); !errors.Is(err, utils.ErrInvalidDeduction) {
		t.Fatalf("overdraw must fail, got %v", err)
	}
	if err := models.ApplyStockDeduction(db, stock.ID, decimal.NewFromInt(4)); err != nil {
		t.Fatalf("valid deduction failed: %v", err)
	}

	got, err := models.GetStock(context.Background(), stock.ID)
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if !got.Remaining.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected remaining 6, got %s", got.Remaining)
	}
	// remaining stays within [0, qty]
	if got.Remaining.IsNegative() || got.Remaining.GreaterThan(got.Qty) {
		t.Fatalf("remaining %s out of [0, %s]", got.Remaining, got.Qty)
	}
}

func TestUpdateStockPreservesRemaining(t *testing.T) {
	setupTestDB(t)
	db := config.GetDB()

	stock := intake(t, "Widget", 10, 5, "2025-01-01")
	if err := models.ApplyStockDeduction(db, stock.ID, decimal.NewFromInt(4)); err != nil {
		t.Fatalf("ApplyStockDeduction: %v", err)
	}

	// Editing price/date/qty leaves the consumed amount alone.
	updated, err := models.UpdateStock(context.Background(), stock.ID, &models.UpdateStockInput{
		Product:      "Widget",
		Type:         "Std",
		Place:        "WarehouseX",
		Unit:         "pcs",
		Qty:          decimal.NewFromInt(12),
		Amount:       decimal.NewFromInt(8),
		ReceivedDate: mustDate(t, "2025-01-05"),
	})
	if err != nil {
		t.Fatalf("UpdateStock: %v", err)
	}
	if !updated.Remaining.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("edit must preserve remaining, got %s", updated.Remaining)
	}
	if !updated.Total.Equal(decimal.NewFromInt(96)) {
		t.Fatalf("total must follow qty*amount, got %s", updated.Total)
	}

	// Lowering qty below the unconsumed remaining would break remaining <= qty.
	_, err = models.UpdateStock(context.Background(), stock.ID, &models.UpdateStockInput{
		Product:      "Widget",
		Type:         "Std",
		Place:        "WarehouseX",
		Unit:         "pcs",
		Qty:          decimal.NewFromInt(5),
		Amount:       decimal.NewFromInt(8),
		ReceivedDate: mustDate(t, "2025-01-05"),
	})
	var validationErr *utils.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("qty below remaining must be rejected, got %v", err)
	}

	// Lowering to exactly the remaining is fine.
	updated, err = models.UpdateStock(context.Background(), stock.ID, &models.UpdateStockInput{
		Product:      "Widget",
		Type:         "Std",
		Place:        "WarehouseX",
		Unit:         "pcs",
		Qty:          decimal.NewFromInt(6),
		Amount:       decimal.NewFromInt(8),
		ReceivedDate: mustDate(t, "2025-01-05"),
	})
	if err != nil {
		t.Fatalf("UpdateStock to qty==remaining: %v", err)
	}
	if !updated.Remaining.Equal(updated.Qty) {
		t.Fatalf("expected remaining == qty, got %s and %s", updated.Remaining, updated.Qty)
	}
}

func TestUpdateStockNotFound(t *testing.T) {
	setupTestDB(t)

	_, err := models.UpdateStock(context.Background(), "no-such-id", &models.UpdateStockInput{
		Product:      "Widget",
		Qty:          decimal.NewFromInt(1),
		ReceivedDate: mustDate(t, "2025-01-01"),
	})
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected ErrorRecordNotFound, got %v", err)
	}
}

func TestGetDeductibleStocksOrdering(t *testing.T) {
	setupTestDB(t)
	db := config.GetDB()

	newest := intake(t, "Widget", 5, 5, "2025-03-01")
	oldest := intake(t, "Widget", 5, 5, "2025-01-01")
	middle := intake(t, "Widget", 5, 5, "2025-02-01")
	drained := intake(t, "Widget", 5, 5, "2024-12-01")
	if err := models.ApplyStockDeduction(db, drained.ID, decimal.NewFromInt(5)); err != nil {
		t.Fatalf("ApplyStockDeduction: %v", err)
	}
	intake(t, "Gadget", 5, 5, "2025-01-01")

	fifo, err := models.GetDeductibleStocks(db, widgetKey(), models.DeductionPolicyFIFO)
	if err != nil {
		t.Fatalf("GetDeductibleStocks: %v", err)
	}
	if len(fifo) != 3 {
		t.Fatalf("expected 3 deductible widget lots, got %d", len(fifo))
	}
	if fifo[0].ID != oldest.ID || fifo[1].ID != middle.ID || fifo[2].ID != newest.ID {
		t.Fatalf("FIFO order wrong: %s %s %s", fifo[0].ID, fifo[1].ID, fifo[2].ID)
	}

	lifo, err := models.GetDeductibleStocks(db, widgetKey(), models.DeductionPolicyLIFO)
	if err != nil {
		t.Fatalf("GetDeductibleStocks: %v", err)
	}
	if lifo[0].ID != newest.ID || lifo[2].ID != oldest.ID {
		t.Fatalf("LIFO order wrong: %s %s %s", lifo[0].ID, lifo[1].ID, lifo[2].ID)
	}
}

func TestGetStockBalancesGroupsByKey(t *testing.T) {
	setupTestDB(t)
	db := config.GetDB()

	a := intake(t, "Widget", 10, 5, "2025-01-01")
	intake(t, "Widget", 5, 7, "2025-02-01")
	intake(t, "Gadget", 3, 2, "2025-01-01")
	if err := models.ApplyStockDeduction(db, a.ID, decimal.NewFromInt(4)); err != nil {
		t.Fatalf("ApplyStockDeduction: %v", err)
	}

	balances, err := models.GetStockBalances(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetStockBalances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(balances))
	}

	var widget *models.StockBalance
	for _, b := range balances {
		if b.Product == "Widget" {
			widget = b
		}
	}
	if widget == nil {
		t.Fatalf("missing Widget balance")
	}
	if !widget.Remaining.Equal(decimal.NewFromInt(11)) {
		t.Fatalf("expected remaining 11, got %s", widget.Remaining)
	}
	// 6*5 + 5*7
	if !widget.StockValue.Equal(decimal.NewFromInt(65)) {
		t.Fatalf("expected stock value 65, got %s", widget.StockValue)
	}
}

func TestDeductionPolicyFromEnv(t *testing.T) {
	if models.DeductionPolicyFromEnv("lifo") != models.DeductionPolicyLIFO {
		t.Fatalf("lifo should select LIFO")
	}
	for _, v := range []string{"", "fifo", "nonsense"} {
		if models.DeductionPolicyFromEnv(v) != models.DeductionPolicyFIFO {
			t.Fatalf("%q should fall back to FIFO", v)
		}
	}
}
