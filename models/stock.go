package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stockbill_backend/config"
	"bitbucket.org/mmdatafocus/stockbill_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock is one intake lot. Two lots sharing the same (product, type, place,
// unit) key are interchangeable for deduction; Remaining is the only field a
// bill commit ever mutates.
type Stock struct {
	ID           string          `gorm:"primary_key;size:36" json:"id"`
	Product      string          `gorm:"index:idx_stock_key;size:255;not null" json:"product" binding:"required"`
	Type         string          `gorm:"index:idx_stock_key;size:255" json:"type"`
	Place        string          `gorm:"index:idx_stock_key;size:255" json:"place"`
	Unit         string          `gorm:"index:idx_stock_key;size:255" json:"unit"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	Remaining    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"remaining"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Total        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	ReceivedDate time.Time       `gorm:"index;not null" json:"received_date"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStock struct {
	Product      string          `json:"product" binding:"required"`
	Type         string          `json:"type"`
	Place        string          `json:"place"`
	Unit         string          `json:"unit"`
	Qty          decimal.Decimal `json:"qty" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	ReceivedDate time.Time       `json:"received_date" binding:"required"`
}

// UpdateStockInput overwrites descriptive fields, Qty, Amount and
// ReceivedDate. It deliberately carries no Remaining: lot edits never
// implicitly adjust consumption (require a rebuild for reconciliation).
type UpdateStockInput struct {
	Product      string          `json:"product" binding:"required"`
	Type         string          `json:"type"`
	Place        string          `json:"place"`
	Unit         string          `json:"unit"`
	Qty          decimal.Decimal `json:"qty" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	ReceivedDate time.Time       `json:"received_date" binding:"required"`
}

// StockKey is the classification key identifying fungible lots.
type StockKey struct {
	Product string `json:"product"`
	Type    string `json:"type"`
	Place   string `json:"place"`
	Unit    string `json:"unit"`
}

type StockFilter struct {
	Product  string
	Type     string
	Place    string
	Unit     string
	FromDate *time.Time
	ToDate   *time.Time
	// OnlyAvailable keeps lots with remaining > 0.
	OnlyAvailable bool
}

// DeductionPolicy decides which lots a bill line draws from first.
type DeductionPolicy string

const (
	// DeductionPolicyFIFO consumes the oldest intake first. This is the
	// default: stock on a shelf leaves in the order it arrived.
	DeductionPolicyFIFO DeductionPolicy = "FIFO"
	// DeductionPolicyLIFO consumes the newest intake first.
	DeductionPolicyLIFO DeductionPolicy = "LIFO"
)

// DeductionPolicyFromEnv maps the STOCK_DEDUCTION_POLICY value. Anything but "LIFO"
// (case-insensitive) falls back to FIFO so an unset or mistyped env var can
// never flip the consumption order.
func DeductionPolicyFromEnv(value string) DeductionPolicy {
	if strings.EqualFold(strings.TrimSpace(value), string(DeductionPolicyLIFO)) {
		return DeductionPolicyLIFO
	}
	return DeductionPolicyFIFO
}

func validateStockFields(product string, qty decimal.Decimal, amount decimal.Decimal, receivedDate time.Time) error {
	if strings.TrimSpace(product) == "" {
		return utils.NewValidationError("product", "must not be empty")
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return utils.NewValidationError("qty", "must be greater than zero")
	}
	if amount.IsNegative() {
		return utils.NewValidationError("amount", "must not be negative")
	}
	if receivedDate.IsZero() {
		return utils.NewValidationError("received_date", "must be a valid date")
	}
	return nil
}

// CreateStock records a stock intake. The new lot starts fully unconsumed.
func CreateStock(ctx context.Context, input *NewStock) (*Stock, error) {
	db := config.GetDB()

	if err := validateStockFields(input.Product, input.Qty, input.Amount, input.ReceivedDate); err != nil {
		return nil, err
	}

	stock := Stock{
		ID:           NewRecordId(),
		Product:      strings.TrimSpace(input.Product),
		Type:         strings.TrimSpace(input.Type),
		Place:        strings.TrimSpace(input.Place),
		Unit:         strings.TrimSpace(input.Unit),
		Qty:          input.Qty,
		Remaining:    input.Qty,
		Amount:       input.Amount,
		Total:        input.Qty.Mul(input.Amount),
		ReceivedDate: NormalizeDate(input.ReceivedDate),
	}

	if err := db.WithContext(ctx).Create(&stock).Error; err != nil {
		return nil, err
	}
	return &stock, nil
}

func GetStock(ctx context.Context, id string) (*Stock, error) {
	db := config.GetDB()

	var stock Stock
	err := db.WithContext(ctx).Where("id = ?", id).First(&stock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &stock, nil
}

// GetStocks lists lots for display, newest intake first.
func GetStocks(ctx context.Context, filter *StockFilter) ([]*Stock, error) {
	db := config.GetDB()

	query := db.WithContext(ctx).Model(&Stock{})
	if filter != nil {
		if filter.Product != "" {
			query = query.Where("product LIKE ?", "%"+filter.Product+"%")
		}
		if filter.Type != "" {
			query = query.Where("type = ?", filter.Type)
		}
		if filter.Place != "" {
			query = query.Where("place = ?", filter.Place)
		}
		if filter.Unit != "" {
			query = query.Where("unit = ?", filter.Unit)
		}
		if filter.FromDate != nil {
			query = query.Where("received_date >= ?", NormalizeDate(*filter.FromDate))
		}
		if filter.ToDate != nil {
			query = query.Where("received_date <= ?", NormalizeDate(*filter.ToDate))
		}
		if filter.OnlyAvailable {
			query = query.Where("remaining > 0")
		}
	}

	var stocks []*Stock
	err := query.Order("received_date DESC, id ASC").Find(&stocks).Error
	if err != nil {
		return nil, err
	}
	return stocks, nil
}

// UpdateStock overwrites a lot's descriptive fields and pricing. Remaining is
// left untouched; an edit that would strand Remaining above the new Qty is
// rejected rather than silently clamped.
func UpdateStock(ctx context.Context, id string, input *UpdateStockInput) (*Stock, error) {
	db := config.GetDB()

	if err := validateStockFields(input.Product, input.Qty, input.Amount, input.ReceivedDate); err != nil {
		return nil, err
	}

	stock, err := GetStock(ctx, id)
	if err != nil {
		return nil, err
	}

	if stock.Remaining.GreaterThan(input.Qty) {
		return nil, utils.NewValidationError("qty",
			"cannot be lower than the lot's unconsumed remaining ("+stock.Remaining.String()+")")
	}

	stock.Product = strings.TrimSpace(input.Product)
	stock.Type = strings.TrimSpace(input.Type)
	stock.Place = strings.TrimSpace(input.Place)
	stock.Unit = strings.TrimSpace(input.Unit)
	stock.Qty = input.Qty
	stock.Amount = input.Amount
	stock.Total = input.Qty.Mul(input.Amount)
	stock.ReceivedDate = NormalizeDate(input.ReceivedDate)

	if err := db.WithContext(ctx).Save(stock).Error; err != nil {
		return nil, err
	}
	return stock, nil
}

// GetDeductibleStocks returns every lot of the key with remaining > 0, in the
// order the deduction policy consumes them. The id tie-break keeps same-date
// allocations deterministic.
func GetDeductibleStocks(tx *gorm.DB, key StockKey, policy DeductionPolicy) ([]*Stock, error) {
	order := "received_date ASC, id ASC"
	if policy == DeductionPolicyLIFO {
		order = "received_date DESC, id ASC"
	}

	var stocks []*Stock
	err := tx.
		Where("product = ? AND type = ? AND place = ? AND unit = ? AND remaining > 0",
			key.Product, key.Type, key.Place, key.Unit).
		Order(order).
		Find(&stocks).Error
	if err != nil {
		return nil, err
	}
	return stocks, nil
}

// ApplyStockDeduction decrements a lot's remaining quantity inside the
// caller's transaction. The guard in the WHERE clause makes
// read-decide-write atomic per lot: a deduction that no longer fits affects
// zero rows and surfaces as ErrInvalidDeduction.
func ApplyStockDeduction(tx *gorm.DB, stockId string, qty decimal.Decimal) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return utils.ErrInvalidDeduction
	}

	result := tx.Model(&Stock{}).
		Where("id = ? AND remaining >= ?", stockId, qty).
		Update("remaining", gorm.Expr("remaining - ?", qty))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrInvalidDeduction
	}
	return nil
}

// StockBalance is the canonical read-model every display consumer shares:
// remaining and value per classification key, never recomputed ad hoc.
type StockBalance struct {
	Product    string          `json:"product"`
	Type       string          `json:"type"`
	Place      string          `json:"place"`
	Unit       string          `json:"unit"`
	Remaining  decimal.Decimal `json:"remaining"`
	StockValue decimal.Decimal `json:"stock_value"`
}

func GetStockBalances(ctx context.Context, filter *StockFilter) ([]*StockBalance, error) {
	db := config.GetDB()

	query := db.WithContext(ctx).Model(&Stock{}).
		Select("product, type, place, unit, SUM(remaining) AS remaining, SUM(remaining * amount) AS stock_value").
		Group("product, type, place, unit")
	if filter != nil {
		if filter.Product != "" {
			query = query.Where("product LIKE ?", "%"+filter.Product+"%")
		}
		if filter.Type != "" {
			query = query.Where("type = ?", filter.Type)
		}
		if filter.Place != "" {
			query = query.Where("place = ?", filter.Place)
		}
		if filter.Unit != "" {
			query = query.Where("unit = ?", filter.Unit)
		}
		if filter.OnlyAvailable {
			query = query.Having("SUM(remaining) > 0")
		}
	}

	var balances []*StockBalance
	err := query.Order("product, type, place, unit").Scan(&balances).Error
	if err != nil {
		return nil, err
	}
	return balances, nil
}
