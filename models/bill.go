package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/stockbill_backend/config"
	"bitbucket.org/mmdatafocus/stockbill_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Bill is immutable once created: it is written atomically together with its
// items and the stock deductions they imply.
type Bill struct {
	ID         string          `gorm:"primary_key;size:36" json:"id"`
	BillNumber string          `gorm:"index;size:255;not null" json:"bill_number" binding:"required"`
	BillDate   time.Time       `gorm:"index;not null" json:"bill_date" binding:"required"`
	GrandTotal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"grand_total"`
	Items      []BillItem      `gorm:"foreignKey:BillId" json:"items"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// BillItem records a deduction against one specific lot. A single requested
// bill line expands into several items when it is covered from several lots.
// The classification key is denormalized so the bill displays the same after
// later lot edits.
type BillItem struct {
	ID        string          `gorm:"primary_key;size:36" json:"id"`
	BillId    string          `gorm:"index;size:36;not null" json:"bill_id"`
	StockId   string          `gorm:"index;size:36;not null" json:"stock_id"`
	Product   string          `gorm:"size:255;not null" json:"product"`
	Type      string          `gorm:"size:255" json:"type"`
	Place     string          `gorm:"size:255" json:"place"`
	Unit      string          `gorm:"size:255" json:"unit"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Total     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewBill struct {
	BillNumber string        `json:"bill_number" binding:"required"`
	BillDate   time.Time     `json:"bill_date" binding:"required"`
	Items      []NewBillItem `json:"items" binding:"required,min=1,dive"`
}

// NewBillItem is one requested line: a classification key and a quantity.
// The lots it draws from are chosen by the deduction policy, not the caller.
type NewBillItem struct {
	Product string          `json:"product" binding:"required"`
	Type    string          `json:"type"`
	Place   string          `json:"place"`
	Unit    string          `json:"unit"`
	Qty     decimal.Decimal `json:"qty" binding:"required"`
}

func (item *NewBillItem) Key() StockKey {
	return StockKey{
		Product: item.Product,
		Type:    item.Type,
		Place:   item.Place,
		Unit:    item.Unit,
	}
}

type BillFilter struct {
	BillNumber string
	FromDate   *time.Time
	ToDate     *time.Time
}

// GetBills lists bills with their resolved items, newest bill date first.
func GetBills(ctx context.Context, filter *BillFilter) ([]*Bill, error) {
	db := config.GetDB()

	query := db.WithContext(ctx).Model(&Bill{}).Preload("Items")
	if filter != nil {
		if filter.BillNumber != "" {
			query = query.Where("bill_number LIKE ?", "%"+filter.BillNumber+"%")
		}
		if filter.FromDate != nil {
			query = query.Where("bill_date >= ?", NormalizeDate(*filter.FromDate))
		}
		if filter.ToDate != nil {
			query = query.Where("bill_date <= ?", NormalizeDate(*filter.ToDate))
		}
	}

	var bills []*Bill
	err := query.Order("bill_date DESC, created_at DESC").Find(&bills).Error
	if err != nil {
		return nil, err
	}
	return bills, nil
}

func GetBill(ctx context.Context, id string) (*Bill, error) {
	db := config.GetDB()

	var bill Bill
	err := db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&bill).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &bill, nil
}

// ConsumedQtyByStock sums every bill item's qty per lot id. The stock rebuild
// command uses it to recompute remaining from the items of record.
func ConsumedQtyByStock(db *gorm.DB) (map[string]decimal.Decimal, error) {
	type row struct {
		StockId string
		Qty     decimal.Decimal
	}

	var rows []row
	err := db.Model(&BillItem{}).
		Select("stock_id, SUM(qty) AS qty").
		Group("stock_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	consumed := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		consumed[r.StockId] = r.Qty
	}
	return consumed, nil
}
