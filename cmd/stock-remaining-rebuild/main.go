package main

import (
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/stockbill_backend/config"
	"bitbucket.org/mmdatafocus/stockbill_backend/models"
	"github.com/shopspring/decimal"
)

// Recomputes every lot's remaining quantity as qty minus the sum of bill item
// deductions recorded against it, and reports drift. Dry-run by default;
// --apply writes the recomputed values back.
//
// Drift can exist in databases created before the remaining <= qty edit guard
// was enforced.
func main() {
	apply := flag.Bool("apply", false, "write recomputed remaining values (default: report only)")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	consumed, err := models.ConsumedQtyByStock(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load bill items: %v\n", err)
		os.Exit(1)
	}

	var stocks []*models.Stock
	if err := db.Order("received_date ASC, id ASC").Find(&stocks).Error; err != nil {
		fmt.Fprintf(os.Stderr, "load stocks: %v\n", err)
		os.Exit(1)
	}

	drifted := 0
	for _, stock := range stocks {
		expected := stock.Qty.Sub(consumed[stock.ID])
		if expected.IsNegative() {
			fmt.Printf("WARN  lot %s (%s): consumed %s exceeds qty %s\n",
				stock.ID, stock.Product, consumed[stock.ID].String(), stock.Qty.String())
			expected = decimal.Zero
		}
		if stock.Remaining.Equal(expected) {
			continue
		}
		drifted++
		fmt.Printf("DRIFT lot %s (%s): remaining %s, expected %s\n",
			stock.ID, stock.Product, stock.Remaining.String(), expected.String())

		if *apply {
			err := db.Model(&models.Stock{}).
				Where("id = ?", stock.ID).
				Update("remaining", expected).Error
			if err != nil {
				fmt.Fprintf(os.Stderr, "update lot %s: %v\n", stock.ID, err)
				os.Exit(1)
			}
		}
	}

	if drifted == 0 {
		fmt.Println("all lots consistent")
		return
	}
	if *apply {
		fmt.Printf("repaired %d lots\n", drifted)
	} else {
		fmt.Printf("%d lots drifted (re-run with --apply to repair)\n", drifted)
	}
}
