package reports

import (
	"fmt"
	"net/http"

	"bitbucket.org/mmdatafocus/stockbill_backend/models"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportStocksExcel streams the stock register as an xlsx attachment.
func ExportStocksExcel(w http.ResponseWriter, r *http.Request) {
	stocks, err := models.GetStocks(r.Context(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Add headers
	f.SetCellValue(sheet, "A1", "Product")
	f.SetCellValue(sheet, "B1", "Type")
	f.SetCellValue(sheet, "C1", "Place")
	f.SetCellValue(sheet, "D1", "Unit")
	f.SetCellValue(sheet, "E1", "Qty")
	f.SetCellValue(sheet, "F1", "Remaining")
	f.SetCellValue(sheet, "G1", "Rate")
	f.SetCellValue(sheet, "H1", "Total")
	f.SetCellValue(sheet, "I1", "Date")

	// Add data
	for i, s := range stocks {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(sheet, "A"+row, s.Product)
		f.SetCellValue(sheet, "B"+row, s.Type)
		f.SetCellValue(sheet, "C"+row, s.Place)
		f.SetCellValue(sheet, "D"+row, s.Unit)
		f.SetCellValue(sheet, "E"+row, s.Qty.InexactFloat64())
		f.SetCellValue(sheet, "F"+row, s.Remaining.InexactFloat64())
		f.SetCellValue(sheet, "G"+row, s.Amount.InexactFloat64())
		f.SetCellValue(sheet, "H"+row, s.Total.InexactFloat64())
		f.SetCellValue(sheet, "I"+row, s.ReceivedDate.Format("2006-01-02"))
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=stocks.xlsx")
	if err := f.Write(w); err != nil {
		http.Error(w, "Failed to write file", http.StatusInternalServerError)
	}
}

// ExportBillsExcel streams all bills with their items, one row per item.
func ExportBillsExcel(w http.ResponseWriter, r *http.Request) {
	bills, err := models.GetBills(r.Context(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Add headers
	f.SetCellValue(sheet, "A1", "BillNumber")
	f.SetCellValue(sheet, "B1", "BillDate")
	f.SetCellValue(sheet, "C1", "Product")
	f.SetCellValue(sheet, "D1", "Type")
	f.SetCellValue(sheet, "E1", "Place")
	f.SetCellValue(sheet, "F1", "Unit")
	f.SetCellValue(sheet, "G1", "Qty")
	f.SetCellValue(sheet, "H1", "Rate")
	f.SetCellValue(sheet, "I1", "Total")
	f.SetCellValue(sheet, "J1", "GrandTotal")

	// Add data
	rowNo := 2
	for _, bill := range bills {
		for _, item := range bill.Items {
			row := fmt.Sprint(rowNo)
			f.SetCellValue(sheet, "A"+row, bill.BillNumber)
			f.SetCellValue(sheet, "B"+row, bill.BillDate.Format("2006-01-02"))
			f.SetCellValue(sheet, "C"+row, item.Product)
			f.SetCellValue(sheet, "D"+row, item.Type)
			f.SetCellValue(sheet, "E"+row, item.Place)
			f.SetCellValue(sheet, "F"+row, item.Unit)
			f.SetCellValue(sheet, "G"+row, item.Qty.InexactFloat64())
			f.SetCellValue(sheet, "H"+row, item.Amount.InexactFloat64())
			f.SetCellValue(sheet, "I"+row, item.Total.InexactFloat64())
			f.SetCellValue(sheet, "J"+row, bill.GrandTotal.InexactFloat64())
			rowNo++
		}
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=bills.xlsx")
	if err := f.Write(w); err != nil {
		http.Error(w, "Failed to write file", http.StatusInternalServerError)
	}
}
