package models

import (
	"log"

	"bitbucket.org/mmdatafocus/stockbill_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Stock{},
		&Bill{}, &BillItem{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
