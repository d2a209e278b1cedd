package models

import (
	"log"

	"bitbucket.org/mmdatafocus/exchange_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&ScopeConfig{},
		&ExchangeOrder{}, &OrderItem{},
		&CachedContract{}, &CachedContractItem{},
		&StockSnapshot{},
		&Notification{},
		&ReconcileRun{}, &ReconcileError{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
