package repository

import (
	"context"

	"gorm.io/gorm"
)

// Entities lists every table the ledger owns, in dependency order.
func Entities() []interface{} {
	return []interface{}{
		&PlanEntity{},
		&CompanyEntity{},
		&UserEntity{},
		&SubscriptionEntity{},
		&InvoiceEntity{},
		&TransactionEntity{},
		&NotificationEntity{},
	}
}

// AutoMigrate creates the ledger schema through gorm. Production databases are
// migrated with goose; this is for sqlite-backed tests and local tooling.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Entities()...)
}

// SeedPlans inserts DefaultPlans that are not present yet.
func SeedPlans(ctx context.Context, plans *PlanRepository) error {
	for _, p := range DefaultPlans {
		if _, err := plans.Upsert(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
