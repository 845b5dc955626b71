package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/internal/repository"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
	"github.com/nimasrn/payment-reconciler/pkg/redis"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB returns a migrated in-memory sqlite database behind pg.DB.
func SetupTestDB(t *testing.T) *pg.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.AutoMigrate(db))
	return pg.Wrap(db)
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)

	adapter, err := redis.NewRedisAdapter(context.Background(), "", &redis.Options{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	return mr, adapter
}

// Repositories bundles every repository over one database.
type Repositories struct {
	DB            *pg.DB
	Transactions  *repository.TransactionRepository
	Invoices      *repository.InvoiceRepository
	Companies     *repository.CompanyRepository
	Users         *repository.UserRepository
	Subscriptions *repository.SubscriptionRepository
	Plans         *repository.PlanRepository
	Notifications *repository.NotificationRepository
}

func NewRepositories(db *pg.DB) *Repositories {
	return &Repositories{
		DB:            db,
		Transactions:  repository.NewTransactionRepository(db),
		Invoices:      repository.NewInvoiceRepository(db),
		Companies:     repository.NewCompanyRepository(db),
		Users:         repository.NewUserRepository(db),
		Subscriptions: repository.NewSubscriptionRepository(db),
		Plans:         repository.NewPlanRepository(db),
		Notifications: repository.NewNotificationRepository(db),
	}
}

func CreateTestCompany(t *testing.T, repos *Repositories, name string) *model.Company {
	t.Helper()
	c, err := repos.Companies.Create(context.Background(), &model.Company{Name: name, Email: name + "@example.test"})
	require.NoError(t, err)
	return c
}

func CreateTestUser(t *testing.T, repos *Repositories, companyID string) *model.User {
	t.Helper()
	u, err := repos.Users.Create(context.Background(), &model.User{CompanyID: companyID, Email: "owner-" + companyID + "@example.test", Name: "Owner"})
	require.NoError(t, err)
	return u
}

func CreateTestInvoice(t *testing.T, repos *Repositories, companyID string, total int64) *model.Invoice {
	t.Helper()
	due := time.Now().Add(14 * 24 * time.Hour)
	inv, err := repos.Invoices.Create(context.Background(), &model.Invoice{
		CompanyID: companyID,
		ClientID:  "client-1",
		Total:     total,
		Status:    model.InvoiceStatusUnpaid,
		DueDate:   &due,
	})
	require.NoError(t, err)
	return inv
}

func CreateTestPlan(t *testing.T, repos *Repositories, name string, price int64) *model.Plan {
	t.Helper()
	p, err := repos.Plans.Upsert(context.Background(), model.Plan{Name: name, Price: price})
	require.NoError(t, err)
	return p
}

// CreateTestSubscription gives the company a subscription on planID and links it back.
func CreateTestSubscription(t *testing.T, repos *Repositories, companyID, planID string) *model.Subscription {
	t.Helper()
	ctx := context.Background()
	sub, err := repos.Subscriptions.Create(ctx, &model.Subscription{CompanyID: companyID, PlanID: planID, IsActive: true})
	require.NoError(t, err)
	require.NoError(t, repos.Companies.SetSubscription(ctx, companyID, sub.ID))
	return sub
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func Ptr[T any](v T) *T {
	return &v
}
