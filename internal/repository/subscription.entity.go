package repository

import (
	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
)

type SubscriptionEntity struct {
	pg.Model
	CompanyID string `gorm:"column:company_id;type:varchar(36);not null;uniqueIndex"`
	PlanID    string `gorm:"column:plan_id;type:varchar(36);not null"`
	IsActive  bool   `gorm:"column:is_active;not null;default:true"`
}

func (SubscriptionEntity) TableName() string {
	return "subscriptions"
}

type PlanEntity struct {
	pg.Model
	Name  string `gorm:"column:name;not null;uniqueIndex"`
	Price int64  `gorm:"column:price;not null"`
}

func (PlanEntity) TableName() string {
	return "subscription_plans"
}

func toSubscriptionEntity(m *model.Subscription) *SubscriptionEntity {
	if m == nil {
		return nil
	}
	return &SubscriptionEntity{
		Model:     pg.Model{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		CompanyID: m.CompanyID,
		PlanID:    m.PlanID,
		IsActive:  m.IsActive,
	}
}

func toSubscriptionModel(e *SubscriptionEntity) *model.Subscription {
	if e == nil {
		return nil
	}
	return &model.Subscription{
		ID:        e.ID,
		CompanyID: e.CompanyID,
		PlanID:    e.PlanID,
		IsActive:  e.IsActive,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func toPlanModel(e *PlanEntity) *model.Plan {
	if e == nil {
		return nil
	}
	return &model.Plan{ID: e.ID, Name: e.Name, Price: e.Price}
}
