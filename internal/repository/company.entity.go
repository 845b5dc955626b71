package repository

import (
	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
)

type CompanyEntity struct {
	pg.Model
	Name           string  `gorm:"column:name;not null"`
	Email          string  `gorm:"column:email"`
	Amount         int64   `gorm:"column:amount;not null;default:0"`
	SubscriptionID *string `gorm:"column:subscription_id;type:varchar(36)"`
}

func (CompanyEntity) TableName() string {
	return "companies"
}

type UserEntity struct {
	pg.Model
	CompanyID string `gorm:"column:company_id;type:varchar(36);not null;index"`
	Email     string `gorm:"column:email;not null;uniqueIndex"`
	Name      string `gorm:"column:name"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toCompanyEntity(m *model.Company) *CompanyEntity {
	if m == nil {
		return nil
	}
	return &CompanyEntity{
		Model:          pg.Model{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		Name:           m.Name,
		Email:          m.Email,
		Amount:         m.Amount,
		SubscriptionID: m.SubscriptionID,
	}
}

func toCompanyModel(e *CompanyEntity) *model.Company {
	if e == nil {
		return nil
	}
	return &model.Company{
		ID:             e.ID,
		Name:           e.Name,
		Email:          e.Email,
		Amount:         e.Amount,
		SubscriptionID: e.SubscriptionID,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func toUserEntity(m *model.User) *UserEntity {
	if m == nil {
		return nil
	}
	return &UserEntity{
		Model:     pg.Model{ID: m.ID},
		CompanyID: m.CompanyID,
		Email:     m.Email,
		Name:      m.Name,
	}
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:        e.ID,
		CompanyID: e.CompanyID,
		Email:     e.Email,
		Name:      e.Name,
	}
}
