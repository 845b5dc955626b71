package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrCompanyNotFound = errors.New("company not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidAmount   = errors.New("amount increment must be positive")
)

type CompanyRepository struct {
	*pg.DB
}

func NewCompanyRepository(db *pg.DB) *CompanyRepository {
	return &CompanyRepository{
		db,
	}
}

func (r *CompanyRepository) Create(ctx context.Context, c *model.Company) (*model.Company, error) {
	entity := toCompanyEntity(c)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toCompanyModel(entity), nil
}

func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*model.Company, error) {
	var entity CompanyEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompanyNotFound
		}
		return nil, err
	}
	return toCompanyModel(&entity), nil
}

// IncrementAmount adds delta to the company's settled income in a single
// UPDATE so concurrent settlements never lose an increment.
func (r *CompanyRepository) IncrementAmount(ctx context.Context, id string, delta int64) error {
	if delta <= 0 {
		return ErrInvalidAmount
	}
	result := r.Write(ctx).
		Model(&CompanyEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"amount":     gorm.Expr("amount + ?", delta),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCompanyNotFound
	}
	return nil
}

func (r *CompanyRepository) SetSubscription(ctx context.Context, companyID, subscriptionID string) error {
	result := r.Write(ctx).
		Model(&CompanyEntity{}).
		Where("id = ?", companyID).
		Update("subscription_id", subscriptionID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCompanyNotFound
	}
	return nil
}

type UserRepository struct {
	*pg.DB
}

func NewUserRepository(db *pg.DB) *UserRepository {
	return &UserRepository{
		db,
	}
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	entity := toUserEntity(u)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toUserModel(entity), nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var entity UserEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return toUserModel(&entity), nil
}
