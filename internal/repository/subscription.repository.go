package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/payment-reconciler/internal/model"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanNotFound         = errors.New("subscription plan not found")
)

// DefaultPlans is the catalogue seeded into an empty database.
var DefaultPlans = []model.Plan{
	{Name: "Basic", Price: 49000},
	{Name: "Pro", Price: 149000},
}

type SubscriptionRepository struct {
	*pg.DB
}

func NewSubscriptionRepository(db *pg.DB) *SubscriptionRepository {
	return &SubscriptionRepository{
		db,
	}
}

func (r *SubscriptionRepository) Create(ctx context.Context, s *model.Subscription) (*model.Subscription, error) {
	entity := toSubscriptionEntity(s)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toSubscriptionModel(entity), nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*model.Subscription, error) {
	var entity SubscriptionEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return toSubscriptionModel(&entity), nil
}

func (r *SubscriptionRepository) GetByCompanyID(ctx context.Context, companyID string) (*model.Subscription, error) {
	var entity SubscriptionEntity
	err := r.Read(ctx).Where("company_id = ?", companyID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return toSubscriptionModel(&entity), nil
}

// ChangePlan points the subscription at planID and activates it.
func (r *SubscriptionRepository) ChangePlan(ctx context.Context, id string, planID string) error {
	result := r.Write(ctx).
		Model(&SubscriptionEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"plan_id":    planID,
			"is_active":  true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

type PlanRepository struct {
	*pg.DB
}

func NewPlanRepository(db *pg.DB) *PlanRepository {
	return &PlanRepository{
		db,
	}
}

func (r *PlanRepository) GetByID(ctx context.Context, id string) (*model.Plan, error) {
	var entity PlanEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return toPlanModel(&entity), nil
}

func (r *PlanRepository) List(ctx context.Context) ([]*model.Plan, error) {
	var entities []*PlanEntity
	if err := r.Read(ctx).Order("price ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	plans := make([]*model.Plan, len(entities))
	for i, e := range entities {
		plans[i] = toPlanModel(e)
	}
	return plans, nil
}

// Upsert inserts p, or leaves an existing plan with the same name untouched.
func (r *PlanRepository) Upsert(ctx context.Context, p model.Plan) (*model.Plan, error) {
	entity := &PlanEntity{Model: pg.Model{ID: p.ID}, Name: p.Name, Price: p.Price}
	err := r.Write(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(entity).Error
	if err != nil {
		return nil, err
	}

	var stored PlanEntity
	if err := r.Write(ctx).Where("name = ?", p.Name).First(&stored).Error; err != nil {
		return nil, err
	}
	return toPlanModel(&stored), nil
}
