package repository

import (
	"context"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a usage counter store backed by GORM.
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) Get(ctx context.Context, userID uint, kind string) (*models.UsageCounter, error) {
	return firstOrNil[models.UsageCounter](r.db.WithContext(ctx).Where("user_id = ? AND kind = ?", userID, kind))
}

func (r *usageRepository) Update(ctx context.Context, userID uint, kind string, mutate UsageMutator) (*models.UsageCounter, error) {
	var out models.UsageCounter
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Make sure a row exists so the lock below always has something to hold.
		seed := &models.UsageCounter{UserID: userID, Kind: kind}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return err
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND kind = ?", userID, kind).
			First(&out).Error; err != nil {
			return err
		}

		persist, err := mutate(&out)
		if err != nil || !persist {
			return err
		}
		return tx.Model(&models.UsageCounter{}).Where("id = ?", out.ID).Updates(map[string]interface{}{
			"daily_count":      out.DailyCount,
			"last_count_date":  out.LastCountDate,
			"monthly_count":    out.MonthlyCount,
			"last_count_month": out.LastCountMonth,
			"lifetime_count":   out.LifetimeCount,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
