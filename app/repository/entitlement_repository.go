package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entitlementRepository struct {
	db *gorm.DB
}

// NewEntitlementRepository creates an entitlement store backed by GORM.
func NewEntitlementRepository(db *gorm.DB) EntitlementRepository {
	return &entitlementRepository{db: db}
}

func (r *entitlementRepository) Get(ctx context.Context, userID uint) (*models.EntitlementRecord, error) {
	return firstOrNil[models.EntitlementRecord](r.db.WithContext(ctx).
		Where("user_id = ? AND source = ?", userID, models.SourceIndividual))
}

func (r *entitlementRepository) Upsert(ctx context.Context, record *models.EntitlementRecord) error {
	if record.Source == "" {
		record.Source = models.SourceIndividual
	}
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "source"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"tier",
			"status",
			"period_end",
			"product_id",
			"provider",
			"billing_provider_customer_id",
			"last_event_id",
			"last_event_at",
			"updated_at",
		}),
	}).Create(record).Error; err != nil {
		return err
	}

	// Ensure ID and welcome marker are populated after upsert.
	return db.Where("user_id = ? AND source = ?", record.UserID, record.Source).First(record).Error
}

func (r *entitlementRepository) MarkWelcomeSent(ctx context.Context, userID uint, at time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.EntitlementRecord{}).
		Where("user_id = ? AND source = ? AND welcome_sent_at IS NULL", userID, models.SourceIndividual).
		Update("welcome_sent_at", at)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *entitlementRepository) ClearWelcomeSent(ctx context.Context, userID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.EntitlementRecord{}).
		Where("user_id = ? AND source = ? AND welcome_sent_at = ?", userID, models.SourceIndividual, at).
		Update("welcome_sent_at", nil).Error
}

func (r *entitlementRepository) GetClub(ctx context.Context, clubID uint) (*models.Club, error) {
	return firstOrNil[models.Club](r.db.WithContext(ctx).Where("id = ?", clubID))
}

func (r *entitlementRepository) SaveClub(ctx context.Context, club *models.Club) error {
	return r.db.WithContext(ctx).Model(club).Select(
		"tier", "status", "period_end", "product_id", "billing_provider_customer_id", "last_event_id", "last_event_at",
	).Updates(club).Error
}

func (r *entitlementRepository) GetMembership(ctx context.Context, userID uint) (*models.ClubMembership, error) {
	return firstOrNil[models.ClubMembership](r.db.WithContext(ctx).Where("user_id = ?", userID))
}

func (r *entitlementRepository) FindPlanMapping(ctx context.Context, provider, productID string) (*models.BillingPlanMapping, error) {
	return firstOrNil[models.BillingPlanMapping](r.db.WithContext(ctx).
		Where("provider = ? AND provider_plan_ref = ? AND is_active = ?", provider, productID, true))
}

func (r *entitlementRepository) ExpireLapsed(ctx context.Context, now time.Time) (int64, int64, error) {
	db := r.db.WithContext(ctx)
	records := db.Model(&models.EntitlementRecord{}).
		Where("source = ? AND period_end IS NOT NULL AND period_end < ? AND status <> ?",
			models.SourceIndividual, now, models.StatusInactive).
		Updates(map[string]interface{}{
			"tier":   models.TierFree,
			"status": models.StatusInactive,
		})
	if records.Error != nil {
		return 0, 0, records.Error
	}

	clubs := db.Model(&models.Club{}).
		Where("period_end IS NOT NULL AND period_end < ? AND status <> ?", now, models.StatusInactive).
		Update("status", models.StatusInactive)
	if clubs.Error != nil {
		return records.RowsAffected, 0, clubs.Error
	}
	return records.RowsAffected, clubs.RowsAffected, nil
}
