package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	return firstOrNil[models.User](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *userRepository) ListInactiveSince(ctx context.Context, cutoff time.Time, afterID uint, limit int) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Where("status = ? AND email_opt_out = ? AND id > ?", models.STATUS_ACTIVE, false, afterID).
		Where("COALESCE(last_active_at, created_at) < ?", cutoff).
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	return users, err
}

func (r *userRepository) ListCreatedSince(ctx context.Context, since time.Time, afterID uint, limit int) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Where("status = ? AND id > ? AND created_at >= ?", models.STATUS_ACTIVE, afterID, since).
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	return users, err
}
