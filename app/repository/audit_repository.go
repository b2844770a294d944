package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"gorm.io/gorm"
)

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates the append-only audit sink backed by GORM.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) LogWebhook(ctx context.Context, entry *models.WebhookEventLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) LogSend(ctx context.Context, entry *models.SequenceSendLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) ListWebhookLogs(ctx context.Context, from, to time.Time) ([]models.WebhookEventLog, error) {
	var logs []models.WebhookEventLog
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}

func (r *auditRepository) ListSendLogs(ctx context.Context, from, to time.Time) ([]models.SequenceSendLog, error) {
	var logs []models.SequenceSendLog
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}
