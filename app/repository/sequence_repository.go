package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"gorm.io/gorm"
)

type sequenceRepository struct {
	db *gorm.DB
}

// NewSequenceRepository creates a sequence store backed by GORM.
func NewSequenceRepository(db *gorm.DB) SequenceRepository {
	return &sequenceRepository{db: db}
}

func (r *sequenceRepository) Create(ctx context.Context, record *models.SequenceRecord) error {
	record.SyncOpenMarker()
	err := r.db.WithContext(ctx).Create(record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrOpenSequence
	}
	return err
}

func (r *sequenceRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.SequenceRecord, error) {
	var records []models.SequenceRecord
	err := r.db.WithContext(ctx).
		Where("completed = ? AND paused = ? AND next_send_at IS NOT NULL AND next_send_at <= ?", false, false, now).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Order("next_send_at ASC, id ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *sequenceRepository) Claim(ctx context.Context, id uint, token string, until, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.SequenceRecord{}).
		Where("id = ? AND completed = ? AND paused = ?", id, false, false).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Updates(map[string]interface{}{
			"claim_token":   token,
			"claimed_until": until,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *sequenceRepository) Save(ctx context.Context, record *models.SequenceRecord) error {
	record.ClaimToken = ""
	record.ClaimedUntil = nil
	record.SyncOpenMarker()
	return r.db.WithContext(ctx).Model(&models.SequenceRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"current_step":  record.CurrentStep,
			"next_send_at":  record.NextSendAt,
			"completed":     record.Completed,
			"paused":        record.Paused,
			"pause_reason":  record.PauseReason,
			"last_sent_at":  record.LastSentAt,
			"open_user_id":  record.OpenUserID,
			"claim_token":   "",
			"claimed_until": nil,
		}).Error
}

func (r *sequenceRepository) LatestStart(ctx context.Context, userID uint, name models.SequenceName) (*time.Time, error) {
	rec, err := firstOrNil[models.SequenceRecord](r.db.WithContext(ctx).
		Where("user_id = ? AND sequence_name = ?", userID, name).
		Order("started_at DESC"))
	if err != nil || rec == nil {
		return nil, err
	}
	return &rec.StartedAt, nil
}

func (r *sequenceRepository) ListByUser(ctx context.Context, userID uint) ([]models.SequenceRecord, error) {
	var records []models.SequenceRecord
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("started_at ASC").Find(&records).Error
	return records, err
}
