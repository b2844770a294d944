package repository

import (
	"errors"

	"gorm.io/gorm"
)

// firstOrNil maps gorm's not-found error onto a nil result.
func firstOrNil[T any](tx *gorm.DB) (*T, error) {
	var out T
	if err := tx.First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}
