package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"gps-relay/internal/models"
)

var ErrProviderNotRegistered = errors.New("mock provider not registered")

type ProviderRepository struct {
	db *gorm.DB
}

func NewProviderRepository(db *gorm.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// Register marks the provider slot as claimed, creating it on first use.
// It returns false when the slot was already registered.
func (r *ProviderRepository) Register(ctx context.Context, name string, at time.Time) (bool, error) {
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.MockProvider
		err := tx.Where("name = ?", name).First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			claimed = true
			return tx.Create(&models.MockProvider{
				Name:         name,
				Registered:   true,
				RegisteredAt: &at,
			}).Error
		} else if err != nil {
			return err
		}

		if existing.Registered {
			return nil
		}
		claimed = true
		return tx.Model(&existing).Updates(map[string]interface{}{
			"registered":    true,
			"registered_at": at,
			"latitude":      nil,
			"longitude":     nil,
			"fix_time":      nil,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to register provider %s: %w", name, err)
	}
	return claimed, nil
}

func (r *ProviderRepository) Unregister(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Model(&models.MockProvider{}).
		Where("name = ? AND registered = ?", name, true).
		Update("registered", false)
	if result.Error != nil {
		return fmt.Errorf("failed to unregister provider %s: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProviderNotRegistered
	}
	return nil
}

// SaveFix overwrites the latest fix of a registered provider.
func (r *ProviderRepository) SaveFix(ctx context.Context, name string, fix models.LocationFix, wall time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.MockProvider{}).
		Where("name = ? AND registered = ?", name, true).
		Updates(map[string]interface{}{
			"latitude":  fix.Latitude,
			"longitude": fix.Longitude,
			"fix_time":  wall,
			"updates":   gorm.Expr("updates + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save fix for provider %s: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProviderNotRegistered
	}
	return nil
}

func (r *ProviderRepository) FindByName(ctx context.Context, name string) (*models.MockProvider, error) {
	var provider models.MockProvider
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&provider).Error
	if err != nil {
		return nil, err
	}
	return &provider, nil
}
