package models

import "time"

// MockProvider is the persisted state of a synthetic provider slot. It holds
// the latest fix only.
type MockProvider struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	CreatedAt    *time.Time `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
	Name         string     `gorm:"uniqueIndex;not null" json:"name"`
	Registered   bool       `gorm:"not null;default:false" json:"registered"`
	RegisteredAt *time.Time `json:"registered_at,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	FixTime      *time.Time `json:"fix_time,omitempty"`
	Updates      uint64     `gorm:"not null;default:0" json:"updates"`
}

func (MockProvider) TableName() string {
	return "mock_providers"
}
