package models

import (
	"time"
)

type Asset struct {
	ID                 uint                `gorm:"primaryKey" json:"id"`
	Name               string              `gorm:"type:varchar(200);not null" json:"name"`
	Description        string              `gorm:"type:text" json:"description"`
	AssetTag           string              `gorm:"type:varchar(50);uniqueIndex" json:"asset_tag"`
	Category           string              `gorm:"type:varchar(100);not null;index" json:"category"`
	Brand              string              `gorm:"type:varchar(100)" json:"brand"`
	Model              string              `gorm:"type:varchar(100)" json:"model"`
	SerialNumber       string              `gorm:"type:varchar(100)" json:"serial_number"`
	PurchasePrice      float64             `gorm:"type:decimal(18,2)" json:"purchase_price"`
	PurchaseDate       time.Time           `gorm:"not null" json:"purchase_date"`
	WarrantyExpiryDate *time.Time          `json:"warranty_expiry_date"`
	Status             AssetStatus         `gorm:"type:varchar(20);default:'Available';not null" json:"status"`
	Location           string              `gorm:"type:varchar(200)" json:"location"`
	Condition          string              `gorm:"type:varchar(50)" json:"condition"`
	AssignedToUserID   *uint               `gorm:"index" json:"assigned_to_user_id"`
	AssignedToUser     *User               `gorm:"foreignKey:AssignedToUserID" json:"assigned_to_user,omitempty"`
	MaintenanceRecords []MaintenanceRecord `gorm:"foreignKey:AssetID" json:"maintenance_records,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func (a *Asset) TableName() string {
	return "assets"
}

type MaintenanceRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	AssetID         uint      `gorm:"not null;index" json:"asset_id"`
	Description     string    `gorm:"type:text;not null" json:"description"`
	Cost            float64   `gorm:"type:decimal(18,2)" json:"cost"`
	MaintenanceDate time.Time `gorm:"not null" json:"maintenance_date"`
	PerformedBy     string    `gorm:"type:varchar(200)" json:"performed_by"`
	CreatedAt       time.Time `json:"created_at"`
}

func (m *MaintenanceRecord) TableName() string {
	return "maintenance_records"
}

type AssetStatus string

const (
	AssetStatusAvailable     AssetStatus = "Available"
	AssetStatusAssigned      AssetStatus = "Assigned"
	AssetStatusInMaintenance AssetStatus = "InMaintenance"
	AssetStatusRetired       AssetStatus = "Retired"
	AssetStatusLost          AssetStatus = "Lost"
)

func (s AssetStatus) String() string {
	return string(s)
}

func (s AssetStatus) IsValid() bool {
	switch s {
	case AssetStatusAvailable, AssetStatusAssigned, AssetStatusInMaintenance, AssetStatusRetired, AssetStatusLost:
		return true
	}
	return false
}
