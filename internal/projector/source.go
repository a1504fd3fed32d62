package projector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chongs12/asset-knowledge-base/internal/common/models"
	"gorm.io/gorm"
)

var ErrSourceUnavailable = errors.New("asset source unavailable")

// AssetRecord 投影所需的资产快照
type AssetRecord struct {
	ID                 uint
	Name               string
	Category           string
	Status             models.AssetStatus
	Location           string
	PurchaseDate       time.Time
	AssigneeFirstName  string
	AssigneeLastName   string
	Assigned           bool
	MaintenanceRecords int
}

// AssetSource 关系库中的资产读取方
type AssetSource interface {
	ListAssetsWithAssignmentAndMaintenance(ctx context.Context) ([]AssetRecord, error)
}

// GormAssetSource 通过 gorm 读取资产、领用人与维修记录数
type GormAssetSource struct {
	db *gorm.DB
}

func NewGormAssetSource(db *gorm.DB) *GormAssetSource {
	return &GormAssetSource{db: db}
}

type maintenanceCount struct {
	AssetID uint
	Total   int
}

func (s *GormAssetSource) ListAssetsWithAssignmentAndMaintenance(ctx context.Context) ([]AssetRecord, error) {
	var assets []models.Asset
	if err := s.db.WithContext(ctx).
		Preload("AssignedToUser").
		Order("id").
		Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("%w: list assets: %w", ErrSourceUnavailable, err)
	}

	var counts []maintenanceCount
	if err := s.db.WithContext(ctx).
		Model(&models.MaintenanceRecord{}).
		Select("asset_id, COUNT(*) AS total").
		Group("asset_id").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("%w: count maintenance records: %w", ErrSourceUnavailable, err)
	}
	byAsset := make(map[uint]int, len(counts))
	for _, c := range counts {
		byAsset[c.AssetID] = c.Total
	}

	records := make([]AssetRecord, 0, len(assets))
	for i := range assets {
		records = append(records, RecordFromAsset(&assets[i], byAsset[assets[i].ID]))
	}
	return records, nil
}

// RecordFromAsset 把 gorm 模型转换为投影快照
func RecordFromAsset(a *models.Asset, maintenance int) AssetRecord {
	r := AssetRecord{
		ID:                 a.ID,
		Name:               a.Name,
		Category:           a.Category,
		Status:             a.Status,
		Location:           a.Location,
		PurchaseDate:       a.PurchaseDate,
		MaintenanceRecords: maintenance,
	}
	if a.AssignedToUser != nil {
		r.Assigned = true
		r.AssigneeFirstName = a.AssignedToUser.FirstName
		r.AssigneeLastName = a.AssignedToUser.LastName
	}
	return r
}
