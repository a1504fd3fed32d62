package projector

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chongs12/asset-knowledge-base/internal/common/models"
	"github.com/chongs12/asset-knowledge-base/pkg/logger"
)

const purchaseDateLayout = "Jan 2006"

// Projector 把全部资产投影为可检索的自然语言文档，每次全量
type Projector struct {
	source AssetSource
}

func NewProjector(source AssetSource) *Projector {
	return &Projector{source: source}
}

// Project 读取当前全部资产，每个资产产出一个文档，不做状态过滤
func (p *Projector) Project(ctx context.Context) ([]models.AssetDocument, error) {
	start := time.Now()
	records, err := p.source.ListAssetsWithAssignmentAndMaintenance(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]models.AssetDocument, 0, len(records))
	for _, r := range records {
		docs = append(docs, ProjectAsset(r))
	}
	logger.Info(ctx, "Assets projected", "count", len(docs), "duration_ms", time.Since(start).Milliseconds())
	return docs, nil
}

func ProjectAsset(r AssetRecord) models.AssetDocument {
	id := strconv.FormatUint(uint64(r.ID), 10)
	return models.AssetDocument{
		ID:   id,
		Text: describe(r),
		Metadata: map[string]any{
			"assetId":  id,
			"category": r.Category,
			"status":   r.Status.String(),
			"location": r.Location,
		},
	}
}

func describe(r AssetRecord) string {
	assignment := "is available"
	if r.Assigned {
		assignment = fmt.Sprintf("assigned to %s %s", r.AssigneeFirstName, r.AssigneeLastName)
	}
	maintenance := "has no maintenance records"
	if r.MaintenanceRecords > 0 {
		maintenance = fmt.Sprintf("has %d maintenance records", r.MaintenanceRecords)
	}
	return fmt.Sprintf("%s (%s), %s in %s. It was purchased on %s and %s.",
		r.Name, r.Category, assignment, r.Location, r.PurchaseDate.Format(purchaseDateLayout), maintenance)
}
