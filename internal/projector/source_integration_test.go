package projector

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/chongs12/asset-knowledge-base/internal/common/models"
	"github.com/chongs12/asset-knowledge-base/pkg/database"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startMySQL(t *testing.T) *database.Database {
	t.Helper()
	if os.Getenv("AKB_DOCKER_TESTS") != "1" || testing.Short() {
		t.Skip("skip docker integration: set AKB_DOCKER_TESTS=1")
	}

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)
	require.NoError(t, pool.Client.Ping())

	res, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0",
		Env:        []string{"MYSQL_ROOT_PASSWORD=secret", "MYSQL_DATABASE=ams"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(res) })
	_ = res.Expire(300)

	dsn := fmt.Sprintf("root:secret@tcp(%s)/ams?charset=utf8mb4&parseTime=True&loc=UTC", res.GetHostPort("3306/tcp"))
	pool.MaxWait = 2 * time.Minute

	var db *database.Database
	require.NoError(t, pool.Retry(func() error {
		d, err := database.Open(context.Background(), dsn, 4, 2, time.Minute)
		if err != nil {
			return err
		}
		db = d
		return nil
	}))
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Asset{}, &models.MaintenanceRecord{}))
	return db
}

func TestGormAssetSource_Integration(t *testing.T) {
	db := startMySQL(t)
	ctx := context.Background()

	user := &models.User{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"}
	require.NoError(t, db.Create(user).Error)

	bought := time.Date(2023, time.March, 14, 0, 0, 0, 0, time.UTC)
	laptop := &models.Asset{Name: "ThinkPad X1", AssetTag: "LT-1", Category: "Laptop", Status: models.AssetStatusAssigned,
		Location: "Berlin Office", PurchaseDate: bought, AssignedToUserID: &user.ID}
	monitor := &models.Asset{Name: "Dell U2720Q", AssetTag: "MN-1", Category: "Monitor", Status: models.AssetStatusRetired,
		Location: "Warehouse", PurchaseDate: bought}
	require.NoError(t, db.Create(laptop).Error)
	require.NoError(t, db.Create(monitor).Error)
	for i := 0; i < 2; i++ {
		require.NoError(t, db.Create(&models.MaintenanceRecord{AssetID: monitor.ID, Description: "panel", MaintenanceDate: bought}).Error)
	}

	docs, err := NewProjector(NewGormAssetSource(db.DB)).Project(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "ThinkPad X1 (Laptop), assigned to Jane Doe in Berlin Office. It was purchased on Mar 2023 and has no maintenance records.", docs[0].Text)
	assert.Equal(t, "Dell U2720Q (Monitor), is available in Warehouse. It was purchased on Mar 2023 and has 2 maintenance records.", docs[1].Text)
	assert.Equal(t, "Retired", docs[1].Metadata["status"])
}
