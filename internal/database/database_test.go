package database

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, HealthCheck(db))
}

func TestHealthCheckWithStats(t *testing.T) {
	db := openTestDB(t)

	stats, err := HealthCheckWithStats(db)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.OpenConnections, 1)
}

func TestHealthCheckClosedConnection(t *testing.T) {
	db := openTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	assert.Error(t, HealthCheck(db))
	_, err = HealthCheckWithStats(db)
	assert.Error(t, err)
}
