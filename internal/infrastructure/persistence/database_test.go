package persistence

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// mockDatabase builds a Database backed by sqlmock. The caller owns the
// returned *sql.DB.
func mockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return &Database{DB: gormDB}, mock, mockDB
}

type fragmentRow struct {
	ID       uint
	TenantID string
	Name     string
}

func TestDatabase_WithTenant(t *testing.T) {
	t.Run("filters queries to one tenant", func(t *testing.T) {
		db, mock, mockDB := mockDatabase(t)
		defer mockDB.Close()

		tenantID := "550e8400-e29b-41d4-a716-446655440000"

		mock.ExpectQuery(`SELECT \* FROM "fragment_rows" WHERE tenant_id = \$1`).
			WithArgs(tenantID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name"}).
				AddRow(1, tenantID, "greeting"))

		var rows []fragmentRow
		require.NoError(t, db.WithTenant(tenantID).Find(&rows).Error)
		require.Len(t, rows, 1)
		assert.Equal(t, tenantID, rows[0].TenantID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tenant ID travels as a bind parameter", func(t *testing.T) {
		db, mock, mockDB := mockDatabase(t)
		defer mockDB.Close()

		// Injection attempts stay inert inside the parameter.
		tenantID := "tenant'; DROP TABLE action_fragments; --"

		mock.ExpectQuery(`SELECT \* FROM "fragment_rows" WHERE tenant_id = \$1`).
			WithArgs(tenantID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name"}))

		var rows []fragmentRow
		require.NoError(t, db.WithTenant(tenantID).Find(&rows).Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("leaves the root handle untouched", func(t *testing.T) {
		db, _, mockDB := mockDatabase(t)
		defer mockDB.Close()

		root := db.DB
		scoped := db.WithTenant("tenant-a")

		assert.NotEqual(t, root, scoped)
		assert.Equal(t, root, db.DB)
	})

	t.Run("scopes for different tenants are independent", func(t *testing.T) {
		db, _, mockDB := mockDatabase(t)
		defer mockDB.Close()

		assert.NotEqual(t, db.WithTenant("tenant-a"), db.WithTenant("tenant-b"))
	})

	t.Run("empty tenant ID panics", func(t *testing.T) {
		db, _, mockDB := mockDatabase(t)
		defer mockDB.Close()

		assert.Panics(t, func() {
			db.WithTenant("")
		})
	})

	t.Run("composes with further clauses", func(t *testing.T) {
		db, mock, mockDB := mockDatabase(t)
		defer mockDB.Close()

		tenantID := "tenant-compose"

		mock.ExpectQuery(`SELECT \* FROM "fragment_rows" WHERE tenant_id = \$1 AND name = \$2 ORDER BY name ASC LIMIT \$3 OFFSET \$4`).
			WithArgs(tenantID, "greeting", 10, 5).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name"}).
				AddRow(6, tenantID, "greeting"))

		var rows []fragmentRow
		err := db.WithTenant(tenantID).
			Where("name = ?", "greeting").
			Order("name ASC").
			Limit(10).
			Offset(5).
			Find(&rows).Error
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDatabase_Transaction(t *testing.T) {
	t.Run("commits when fn succeeds", func(t *testing.T) {
		db, mock, mockDB := mockDatabase(t)
		defer mockDB.Close()

		mock.ExpectBegin()
		// The postgres dialector inserts via Query with a RETURNING clause.
		mock.ExpectQuery(`INSERT INTO "fragment_rows"`).
			WithArgs("tenant-tx", "greeting").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectCommit()

		err := db.Transaction(func(tx *gorm.DB) error {
			return tx.Create(&fragmentRow{TenantID: "tenant-tx", Name: "greeting"}).Error
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		db, mock, mockDB := mockDatabase(t)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := db.Transaction(func(tx *gorm.DB) error {
			return assert.AnError
		})

		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDatabase_Ping(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	// gorm.Open pings once while connecting.
	mock.ExpectPing()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	db := &Database{DB: gormDB}

	mock.ExpectPing()
	assert.NoError(t, db.Ping())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_Close(t *testing.T) {
	db, mock, _ := mockDatabase(t)

	mock.ExpectClose()

	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_Stats(t *testing.T) {
	db, _, mockDB := mockDatabase(t)
	defer mockDB.Close()

	stats, err := db.Stats()

	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.OpenConnections, 0)
	assert.GreaterOrEqual(t, stats.InUse, 0)
	assert.GreaterOrEqual(t, stats.Idle, 0)
	assert.GreaterOrEqual(t, stats.WaitCount, int64(0))
	assert.GreaterOrEqual(t, stats.WaitDuration, time.Duration(0))
}
