package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborstay/booking-backend/internal/config"
)

func TestNewConnectionRequiresURL(t *testing.T) {
	_, err := NewConnection(config.DatabaseConfig{})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	pg := &PostgresDB{DB: sqlx.NewDb(db, "sqlmock")}

	t.Run("Healthy", func(t *testing.T) {
		mock.ExpectPing()
		assert.NoError(t, pg.HealthCheck(context.Background()))
	})

	t.Run("Down", func(t *testing.T) {
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		assert.Error(t, pg.HealthCheck(context.Background()))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
