package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the postgres driver

	"github.com/harborstay/booking-backend/internal/config"
)

// PostgresDB is the process-wide handle to the booking database. The
// repositories share its embedded sqlx pool.
type PostgresDB struct {
	*sqlx.DB
}

// NewConnection opens the booking database and verifies it answers.
// prefer_simple_protocol is forced on so the revision-guarded booking
// updates behave the same through transaction-mode poolers as they do on a
// direct connection.
func NewConnection(cfg config.DatabaseConfig) (*PostgresDB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	url := cfg.URL
	if !strings.Contains(url, "prefer_simple_protocol") {
		separator := "?"
		if strings.Contains(url, "?") {
			separator = "&"
		}
		url += separator + "prefer_simple_protocol=true"
	}

	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	// Retire idle connections well before the pooler would.
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	return &PostgresDB{DB: db}, nil
}

// HealthCheck reports whether the database answers within a short deadline.
// The health endpoint calls this on every probe.
func (db *PostgresDB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
