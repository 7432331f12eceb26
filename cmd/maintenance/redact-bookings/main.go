package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/harborstay/booking-backend/internal/config"
	"github.com/harborstay/booking-backend/internal/database"
)

// Redacts guest contact fields on cancelled bookings older than the retention
// window. The server's weekly cron does the same; this tool exists for manual
// runs and backfills after a retention policy change.
func main() {
	var dbURLFlag string
	var retentionDays int
	var dryRun bool
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.IntVar(&retentionDays, "retention-days", 365, "redact cancelled bookings last updated more than this many days ago")
	flag.BoolVar(&dryRun, "dry-run", false, "report the candidate count without writing")
	flag.Parse()

	// Try loading .env from current working directory (optional)
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	// Build minimal database config without loading full app config
	dbCfg := config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	}

	db, err := database.NewConnection(dbCfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	fmt.Printf("Redacting contact info on cancelled bookings last updated before %s\n", cutoff.Format(time.RFC3339))

	if dryRun {
		var count int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM bookings WHERE status = 'cancelled' AND updated_at < $1 AND contact_email <> ''`,
			cutoff,
		).Scan(&count)
		if err != nil {
			log.Fatalf("failed to count candidates: %v", err)
		}
		fmt.Printf("Dry run: %d booking(s) would be redacted.\n", count)
		return
	}

	repo := database.NewBookingRepository(db.DB)
	count, err := repo.RedactContactInfo(cutoff)
	if err != nil {
		log.Fatalf("failed to redact bookings: %v", err)
	}

	logrus.WithField("count", count).Info("Redaction complete")
	fmt.Printf("Redacted %d booking(s).\n", count)
}
