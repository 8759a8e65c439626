//go:build integration

package services

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"mcqapp/internal/config"
	"mcqapp/internal/database"
	"mcqapp/internal/observability"

	"github.com/stretchr/testify/require"
)

// SharedTestDBSetup provides a clean, isolated database for each integration test
func SharedTestDBSetup(t *testing.T) *sql.DB {
	observabilityLogger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	dbManager := database.NewManager(observabilityLogger)

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Fatal("TEST_DATABASE_URL environment variable must be set for integration tests")
	}

	db, err := dbManager.InitDB(databaseURL)
	require.NoError(t, err)

	CleanupTestDatabase(db, t)

	return db
}

// CleanupTestDatabase truncates all application tables between tests
func CleanupTestDatabase(db *sql.DB, t *testing.T) {
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cleanupQueries := []string{
		"TRUNCATE TABLE test_results CASCADE",
		"TRUNCATE TABLE tests CASCADE",
		"TRUNCATE TABLE users CASCADE",
		"ALTER SEQUENCE users_id_seq RESTART WITH 1",
		"ALTER SEQUENCE test_results_id_seq RESTART WITH 1",
	}

	for _, query := range cleanupQueries {
		if _, err = tx.ExecContext(ctx, query); err != nil {
			t.Logf("cleanup query failed: %s: %v", query, err)
		}
	}

	err = tx.Commit()
	require.NoError(t, err)
}
