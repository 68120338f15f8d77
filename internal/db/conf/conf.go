// Package conf creates throwaway PostgreSQL databases for tests.
package conf

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config holds test database connection and metadata
type Config struct {
	Name      string
	DB        *sqlx.DB
	ConnStr   string
	AdminDB   *sqlx.DB
	SchemaSQL string
}

// Connection parameters come from TEST_PG_* variables with local defaults.
func param(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ReadSchema locates scripts/schema.sql from the package directory.
func ReadSchema() (string, error) {
	candidates := []string{
		filepath.Join("scripts", "schema.sql"),
		filepath.Join("..", "..", "scripts", "schema.sql"),
		filepath.Join("..", "..", "..", "scripts", "schema.sql"),
	}
	for _, p := range candidates {
		if b, err := os.ReadFile(p); err == nil {
			return string(b), nil
		}
	}
	return "", fmt.Errorf("schema.sql not found")
}

// NewTestConfig creates a new database with a random name. The schema is
// read but not applied. The test is skipped when PostgreSQL is unreachable.
func NewTestConfig(t *testing.T) (*Config, func()) {
	t.Helper()

	host := param("TEST_PG_HOST", "localhost")
	port := param("TEST_PG_PORT", "5432")
	user := param("TEST_PG_USER", "postgres")
	password := param("TEST_PG_PASSWORD", "postgres")

	adminConnStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=postgres sslmode=disable",
		host, port, user, password)
	adminDB, err := sqlx.Open("postgres", adminConnStr)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	if err := adminDB.Ping(); err != nil {
		adminDB.Close()
		t.Skipf("Skipping test: PostgreSQL is not running or not accessible: %v", err)
		return nil, func() {}
	}

	schema, err := ReadSchema()
	if err != nil {
		adminDB.Close()
		t.Fatalf("Failed to read schema.sql: %v", err)
	}

	dbName := fmt.Sprintf("test_db_%d", rand.Int31())
	if _, err := adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		adminDB.Close()
		t.Fatalf("Failed to create test database: %v", err)
	}

	dbConnStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbName)
	db, err := sqlx.Open("postgres", dbConnStr)
	if err != nil {
		adminDB.Close()
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	var available bool
	if err := db.Get(&available, "SELECT EXISTS (SELECT 1 FROM pg_available_extensions WHERE name = 'timescaledb')"); err != nil {
		t.Logf("Warning: Failed to check for TimescaleDB extension: %v", err)
	}
	if available {
		if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE"); err != nil {
			t.Logf("Warning: Failed to create TimescaleDB extension: %v", err)
		}
	}

	cleanup := func() {
		db.Close()
		if _, err := adminDB.Exec(fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", dbName)); err != nil {
			t.Logf("Warning: Failed to drop test database %s: %v", dbName, err)
		}
		adminDB.Close()
	}

	return &Config{
		Name:      dbName,
		DB:        db,
		ConnStr:   dbConnStr,
		AdminDB:   adminDB,
		SchemaSQL: schema,
	}, cleanup
}
