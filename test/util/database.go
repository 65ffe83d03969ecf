// Package util provides test helpers for PostgreSQL-backed tests.
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/deepreport/pkg/database"
)

// TestDatabase is a migrated schema private to one test.
type TestDatabase struct {
	Client *database.Client
	// ConnString selects the schema through search_path; pgx.Connect and
	// pgxpool.New accept it as is.
	ConnString string
}

// sharedServer starts at most one container per test binary. With
// CI_DATABASE_URL set the external server is used instead.
var sharedServer = sync.OnceValues(func() (string, error) {
	if url := os.Getenv("CI_DATABASE_URL"); url != "" {
		return url, nil
	}
	ctx := context.Background()
	c, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("deepreport_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		return "", fmt.Errorf("start postgres container: %w", err)
	}
	return c.ConnectionString(ctx, "sslmode=disable")
})

// GetBaseConnectionString returns the server connection string without a
// search_path, for dedicated connections such as LISTEN.
func GetBaseConnectionString(t *testing.T) string {
	t.Helper()
	dsn, err := sharedServer()
	require.NoError(t, err, "PostgreSQL for tests is unavailable")
	return dsn
}

// SetupTestDatabase creates a fresh schema, migrates it and drops it when
// the test ends.
func SetupTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()
	ctx := context.Background()
	base := GetBaseConnectionString(t)
	schema := GenerateSchemaName(t)

	admin, err := stdsql.Open("pgx", base)
	require.NoError(t, err)
	defer admin.Close()
	_, err = admin.ExecContext(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)

	dsn := AddSearchPathToConnString(base, schema)
	db, err := stdsql.Open("pgx", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	require.NoError(t, database.RunMigrations(db, "deepreport_test"))

	t.Cleanup(func() {
		if _, err := db.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		_ = db.Close()
	})
	return &TestDatabase{Client: database.NewClientFromDB(db), ConnString: dsn}
}

// GenerateSchemaName derives a unique, valid identifier from the test name:
// test_<name>_<8 hex chars>, at most 54 bytes.
func GenerateSchemaName(t *testing.T) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, strings.ToLower(t.Name()))
	name = name[:min(len(name), 40)]

	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	return "test_" + name + "_" + hex.EncodeToString(suffix[:])
}

// AddSearchPathToConnString appends search_path to a URL connection string.
func AddSearchPathToConnString(connStr, schema string) string {
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return connStr + sep + "search_path=" + schema
}
