// Package testutil opens throwaway PostgreSQL schemas for integration tests.
package testutil

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"casino-settlement/internal/config"
	"casino-settlement/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

const migrationFile = "000001_init.up.sql"

// OpenTestStore returns a store bound to a fresh schema with the migrations
// applied. The schema is dropped when the test ends. Tests are skipped unless
// TEST_POSTGRES_DSN is set.
func OpenTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg, err := config.LoadTest()
	if err != nil {
		t.Skipf("skip test db: %v", err)
	}
	dsn := cfg.TestPostgresDSN
	schema := pgx.Identifier{"test_" + strings.ToLower(ulid.Make().String())}

	ctx := context.Background()
	if err := execBase(ctx, dsn, "CREATE SCHEMA "+schema.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	st, err := store.New(withSearchPath(dsn, schema[0]))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
		_ = execBase(context.Background(), dsn, "DROP SCHEMA "+schema.Sanitize()+" CASCADE")
	})
	if err := migrate(ctx, st); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return st
}

func execBase(ctx context.Context, dsn, sql string) error {
	base, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer base.Close()
	_, err = base.Exec(ctx, sql)
	return err
}

func migrate(ctx context.Context, st *store.Store) error {
	path, err := findMigration()
	if err != nil {
		return err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = st.Pool.Exec(ctx, string(b))
	return err
}

// findMigration walks up from the test's working directory to the module's
// migrations folder.
func findMigration() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		p := filepath.Join(dir, "migrations", migrationFile)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%s not found from %s", migrationFile, dir)
}

func withSearchPath(dsn, schema string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "search_path=" + url.QueryEscape(schema)
}
