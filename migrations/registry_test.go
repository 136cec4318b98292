package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	client "github.com/goliatone/go-client"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestFilesystems_RejectsIncompleteSchema(t *testing.T) {
	broken := fstest.MapFS{
		"data/sql/migrations/00001_client_credentials.up.sql":          {Data: []byte("CREATE TABLE client_credentials (id TEXT);")},
		"data/sql/migrations/00001_client_credentials.down.sql":        {Data: []byte("DROP TABLE client_credentials;")},
		"data/sql/migrations/sqlite/00001_client_credentials.up.sql":   {Data: []byte("CREATE TABLE client_credentials (id TEXT);")},
		"data/sql/migrations/sqlite/00001_client_credentials.down.sql": {Data: []byte("DROP TABLE client_credentials;")},
	}
	_, err := Filesystems(broken)
	if err == nil {
		t.Fatalf("expected error for tree missing the auth events migration")
	}
	if !strings.Contains(err.Error(), "00002_client_auth_events") {
		t.Fatalf("expected missing migration to be named, got %v", err)
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
}

func TestCredentialMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := client.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_client_credentials.up.sql",
		"data/sql/migrations/00001_client_credentials.down.sql",
		"data/sql/migrations/00002_client_auth_events.up.sql",
		"data/sql/migrations/00002_client_auth_events.down.sql",
		"data/sql/migrations/sqlite/00001_client_credentials.up.sql",
		"data/sql/migrations/sqlite/00001_client_credentials.down.sql",
		"data/sql/migrations/sqlite/00002_client_auth_events.up.sql",
		"data/sql/migrations/sqlite/00002_client_auth_events.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteCredentialSchema_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-client-credentials?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := client.GetCoreMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	ups := []string{
		"00001_client_credentials.up.sql",
		"00002_client_auth_events.up.sql",
	}
	for _, migration := range ups {
		if err := execSQLMigration(context.Background(), db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	insertStatement := `
		INSERT INTO client_credentials (
			id,
			storage_key,
			version,
			payload,
			payload_format,
			payload_version,
			status
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"cred-1", "client.credentials", 1, []byte("{}"), "credential_record_json", 1, "active",
	); err != nil {
		t.Fatalf("insert credential row: %v", err)
	}

	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"cred-2", "client.credentials", 2, []byte("{}"), "credential_record_json", 1, "active",
	); err == nil {
		t.Fatalf("expected second active row for one storage key to violate uniqueness")
	}

	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"cred-3", "client.credentials", 2, []byte("{}"), "credential_record_json", 1, "revoked",
	); err != nil {
		t.Fatalf("expected revoked row to coexist with active row: %v", err)
	}

	downs := []string{
		"00002_client_auth_events.down.sql",
		"00001_client_credentials.down.sql",
	}
	for _, migration := range downs {
		if err := execSQLMigration(context.Background(), db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	var count int
	if err := db.QueryRowContext(
		context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('client_credentials', 'client_auth_events')",
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected credential tables to be dropped, found %d", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
