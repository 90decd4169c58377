package sqlitedb_test

import (
	"path/filepath"
	"testing"

	"github.com/Lllllllleong/docversions/internal/sqlitedb"
)

func TestOpenAppliesPragmas(t *testing.T) {
	t.Parallel()

	db := sqlitedb.OpenTemp(t, sqlitedb.WithBusyTimeout(2500))

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatal(err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatal(err)
	}
	if busyTimeout != 2500 {
		t.Errorf("busy_timeout = %d, want 2500", busyTimeout)
	}
}

func TestOpenRunsSchemaAndCreatesDirs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "app.db")
	db, err := sqlitedb.Open(path,
		sqlitedb.WithMkdirAll(),
		sqlitedb.WithSchema(`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO kv (k, v) VALUES ('a', 'b')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}
