package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _cadence_versions").Scan(&count)
	if err != nil {
		t.Fatalf("version table query failed: %v", err)
	}

	if count != 2 {
		t.Errorf("expected 2 applied migrations, got %d", count)
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	if err := Run(ctx, db); err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}

	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _cadence_versions").Scan(&count)
	if err != nil {
		t.Fatalf("version table query failed: %v", err)
	}

	applied, err := GetApplied(ctx, db)
	if err != nil {
		t.Fatalf("GetApplied() failed: %v", err)
	}

	if len(applied) != count {
		t.Errorf("expected %d applied migrations, got %d", count, len(applied))
	}
}

func TestRecurrenceRulesTable(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	rows, err := db.QueryContext(ctx, "PRAGMA table_info(recurrence_rules)")
	if err != nil {
		t.Fatalf("getting recurrence_rules schema: %v", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("scanning column info: %v", err)
		}
		columns[name] = true
	}

	requiredColumns := []string{
		"id", "rrule_params", "exclusion_params", "time_zone", "day_offset",
		"last_occurrence", "next_occurrence", "handler_name", "related_type",
		"related_id", "related_method", "time_last_handled", "meta_data",
		"created_at", "updated_at",
	}
	for _, col := range requiredColumns {
		if !columns[col] {
			t.Errorf("recurrence_rules missing column %s", col)
		}
	}

	var locks int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='_cadence_locks'
	`).Scan(&locks)
	if err != nil {
		t.Fatalf("checking _cadence_locks table: %v", err)
	}
	if locks != 1 {
		t.Error("_cadence_locks table does not exist")
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(`
		-- leading comment; with a semicolon
		CREATE TABLE a (x TEXT DEFAULT 'a;b -- not a comment');
		CREATE INDEX i ON a(x); -- trailing
		;
	`)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "CREATE TABLE a (x TEXT DEFAULT 'a;b -- not a comment')" {
		t.Errorf("unexpected first statement %q", stmts[0])
	}
	if stmts[1] != "CREATE INDEX i ON a(x)" {
		t.Errorf("unexpected second statement %q", stmts[1])
	}
}

func TestSplitStatements_CommentOnly(t *testing.T) {
	if stmts := splitStatements("-- only a comment\n"); len(stmts) != 0 {
		t.Errorf("expected no statements, got %q", stmts)
	}
}

func TestParseAppliedAt(t *testing.T) {
	want := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	if got := parseAppliedAt("2024-03-04 09:30:00"); !got.Equal(want) {
		t.Errorf("datetime layout: got %s", got)
	}
	if got := parseAppliedAt("2024-03-04T09:30:00Z"); !got.Equal(want) {
		t.Errorf("RFC3339 layout: got %s", got)
	}
	if !parseAppliedAt("yesterday").IsZero() {
		t.Error("expected zero time for unparseable value")
	}
}
