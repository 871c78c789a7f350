// Package migrations applies the embedded SQL files that create the cadence
// tables. Files run in name order and each one is recorded in
// _cadence_versions once its statements have committed.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var files embed.FS

const versionTable = `CREATE TABLE IF NOT EXISTS _cadence_versions (
	id TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL DEFAULT (datetime('now'))
)`

// AppliedMigration is a row of _cadence_versions.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

type script struct {
	name       string
	statements []string
}

// Run applies every embedded migration not yet recorded.
func Run(ctx context.Context, db *sql.DB) error {
	applied, err := GetApplied(ctx, db)
	if err != nil {
		return err
	}
	done := make(map[string]struct{}, len(applied))
	for _, m := range applied {
		done[m.ID] = struct{}{}
	}

	scripts, err := embedded()
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if _, ok := done[s.name]; ok {
			continue
		}
		if err := apply(ctx, db, s); err != nil {
			return fmt.Errorf("migration %s: %w", s.name, err)
		}
		log.Info().Str("migration", s.name).Int("statements", len(s.statements)).Msg("Applied migration")
	}
	return nil
}

// GetApplied lists recorded migrations ordered by name, creating the version
// table first if needed.
func GetApplied(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	if _, err := db.ExecContext(ctx, versionTable); err != nil {
		return nil, fmt.Errorf("creating version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT id, applied_at FROM _cadence_versions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			m  AppliedMigration
			at string
		)
		if err := rows.Scan(&m.ID, &at); err != nil {
			return nil, fmt.Errorf("scanning migration: %w", err)
		}
		m.AppliedAt = parseAppliedAt(at)
		out = append(out, m)
	}
	return out, rows.Err()
}

func parseAppliedAt(s string) time.Time {
	for _, layout := range []string{time.RFC3339, time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func embedded() ([]script, error) {
	names, err := fs.Glob(files, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	slices.Sort(names)

	scripts := make([]script, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		scripts = append(scripts, script{
			name:       strings.TrimSuffix(path.Base(name), ".sql"),
			statements: splitStatements(string(body)),
		})
	}
	return scripts, nil
}

func apply(ctx context.Context, db *sql.DB, s script) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range s.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _cadence_versions (id) VALUES (?)`, s.name); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}
	return tx.Commit()
}

// splitStatements breaks a script on semicolons outside quoted strings and
// drops "--" comments. Empty statements are skipped.
func splitStatements(body string) []string {
	var (
		out   []string
		buf   strings.Builder
		quote rune
	)
	flush := func() {
		if stmt := strings.TrimSpace(buf.String()); stmt != "" {
			out = append(out, stmt)
		}
		buf.Reset()
	}

	runes := []rune(body)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			buf.WriteRune('\n')
			continue
		case r == ';':
			flush()
			continue
		}
		buf.WriteRune(r)
	}
	flush()
	return out
}
