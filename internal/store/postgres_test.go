package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"groundwrite/api/internal/essay"
)

func openTestDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("GROUNDWRITE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("GROUNDWRITE_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return db, ctx
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db, ctx := openTestDB(t)
	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if err := applyDownMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestPostgresStoreExpansionLifecycle(t *testing.T) {
	db, ctx := openTestDB(t)
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	s := NewPostgresStore(db)
	outline := sampleOutline("ol_pg")
	if err := s.CreateOutline(ctx, outline); err != nil {
		t.Fatalf("CreateOutline() error = %v", err)
	}
	if err := s.CreateOutline(ctx, outline); !errors.Is(err, ErrOutlineExists) {
		t.Fatalf("duplicate CreateOutline() error = %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	prior, err := s.BeginExpansion(ctx, "ol_pg", 1, now, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("BeginExpansion() error = %v", err)
	}
	if prior.ExpansionState != essay.StatePlanned {
		t.Fatalf("prior state = %s", prior.ExpansionState)
	}
	if _, err := s.BeginExpansion(ctx, "ol_pg", 1, now, now.Add(-time.Minute)); !errors.Is(err, essay.ErrExpansionInProgress) {
		t.Fatalf("second BeginExpansion() error = %v", err)
	}

	done := prior
	done.ExpansionState = essay.StateExpanded
	done.ExpandedText = "Expanded body."
	done.UpdatedAt = now.Add(time.Second)
	if err := s.SettleExpansion(ctx, "ol_pg", 1, now.Add(time.Millisecond), done); !errors.Is(err, essay.ErrExpansionSuperseded) {
		t.Fatalf("SettleExpansion() with a foreign claim error = %v", err)
	}
	if err := s.SettleExpansion(ctx, "ol_pg", 1, now, done); err != nil {
		t.Fatalf("SettleExpansion() error = %v", err)
	}
	if err := s.SettleExpansion(ctx, "ol_pg", 1, now, prior); !errors.Is(err, essay.ErrExpansionSuperseded) {
		t.Fatalf("second SettleExpansion() error = %v", err)
	}
	if err := s.SetEdit(ctx, "ol_pg", 0, "edited"); err != nil {
		t.Fatalf("SetEdit() error = %v", err)
	}

	got, err := s.GetOutline(ctx, "ol_pg")
	if err != nil {
		t.Fatalf("GetOutline() error = %v", err)
	}
	if got.Paragraphs[1].ExpandedText != "Expanded body." || got.Paragraphs[0].ExpansionState != essay.StatePlanned {
		t.Fatalf("unexpected paragraphs: %+v", got.Paragraphs)
	}
	edits, err := s.Edits(ctx, "ol_pg")
	if err != nil || edits[0] != "edited" {
		t.Fatalf("Edits() = %v, %v", edits, err)
	}

	var notFound *essay.NotFoundError
	if err := s.SettleExpansion(ctx, "ol_pg", 9, now, done); !errors.As(err, &notFound) || notFound.Resource != "paragraph" {
		t.Fatalf("out of range SettleExpansion() error = %v", err)
	}
	if _, err := s.GetOutline(ctx, "missing"); !errors.As(err, &notFound) || notFound.Resource != "outline" {
		t.Fatalf("missing GetOutline() error = %v", err)
	}
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		path    string
	}
	downs := make([]migration, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		downs = append(downs, migration{version: match[1], path: filepath.Join(migrationsDir, entry.Name())})
	}
	sort.Slice(downs, func(i, j int) bool { return downs[i].version > downs[j].version })

	for _, down := range downs {
		sqlBytes, err := os.ReadFile(down.path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}
	return nil
}
