package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestMigrationsCreateOutlineTables(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var all strings.Builder
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		all.Write(contents)
	}
	for _, table := range []string{"outlines", "outline_paragraphs", "paragraph_edits"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Fatalf("no migration creates %s", table)
		}
	}
}

func TestMigrationFilesOrderAndChecksum(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"0002_b.up.sql":   "SELECT 2;",
		"0001_a.up.sql":   "SELECT 1;",
		"0001_a.down.sql": "SELECT 0;",
		"notes.txt":       "ignored",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	files, err := migrationFiles(dir)
	if err != nil {
		t.Fatalf("migrationFiles() error = %v", err)
	}
	if len(files) != 2 || files[0].version != "0001_a.up.sql" || files[1].version != "0002_b.up.sql" {
		t.Fatalf("unexpected migrations: %+v", files)
	}
	if len(files[0].checksum) != 64 || files[0].checksum == files[1].checksum {
		t.Fatalf("unexpected checksums: %q %q", files[0].checksum, files[1].checksum)
	}

	again, err := migrationFiles(dir)
	if err != nil {
		t.Fatalf("migrationFiles() error = %v", err)
	}
	if again[0].checksum != files[0].checksum {
		t.Fatal("checksum must be stable for unchanged files")
	}

	if _, err := migrationFiles(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) PingContext(context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestPingWithRetry(t *testing.T) {
	ok := &flakyPinger{failures: 2}
	if err := pingWithRetry(context.Background(), ok, 5, time.Millisecond); err != nil {
		t.Fatalf("pingWithRetry() error = %v", err)
	}
	if ok.calls != 3 {
		t.Fatalf("calls = %d, want 3", ok.calls)
	}

	down := &flakyPinger{failures: 10}
	if err := pingWithRetry(context.Background(), down, 3, time.Millisecond); err == nil {
		t.Fatal("expected pingWithRetry() to give up")
	}
	if down.calls != 3 {
		t.Fatalf("calls = %d, want 3", down.calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pingWithRetry(ctx, &flakyPinger{failures: 10}, 3, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("pingWithRetry() on cancelled ctx error = %v", err)
	}
}
