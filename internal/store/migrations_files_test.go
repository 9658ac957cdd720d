package store

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"huddle/api/db"
)

var migrationNamePattern = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	byVersion := map[string]map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
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

func TestEmbeddedMigrationsMatchDirectory(t *testing.T) {
	onDisk, err := migrationFiles(os.DirFS(filepath.Join("..", "..", "db", "migrations")), ".sql")
	if err != nil {
		t.Fatalf("list disk migrations: %v", err)
	}
	embedded, err := migrationFiles(db.Migrations(), ".sql")
	if err != nil {
		t.Fatalf("list embedded migrations: %v", err)
	}
	if len(onDisk) != len(embedded) {
		t.Fatalf("embedded %d migrations, disk has %d", len(embedded), len(onDisk))
	}
	for i := range onDisk {
		if onDisk[i] != embedded[i] {
			t.Fatalf("migration %d: embedded %s, disk %s", i, embedded[i], onDisk[i])
		}
	}
	if _, err := fs.ReadFile(db.Migrations(), "0001_core.up.sql"); err != nil {
		t.Fatalf("read embedded core migration: %v", err)
	}
}

func TestMigrationFilesAreSortedBySuffix(t *testing.T) {
	ups, err := migrationFiles(db.Migrations(), ".up.sql")
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	for i := 1; i < len(ups); i++ {
		if ups[i-1] >= ups[i] {
			t.Fatalf("migrations not sorted: %v", ups)
		}
	}
	for _, name := range ups {
		if match := migrationNamePattern.FindStringSubmatch(name); match == nil || match[2] != "up" {
			t.Fatalf("unexpected up migration name %q", name)
		}
	}
}
