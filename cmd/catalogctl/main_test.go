package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/startup"
)

// setupTestDB creates a database with one location and one file and points
// the configuration at it.
func setupTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()
	db, err := database.New(ctx, path)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.SaveLocation(ctx, database.Location{ID: "loc", Path: "/photos", DateAdded: time.Now()}); err != nil {
		t.Fatalf("SaveLocation: %v", err)
	}
	if _, err := db.InsertFiles(ctx, []database.File{{
		ID: "f1", LocationID: "loc", AbsolutePath: "/photos/a.jpg", RelativePath: "a.jpg",
		Name: "a.jpg", Extension: "jpg", Size: 10,
	}}); err != nil {
		t.Fatalf("InsertFiles: %v", err)
	}

	t.Setenv("CATALOG_DATABASE_PATH", path)
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	writeStats(&buf, 10, 3, 1, 5, 2, time.Time{})
	out := buf.String()
	for _, want := range []string{"Files:        10", "Untagged:   3", "Missing:    1", "Tags:         5", "Locations:    2", "Last recount: never"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGenerateConfig(t *testing.T) {
	dir := t.TempDir()

	filename, err := generateConfig(dir, false)
	if err != nil {
		t.Fatalf("generateConfig: %v", err)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var cfg startup.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("generated file is not valid YAML: %v", err)
	}
	if cfg.HTTP.Port != startup.Defaults().HTTP.Port {
		t.Errorf("http.port = %q, want %q", cfg.HTTP.Port, startup.Defaults().HTTP.Port)
	}

	if _, err := generateConfig(dir, false); err == nil {
		t.Error("expected error when file exists without --overwrite")
	}
	if _, err := generateConfig(dir, true); err != nil {
		t.Errorf("generateConfig with overwrite: %v", err)
	}
}

func TestStatsCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	setupTestDB(t)

	out, err := execute(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "Files:        1") || !strings.Contains(out, "Locations:    1") {
		t.Errorf("unexpected stats output:\n%s", out)
	}
}

func TestStatsCommandMissingDatabase(t *testing.T) {
	t.Setenv("CATALOG_DATABASE_PATH", filepath.Join(t.TempDir(), "missing.db"))
	if _, err := execute(t, "stats"); err == nil {
		t.Fatal("expected error for a missing database")
	}
}

func TestExportImportCommands(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	setupTestDB(t)
	snapshot := filepath.Join(t.TempDir(), "export.json")

	if _, err := execute(t, "export", snapshot); err != nil {
		t.Fatalf("export: %v", err)
	}
	snap, err := readSnapshot(snapshot)
	if err != nil {
		t.Fatalf("readSnapshot: %v", err)
	}
	if len(snap.Files) != 1 || len(snap.Locations) != 1 {
		t.Fatalf("snapshot has %d files and %d locations", len(snap.Files), len(snap.Locations))
	}

	// Import into a fresh database.
	fresh := filepath.Join(t.TempDir(), "fresh.db")
	db, err := database.New(context.Background(), fresh)
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	_ = db.Close()
	t.Setenv("CATALOG_DATABASE_PATH", fresh)

	out, err := execute(t, "import", snapshot)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported 1 files") {
		t.Errorf("unexpected import output: %s", out)
	}

	out, err = execute(t, "recount")
	if err != nil {
		t.Fatalf("recount: %v", err)
	}
	if !strings.Contains(out, "1 files, 1 untagged") {
		t.Errorf("unexpected recount output: %s", out)
	}
}

func TestImportRequiresFile(t *testing.T) {
	if _, err := execute(t, "import"); err == nil {
		t.Fatal("expected error without a file argument")
	}
}
