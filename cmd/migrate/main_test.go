package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_create_upload_batches.sql", true, 1, "create_upload_batches"},
		{"0012_add_index.sql", true, 12, "add_index"},
		{"001_invalid.sql", false, 0, ""},
		{"0001_test", false, 0, ""},
		{"0001.sql", false, 0, ""},
		{"invalid_0001_test.sql", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseFilename(tt.filename)
			if ok != tt.valid {
				t.Fatalf("parseFilename(%q) ok = %v, want %v", tt.filename, ok, tt.valid)
			}
			if version != tt.version || name != tt.name {
				t.Errorf("parseFilename(%q) = %d, %q; want %d, %q", tt.filename, version, name, tt.version, tt.name)
			}
		})
	}
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestReadMigrations(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0002_second.sql": "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.b` (x INT64);",
		"0001_first.sql":  "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.a` (x INT64);",
		"README.md":       "not a migration",
	})

	got, err := readMigrations(dir, "proj", "ds")
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d migrations, want 2", len(got))
	}
	if got[0].Version != 1 || got[1].Version != 2 {
		t.Errorf("migrations not sorted: %d, %d", got[0].Version, got[1].Version)
	}
	if !strings.Contains(got[0].SQL, "`proj.ds.a`") {
		t.Errorf("placeholders not replaced: %s", got[0].SQL)
	}

	other, err := readMigrations(dir, "other-proj", "other-ds")
	if err != nil {
		t.Fatal(err)
	}
	if other[0].Checksum != got[0].Checksum {
		t.Error("checksum should not depend on project or dataset")
	}
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0001_a.sql": "SELECT 1;",
		"0001_b.sql": "SELECT 2;",
	})
	if _, err := readMigrations(dir, "p", "d"); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestRepoMigrationsAreValid(t *testing.T) {
	got, err := readMigrations(resolveDir("migrations/bigquery"), "p", "d")
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	want := []string{"create_upload_batches", "create_holdings", "create_skipped_rows", "create_securities"}
	if len(got) != len(want) {
		t.Fatalf("got %d migrations, want %d", len(got), len(want))
	}
	for i, m := range got {
		if m.Name != want[i] || m.Version != i+1 {
			t.Errorf("migration %d = %04d_%s, want %04d_%s", i, m.Version, m.Name, i+1, want[i])
		}
		if strings.Contains(m.SQL, "{{") {
			t.Errorf("%s still has placeholders", m.Filename)
		}
	}
}

func TestPendingMigrations(t *testing.T) {
	all := []Migration{
		{Version: 1, Name: "a", Checksum: "c1"},
		{Version: 2, Name: "b", Checksum: "c2"},
		{Version: 3, Name: "c", Checksum: "c3"},
	}
	applied := []AppliedMigration{
		{Version: 1, Checksum: "c1"},
		{Version: 2, Checksum: "old"},
	}

	var changed []int
	pending := pendingMigrations(all, applied, func(m Migration, _ AppliedMigration) {
		changed = append(changed, m.Version)
	})

	if len(pending) != 1 || pending[0].Version != 3 {
		t.Errorf("pending = %+v, want only version 3", pending)
	}
	if len(changed) != 1 || changed[0] != 2 {
		t.Errorf("changed = %v, want [2]", changed)
	}
}
