package store

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

var migrationName = regexp.MustCompile(`^(\d{4})_([a-z_]+)\.(up|down)\.sql$`)

func TestMigrationsArePairedAndSequential(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pairs := map[string]map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file in migrations dir: %s", entry.Name())
		}
		key := match[1] + "_" + match[2]
		if pairs[key] == nil {
			pairs[key] = map[string]bool{}
		}
		pairs[key][match[3]] = true
	}

	want := []string{
		"0001_core",
		"0002_sidebar",
		"0003_documents",
		"0004_passwords_site_summaries",
		"0005_microsoft_tokens",
	}
	var got []string
	for key, dirs := range pairs {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("%s must ship both up and down files", key)
		}
		got = append(got, key)
	}
	sort.Strings(got)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected migrations %v, got %v", want, got)
	}
}

func TestMigrationsCreateQueriedTables(t *testing.T) {
	tables := map[string]string{
		"0001_core":                     "organizations users user_organizations refresh_sessions revoked_access_tokens",
		"0002_sidebar":                  "sidebar_categories sidebar_items",
		"0003_documents":                "documents",
		"0004_passwords_site_summaries": "passwords site_summaries",
		"0005_microsoft_tokens":         "microsoft_tokens",
	}
	for version, names := range tables {
		up, err := os.ReadFile(filepath.Join(migrationsDir, version+".up.sql"))
		if err != nil {
			t.Fatalf("read %s: %v", version, err)
		}
		down, err := os.ReadFile(filepath.Join(migrationsDir, version+".down.sql"))
		if err != nil {
			t.Fatalf("read %s: %v", version, err)
		}
		for _, table := range strings.Fields(names) {
			if !strings.Contains(string(up), "CREATE TABLE "+table) {
				t.Fatalf("%s.up.sql does not create %s", version, table)
			}
			if !strings.Contains(string(down), table) {
				t.Fatalf("%s.down.sql does not drop %s", version, table)
			}
		}
	}
}

func TestSidebarMigrationCarriesUpsertKeys(t *testing.T) {
	up, err := os.ReadFile(filepath.Join(migrationsDir, "0002_sidebar.up.sql"))
	if err != nil {
		t.Fatalf("read sidebar migration: %v", err)
	}
	sql := strings.Join(strings.Fields(string(up)), " ")
	for _, key := range []string{"UNIQUE (organization_id, category_key)", "UNIQUE (organization_id, item_key)"} {
		if !strings.Contains(sql, key) {
			t.Fatalf("sidebar migration is missing %s", key)
		}
	}
}
