package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newMigratedStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	db := testDatabase(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"), nil); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func TestSidebarItemUpsertKeepsLabelAndVisibility(t *testing.T) {
	s, ctx := newMigratedStore(t)

	org, err := s.CreateOrganization(ctx, Organization{Name: "Acme", Status: "active", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}

	categories := []SidebarCategory{{CategoryKey: "client-contact", CategoryName: "CLIENT CONTACT", DisplayOrder: 1, IsSystem: true, IsVisible: true}}
	if err := s.UpsertSidebarCategories(ctx, org.ID, categories); err != nil {
		t.Fatalf("upsert categories: %v", err)
	}
	if err := s.UpsertSidebarCategories(ctx, org.ID, categories); err != nil {
		t.Fatalf("upsert categories twice: %v", err)
	}
	listed, err := s.ListSidebarCategories(ctx, org.ID)
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected one category, got %d err=%v", len(listed), err)
	}

	item := SidebarItem{CategoryID: listed[0].ID, ItemKey: "contacts", ItemLabel: "Contacts", ItemHref: "/contacts", IconName: "Users", DisplayOrder: 6, IsVisible: true, IsSystem: true, CountSource: "contacts"}
	if err := s.UpsertSidebarItems(ctx, org.ID, []SidebarItem{item}); err != nil {
		t.Fatalf("upsert items: %v", err)
	}
	items, err := s.ListSidebarItems(ctx, org.ID)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one item, got %d err=%v", len(items), err)
	}

	label := "People"
	hidden := false
	if _, err := s.UpdateSidebarItem(ctx, items[0].ID, SidebarItemPatch{ItemLabel: &label, IsVisible: &hidden}); err != nil {
		t.Fatalf("update item: %v", err)
	}

	item.DisplayOrder = 9
	if err := s.UpsertSidebarItems(ctx, org.ID, []SidebarItem{item}); err != nil {
		t.Fatalf("re-upsert items: %v", err)
	}
	items, err = s.ListSidebarItems(ctx, org.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if items[0].ItemLabel != "People" || items[0].IsVisible || items[0].DisplayOrder != 9 {
		t.Fatalf("unexpected merged item: %+v", items[0])
	}

	count, err := s.CountRows(ctx, "contacts", org.ID)
	if err != nil || count != 0 {
		t.Fatalf("missing count table should count 0, got %d err=%v", count, err)
	}

	if err := s.DeleteSidebarItem(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
