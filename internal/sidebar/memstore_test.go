package sidebar

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"msphub/api/internal/store"
)

// memStore is an in-memory Store that enforces the same unique keys as the
// Postgres schema and counts every write.
type memStore struct {
	mu         sync.Mutex
	nextID     int
	categories map[string]store.SidebarCategory
	items      map[string]store.SidebarItem
	orgIDs     []string
	rowCounts  map[string]int

	writes          int
	categoryUpserts int

	beforeCategoryUpsert func(ctx context.Context, orgID string)
	skipCategoryKey      string
	dropItemsOnUpsert    int
	countRowsErr         error
}

func newMemStore() *memStore {
	return &memStore{
		categories: map[string]store.SidebarCategory{},
		items:      map[string]store.SidebarItem{},
		rowCounts:  map[string]int{},
	}
}

func (m *memStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memStore) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.categoryUpserts
}

// seedCategory inserts a category directly, bypassing write counting.
func (m *memStore) seedCategory(orgID, key, name string, order int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id("cat")
	m.categories[id] = store.SidebarCategory{ID: id, OrganizationID: orgID, CategoryKey: key, CategoryName: name, DisplayOrder: order, IsVisible: true}
	return id
}

func (m *memStore) seedItem(orgID, categoryID, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id("item")
	m.items[id] = store.SidebarItem{ID: id, OrganizationID: orgID, CategoryID: categoryID, ItemKey: key, ItemLabel: key, ItemHref: "/" + key, IconName: "FileText", IsVisible: true}
	return id
}

func (m *memStore) CountSidebarItems(_ context.Context, orgID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if item.OrganizationID == orgID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) UpsertSidebarCategories(ctx context.Context, orgID string, categories []store.SidebarCategory) error {
	if m.beforeCategoryUpsert != nil {
		m.beforeCategoryUpsert(ctx, orgID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.categoryUpserts++
	for _, c := range categories {
		if c.CategoryKey == m.skipCategoryKey {
			continue
		}
		existing, ok := m.findCategory(orgID, c.CategoryKey)
		if ok {
			existing.DisplayOrder = c.DisplayOrder
			existing.IsCollapsible = c.IsCollapsible
			existing.IsSystem = c.IsSystem
			m.categories[existing.ID] = existing
			continue
		}
		c.ID = m.id("cat")
		c.OrganizationID = orgID
		m.categories[c.ID] = c
	}
	return nil
}

func (m *memStore) findCategory(orgID, key string) (store.SidebarCategory, bool) {
	for _, c := range m.categories {
		if c.OrganizationID == orgID && c.CategoryKey == key {
			return c, true
		}
	}
	return store.SidebarCategory{}, false
}

func (m *memStore) ListSidebarCategories(_ context.Context, orgID string) ([]store.SidebarCategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.SidebarCategory
	for _, c := range m.categories {
		if c.OrganizationID == orgID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}

func (m *memStore) deleteItems(match func(store.SidebarItem) bool) {
	m.writes++
	for id, item := range m.items {
		if match(item) {
			delete(m.items, id)
		}
	}
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

func (m *memStore) DeleteSidebarItemsInCategories(_ context.Context, orgID string, categoryIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteItems(func(i store.SidebarItem) bool { return i.OrganizationID == orgID && contains(categoryIDs, i.CategoryID) })
	return nil
}

func (m *memStore) DeleteSidebarCategories(_ context.Context, orgID string, categoryIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	for id, c := range m.categories {
		if c.OrganizationID == orgID && contains(categoryIDs, id) {
			delete(m.categories, id)
		}
	}
	return nil
}

func (m *memStore) DeleteSidebarItemsNotInKeys(_ context.Context, orgID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteItems(func(i store.SidebarItem) bool { return i.OrganizationID == orgID && !contains(keys, i.ItemKey) })
	return nil
}

func (m *memStore) DeleteSidebarItemsOutsideCategories(_ context.Context, orgID string, categoryIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteItems(func(i store.SidebarItem) bool { return i.OrganizationID == orgID && !contains(categoryIDs, i.CategoryID) })
	return nil
}

func (m *memStore) UpsertSidebarItems(_ context.Context, orgID string, items []store.SidebarItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.dropItemsOnUpsert > 0 && m.dropItemsOnUpsert <= len(items) {
		items = items[:len(items)-m.dropItemsOnUpsert]
	}
	for _, item := range items {
		var existing *store.SidebarItem
		for _, current := range m.items {
			if current.OrganizationID == orgID && current.ItemKey == item.ItemKey {
				c := current
				existing = &c
				break
			}
		}
		if existing != nil {
			existing.CategoryID = item.CategoryID
			existing.ItemHref = item.ItemHref
			existing.IconName = item.IconName
			existing.DisplayOrder = item.DisplayOrder
			existing.IsSystem = item.IsSystem
			existing.CountSource = item.CountSource
			m.items[existing.ID] = *existing
			continue
		}
		item.ID = m.id("item")
		item.OrganizationID = orgID
		m.items[item.ID] = item
	}
	return nil
}

func (m *memStore) ListSidebarItems(_ context.Context, orgID string) ([]store.SidebarItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.SidebarItem
	for _, item := range m.items {
		if item.OrganizationID == orgID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ItemKey < out[j].ItemKey
	})
	return out, nil
}

func (m *memStore) GetSidebarItem(_ context.Context, itemID string) (store.SidebarItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return store.SidebarItem{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memStore) GetSidebarCategory(_ context.Context, categoryID string) (store.SidebarCategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[categoryID]
	if !ok {
		return store.SidebarCategory{}, sql.ErrNoRows
	}
	return c, nil
}

func (m *memStore) InsertSidebarItem(_ context.Context, item store.SidebarItem) (store.SidebarItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, current := range m.items {
		if current.OrganizationID == item.OrganizationID && current.ItemKey == item.ItemKey {
			return store.SidebarItem{}, fmt.Errorf("duplicate item_key %q", item.ItemKey)
		}
	}
	m.writes++
	item.ID = m.id("item")
	m.items[item.ID] = item
	return item, nil
}

func (m *memStore) UpdateSidebarItem(_ context.Context, itemID string, patch store.SidebarItemPatch) (store.SidebarItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return store.SidebarItem{}, sql.ErrNoRows
	}
	m.writes++
	if patch.CategoryID != nil {
		item.CategoryID = *patch.CategoryID
	}
	if patch.ItemLabel != nil {
		item.ItemLabel = *patch.ItemLabel
	}
	if patch.ItemHref != nil {
		item.ItemHref = *patch.ItemHref
	}
	if patch.IconName != nil {
		item.IconName = *patch.IconName
	}
	if patch.DisplayOrder != nil {
		item.DisplayOrder = *patch.DisplayOrder
	}
	if patch.IsVisible != nil {
		item.IsVisible = *patch.IsVisible
	}
	if patch.CountSource != nil {
		item.CountSource = *patch.CountSource
	}
	m.items[itemID] = item
	return item, nil
}

func (m *memStore) UpdateSidebarCategoryName(_ context.Context, categoryID, name string) (store.SidebarCategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[categoryID]
	if !ok {
		return store.SidebarCategory{}, sql.ErrNoRows
	}
	m.writes++
	c.CategoryName = name
	m.categories[categoryID] = c
	return c, nil
}

func (m *memStore) DeleteSidebarItem(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[itemID]; !ok {
		return sql.ErrNoRows
	}
	m.writes++
	delete(m.items, itemID)
	return nil
}

func (m *memStore) CountRows(_ context.Context, table, orgID string) (int, error) {
	if m.countRowsErr != nil {
		return 0, m.countRowsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rowCounts[table+"/"+orgID], nil
}

func (m *memStore) ListOrganizationIDs(context.Context) ([]string, error) {
	return m.orgIDs, nil
}
