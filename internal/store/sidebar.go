package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const sidebarCategoryColumns = `id, organization_id, category_key, category_name, display_order, is_collapsible, is_expanded, is_visible, is_system`

const sidebarItemColumns = `id, organization_id, category_id, item_key, item_label, item_href, icon_name, display_order, is_visible, is_system, COALESCE(count_source, '')`

func scanSidebarCategory(row interface{ Scan(...any) error }) (SidebarCategory, error) {
	var c SidebarCategory
	err := row.Scan(&c.ID, &c.OrganizationID, &c.CategoryKey, &c.CategoryName, &c.DisplayOrder, &c.IsCollapsible, &c.IsExpanded, &c.IsVisible, &c.IsSystem)
	return c, err
}

func scanSidebarItem(row interface{ Scan(...any) error }) (SidebarItem, error) {
	var i SidebarItem
	err := row.Scan(&i.ID, &i.OrganizationID, &i.CategoryID, &i.ItemKey, &i.ItemLabel, &i.ItemHref, &i.IconName, &i.DisplayOrder, &i.IsVisible, &i.IsSystem, &i.CountSource)
	return i, err
}

func (s *PostgresStore) CountSidebarItems(ctx context.Context, orgID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sidebar_items WHERE organization_id=$1`, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sidebar items: %w", err)
	}
	return count, nil
}

// UpsertSidebarCategories inserts categories keyed on (organization_id, category_key).
// An existing row keeps its category_name so renames survive reconciliation.
func (s *PostgresStore) UpsertSidebarCategories(ctx context.Context, orgID string, categories []SidebarCategory) error {
	if len(categories) == 0 {
		return nil
	}
	insert := psql.Insert("sidebar_categories").
		Columns("organization_id", "category_key", "category_name", "display_order", "is_collapsible", "is_expanded", "is_visible", "is_system")
	for _, c := range categories {
		insert = insert.Values(orgID, c.CategoryKey, c.CategoryName, c.DisplayOrder, c.IsCollapsible, c.IsExpanded, c.IsVisible, c.IsSystem)
	}
	insert = insert.Suffix(`ON CONFLICT (organization_id, category_key) DO UPDATE SET
		display_order = EXCLUDED.display_order,
		is_collapsible = EXCLUDED.is_collapsible,
		is_system = EXCLUDED.is_system,
		updated_at = NOW()`)
	return s.execBuilder(ctx, insert, "upsert sidebar categories")
}

func (s *PostgresStore) ListSidebarCategories(ctx context.Context, orgID string) ([]SidebarCategory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sidebarCategoryColumns+` FROM sidebar_categories
		WHERE organization_id=$1 ORDER BY display_order, category_key
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list sidebar categories: %w", err)
	}
	defer rows.Close()
	var out []SidebarCategory
	for rows.Next() {
		c, err := scanSidebarCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sidebar category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteSidebarItemsInCategories(ctx context.Context, orgID string, categoryIDs []string) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sidebar_items WHERE organization_id=$1 AND category_id = ANY($2)`, orgID, categoryIDs)
	if err != nil {
		return fmt.Errorf("delete sidebar items by category: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSidebarCategories(ctx context.Context, orgID string, categoryIDs []string) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sidebar_categories WHERE organization_id=$1 AND id = ANY($2)`, orgID, categoryIDs)
	if err != nil {
		return fmt.Errorf("delete sidebar categories: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSidebarItemsNotInKeys(ctx context.Context, orgID string, keys []string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sidebar_items WHERE organization_id=$1 AND NOT (item_key = ANY($2))`, orgID, keys)
	if err != nil {
		return fmt.Errorf("delete unknown sidebar items: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSidebarItemsOutsideCategories(ctx context.Context, orgID string, categoryIDs []string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sidebar_items WHERE organization_id=$1 AND NOT (category_id = ANY($2))`, orgID, categoryIDs)
	if err != nil {
		return fmt.Errorf("delete misplaced sidebar items: %w", err)
	}
	return nil
}

// UpsertSidebarItems inserts items keyed on (organization_id, item_key). On
// conflict only structural columns are rewritten: item_label and is_visible
// keep whatever an admin set.
func (s *PostgresStore) UpsertSidebarItems(ctx context.Context, orgID string, items []SidebarItem) error {
	if len(items) == 0 {
		return nil
	}
	insert := psql.Insert("sidebar_items").
		Columns("organization_id", "category_id", "item_key", "item_label", "item_href", "icon_name", "display_order", "is_visible", "is_system", "count_source")
	for _, i := range items {
		insert = insert.Values(orgID, i.CategoryID, i.ItemKey, i.ItemLabel, i.ItemHref, i.IconName, i.DisplayOrder, i.IsVisible, i.IsSystem, nullString(i.CountSource))
	}
	insert = insert.Suffix(`ON CONFLICT (organization_id, item_key) DO UPDATE SET
		category_id = EXCLUDED.category_id,
		item_href = EXCLUDED.item_href,
		icon_name = EXCLUDED.icon_name,
		display_order = EXCLUDED.display_order,
		is_system = EXCLUDED.is_system,
		count_source = EXCLUDED.count_source,
		updated_at = NOW()`)
	return s.execBuilder(ctx, insert, "upsert sidebar items")
}

func (s *PostgresStore) ListSidebarItems(ctx context.Context, orgID string) ([]SidebarItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sidebarItemColumns+` FROM sidebar_items
		WHERE organization_id=$1 ORDER BY display_order, item_key
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list sidebar items: %w", err)
	}
	defer rows.Close()
	var out []SidebarItem
	for rows.Next() {
		i, err := scanSidebarItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sidebar item: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSidebarItem(ctx context.Context, itemID string) (SidebarItem, error) {
	return scanSidebarItem(s.db.QueryRowContext(ctx, `SELECT `+sidebarItemColumns+` FROM sidebar_items WHERE id=$1`, itemID))
}

func (s *PostgresStore) GetSidebarCategory(ctx context.Context, categoryID string) (SidebarCategory, error) {
	return scanSidebarCategory(s.db.QueryRowContext(ctx, `SELECT `+sidebarCategoryColumns+` FROM sidebar_categories WHERE id=$1`, categoryID))
}

func (s *PostgresStore) InsertSidebarItem(ctx context.Context, item SidebarItem) (SidebarItem, error) {
	created, err := scanSidebarItem(s.db.QueryRowContext(ctx, `
		INSERT INTO sidebar_items (organization_id, category_id, item_key, item_label, item_href, icon_name, display_order, is_visible, is_system, count_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+sidebarItemColumns,
		item.OrganizationID, item.CategoryID, item.ItemKey, item.ItemLabel, item.ItemHref, item.IconName,
		item.DisplayOrder, item.IsVisible, item.IsSystem, nullString(item.CountSource)))
	if err != nil {
		return SidebarItem{}, fmt.Errorf("insert sidebar item: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateSidebarItem(ctx context.Context, itemID string, patch SidebarItemPatch) (SidebarItem, error) {
	update := psql.Update("sidebar_items").
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": itemID}).
		Suffix("RETURNING " + sidebarItemColumns)
	if patch.CategoryID != nil {
		update = update.Set("category_id", *patch.CategoryID)
	}
	if patch.ItemLabel != nil {
		update = update.Set("item_label", *patch.ItemLabel)
	}
	if patch.ItemHref != nil {
		update = update.Set("item_href", *patch.ItemHref)
	}
	if patch.IconName != nil {
		update = update.Set("icon_name", *patch.IconName)
	}
	if patch.DisplayOrder != nil {
		update = update.Set("display_order", *patch.DisplayOrder)
	}
	if patch.IsVisible != nil {
		update = update.Set("is_visible", *patch.IsVisible)
	}
	if patch.CountSource != nil {
		update = update.Set("count_source", nullString(*patch.CountSource))
	}
	query, args, err := update.ToSql()
	if err != nil {
		return SidebarItem{}, fmt.Errorf("build sidebar item update: %w", err)
	}
	item, err := scanSidebarItem(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return SidebarItem{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateSidebarCategoryName(ctx context.Context, categoryID, name string) (SidebarCategory, error) {
	c, err := scanSidebarCategory(s.db.QueryRowContext(ctx, `
		UPDATE sidebar_categories SET category_name=$2, updated_at=NOW()
		WHERE id=$1 RETURNING `+sidebarCategoryColumns, categoryID, name))
	if err != nil {
		return SidebarCategory{}, err
	}
	return c, nil
}

func (s *PostgresStore) DeleteSidebarItem(ctx context.Context, itemID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sidebar_items WHERE id=$1`, itemID)
	if err != nil {
		return fmt.Errorf("delete sidebar item: %w", err)
	}
	return requireAffected(res)
}

// countableTables lists the tables a sidebar item may name as its count_source.
var countableTables = map[string]struct{}{
	"site_summaries":   {},
	"locations":        {},
	"contacts":         {},
	"configurations":   {},
	"documents":        {},
	"domains":          {},
	"known_issues":     {},
	"mfa_configs":      {},
	"networks":         {},
	"passwords":        {},
	"ssl_certificates": {},
}

// CountRows counts an organization's rows in a count_source table. Tables
// outside the allow-list, or not present in this deployment, count as zero.
func (s *PostgresStore) CountRows(ctx context.Context, table, orgID string) (int, error) {
	if _, ok := countableTables[table]; !ok {
		return 0, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE organization_id=$1`, orgID).Scan(&count)
	if isUndefinedTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

func (s *PostgresStore) execBuilder(ctx context.Context, builder sq.Sqlizer, op string) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
