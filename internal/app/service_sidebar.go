package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"msphub/api/internal/sidebar"
	"msphub/api/internal/store"
)

// GetSidebar reconciles the organization's sidebar before reading it, so a
// member never sees a partial one.
func (s *Service) GetSidebar(ctx context.Context, sess Session, orgID string) (sidebar.Config, error) {
	if err := s.requireOrgMember(ctx, sess, orgID); err != nil {
		return sidebar.Config{}, err
	}
	if err := s.sidebar.InitializeDefaultSidebar(ctx, orgID); err != nil {
		return sidebar.Config{}, err
	}
	return s.sidebar.GetDynamicSidebarConfig(ctx, orgID)
}

func (s *Service) InitializeSidebar(ctx context.Context, sess Session, orgID string) (sidebar.Config, error) {
	if err := s.requireOrgAdmin(ctx, sess, orgID); err != nil {
		return sidebar.Config{}, err
	}
	if err := s.sidebar.InitializeDefaultSidebar(ctx, orgID); err != nil {
		return sidebar.Config{}, err
	}
	return s.sidebar.GetDynamicSidebarConfig(ctx, orgID)
}

func (s *Service) CreateSidebarItem(ctx context.Context, sess Session, in sidebar.NewItem) (store.SidebarItem, error) {
	if err := s.requireOrgAdmin(ctx, sess, in.OrganizationID); err != nil {
		return store.SidebarItem{}, err
	}
	return s.sidebar.CreateSidebarItem(ctx, in)
}

// sidebarItemForAdmin loads the item so the org admin check runs against the
// organization that owns it, not one named by the caller.
func (s *Service) sidebarItemForAdmin(ctx context.Context, sess Session, itemID string) (store.SidebarItem, error) {
	if strings.TrimSpace(itemID) == "" {
		return store.SidebarItem{}, badRequest("Item ID is required")
	}
	item, err := s.sidebar.GetSidebarItem(ctx, itemID)
	if err != nil {
		return store.SidebarItem{}, err
	}
	if err := s.requireOrgAdmin(ctx, sess, item.OrganizationID); err != nil {
		return store.SidebarItem{}, err
	}
	return item, nil
}

func (s *Service) UpdateSidebarItem(ctx context.Context, sess Session, itemID string, patch store.SidebarItemPatch) (store.SidebarItem, error) {
	if _, err := s.sidebarItemForAdmin(ctx, sess, itemID); err != nil {
		return store.SidebarItem{}, err
	}
	return s.sidebar.UpdateSidebarItem(ctx, itemID, patch)
}

func (s *Service) UpdateSidebarCategory(ctx context.Context, sess Session, categoryID, name string) (store.SidebarCategory, error) {
	if strings.TrimSpace(name) == "" {
		return store.SidebarCategory{}, badRequest("category_name is required")
	}
	category, err := s.sidebar.GetSidebarCategory(ctx, categoryID)
	if err != nil {
		return store.SidebarCategory{}, err
	}
	if err := s.requireOrgAdmin(ctx, sess, category.OrganizationID); err != nil {
		return store.SidebarCategory{}, err
	}
	return s.sidebar.UpdateCategoryName(ctx, categoryID, name)
}

func (s *Service) DeleteSidebarItem(ctx context.Context, sess Session, itemID string) error {
	if _, err := s.sidebarItemForAdmin(ctx, sess, itemID); err != nil {
		return err
	}
	return s.sidebar.DeleteSidebarItem(ctx, itemID)
}

// RepairSidebars reconciles one organization, or all of them when orgID is
// empty, and reports how many were repaired.
func (s *Service) RepairSidebars(ctx context.Context, sess Session, orgID string) (int, error) {
	if !sess.IsSuperAdmin() {
		return 0, errSuperAdminOnly
	}
	if orgID != "" {
		if err := s.sidebar.InitializeDefaultSidebar(ctx, orgID); err != nil {
			return 0, err
		}
		return 1, nil
	}
	n, err := s.sidebar.RepairAll(ctx)
	if err != nil {
		s.logger.Error("sidebar repair", zap.Int("repaired", n), zap.Error(err))
	}
	return n, err
}
