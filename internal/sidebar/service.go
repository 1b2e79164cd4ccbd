// Package sidebar owns the per-organization navigation sidebar: the two system
// categories, the 21 canonical items, and the reconciliation that brings any
// organization's rows back to that shape.
package sidebar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"msphub/api/internal/metrics"
	"msphub/api/internal/store"
)

var (
	// ErrIncomplete means reconciliation finished but the item count is not 21.
	ErrIncomplete = errors.New("sidebar initialization incomplete")
	// ErrMissingCategory means a system category could not be read back after upsert.
	ErrMissingCategory = errors.New("sidebar system category missing")
	ErrInvalidInput    = errors.New("invalid sidebar input")
	ErrInvalidIcon     = errors.New("unknown sidebar icon")
	// ErrForeignCategory is returned when an item would point at a category
	// of another organization.
	ErrForeignCategory = fmt.Errorf("%w: category belongs to another organization", ErrInvalidInput)
)

const DefaultLockTimeout = 30 * time.Second

// Store is the persistence the sidebar needs. *store.PostgresStore satisfies it.
type Store interface {
	CountSidebarItems(ctx context.Context, orgID string) (int, error)
	UpsertSidebarCategories(ctx context.Context, orgID string, categories []store.SidebarCategory) error
	ListSidebarCategories(ctx context.Context, orgID string) ([]store.SidebarCategory, error)
	DeleteSidebarItemsInCategories(ctx context.Context, orgID string, categoryIDs []string) error
	DeleteSidebarCategories(ctx context.Context, orgID string, categoryIDs []string) error
	DeleteSidebarItemsNotInKeys(ctx context.Context, orgID string, keys []string) error
	DeleteSidebarItemsOutsideCategories(ctx context.Context, orgID string, categoryIDs []string) error
	UpsertSidebarItems(ctx context.Context, orgID string, items []store.SidebarItem) error
	ListSidebarItems(ctx context.Context, orgID string) ([]store.SidebarItem, error)
	GetSidebarItem(ctx context.Context, itemID string) (store.SidebarItem, error)
	GetSidebarCategory(ctx context.Context, categoryID string) (store.SidebarCategory, error)
	InsertSidebarItem(ctx context.Context, item store.SidebarItem) (store.SidebarItem, error)
	UpdateSidebarItem(ctx context.Context, itemID string, patch store.SidebarItemPatch) (store.SidebarItem, error)
	UpdateSidebarCategoryName(ctx context.Context, categoryID, name string) (store.SidebarCategory, error)
	DeleteSidebarItem(ctx context.Context, itemID string) error
	CountRows(ctx context.Context, table, orgID string) (int, error)
	ListOrganizationIDs(ctx context.Context) ([]string, error)
}

// Config is what the portal renders: categories and items in display order
// plus badge counts keyed by item_key.
type Config struct {
	Categories []store.SidebarCategory `json:"categories"`
	Items      []store.SidebarItem     `json:"items"`
	Counts     map[string]int          `json:"counts"`
}

type Service struct {
	store       Store
	logger      *zap.Logger
	metrics     *metrics.Metrics
	lockTimeout time.Duration
	inflight    singleflight.Group
}

// New builds a sidebar service. logger and m may be nil.
func New(s Store, logger *zap.Logger, m *metrics.Metrics, lockTimeout time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Service{
		store:       s,
		logger:      logger.Named("sidebar"),
		metrics:     m,
		lockTimeout: lockTimeout,
	}
}

// InitializeDefaultSidebar makes sure the organization has exactly the two
// system categories and the 21 canonical items. Concurrent calls for the same
// organization share one run. The run is detached from ctx, so a caller that
// gives up only stops waiting. A run still going after the lock timeout is
// released, not cancelled; the next caller starts a fresh one.
func (s *Service) InitializeDefaultSidebar(ctx context.Context, orgID string) error {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}

	detached := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(orgID, func() (any, error) {
		release := time.AfterFunc(s.lockTimeout, func() {
			s.logger.Warn("sidebar initialization exceeded lock timeout, releasing",
				zap.String("organization_id", orgID), zap.Duration("timeout", s.lockTimeout))
			s.inflight.Forget(orgID)
		})
		defer release.Stop()

		return nil, s.reconcile(detached, orgID)
	})

	select {
	case res := <-ch:
		if res.Shared && s.metrics != nil {
			s.metrics.SidebarShared.Inc()
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) reconcile(ctx context.Context, orgID string) (err error) {
	count, err := s.store.CountSidebarItems(ctx, orgID)
	if err != nil {
		s.observe("error", 0)
		return err
	}
	if count == ExpectedItemCount {
		if s.metrics != nil {
			s.metrics.SidebarFastPath.Inc()
		}
		return nil
	}

	started := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.observe(result, time.Since(started))
	}()

	s.logger.Info("reconciling sidebar", zap.String("organization_id", orgID), zap.Int("item_count", count))

	if err := s.store.UpsertSidebarCategories(ctx, orgID, DefaultCategories()); err != nil {
		return err
	}

	categories, err := s.store.ListSidebarCategories(ctx, orgID)
	if err != nil {
		return err
	}
	systemIDs := map[string]string{}
	var extraIDs []string
	for _, c := range categories {
		switch c.CategoryKey {
		case CategoryClientContact, CategoryCoreDocumentation:
			systemIDs[c.CategoryKey] = c.ID
		default:
			extraIDs = append(extraIDs, c.ID)
		}
	}
	for _, key := range []string{CategoryClientContact, CategoryCoreDocumentation} {
		if systemIDs[key] == "" {
			return fmt.Errorf("%w: %s", ErrMissingCategory, key)
		}
	}

	if len(extraIDs) > 0 {
		if err := s.store.DeleteSidebarItemsInCategories(ctx, orgID, extraIDs); err != nil {
			return err
		}
		if err := s.store.DeleteSidebarCategories(ctx, orgID, extraIDs); err != nil {
			return err
		}
		s.logger.Info("removed non-system sidebar categories", zap.String("organization_id", orgID), zap.Int("count", len(extraIDs)))
	}

	allowed := []string{systemIDs[CategoryClientContact], systemIDs[CategoryCoreDocumentation]}
	if err := s.store.DeleteSidebarItemsNotInKeys(ctx, orgID, DefaultItemKeys()); err != nil {
		return err
	}
	if err := s.store.DeleteSidebarItemsOutsideCategories(ctx, orgID, allowed); err != nil {
		return err
	}
	if err := s.store.UpsertSidebarItems(ctx, orgID, buildDefaultItems(orgID, systemIDs)); err != nil {
		return err
	}

	final, err := s.store.CountSidebarItems(ctx, orgID)
	if err != nil {
		return err
	}
	if final != ExpectedItemCount {
		return fmt.Errorf("%w: expected %d, got %d", ErrIncomplete, ExpectedItemCount, final)
	}
	return nil
}

func (s *Service) observe(result string, took time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.SidebarRuns.WithLabelValues(result).Inc()
	if took > 0 {
		s.metrics.SidebarDuration.Observe(took.Seconds())
	}
}

// GetDynamicSidebarConfig reads the organization's sidebar fresh from the store.
func (s *Service) GetDynamicSidebarConfig(ctx context.Context, orgID string) (Config, error) {
	categories, err := s.store.ListSidebarCategories(ctx, orgID)
	if err != nil {
		return Config{}, err
	}
	items, err := s.store.ListSidebarItems(ctx, orgID)
	if err != nil {
		return Config{}, err
	}
	if categories == nil {
		categories = []store.SidebarCategory{}
	}
	if items == nil {
		items = []store.SidebarItem{}
	}
	return Config{Categories: categories, Items: items, Counts: s.counts(ctx, orgID, items)}, nil
}

// counts is best effort: a failing source logs and reads as zero.
func (s *Service) counts(ctx context.Context, orgID string, items []store.SidebarItem) map[string]int {
	bySource := map[string]int{}
	counts := make(map[string]int, len(items))
	for _, item := range items {
		if item.CountSource == "" {
			continue
		}
		n, ok := bySource[item.CountSource]
		if !ok {
			var err error
			n, err = s.store.CountRows(ctx, item.CountSource, orgID)
			if err != nil {
				s.logger.Warn("sidebar count failed", zap.String("source", item.CountSource), zap.Error(err))
				n = 0
			}
			bySource[item.CountSource] = n
		}
		counts[item.ItemKey] = n
	}
	return counts
}

// ClearCacheIfDifferentOrg is kept for callers that still invoke it; the
// sidebar is always read fresh so there is nothing to clear.
func (s *Service) ClearCacheIfDifferentOrg(string) {}

// NewItem is the input for CreateSidebarItem.
type NewItem struct {
	OrganizationID string `json:"organization_id"`
	CategoryID     string `json:"category_id"`
	ItemKey        string `json:"item_key"`
	ItemLabel      string `json:"item_label"`
	ItemHref       string `json:"item_href"`
	IconName       string `json:"icon_name"`
	DisplayOrder   int    `json:"display_order"`
	IsVisible      *bool  `json:"is_visible"`
	CountSource    string `json:"count_source"`
}

func (s *Service) CreateSidebarItem(ctx context.Context, in NewItem) (store.SidebarItem, error) {
	required := []struct{ field, value string }{
		{"organization_id", in.OrganizationID},
		{"category_id", in.CategoryID},
		{"item_key", in.ItemKey},
		{"item_label", in.ItemLabel},
		{"item_href", in.ItemHref},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return store.SidebarItem{}, fmt.Errorf("%w: %s is required", ErrInvalidInput, r.field)
		}
	}
	icon, ok := ParseIcon(in.IconName)
	if !ok {
		return store.SidebarItem{}, fmt.Errorf("%w: %q", ErrInvalidIcon, in.IconName)
	}
	if err := s.requireCategoryIn(ctx, in.CategoryID, in.OrganizationID); err != nil {
		return store.SidebarItem{}, err
	}
	visible := true
	if in.IsVisible != nil {
		visible = *in.IsVisible
	}
	return s.store.InsertSidebarItem(ctx, store.SidebarItem{
		OrganizationID: in.OrganizationID,
		CategoryID:     in.CategoryID,
		ItemKey:        strings.TrimSpace(in.ItemKey),
		ItemLabel:      strings.TrimSpace(in.ItemLabel),
		ItemHref:       in.ItemHref,
		IconName:       string(icon),
		DisplayOrder:   in.DisplayOrder,
		IsVisible:      visible,
		CountSource:    in.CountSource,
	})
}

func (s *Service) UpdateSidebarItem(ctx context.Context, itemID string, patch store.SidebarItemPatch) (store.SidebarItem, error) {
	if patch.IconName != nil {
		if _, ok := ParseIcon(*patch.IconName); !ok {
			return store.SidebarItem{}, fmt.Errorf("%w: %q", ErrInvalidIcon, *patch.IconName)
		}
	}
	if patch.ItemLabel != nil && strings.TrimSpace(*patch.ItemLabel) == "" {
		return store.SidebarItem{}, fmt.Errorf("%w: item_label must not be empty", ErrInvalidInput)
	}
	if patch.CategoryID != nil {
		item, err := s.store.GetSidebarItem(ctx, itemID)
		if err != nil {
			return store.SidebarItem{}, err
		}
		if err := s.requireCategoryIn(ctx, *patch.CategoryID, item.OrganizationID); err != nil {
			return store.SidebarItem{}, err
		}
	}
	return s.store.UpdateSidebarItem(ctx, itemID, patch)
}

func (s *Service) requireCategoryIn(ctx context.Context, categoryID, orgID string) error {
	category, err := s.store.GetSidebarCategory(ctx, categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: category %s not found", ErrInvalidInput, categoryID)
	}
	if err != nil {
		return err
	}
	if category.OrganizationID != orgID {
		return ErrForeignCategory
	}
	return nil
}

func (s *Service) GetSidebarItem(ctx context.Context, itemID string) (store.SidebarItem, error) {
	return s.store.GetSidebarItem(ctx, itemID)
}

func (s *Service) GetSidebarCategory(ctx context.Context, categoryID string) (store.SidebarCategory, error) {
	return s.store.GetSidebarCategory(ctx, categoryID)
}

func (s *Service) UpdateItemLabel(ctx context.Context, itemID, label string) (store.SidebarItem, error) {
	label = strings.TrimSpace(label)
	return s.UpdateSidebarItem(ctx, itemID, store.SidebarItemPatch{ItemLabel: &label})
}

func (s *Service) ToggleItemVisibility(ctx context.Context, itemID string, visible bool) (store.SidebarItem, error) {
	return s.store.UpdateSidebarItem(ctx, itemID, store.SidebarItemPatch{IsVisible: &visible})
}

func (s *Service) UpdateCategoryName(ctx context.Context, categoryID, name string) (store.SidebarCategory, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.SidebarCategory{}, fmt.Errorf("%w: category_name is required", ErrInvalidInput)
	}
	return s.store.UpdateSidebarCategoryName(ctx, categoryID, name)
}

func (s *Service) DeleteSidebarItem(ctx context.Context, itemID string) error {
	return s.store.DeleteSidebarItem(ctx, itemID)
}

// RepairAll initializes every organization and reports how many were
// processed. Failures do not stop the sweep; they are returned together.
func (s *Service) RepairAll(ctx context.Context) (int, error) {
	orgIDs, err := s.store.ListOrganizationIDs(ctx)
	if err != nil {
		return 0, err
	}
	var result *multierror.Error
	for _, orgID := range orgIDs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.InitializeDefaultSidebar(ctx, orgID); err != nil {
			result = multierror.Append(result, fmt.Errorf("organization %s: %w", orgID, err))
		}
	}
	return len(orgIDs), result.ErrorOrNil()
}
